// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package sshd

import (
	"context"
	"crypto/subtle"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// DefaultListen is the address the debug box SSH daemon listens on, unless
// told otherwise.
const DefaultListen = ":10022"

// Config configures an SSH daemon.
type Config struct {
	// Listen address in "[host]:port" form.
	Listen string
	// The single account accepted, with its password.
	User     string
	Password string
	// Host key; see LoadOrGenerateHostKey.
	HostKey ssh.Signer
	// Handler runs the commands and shells requested in sessions; defaults
	// to ExecHandler("/bin/sh").
	Handler Handler
}

// Server is an SSH daemon.
type Server struct {
	cfg    Config
	sshcfg *ssh.ServerConfig
	log    *log.Entry

	m        sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
	active   int32
}

// New returns a new SSH daemon for the specified configuration, without
// binding its listening socket yet.
func New(cfg Config) (*Server, error) {
	if cfg.User == "" {
		return nil, errors.New("no SSH user configured")
	}
	if cfg.HostKey == nil {
		return nil, errors.New("no SSH host key configured")
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Handler == nil {
		cfg.Handler = ExecHandler("/bin/sh")
	}
	s := &Server{
		cfg: cfg,
		log: log.WithField("sshd", cfg.Listen),
	}
	s.sshcfg = &ssh.ServerConfig{
		PasswordCallback: s.checkPassword,
		ServerVersion:    "SSH-2.0-debugbox",
	}
	s.sshcfg.AddHostKey(cfg.HostKey)
	return s, nil
}

// checkPassword accepts only the configured user and password.
func (s *Server) checkPassword(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	userOK := subtle.ConstantTimeCompare([]byte(meta.User()), []byte(s.cfg.User)) == 1
	passOK := subtle.ConstantTimeCompare(password, []byte(s.cfg.Password)) == 1
	if userOK && passOK {
		return &ssh.Permissions{}, nil
	}
	s.log.WithField("remote", meta.RemoteAddr().String()).
		Warnf("password rejected for user %q", meta.User())
	return nil, errors.Errorf("password rejected for %q", meta.User())
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "cannot bind SSH daemon to %s", s.cfg.Listen)
	}
	s.listener = l
	s.log.Infof("listening on %s", l.Addr())
	return nil
}

// Addr returns the address the daemon is listening on, or nil if not yet
// listening.
func (s *Server) Addr() net.Addr {
	s.m.Lock()
	defer s.m.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the number of currently connected SSH clients.
func (s *Server) Connections() int {
	return int(atomic.LoadInt32(&s.active))
}

// ListenAndServe binds and then serves SSH connections until the context
// gets cancelled or the server gets closed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts SSH connections on the already bound listening socket until
// the context gets cancelled or the server gets closed.
func (s *Server) Serve(ctx context.Context) error {
	s.m.Lock()
	l := s.listener
	s.m.Unlock()
	if l == nil {
		return errors.New("SSH daemon not listening")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			s.m.Lock()
			closed := s.closed
			s.m.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return errors.Wrap(err, "accepting SSH connection failed")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops listening; running sessions are terminated as their
// connections' context gets cancelled by Serve.
func (s *Server) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed || s.listener == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.listener.Close()
}

// handleConn runs the SSH handshake and then serves the session channels of
// a single client connection.
func (s *Server) handleConn(ctx context.Context, nconn net.Conn) {
	l := s.log.WithField("remote", nconn.RemoteAddr().String())
	sconn, chans, reqs, err := ssh.NewServerConn(nconn, s.sshcfg)
	if err != nil {
		l.Debugf("SSH handshake failed: %s", err.Error())
		nconn.Close()
		return
	}
	atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	l = l.WithField("user", sconn.User())
	l.Info("client connected")
	go ssh.DiscardRequests(reqs)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		sconn.Close()
	}()

	var sessions sync.WaitGroup
	for newch := range chans {
		if newch.ChannelType() != "session" {
			_ = newch.Reject(ssh.UnknownChannelType, "only session channels supported")
			continue
		}
		ch, requests, err := newch.Accept()
		if err != nil {
			l.Debugf("cannot accept session channel: %s", err.Error())
			continue
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.handleSession(ctx, l, sconn.User(), ch, requests)
		}()
	}
	cancel()
	sessions.Wait()
	l.Info("client disconnected")
}
