// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package debugbox runs the debug access container's entrypoint: an SSH daemon
for remote shells together with an endless ping loop logging into a file that
remote log dumps can follow.

The SSH daemon is the box's primary service; the ping loop is a side action.
Unless in strict mode, a ping loop that cannot be set up or that fails later
on is only logged while SSH keeps being served. A failing SSH daemon is only
logged too, with the entrypoint staying alive until it gets cancelled.
*/
package debugbox

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug/debugbox/capcheck"
	"github.com/siemens/svcdebug/debugbox/pinger"
	"github.com/siemens/svcdebug/debugbox/sshd"
)

// Config of the debug box entrypoint.
type Config struct {
	Listen   string
	User     string
	Password string
	// Path to the SSH host key; empty for an ephemeral key.
	HostKey string
	Shell   string

	PingTarget     string
	PingInterval   time.Duration
	PingLog        string
	PingLogMaxSize int // in MB, 0 for unbounded.
	PingPrivileged bool

	// Capture binary whose file capabilities get checked at start; empty to
	// skip the check.
	CaptureBinary string

	// Terminate when the SSH daemon fails instead of only logging.
	Strict bool
}

// DefaultConfig returns the configuration of the stock debug box image.
func DefaultConfig() Config {
	return Config{
		Listen:        sshd.DefaultListen,
		User:          "test_user",
		Password:      "test_password",
		Shell:         "/bin/sh",
		PingTarget:    pinger.DefaultTarget,
		PingInterval:  pinger.DefaultInterval,
		PingLog:       pinger.DefaultLog,
		CaptureBinary: "/usr/bin/tcpdump",
	}
}

// Box is a running debug box entrypoint.
type Box struct {
	cfg     Config
	sshd    *sshd.Server
	pinger  *pinger.Pinger
	pinglog io.Closer
}

// New prepares the SSH daemon and the ping loop without starting them. A nil
// prober gets the ICMP prober.
func New(cfg Config, prober pinger.Prober) (*Box, error) {
	if cfg.CaptureBinary != "" {
		capcheck.Check(cfg.CaptureBinary)
	}
	hostkey, err := sshd.LoadOrGenerateHostKey(cfg.HostKey)
	if err != nil {
		return nil, err
	}
	server, err := sshd.New(sshd.Config{
		Listen:   cfg.Listen,
		User:     cfg.User,
		Password: cfg.Password,
		HostKey:  hostkey,
		Handler:  sshd.ExecHandler(cfg.Shell),
	})
	if err != nil {
		return nil, err
	}
	box := &Box{
		cfg:  cfg,
		sshd: server,
	}
	if err := box.setupPinger(prober); err != nil {
		if cfg.Strict {
			return nil, err
		}
		log.Errorf("ping loop disabled: %s", err.Error())
	}
	return box, nil
}

func (b *Box) setupPinger(prober pinger.Prober) error {
	pinglog, err := pinger.OpenLog(b.cfg.PingLog, b.cfg.PingLogMaxSize)
	if err != nil {
		return err
	}
	p, err := pinger.New(b.cfg.PingTarget, b.cfg.PingInterval, b.cfg.PingPrivileged, prober, pinglog)
	if err != nil {
		pinglog.Close()
		return err
	}
	b.pinger = p
	b.pinglog = pinglog
	return nil
}

// SSHD returns the box's SSH daemon.
func (b *Box) SSHD() *sshd.Server { return b.sshd }

// Pinger returns the box's ping loop, or nil if it could not be set up.
func (b *Box) Pinger() *pinger.Pinger { return b.pinger }

// Run the SSH daemon and the ping loop until the context gets cancelled. Only
// in strict mode an SSH daemon or ping loop failure ends Run early.
func (b *Box) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var once sync.Once
	var strictErr error
	fail := func(what string, err error) {
		if !b.cfg.Strict {
			log.Errorf("%s failed: %s", what, err.Error())
			return
		}
		once.Do(func() {
			strictErr = errors.Wrapf(err, "strict mode, %s failed", what)
			cancel()
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.sshd.ListenAndServe(ctx); err != nil {
			fail("SSH daemon", err)
		}
	}()
	if b.pinger != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.pinglog.Close()
			if err := b.pinger.Run(ctx); err != nil {
				fail("ping loop", err)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return strictErr
}

// Run creates and runs a debug box with the ICMP prober until the context
// gets cancelled.
func Run(ctx context.Context, cfg Config) error {
	box, err := New(cfg, nil)
	if err != nil {
		return err
	}
	return box.Run(ctx)
}
