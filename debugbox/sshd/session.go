// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package sshd

import (
	"context"
	"io"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Handler runs the command or interactive shell of a session, returning the
// exit status to report to the client.
type Handler func(*Session) int

// Window is a terminal size in character cells.
type Window struct {
	Columns uint32
	Rows    uint32
}

// Pty describes the pseudo terminal requested by a client.
type Pty struct {
	Term   string
	Window Window
}

// Session describes a command (or shell) execution requested by a client.
type Session struct {
	// Context gets cancelled when the client closes the session channel or
	// disconnects.
	Context context.Context
	User    string
	// The command line to execute; empty for an interactive shell.
	Command string
	// Environment variables requested by the client, in "key=value" form.
	Env []string
	// Pseudo terminal, or nil if the client did not request one.
	Pty    *Pty
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	resizes chan Window
}

// Resizes delivers window size changes of the session's pseudo terminal.
func (s *Session) Resizes() <-chan Window {
	return s.resizes
}

// Wire formats of the session requests we handle, see RFC 4254, section 6.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type envRequestMsg struct {
	Name  string
	Value string
}

type execRequestMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

// handleSession processes the requests of a single session channel; the
// channel is closed as soon as the handler finishes.
func (s *Server) handleSession(ctx context.Context, l *log.Entry, user string, ch ssh.Channel, requests <-chan *ssh.Request) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := &Session{
		Context: ctx,
		User:    user,
		Stdin:   ch,
		Stdout:  ch,
		Stderr:  ch.Stderr(),
		resizes: make(chan Window, 4),
	}
	done := make(chan struct{})
	started, finished := false, false
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				// The client closed the channel or went away: stop whatever
				// is still running.
				cancel()
				if started && !finished {
					<-done
				}
				ch.Close()
				return
			}
			switch req.Type {
			case "pty-req":
				var msg ptyRequestMsg
				if started || ssh.Unmarshal(req.Payload, &msg) != nil {
					_ = req.Reply(false, nil)
					continue
				}
				sess.Pty = &Pty{Term: msg.Term, Window: Window{Columns: msg.Columns, Rows: msg.Rows}}
				_ = req.Reply(true, nil)
			case "window-change":
				var msg windowChangeMsg
				if ssh.Unmarshal(req.Payload, &msg) == nil {
					select {
					case sess.resizes <- Window{Columns: msg.Columns, Rows: msg.Rows}:
					default:
					}
				}
				_ = req.Reply(false, nil)
			case "env":
				var msg envRequestMsg
				if started || ssh.Unmarshal(req.Payload, &msg) != nil {
					_ = req.Reply(false, nil)
					continue
				}
				sess.Env = append(sess.Env, msg.Name+"="+msg.Value)
				_ = req.Reply(true, nil)
			case "exec", "shell":
				if started {
					_ = req.Reply(false, nil)
					continue
				}
				if req.Type == "exec" {
					var msg execRequestMsg
					if ssh.Unmarshal(req.Payload, &msg) != nil {
						_ = req.Reply(false, nil)
						continue
					}
					sess.Command = msg.Command
				}
				started = true
				_ = req.Reply(true, nil)
				l.Infof("running %q", sess.Command)
				go func() {
					defer close(done)
					status := s.cfg.Handler(sess)
					l.Debugf("%q finished with exit status %d", sess.Command, status)
					_ = ch.CloseWrite()
					_, _ = ch.SendRequest("exit-status", false,
						ssh.Marshal(&exitStatusMsg{Status: uint32(status)}))
					ch.Close()
				}()
			default:
				_ = req.Reply(false, nil)
			}
		case <-done:
			// Drain any further requests until the client acknowledged the
			// channel close.
			finished = true
			done = nil
			cancel()
		}
	}
}
