// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Package pinger implements the debug box's liveness probe: an endless ICMP
// echo loop writing one busybox-style line per reply into a log.
package pinger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Defaults, reproducing the original "ping 127.0.0.1 > /tmp/ping.log".
const (
	DefaultTarget   = "127.0.0.1"
	DefaultInterval = 1 * time.Second
	DefaultLog      = "/tmp/ping.log"
)

// Reply is a single ICMP echo reply received.
type Reply struct {
	From  string
	Bytes int
	Seq   int
	TTL   int
	RTT   time.Duration
}

// String renders the reply the way busybox ping does.
func (r Reply) String() string {
	return fmt.Sprintf("%d bytes from %s: seq=%d ttl=%d time=%.3f ms",
		r.Bytes, r.From, r.Seq, r.TTL, float64(r.RTT.Microseconds())/1000)
}

// Prober sends a single echo request and waits for its reply.
type Prober interface {
	Probe(seq int, timeout time.Duration) (Reply, error)
	// Target returns the resolved target address.
	Target() string
	Close() error
}

// Pinger runs the echo loop.
type Pinger struct {
	target   string
	interval time.Duration
	prober   Prober
	out      io.Writer
	replies  uint64
}

// New returns a pinger writing to out; a nil prober means an ICMP prober for
// target.
func New(target string, interval time.Duration, privileged bool, prober Prober, out io.Writer) (*Pinger, error) {
	if target == "" {
		target = DefaultTarget
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if prober == nil {
		var err error
		prober, err = NewICMPProber(target, privileged)
		if err != nil {
			return nil, err
		}
	}
	return &Pinger{
		target:   target,
		interval: interval,
		prober:   prober,
		out:      out,
	}, nil
}

// Replies returns the number of echo replies logged so far.
func (p *Pinger) Replies() uint64 {
	return atomic.LoadUint64(&p.replies)
}

// Run pings until the context gets cancelled. Lost replies are not logged,
// like busybox ping; write errors end the loop.
func (p *Pinger) Run(ctx context.Context) error {
	defer p.prober.Close()
	if _, err := fmt.Fprintf(p.out, "PING %s (%s): %d data bytes\n",
		p.target, p.prober.Target(), PayloadLen); err != nil {
		return errors.Wrap(err, "cannot write ping log")
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for seq := 0; ; seq++ {
		reply, err := p.prober.Probe(seq&0xffff, p.interval)
		if err == nil {
			if _, err := fmt.Fprintln(p.out, reply.String()); err != nil {
				return errors.Wrap(err, "cannot write ping log")
			}
			atomic.AddUint64(&p.replies, 1)
		} else {
			log.Debugf("ping seq=%d: %s", seq, err.Error())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// OpenLog opens the ping log for appending. With a non-zero maxSizeMB the log
// gets rotated by lumberjack, otherwise it grows without bounds.
func OpenLog(path string, maxSizeMB int) (io.WriteCloser, error) {
	if maxSizeMB > 0 {
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 1,
		}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open ping log %s", path)
	}
	return f, nil
}
