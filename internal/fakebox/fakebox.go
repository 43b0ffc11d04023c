// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Package fakebox runs in-process debug boxes for testing: SSH servers which
// emulate the remote commands run by dumpers, without needing "tail" or
// "tcpdump", nor any privileges.
package fakebox

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/debugbox/sshd"
)

// Credentials accepted by fake boxes.
const (
	User     = "test_user"
	Password = "test_password"
)

// MissingFile makes emulated "tail" commands fail right after start.
const MissingFile = "/var/log/missing.log"

// Box is a running fake debug box.
type Box struct {
	server   *sshd.Server
	cancel   context.CancelFunc
	interval time.Duration

	m        sync.Mutex
	commands []string
	running  int
}

// Start runs a new fake debug box on an ephemeral localhost port. The
// emulated commands produce output every interval until they are killed:
//   - "tail ..." emits lines "line 1", "line 2", ...; tailing MissingFile fails
//     immediately with exit code 1.
//   - "tcpdump ..." emits a pcap stream with an Ethernet frame per interval.
//   - "exit N" terminates with exit code N.
//
// All other commands fail with exit code 127.
func Start(interval time.Duration) (*Box, error) {
	key, err := sshd.LoadOrGenerateHostKey("")
	if err != nil {
		return nil, err
	}
	b := &Box{interval: interval}
	b.server, err = sshd.New(sshd.Config{
		Listen:   "127.0.0.1:0",
		User:     User,
		Password: Password,
		HostKey:  key,
		Handler:  b.handle,
	})
	if err != nil {
		return nil, err
	}
	if err := b.server.Listen(); err != nil {
		return nil, err
	}
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	go func() { _ = b.server.Serve(ctx) }()
	return b, nil
}

// Stop the fake box.
func (b *Box) Stop() {
	b.cancel()
}

// Host returns a host description for this fake box.
func (b *Box) Host() *api.Host {
	addr := b.server.Addr().(*net.TCPAddr)
	return &api.Host{
		Name:       "fakebox",
		SSHAddress: addr.IP.String(),
		SSHPort:    addr.Port,
		Username:   User,
		Password:   Password,
	}
}

// Commands returns the commands run so far.
func (b *Box) Commands() []string {
	b.m.Lock()
	defer b.m.Unlock()
	return append([]string{}, b.commands...)
}

// Running returns the number of commands currently running.
func (b *Box) Running() int {
	b.m.Lock()
	defer b.m.Unlock()
	return b.running
}

// Connections returns the number of connected SSH clients.
func (b *Box) Connections() int {
	return b.server.Connections()
}

func (b *Box) handle(s *sshd.Session) int {
	b.m.Lock()
	b.commands = append(b.commands, s.Command)
	b.running++
	b.m.Unlock()
	defer func() {
		b.m.Lock()
		b.running--
		b.m.Unlock()
	}()
	fields := strings.Fields(s.Command)
	if len(fields) == 0 {
		return 127
	}
	switch fields[0] {
	case "tail":
		if strings.Contains(s.Command, MissingFile) {
			fmt.Fprintf(s.Stderr, "tail: cannot open '%s' for reading: No such file or directory\n", MissingFile)
			return 1
		}
		return b.tail(s)
	case "tcpdump":
		return b.tcpdump(s)
	case "exit":
		if len(fields) == 2 {
			if code, err := strconv.Atoi(fields[1]); err == nil {
				return code
			}
		}
	}
	fmt.Fprintf(s.Stderr, "sh: %s: not found\n", fields[0])
	return 127
}

func (b *Box) tail(s *sshd.Session) int {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for line := 1; ; line++ {
		if _, err := fmt.Fprintf(s.Stdout, "line %d\n", line); err != nil {
			return 1
		}
		select {
		case <-s.Context.Done():
			return 128 + 9
		case <-ticker.C:
		}
	}
}

func (b *Box) tcpdump(s *sshd.Session) int {
	w := pcapgo.NewWriter(s.Stdout)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return 1
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		frame := Frame()
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			return 1
		}
		select {
		case <-s.Context.Done():
			return 128 + 9
		case <-ticker.C:
		}
	}
}

// Frame returns the Ethernet frame "captured" by emulated tcpdump commands.
func Frame() []byte {
	frame := make([]byte, 60)
	copy(frame, []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, // dst
		0x02, 0x42, 0xac, 0x11, 0x00, 0x02, // src
		0x08, 0x06, // ARP
	})
	return frame
}
