// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package pinger

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// PayloadLen is the echo request payload size, giving 64 byte ICMP messages.
const PayloadLen = 56

const protocolICMP = 1

// ICMPProber probes using ICMP echo requests, either via an unprivileged
// "ping" datagram socket or a raw socket.
type ICMPProber struct {
	conn    *icmp.PacketConn
	pconn   *ipv4.PacketConn
	dst     net.Addr
	ip      net.IP
	id      int
	payload []byte
}

var _ Prober = (*ICMPProber)(nil)

// NewICMPProber returns a prober for the IPv4 target. Unprivileged probing
// needs the process' group to be within net.ipv4.ping_group_range, while
// privileged probing needs CAP_NET_RAW.
func NewICMPProber(target string, privileged bool) (*ICMPProber, error) {
	ip, err := net.ResolveIPAddr("ip4", target)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve ping target %q", target)
	}
	network := "udp4"
	var dst net.Addr = &net.UDPAddr{IP: ip.IP}
	if privileged {
		network = "ip4:icmp"
		dst = ip
	}
	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s ICMP socket", network)
	}
	pconn := conn.IPv4PacketConn()
	_ = pconn.SetControlMessage(ipv4.FlagTTL, true)
	payload := make([]byte, PayloadLen)
	for idx := range payload {
		payload[idx] = byte(idx)
	}
	return &ICMPProber{
		conn:    conn,
		pconn:   pconn,
		dst:     dst,
		ip:      ip.IP,
		id:      os.Getpid() & 0xffff,
		payload: payload,
	}, nil
}

// Target returns the resolved IPv4 address.
func (p *ICMPProber) Target() string { return p.ip.String() }

// Close the ICMP socket.
func (p *ICMPProber) Close() error { return p.conn.Close() }

// Probe sends an echo request with the specified sequence number and waits
// for the matching reply. Datagram sockets get their echo ID rewritten by the
// kernel, so replies are matched by sequence number only.
func (p *ICMPProber) Probe(seq int, timeout time.Duration) (Reply, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: p.payload},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return Reply{}, errors.Wrap(err, "cannot marshal echo request")
	}
	start := time.Now()
	if _, err := p.conn.WriteTo(b, p.dst); err != nil {
		return Reply{}, errors.Wrap(err, "cannot send echo request")
	}
	if err := p.conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return Reply{}, errors.Wrap(err, "cannot set echo reply deadline")
	}
	buf := make([]byte, 1500)
	for {
		n, cm, peer, err := p.pconn.ReadFrom(buf)
		if err != nil {
			return Reply{}, errors.Wrap(err, "no echo reply")
		}
		rtt := time.Since(start)
		rm, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		ttl := 64
		if cm != nil && cm.TTL > 0 {
			ttl = cm.TTL
		}
		return Reply{
			From:  peerIP(peer),
			Bytes: n,
			Seq:   seq,
			TTL:   ttl,
			RTT:   rtt,
		}, nil
	}
}

func peerIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	case *net.IPAddr:
		return a.IP.String()
	}
	return addr.String()
}
