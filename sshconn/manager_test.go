// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package sshconn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh"

	"github.com/pkg/errors"
	"github.com/siemens/svcdebug/debugbox/sshd"
)

const (
	testUser     = "test_user"
	testPassword = "test_password"
)

// startSSHServer runs an in-process SSH server answering every command with
// "pong", returning its address and port.
func startSSHServer() (string, int, *sshd.Server) {
	GinkgoHelper()
	key, err := sshd.LoadOrGenerateHostKey("")
	Expect(err).NotTo(HaveOccurred())
	server, err := sshd.New(sshd.Config{
		Listen:   "127.0.0.1:0",
		User:     testUser,
		Password: testPassword,
		HostKey:  key,
		Handler: func(s *sshd.Session) int {
			fmt.Fprint(s.Stdout, "pong")
			return 0
		},
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(server.Listen()).To(Succeed())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Serve(ctx) }()
	DeferCleanup(cancel)
	host, port, err := net.SplitHostPort(server.Addr().String())
	Expect(err).NotTo(HaveOccurred())
	portnum, err := strconv.Atoi(port)
	Expect(err).NotTo(HaveOccurred())
	return host, portnum, server
}

func ping(conn *ssh.Client) string {
	GinkgoHelper()
	sess, err := conn.NewSession()
	Expect(err).NotTo(HaveOccurred())
	defer sess.Close()
	out, err := sess.Output("ping")
	Expect(err).NotTo(HaveOccurred())
	return string(out)
}

var _ = Describe("SSH connection manager", func() {

	var m *Manager
	var addr string
	var port int
	var server *sshd.Server

	BeforeEach(func() {
		addr, port, server = startSSHServer()
		m = New("ssh_conn_manager")
		DeferCleanup(m.DestroyAll)
	})

	It("returns the same default manager", func() {
		m1 := DefaultManager("test_ssh_conn_manager_1")
		m2 := DefaultManager("test_ssh_conn_manager_2")
		Expect(m1).To(BeIdenticalTo(m2))
		Expect(m2.String()).To(Equal(`sshconn.Manager(name="test_ssh_conn_manager_1")`))
	})

	It("generates identifiers", func() {
		Expect(RandomID(LeaseIDLen)).To(MatchRegexp(`^[A-Z0-9]{8}$`))
		Expect(RandomID(LeaseIDLen)).NotTo(Equal(RandomID(LeaseIDLen)))
	})

	It("leases a new connection", func() {
		leaseID, conn, err := m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		Expect(leaseID).To(MatchRegexp(`^[A-Z0-9]{8}$`))
		Expect(ping(conn)).To(Equal("pong"))
		Expect(m.Leases()).To(Equal(1))
		Expect(m.Connections()).To(Equal(1))
		Eventually(server.Connections).Should(Equal(1))
	})

	It("shares a connection between leases", func() {
		lease1, conn1, err := m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		lease2, conn2, err := m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		Expect(lease1).NotTo(Equal(lease2))
		Expect(conn1).To(BeIdenticalTo(conn2))
		Expect(m.Connections()).To(Equal(1))
		Expect(m.Leases()).To(Equal(2))

		Expect(m.Release(lease1)).To(Succeed())
		Expect(m.Connections()).To(Equal(1))
		Expect(ping(conn2)).To(Equal("pong"))

		Expect(m.Release(lease2)).To(Succeed())
		Expect(m.Connections()).To(BeZero())
		Eventually(server.Connections).Should(BeZero())
	})

	It("rejects unknown leases", func() {
		err := m.Release("NOTFOUND")
		Expect(errors.Is(err, ErrLeaseNotFound)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("NOTFOUND")))

		lease, _, err := m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Release(lease)).To(Succeed())
		Expect(errors.Is(m.Release(lease), ErrLeaseNotFound)).To(BeTrue())
	})

	It("destroys all connections", func() {
		lease, _, err := m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		Eventually(server.Connections).Should(Equal(1))
		m.DestroyAll()
		Expect(m.Connections()).To(BeZero())
		Expect(m.Leases()).To(BeZero())
		Eventually(server.Connections).Should(BeZero())
		Expect(errors.Is(m.Release(lease), ErrLeaseNotFound)).To(BeTrue())
	})

	It("fails on wrong credentials and unreachable servers", func() {
		_, _, err := m.Get(addr, port, testUser, "wrong")
		Expect(err).To(MatchError(ContainSubstring("cannot connect to")))

		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		deadport := l.Addr().(*net.TCPAddr).Port
		l.Close()
		m.DialTimeout = 2 * time.Second
		_, _, err = m.Get("127.0.0.1", deadport, testUser, testPassword)
		Expect(err).To(HaveOccurred())
		Expect(m.Connections()).To(BeZero())
		Expect(m.Leases()).To(BeZero())
	})

	It("releases scoped connections", func() {
		var out string
		Expect(m.Connection(addr, port, testUser, testPassword, func(conn *ssh.Client) error {
			Expect(m.Leases()).To(Equal(1))
			out = ping(conn)
			return nil
		})).To(Succeed())
		Expect(out).To(Equal("pong"))
		Expect(m.Leases()).To(BeZero())
		Expect(m.Connections()).To(BeZero())

		boom := errors.New("boom")
		Expect(m.Connection(addr, port, testUser, testPassword, func(*ssh.Client) error {
			return boom
		})).To(MatchError(boom))
		Expect(m.Leases()).To(BeZero())
	})

	It("uses a custom dialer", func() {
		dialed := 0
		m.SetDialer(func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
			dialed++
			return ssh.Dial(network, addr, config)
		})
		_, _, err := m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		_, _, err = m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		Expect(dialed).To(Equal(1))
	})

	It("dials a host without blocking other hosts", func() {
		unreachable := net.JoinHostPort("unreachable.invalid", "22")
		release := make(chan struct{})
		var dials atomic.Int32
		m.SetDialer(func(network, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
			if address == unreachable {
				dials.Add(1)
				<-release
				return nil, errors.New("host unreachable")
			}
			return ssh.Dial(network, address, config)
		})
		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				defer GinkgoRecover()
				_, _, err := m.Get("unreachable.invalid", 22, testUser, testPassword)
				errs <- err
			}()
		}
		Eventually(dials.Load).Should(Equal(int32(1)))
		Consistently(dials.Load, 250*time.Millisecond).Should(Equal(int32(1)))

		lease, conn, err := m.Get(addr, port, testUser, testPassword)
		Expect(err).NotTo(HaveOccurred())
		Expect(ping(conn)).To(Equal("pong"))
		Expect(m.Release(lease)).To(Succeed())

		close(release)
		Eventually(errs).Should(Receive(MatchError(ContainSubstring("host unreachable"))))
		Eventually(errs).Should(Receive(MatchError(ContainSubstring("host unreachable"))))
		Expect(dials.Load()).To(Equal(int32(1)))
		Expect(m.Connections()).To(BeZero())
		Expect(m.Leases()).To(BeZero())
	})

})
