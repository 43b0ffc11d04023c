// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package debugbox

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh"

	"github.com/siemens/svcdebug/debugbox/pinger"
)

type loopbackProber struct{}

func (loopbackProber) Probe(seq int, timeout time.Duration) (pinger.Reply, error) {
	return pinger.Reply{From: "127.0.0.1", Bytes: 64, Seq: seq, TTL: 64, RTT: 50 * time.Microsecond}, nil
}

func (loopbackProber) Target() string { return "127.0.0.1" }
func (loopbackProber) Close() error   { return nil }

func testConfig(listen string) Config {
	cfg := DefaultConfig()
	cfg.Listen = listen
	cfg.PingInterval = 10 * time.Millisecond
	cfg.PingLog = filepath.Join(GinkgoT().TempDir(), "ping.log")
	cfg.CaptureBinary = ""
	return cfg
}

func pingLines(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(b), "\n")
}

// sshEcho logs into the box and runs a simple shell command.
func sshEcho(box *Box, cfg Config) string {
	GinkgoHelper()
	Eventually(box.SSHD().Addr).Within(5 * time.Second).ShouldNot(BeNil())
	client, err := ssh.Dial("tcp", box.SSHD().Addr().String(), &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	Expect(err).NotTo(HaveOccurred())
	defer client.Close()
	sess, err := client.NewSession()
	Expect(err).NotTo(HaveOccurred())
	out, err := sess.Output("echo $((6*7))")
	Expect(err).NotTo(HaveOccurred())
	return string(out)
}

var _ = Describe("debug box", func() {

	It("has the stock defaults", func() {
		cfg := DefaultConfig()
		Expect(cfg.Listen).To(Equal(":10022"))
		Expect(cfg.User).To(Equal("test_user"))
		Expect(cfg.Password).To(Equal("test_password"))
		Expect(cfg.PingLog).To(Equal("/tmp/ping.log"))
		Expect(cfg.PingTarget).To(Equal("127.0.0.1"))
		Expect(cfg.Strict).To(BeFalse())
	})

	It("bakes the stock credentials into the image as literals", func() {
		dockerfile, err := os.ReadFile("../docker/debugbox/Dockerfile")
		Expect(err).NotTo(HaveOccurred())
		cfg := DefaultConfig()
		Expect(string(dockerfile)).NotTo(MatchRegexp(`(?m)^ARG `))
		Expect(string(dockerfile)).To(ContainSubstring(
			`echo "` + cfg.User + `:` + cfg.Password + `" | chpasswd`))
		Expect(string(dockerfile)).To(ContainSubstring("EXPOSE 10022/tcp"))
	})

	It("serves SSH logins and keeps pinging", func() {
		cfg := testConfig("127.0.0.1:0")
		box, err := New(cfg, loopbackProber{})
		Expect(err).NotTo(HaveOccurred())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- box.Run(ctx) }()

		Expect(sshEcho(box, cfg)).To(Equal("42\n"))

		Eventually(func() int { return pingLines(cfg.PingLog) }).Should(BeNumerically(">", 3))
		lines := pingLines(cfg.PingLog)
		Eventually(func() int { return pingLines(cfg.PingLog) }).Should(BeNumerically(">", lines))

		cancel()
		Eventually(done).Within(5 * time.Second).Should(Receive(BeNil()))
	})

	When("the SSH port is already taken", func() {

		var occupied string

		BeforeEach(func() {
			l, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(l.Close)
			occupied = l.Addr().String()
		})

		It("keeps running on the ping loop", func() {
			cfg := testConfig(occupied)
			box, err := New(cfg, loopbackProber{})
			Expect(err).NotTo(HaveOccurred())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- box.Run(ctx) }()

			Consistently(done).WithTimeout(200 * time.Millisecond).ShouldNot(Receive())
			Expect(box.SSHD().Addr()).To(BeNil())
			Expect(box.Pinger().Replies()).To(BeNumerically(">", 0))
			cancel()
			Eventually(done).Within(5 * time.Second).Should(Receive(BeNil()))
		})

		It("fails in strict mode", func() {
			cfg := testConfig(occupied)
			cfg.Strict = true
			box, err := New(cfg, loopbackProber{})
			Expect(err).NotTo(HaveOccurred())
			done := make(chan error, 1)
			go func() { done <- box.Run(context.Background()) }()
			Eventually(done).Within(5 * time.Second).Should(Receive(MatchError(ContainSubstring("cannot bind"))))
		})

	})

	When("the ping loop cannot be set up", func() {

		It("still serves SSH", func() {
			cfg := testConfig("127.0.0.1:0")
			cfg.PingLog = GinkgoT().TempDir()
			box, err := New(cfg, loopbackProber{})
			Expect(err).NotTo(HaveOccurred())
			Expect(box.Pinger()).To(BeNil())
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- box.Run(ctx) }()

			Expect(sshEcho(box, cfg)).To(Equal("42\n"))
			Consistently(done).WithTimeout(100 * time.Millisecond).ShouldNot(Receive())
			cancel()
			Eventually(done).Within(5 * time.Second).Should(Receive(BeNil()))
		})

		It("refuses to start in strict mode", func() {
			cfg := testConfig("127.0.0.1:0")
			cfg.PingLog = GinkgoT().TempDir()
			cfg.Strict = true
			box, err := New(cfg, loopbackProber{})
			Expect(err).To(MatchError(ContainSubstring("cannot open ping log")))
			Expect(box).To(BeNil())
		})

	})

	When("the ping log cannot be written", func() {

		BeforeEach(func() {
			if _, err := os.Stat("/dev/full"); err != nil {
				Skip("needs /dev/full")
			}
		})

		It("keeps serving SSH", func() {
			cfg := testConfig("127.0.0.1:0")
			cfg.PingLog = "/dev/full"
			box, err := New(cfg, loopbackProber{})
			Expect(err).NotTo(HaveOccurred())
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- box.Run(ctx) }()

			Consistently(done).WithTimeout(200 * time.Millisecond).ShouldNot(Receive())
			Expect(box.Pinger().Replies()).To(BeZero())
			Expect(sshEcho(box, cfg)).To(Equal("42\n"))
			cancel()
			Eventually(done).Within(5 * time.Second).Should(Receive(BeNil()))
		})

		It("fails in strict mode", func() {
			cfg := testConfig("127.0.0.1:0")
			cfg.PingLog = "/dev/full"
			cfg.Strict = true
			box, err := New(cfg, loopbackProber{})
			Expect(err).NotTo(HaveOccurred())
			done := make(chan error, 1)
			go func() { done <- box.Run(context.Background()) }()
			Eventually(done).Within(5 * time.Second).Should(Receive(MatchError(ContainSubstring("cannot write ping log"))))
		})

	})

})
