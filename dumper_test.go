// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package svcdebug

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/internal/fakebox"
	"github.com/siemens/svcdebug/sshconn"
)

// syncBuffer is a bytes.Buffer safe to be written and read concurrently.
type syncBuffer struct {
	m sync.Mutex
	b bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.m.Lock()
	defer s.m.Unlock()
	return s.b.String()
}

func (s *syncBuffer) Bytes() []byte {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]byte{}, s.b.Bytes()...)
}

func startFakeBox() *fakebox.Box {
	GinkgoHelper()
	box, err := fakebox.Start(20 * time.Millisecond)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(box.Stop)
	return box
}

var _ = Describe("dumpers", func() {

	It("builds remote commands", func() {
		Expect(LogDumpCommand("/tmp/ping.log")).To(Equal(
			"tail --follow=name --retry --lines=1 /tmp/ping.log"))
		Expect(LogDumpCommand("/tmp/my log")).To(Equal(
			"tail --follow=name --retry --lines=1 '/tmp/my log'"))
		Expect(PcapDumpCommand("", "", 0)).To(Equal(
			"tcpdump -i any -U -w - -f 'not tcp port 22'"))
		Expect(PcapDumpCommand("eth0", "udp port 53", 10022)).To(Equal(
			"tcpdump -i eth0 -U -w - -f '(udp port 53) and not tcp port 10022'"))
		Expect(CaptureFilter("host 'a'", 22)).To(Equal("(host 'a') and not tcp port 22"))
	})

	It("quotes shell words", func() {
		Expect(ShellQuote("plain-word_1.log")).To(Equal("plain-word_1.log"))
		Expect(ShellQuote("")).To(Equal("''"))
		Expect(ShellQuote("it's")).To(Equal(`'it'\''s'`))
		Expect(ShellQuote("$(reboot)")).To(Equal("'$(reboot)'"))
	})

	Context("on a fake box", func() {

		var box *fakebox.Box
		var ssh *sshconn.Manager

		BeforeEach(func() {
			box = startFakeBox()
			ssh = sshconn.New("test_ssh_mngr")
			DeferCleanup(ssh.DestroyAll)
		})

		It("dumps a remote log until stopped", func() {
			out := &syncBuffer{}
			d := NewLogDump("test.log_dump", box.Host(), out, "/tmp/ping.log", ssh)
			Expect(d.Type()).To(Equal(api.LogDump))
			Expect(d.String()).NotTo(ContainSubstring(fakebox.Password))
			Expect(d.Alive()).To(BeFalse())

			Expect(d.Start()).To(Succeed())
			Expect(d.Alive()).To(BeTrue())
			Expect(d.Start()).To(MatchError(ContainSubstring("already started")))
			Eventually(out.String).Should(ContainSubstring("line 3\n"))
			Expect(ssh.Leases()).To(Equal(1))

			d.Stop()
			Expect(d.Alive()).To(BeFalse())
			Expect(d.Err()).NotTo(HaveOccurred())
			Expect(ssh.Leases()).To(BeZero())
			Eventually(box.Running).Should(BeZero())
			Expect(out.String()).To(HavePrefix("line 1\nline 2\n"))
			Expect(box.Commands()).To(ConsistOf(
				"tail --follow=name --retry --lines=1 /tmp/ping.log"))

			d.Stop() // idempotent
		})

		It("reports remote commands terminating early", func() {
			d := NewLogDump("test.log_dump", box.Host(), &syncBuffer{}, fakebox.MissingFile, ssh)
			d.StartGrace = 2 * time.Second
			err := d.Start()
			Expect(errors.Is(err, ErrEarlyExit)).To(BeTrue())
			Expect(err).To(MatchError("the process terminated early with exit code: 1"))
			Expect(d.Alive()).To(BeFalse())
			Expect(d.Err()).To(Equal(err))
			Eventually(ssh.Leases).Should(BeZero())
		})

		It("fails to start on unreachable hosts", func() {
			host := box.Host()
			host.Password = "wrong"
			d := NewLogDump("test.log_dump", host, &syncBuffer{}, "/tmp/ping.log", ssh)
			Expect(d.Start()).To(MatchError(ContainSubstring("cannot connect")))
			Expect(d.Err()).To(HaveOccurred())
			d.Wait()
			d.Stop()
		})

		It("stops after a duration", func() {
			d := NewLogDump("test.log_dump", box.Host(), &syncBuffer{}, "/tmp/ping.log", ssh)
			Expect(d.Start()).To(Succeed())
			start := time.Now()
			d.StopAfter(100 * time.Millisecond)
			Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
			Expect(d.Alive()).To(BeFalse())
			Expect(d.Done()).To(BeClosed())
		})

		It("dumps raw pcap data", func() {
			out := &syncBuffer{}
			d := NewPcapDump("test.pcap_dump", box.Host(), out, nil, ssh)
			Expect(d.Start()).To(Succeed())
			Eventually(d.Written).Should(BeNumerically(">", 24+16+60))
			d.Stop()
			// classic pcap magic, little endian
			Expect(out.Bytes()[:4]).To(Equal([]byte{0xd4, 0xc3, 0xb2, 0xa1}))
			Expect(box.Commands()).To(ConsistOf(fmt.Sprintf(
				"tcpdump -i any -U -w - -f 'not tcp port %d'", box.Host().SSHPort)))
		})

		It("converts to pcapng on the fly", func() {
			out := &syncBuffer{}
			d := NewPcapDump("test.pcap_dump", box.Host(), out, &PcapOptions{
				Interface: "eth0",
				Filter:    "arp",
				Format:    api.FormatPcapng,
			}, ssh)
			Expect(d.Start()).To(Succeed())
			Eventually(func() int { return bytes.Count(out.Bytes(), fakeFrameDst) }).
				Should(BeNumerically(">=", 2))
			d.Stop()
			Expect(d.Err()).NotTo(HaveOccurred())
			// pcapng section header block type
			Expect(out.Bytes()[:4]).To(Equal([]byte{0x0a, 0x0d, 0x0d, 0x0a}))
			Expect(out.String()).To(ContainSubstring("host-name: fakebox"))
			Expect(out.String()).To(ContainSubstring("capture-filter: (arp) and not tcp port"))
		})

	})

})

var fakeFrameDst = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02, 0x42}
