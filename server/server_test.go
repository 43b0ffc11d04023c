// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/hostrepo"
	"github.com/siemens/svcdebug/internal/fakebox"
	"github.com/siemens/svcdebug/pcapng"
	"github.com/siemens/svcdebug/sshconn"
)

type syncBuffer struct {
	m sync.Mutex
	b bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]byte{}, s.b.Bytes()...)
}

func (s *syncBuffer) String() string { return string(s.Bytes()) }

// request sends a raw API request, returning status code and body.
func request(method, url string, body string) (int, string) {
	GinkgoHelper()
	var reqbody io.Reader
	if body != "" {
		reqbody = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reqbody)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, strings.TrimSpace(string(b))
}

func testHost() *api.Host {
	return &api.Host{
		Name:        "test_host",
		Description: "Host for testing",
		SSHAddress:  "127.0.0.1",
		SSHPort:     10022,
		Username:    "test_user",
		Password:    "test_password",
	}
}

var _ = Describe("services debugger API", func() {

	var srv *httptest.Server
	var client *svcdebug.Client
	var tasks *svcdebug.TaskManager
	var token string

	JustBeforeEach(func() {
		repo, err := hostrepo.Open(filepath.Join(GinkgoT().TempDir(), "hosts.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(repo.Close)
		ssh := sshconn.New("test_ssh_mngr")
		DeferCleanup(ssh.DestroyAll)
		tasks = svcdebug.NewTaskManager("task_mngr", ssh)
		DeferCleanup(tasks.Close)
		srv = httptest.NewServer(New(repo, tasks, ssh, token).Handler())
		DeferCleanup(srv.Close)
		client, err = svcdebug.NewClient(srv.URL, &svcdebug.ClientOptions{
			BearerToken: token,
			Timeout:     5 * time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	BeforeEach(func() {
		token = ""
	})

	It("is healthy", func() {
		status, body := request("GET", srv.URL+"/healthz", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(Equal("ok"))
	})

	Context("hosts", func() {

		It("adds and gets hosts", func() {
			status, body := request("POST", srv.URL+"/api/v1/hosts", `{
				"name": "test_host", "description": "Host for testing",
				"ssh_address": "127.0.0.1", "ssh_port": 10022,
				"username": "test_user", "password": "test_password"}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"id": 1}`))

			status, body = request("GET", srv.URL+"/api/v1/hosts/1", "")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{
				"host_id": 1, "name": "test_host", "description": "Host for testing",
				"ssh_address": "127.0.0.1", "ssh_port": 10022,
				"username": "test_user", "password": "test_password"}`))

			hosts, err := client.Hosts()
			Expect(err).NotTo(HaveOccurred())
			Expect(hosts).To(HaveLen(1))
			Expect(hosts[0].Name).To(Equal("test_host"))
		})

		It("updates and deletes hosts", func() {
			id, err := client.AddHost(testHost())
			Expect(err).NotTo(HaveOccurred())

			status, body := request("PUT", srv.URL+"/api/v1/hosts/1", `{
				"name": "renamed", "ssh_address": "127.0.0.2",
				"username": "test_user", "password": "test_password"}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"detail": "Updated"}`))
			h, err := client.Host(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.Name).To(Equal("renamed"))
			Expect(h.SSHPort).To(Equal(api.DefaultSSHPort))

			h, err = client.Lookup("renamed")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.ID).To(Equal(id))

			status, body = request("DELETE", srv.URL+"/api/v1/hosts/1", "")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"detail": "Deleted"}`))
			_, err = client.Host(id)
			Expect(errors.Is(err, svcdebug.ErrNotFound)).To(BeTrue())
		})

		It("reports unknown hosts", func() {
			for _, method := range []string{"GET", "DELETE"} {
				status, body := request(method, srv.URL+"/api/v1/hosts/42", "")
				Expect(status).To(Equal(http.StatusNotFound))
				Expect(body).To(MatchJSON(`{"detail": "Host not found"}`))
			}
			err := client.UpdateHost(42, testHost())
			Expect(errors.Is(err, svcdebug.ErrNotFound)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("Host not found")))
			_, err = client.Lookup("nowhere")
			Expect(errors.Is(err, svcdebug.ErrNotFound)).To(BeTrue())
		})

		It("rejects invalid requests", func() {
			status, _ := request("POST", srv.URL+"/api/v1/hosts", `{"name": `)
			Expect(status).To(Equal(http.StatusBadRequest))

			status, body := request("POST", srv.URL+"/api/v1/hosts", `{"name": "x"}`)
			Expect(status).To(Equal(http.StatusUnprocessableEntity))
			Expect(body).To(ContainSubstring("ssh_address"))

			status, _ = request("GET", srv.URL+"/api/v1/hosts/foo", "")
			Expect(status).To(Equal(http.StatusUnprocessableEntity))
		})

	})

	When("requiring a token", func() {

		BeforeEach(func() {
			token = "s3cr3t"
		})

		It("rejects unauthenticated requests", func() {
			status, _ := request("GET", srv.URL+"/api/v1/hosts", "")
			Expect(status).To(Equal(http.StatusUnauthorized))
			status, _ = request("GET", srv.URL+"/healthz", "")
			Expect(status).To(Equal(http.StatusOK))
			_, err := client.Hosts()
			Expect(err).NotTo(HaveOccurred())
		})

	})

	Context("tasks and streams", func() {

		var box *fakebox.Box
		var hostID int

		JustBeforeEach(func() {
			var err error
			box, err = fakebox.Start(20 * time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(box.Stop)
			hostID, err = client.AddHost(box.Host())
			Expect(err).NotTo(HaveOccurred())
		})

		It("runs dump tasks", func() {
			output := filepath.Join(GinkgoT().TempDir(), "ping.log")
			task, err := client.StartTask(&api.TaskRequest{
				Type:       api.LogDump,
				HostID:     hostID,
				Output:     output,
				DumpedFile: "/tmp/ping.log",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(task.IsAlive).To(BeTrue())
			Expect(task.HostID).To(Equal(hostID))

			ts, err := client.Tasks()
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(HaveLen(1))
			got, err := client.Task(task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Name).To(Equal(task.Name))

			stopped, err := client.StopTask(task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stopped.IsAlive).To(BeFalse())

			status, body := request("GET", srv.URL+"/api/v1/tasks/"+task.ID, "")
			Expect(status).To(Equal(http.StatusNotFound))
			var detail api.DetailResponse
			Expect(json.Unmarshal([]byte(body), &detail)).To(Succeed())
			Expect(detail.Detail).To(Equal(`Task with id="` + task.ID + `" not found in task list.`))
		})

		It("rejects invalid task requests", func() {
			_, err := client.StartTask(&api.TaskRequest{Type: api.LogDump, HostID: hostID})
			var serr *svcdebug.ServiceError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			_, err = client.StartTask(&api.TaskRequest{
				Type: api.PcapDump, HostID: 666, Output: "/tmp/x.pcap"})
			Expect(errors.Is(err, svcdebug.ErrNotFound)).To(BeTrue())

			_, err = client.StartTask(&api.TaskRequest{
				Type:       api.LogDump,
				HostID:     hostID,
				Output:     filepath.Join(GinkgoT().TempDir(), "missing.log"),
				DumpedFile: fakebox.MissingFile,
			})
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(serr.Detail).To(ContainSubstring("terminated early with exit code: 1"))
		})

		It("streams logs live", func() {
			out := &syncBuffer{}
			sr, err := client.FollowLog(out, hostID, "/tmp/ping.log")
			Expect(err).NotTo(HaveOccurred())
			Eventually(out.String).Should(ContainSubstring("line 3\n"))
			sr.Stop()
			Eventually(box.Running).Should(BeZero())
			Expect(out.String()).To(HavePrefix("line 1\nline 2\n"))
		})

		It("streams live pcapng captures", func() {
			out := &syncBuffer{}
			sr, err := client.Capture(out, hostID, &svcdebug.PcapOptions{Filter: "arp"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() bool {
				_, ok := pcapng.SectionComment(out.Bytes())
				return ok
			}).Should(BeTrue())
			sr.StopAfter(100 * time.Millisecond)
			Eventually(box.Running).Should(BeZero())

			comment, _ := pcapng.SectionComment(out.Bytes())
			info := pcapng.ParseHostInfo(comment)
			Expect(info).NotTo(BeNil())
			Expect(info.HostName).To(Equal("fakebox"))
			Expect(info.Interface).To(Equal("any"))
			Expect(info.CaptureFilter).To(HavePrefix("(arp) and not tcp port "))
			Expect(box.Commands()).To(ConsistOf(ContainSubstring("tcpdump -i any")))
		})

		It("fails streams for unknown hosts and failing dumps", func() {
			_, err := client.FollowLog(io.Discard, 666, "/tmp/ping.log")
			Expect(errors.Is(err, svcdebug.ErrNotFound)).To(BeTrue())

			_, err = client.Capture(io.Discard, hostID, &svcdebug.PcapOptions{Format: "foo"})
			var serr *svcdebug.ServiceError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			out := &syncBuffer{}
			sr, err := client.FollowLog(out, hostID, fakebox.MissingFile)
			Expect(err).NotTo(HaveOccurred())
			done := make(chan struct{})
			go func() {
				sr.Wait()
				close(done)
			}()
			Eventually(done).Within(5 * time.Second).Should(BeClosed())
			Expect(out.String()).To(BeEmpty())
		})

	})

})
