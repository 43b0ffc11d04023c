// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package hostrepo

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/siemens/svcdebug/api"
)

func testHost(name string) *api.Host {
	return &api.Host{
		Name:        name,
		Description: "Host for testing",
		SSHAddress:  "127.0.0.1",
		SSHPort:     10022,
		Username:    "test_user",
		Password:    "test_password",
	}
}

var _ = Describe("host repository", func() {

	var repo *Repository

	BeforeEach(func() {
		var err error
		repo, err = Open(filepath.Join(GinkgoT().TempDir(), "hosts.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(repo.Close)
	})

	It("starts empty", func() {
		Expect(repo.All()).To(BeEmpty())
	})

	It("adds and gets hosts", func() {
		h := testHost("test_host")
		h.ID = 666
		id, err := repo.Add(h)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(1))
		id2, err := repo.Add(testHost("other_host"))
		Expect(err).NotTo(HaveOccurred())
		Expect(id2).To(Equal(2))

		got, err := repo.Get(id)
		Expect(err).NotTo(HaveOccurred())
		want := *testHost("test_host")
		want.ID = 1
		Expect(*got).To(Equal(want))

		all, err := repo.All()
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))
		Expect(all[0].Name).To(Equal("test_host"))
		Expect(all[1].Name).To(Equal("other_host"))
	})

	It("updates hosts", func() {
		id, err := repo.Add(testHost("test_host"))
		Expect(err).NotTo(HaveOccurred())
		h := testHost("renamed")
		h.Description = ""
		h.SSHPort = 22
		Expect(repo.Update(id, h)).To(Succeed())
		got, err := repo.Get(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Name).To(Equal("renamed"))
		Expect(got.Description).To(BeEmpty())
		Expect(got.SSHPort).To(Equal(22))
		// updating with identical data still finds the host.
		Expect(repo.Update(id, h)).To(Succeed())
	})

	It("deletes hosts", func() {
		id, err := repo.Add(testHost("test_host"))
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Delete(id)).To(Succeed())
		_, err = repo.Get(id)
		Expect(errors.Is(err, ErrHostNotFound)).To(BeTrue())
		Expect(repo.All()).To(BeEmpty())
	})

	It("reports unknown hosts", func() {
		_, err := repo.Get(42)
		Expect(errors.Is(err, ErrHostNotFound)).To(BeTrue())
		Expect(errors.Is(repo.Update(42, testHost("test_host")), ErrHostNotFound)).To(BeTrue())
		Expect(errors.Is(repo.Delete(42), ErrHostNotFound)).To(BeTrue())
	})

	It("persists hosts", func() {
		path := filepath.Join(GinkgoT().TempDir(), "persistent.db")
		r1, err := Open(path)
		Expect(err).NotTo(HaveOccurred())
		id, err := r1.Add(testHost("test_host"))
		Expect(err).NotTo(HaveOccurred())
		Expect(r1.Close()).To(Succeed())

		r2, err := Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer r2.Close()
		got, err := r2.Get(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Name).To(Equal("test_host"))
	})

})
