// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package api

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("data model", func() {

	It("validates hosts and defaults the SSH port", func() {
		h := &Host{Name: "first_service", SSHAddress: "127.0.0.1", Username: "test_user"}
		Expect(h.Validate()).To(Succeed())
		Expect(h.SSHPort).To(Equal(DefaultSSHPort))
	})

	It("rejects short host names and missing addresses", func() {
		h := &Host{Name: "ab", Username: "test_user"}
		err := h.Validate()
		Expect(err).To(HaveOccurred())
		var verr *ValidationError
		Expect(err).To(BeAssignableToTypeOf(verr))
		Expect(err.(*ValidationError).Fields).To(HaveKey("name"))
		Expect(err.(*ValidationError).Fields).To(HaveKey("ssh_address"))
		Expect(err.Error()).To(Equal(
			"invalid description: name: must have 3 to 32 characters; ssh_address: must not be empty;"))
	})

	It("redacts passwords", func() {
		h := &Host{Name: "abc", Password: "secret"}
		Expect(h.Redacted().Password).To(Equal("***"))
		Expect(h.Password).To(Equal("secret"))
	})

	It("fills in pcap task defaults", func() {
		r := &TaskRequest{Type: PcapDump, HostID: 1, Output: "dump.pcap"}
		Expect(r.Validate()).To(Succeed())
		Expect(r.Interface).To(Equal(DefaultInterface))
		Expect(r.Format).To(Equal(FormatPcap))
	})

	It("requires the dumped file for log tasks", func() {
		r := &TaskRequest{Type: LogDump, HostID: 1, Output: "ping.log"}
		Expect(r.Validate()).To(MatchError(ContainSubstring("dumped_file")))
	})

	It("rejects unknown task types", func() {
		r := &TaskRequest{Type: "core_dump"}
		err := r.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.(*ValidationError).Fields).To(HaveLen(3))
	})

})
