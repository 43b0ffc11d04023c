// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package svcdebug

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/siemens/svcdebug/api"
)

var _ = Describe("host cache", func() {

	It("looks up hosts by ID and name", func() {
		var hc HostCache
		Expect(hc.IsEmpty()).To(BeTrue())
		_, ok := hc.Lookup("1")
		Expect(ok).To(BeFalse())

		hosts := api.Hosts{
			{ID: 1, Name: "alpha"},
			{ID: 2, Name: "beta"},
			{ID: 3, Name: "beta"},
			{ID: 4, Name: "42"},
		}
		hc.Set(hosts)
		Expect(hc.IsEmpty()).To(BeFalse())
		Expect(hc.Hosts()).To(HaveLen(4))

		h, ok := hc.Lookup("2")
		Expect(ok).To(BeTrue())
		Expect(h).To(BeIdenticalTo(hosts[1]))
		h, ok = hc.Lookup("alpha")
		Expect(ok).To(BeTrue())
		Expect(h.ID).To(Equal(1))
		_, ok = hc.Lookup("beta")
		Expect(ok).To(BeFalse(), "ambiguous name")
		h, ok = hc.Lookup("42")
		Expect(ok).To(BeTrue())
		Expect(h.ID).To(Equal(4))

		hc.Clear()
		Expect(hc.IsEmpty()).To(BeTrue())
		_, ok = hc.ByID(1)
		Expect(ok).To(BeFalse())
	})

})
