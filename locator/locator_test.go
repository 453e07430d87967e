package locator_test

import (
	"context"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/locator"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Static", func() {
	It("Should return a copy of its peers", func() {
		s := locator.Static{"localhost:1", "localhost:2"}
		peers, err := s.Peers(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(peers).To(Equal([]address.Address{"localhost:1", "localhost:2"}))
		peers[0] = "localhost:3"
		Expect(s[0]).To(Equal(address.Address("localhost:1")))
	})
	It("Should exclude an address", func() {
		peers := locator.Exclude([]address.Address{"localhost:1", "localhost:2"}, "localhost:1")
		Expect(peers).To(Equal([]address.Address{"localhost:2"}))
	})
})
