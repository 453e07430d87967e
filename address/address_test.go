package address_test

import (
	"github.com/arya-analytics/gms/address"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Address", func() {
	It("Should split into host and port", func() {
		host, port, err := address.New("localhost", 9090).HostPort()
		Expect(err).ToNot(HaveOccurred())
		Expect(host).To(Equal("localhost"))
		Expect(port).To(Equal(uint16(9090)))
	})
	It("Should reject an address without a port", func() {
		_, _, err := address.Address("localhost").HostPort()
		Expect(err).To(HaveOccurred())
	})
	It("Should reject an out of range port", func() {
		_, _, err := address.Address("localhost:70000").HostPort()
		Expect(err).To(HaveOccurred())
	})
	Describe("LocalFactory", func() {
		It("Should hand out sequential addresses", func() {
			f := address.NewLocalFactory(8080)
			Expect(f.Next()).To(Equal(address.Address("localhost:8080")))
			Expect(f.NextN(2)).To(Equal([]address.Address{"localhost:8081", "localhost:8082"}))
		})
	})
})
