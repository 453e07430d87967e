package node_test

import (
	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Node", func() {
	Describe("New", func() {
		It("Should parse the address and assign a unique birth", func() {
			a, err := node.New("localhost:22546", 1, node.KindMember)
			Expect(err).ToNot(HaveOccurred())
			b, err := node.New("localhost:22546", 1, node.KindMember)
			Expect(err).ToNot(HaveOccurred())
			Expect(a.Host).To(Equal("localhost"))
			Expect(a.Port).To(Equal(uint16(22546)))
			Expect(a.Address()).To(Equal(address.Address("localhost:22546")))
			Expect(a).ToNot(Equal(b))
		})
		It("Should return an error for a malformed address", func() {
			_, err := node.New("localhost", 1, node.KindMember)
			Expect(err).To(HaveOccurred())
		})
	})
	Describe("OlderThan", func() {
		It("Should order by birth time first", func() {
			a := node.Node{Host: "b", Port: 2, Birth: node.Birth{At: 1}}
			b := node.Node{Host: "a", Port: 1, Birth: node.Birth{At: 2}}
			Expect(a.OlderThan(b)).To(BeTrue())
			Expect(b.OlderThan(a)).To(BeFalse())
		})
		It("Should break birth time ties with the token", func() {
			a := node.Node{Birth: node.Birth{At: 1, Token: uuid.UUID{1}}}
			b := node.Node{Birth: node.Birth{At: 1, Token: uuid.UUID{2}}}
			Expect(a.OlderThan(b)).To(BeTrue())
			Expect(b.OlderThan(a)).To(BeFalse())
		})
		It("Should never consider a node older than itself", func() {
			a := node.Node{Host: "a", Port: 1, Birth: node.Birth{At: 1}}
			Expect(a.OlderThan(a)).To(BeFalse())
		})
	})
})
