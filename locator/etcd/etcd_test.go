package etcd_test

import (
	"context"
	"time"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/locator/etcd"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Registry", func() {
	var (
		ctx context.Context
		reg *etcd.Registry
	)
	BeforeEach(func() {
		ctx = context.Background()
		var err error
		reg, err = etcd.New(etcd.Config{
			Client: client,
			Prefix: "/gms/test/" + CurrentSpecReport().LeafNodeText + "/",
			TTL:    2 * time.Second,
		})
		Expect(err).ToNot(HaveOccurred())
	})

	It("Should return registered members as peers", func() {
		Expect(reg.Register(ctx, "localhost:1")).To(Succeed())
		Expect(reg.Register(ctx, "localhost:2")).To(Succeed())
		Expect(reg.Peers(ctx)).To(ConsistOf(address.Address("localhost:1"), address.Address("localhost:2")))
	})

	It("Should remove a deregistered member", func() {
		Expect(reg.Register(ctx, "localhost:1")).To(Succeed())
		Expect(reg.Deregister(ctx, "localhost:1")).To(Succeed())
		Expect(reg.Peers(ctx)).To(BeEmpty())
	})

	It("Should keep a registration alive past its TTL", func() {
		Expect(reg.Register(ctx, "localhost:1")).To(Succeed())
		Consistently(func() ([]address.Address, error) {
			return reg.Peers(ctx)
		}, 3*time.Second, 500*time.Millisecond).Should(HaveLen(1))
		Expect(reg.Deregister(ctx, "localhost:1")).To(Succeed())
	})
})

var _ = Describe("New", func() {
	It("Should require a client", func() {
		_, err := etcd.New(etcd.Config{})
		Expect(err).To(HaveOccurred())
	})
})
