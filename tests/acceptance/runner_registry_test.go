package acceptance_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/browser/registry"
	"github.com/sitegrab/engine/internal/common/configtypes"
	"github.com/sitegrab/engine/internal/common/redis"
)

var _ = Describe("Runner registry", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		reg    *registry.RunnerRegistry
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())

		var err error
		client, err = redis.NewClient(&configtypes.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		reg = registry.NewRunnerRegistry(client, 30*time.Second, zap.NewNop())
	})

	AfterEach(func() {
		Expect(client.Close()).To(Succeed())
	})

	It("advertises a runner and reflects heartbeat load", func() {
		info := &registry.RunnerInfo{
			ID:       "runner-01",
			Hostname: "scraper-host",
			Capacity: 4,
			Flow:     "checkout",
		}

		Expect(reg.Register(ctx, info)).To(Succeed())

		By("Listing the registered runner")
		runners, err := reg.ListHealthy(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runners).To(HaveLen(1))
		Expect(runners[0].ID).To(Equal("runner-01"))
		Expect(runners[0].Load).To(BeZero())

		By("Heartbeating with a new load")
		Expect(reg.Heartbeat(ctx, "runner-01", 3)).To(Succeed())

		got, err := reg.Get(ctx, "runner-01")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Load).To(Equal(3))
		Expect(got.LoadPercentage()).To(BeNumerically("==", 75.0))
	})

	It("drops a runner whose record expires", func() {
		info := &registry.RunnerInfo{ID: "runner-02", Capacity: 2}
		Expect(reg.Register(ctx, info)).To(Succeed())

		mr.FastForward(31 * time.Second)

		got, err := reg.Get(ctx, "runner-02")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
	})

	It("rebuilds the session ledger after its hash expires", func() {
		ledger := registry.NewSessionLedger(client, "runner-03", 3, 30*time.Second, zap.NewNop())
		Expect(ledger.RegisterSlots(ctx)).To(Succeed())

		By("Expiring the hash as if the runner had stalled")
		mr.FastForward(31 * time.Second)
		Expect(mr.Exists(ledger.Key())).To(BeFalse())

		By("Syncing with live occupancy recreates every slot")
		Expect(ledger.Sync(ctx, map[int]string{1: "flow-abc"})).To(Succeed())
		Expect(mr.Exists(ledger.Key())).To(BeTrue())
		Expect(ledger.CountOccupied(ctx)).To(Equal(1))
	})
})
