package acceptance_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sitegrab/engine/internal/sync/orchestrator"
	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/internal/sync/session"
	"github.com/sitegrab/engine/internal/sync/synctest"
)

var _ = Describe("Flow synchronization", func() {
	var (
		fake *synctest.Session
		fac  *orchestrator.Facade
		ctx  context.Context
	)

	JustBeforeEach(func() {
		var err error
		ctx = context.Background()
		fac, err = orchestrator.New(ctx, fake, orchestrator.WithWaitSpec(fastWait()))
		Expect(err).NotTo(HaveOccurred())
	})

	Context("with a nested checkout page", func() {
		BeforeEach(func() {
			fake = checkoutPage()
		})

		It("clicks a button buried two levels deep and restores the scope", func() {
			By("Descending into the checkout iframe")
			Expect(fac.EnterFrame(ctx, session.CSS("iframe#checkout"))).To(Succeed())
			Expect(fac.Depth()).To(Equal(1))

			By("Descending into the payment widget's shadow root")
			Expect(fac.EnterShadow(ctx, session.CSS("payment-widget"))).To(Succeed())
			Expect(fac.Depth()).To(Equal(2))

			By("Clicking the pay button inside the shadow tree")
			clicked := false
			fake.OnClick("el-pay", func() { clicked = true })
			Expect(fac.Click(ctx, session.ID("pay"))).To(Succeed())
			Expect(clicked).To(BeTrue())

			By("Unwinding back to the top document")
			Expect(fac.ExitContext(ctx)).To(Succeed())
			Expect(fac.ExitContext(ctx)).To(Succeed())
			Expect(fac.Depth()).To(Equal(0))

			cur, err := fake.CurrentScope(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cur).To(Equal(session.ContextHandle("root")))
		})

		It("restores the previous depth when a wrapped action fails", func() {
			boom := errors.New("scrape step failed")

			err := fac.WithFrame(ctx, session.CSS("iframe#checkout"), func(ctx context.Context) error {
				Expect(fac.Depth()).To(Equal(1))
				return boom
			})

			Expect(err).To(MatchError(boom))
			Expect(fac.Depth()).To(Equal(0))
			Expect(fac.Scope()).To(Equal(session.ContextHandle("root")))
		})

		It("leaves the scope untouched when frame entry fails", func() {
			err := fac.EnterFrame(ctx, session.CSS("iframe#missing"))

			Expect(err).To(HaveOccurred())
			Expect(fac.Depth()).To(Equal(0))

			cur, scopeErr := fake.CurrentScope(ctx)
			Expect(scopeErr).NotTo(HaveOccurred())
			Expect(cur).To(Equal(session.ContextHandle("root")))
		})
	})

	Context("waiting for late content", func() {
		BeforeEach(func() {
			fake = synctest.NewWithWindow("win-1", "root")
		})

		It("resolves an element that appears while polling", func() {
			go func() {
				time.Sleep(40 * time.Millisecond)
				fake.AddElement("root", synctest.Element{
					Ref: "el-banner", DOMID: "banner", Visible: true,
				})
			}()

			ref, err := fac.WaitForElement(ctx, session.ID("banner"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.ID).To(Equal("el-banner"))
		})

		It("times out without overshooting the deadline by more than one interval", func() {
			start := time.Now()
			_, err := fac.WaitForElement(ctx, session.ID("never"),
				orchestrator.Within(50*time.Millisecond))
			elapsed := time.Since(start)

			Expect(err).To(MatchError(poller.ErrWaitTimeout))
			Expect(elapsed).To(BeNumerically("<", 300*time.Millisecond))
		})

		It("returns the final match for a last-pick locator", func() {
			fake.AddElement("root", synctest.Element{
				Ref: "el-opt-1", Selector: "li.option", Visible: true,
			})
			fake.AddElement("root", synctest.Element{
				Ref: "el-opt-2", Selector: "li.option", Visible: true,
			})

			ref, err := fac.WaitForElement(ctx, session.CSS("li.option").Last())
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.ID).To(Equal("el-opt-2"))
		})
	})
})
