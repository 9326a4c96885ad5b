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
	"github.com/sitegrab/engine/internal/sync/windows"
)

var _ = Describe("Window tracking", func() {
	var (
		fake *synctest.Session
		fac  *orchestrator.Facade
		ctx  context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = checkoutPage()
		fake.AddElement("root", synctest.Element{
			Ref: "el-open", DOMID: "details", Visible: true, Enabled: true,
		})

		var err error
		fac, err = orchestrator.New(ctx, fake, orchestrator.WithWaitSpec(fastWait()))
		Expect(err).NotTo(HaveOccurred())
	})

	It("attaches to the single window a click opens", func() {
		fake.OnClick("el-open", func() {
			fake.OpenWindow("win-2", "root-2")
		})

		win, err := fac.OpenedWindow(ctx, func(ctx context.Context) error {
			return fac.Click(ctx, session.ID("details"))
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(win).To(Equal(session.WindowHandle("win-2")))
		Expect(fac.CurrentWindow()).To(Equal(session.WindowHandle("win-2")))
		Expect(fac.Original()).To(Equal(session.WindowHandle("win-1")))

		By("Returning home afterwards")
		Expect(fac.ReturnToOriginal(ctx)).To(Succeed())
		Expect(fac.CurrentWindow()).To(Equal(session.WindowHandle("win-1")))
	})

	It("ignores windows that close while a new one opens", func() {
		fake.OpenWindow("win-extra", "root-extra")

		// Rebuild so the baseline includes the extra window
		var err error
		fac, err = orchestrator.New(ctx, fake,
			orchestrator.WithWaitSpec(fastWait()),
			orchestrator.WithWindowOptions(windows.WithOriginal("win-1")))
		Expect(err).NotTo(HaveOccurred())

		fake.OnClick("el-open", func() {
			fake.CloseWindow("win-extra")
			fake.OpenWindow("win-2", "root-2")
		})

		win, err := fac.OpenedWindow(ctx, func(ctx context.Context) error {
			return fac.Click(ctx, session.ID("details"))
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(win).To(Equal(session.WindowHandle("win-2")))
	})

	It("times out when the trigger opens nothing", func() {
		fake.OnClick("el-open", func() {})

		start := time.Now()
		_, err := fac.OpenedWindow(ctx, func(ctx context.Context) error {
			return fac.Click(ctx, session.ID("details"))
		}, orchestrator.Within(60*time.Millisecond))

		Expect(err).To(MatchError(poller.ErrWaitTimeout))
		Expect(time.Since(start)).To(BeNumerically("<", 400*time.Millisecond))
	})

	It("fails fast when two windows open at once and no picker is set", func() {
		fake.OnClick("el-open", func() {
			fake.OpenWindow("win-2", "root-2")
			fake.OpenWindow("win-3", "root-3")
		})

		_, err := fac.OpenedWindow(ctx, func(ctx context.Context) error {
			return fac.Click(ctx, session.ID("details"))
		})

		var ambiguous *windows.AmbiguousNewWindowError
		Expect(errors.As(err, &ambiguous)).To(BeTrue())
		Expect(ambiguous.Candidates).To(HaveLen(2))
	})

	It("resolves ambiguity with the newest-window picker", func() {
		fake.OnClick("el-open", func() {
			fake.OpenWindow("win-2", "root-2")
			fake.OpenWindow("win-3", "root-3")
		})

		var err error
		fac, err = orchestrator.New(ctx, fake,
			orchestrator.WithWaitSpec(fastWait()),
			orchestrator.WithWindowOptions(windows.WithPicker(windows.PickNewest)))
		Expect(err).NotTo(HaveOccurred())

		win, err := fac.OpenedWindow(ctx, func(ctx context.Context) error {
			return fac.Click(ctx, session.ID("details"))
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(win).To(Equal(session.WindowHandle("win-3")))
	})

	It("keeps per-window nesting when switching back and forth", func() {
		fake.OpenWindow("win-2", "root-2")

		var err error
		fac, err = orchestrator.New(ctx, fake,
			orchestrator.WithWaitSpec(fastWait()),
			orchestrator.WithWindowOptions(windows.WithOriginal("win-1")))
		Expect(err).NotTo(HaveOccurred())

		Expect(fac.EnterFrame(ctx, session.CSS("iframe#checkout"))).To(Succeed())
		Expect(fac.Depth()).To(Equal(1))

		Expect(fac.SwitchWindow(ctx, "win-2")).To(Succeed())
		Expect(fac.Depth()).To(Equal(0))

		Expect(fac.SwitchWindow(ctx, "win-1")).To(Succeed())
		Expect(fac.Depth()).To(Equal(1))
		Expect(fac.Scope()).To(Equal(session.ContextHandle("frame-a")))
	})
})
