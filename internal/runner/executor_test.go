package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/internal/sync/synctest"
	"github.com/sitegrab/engine/pkg/types"
)

// fakeDriver adds no-op navigation to the in-memory session. The fake's
// handles survive navigation, so the executor's facade rebuild is
// exercised without side effects.
type fakeDriver struct {
	*synctest.Session
	navigated []string
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.navigated = append(d.navigated, url)
	return nil
}

func fastWait() poller.WaitSpec {
	return poller.WaitSpec{
		Timeout:      200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
}

// checkoutDriver builds root > iframe(frame-a) > shadow(shadow-a)
func checkoutDriver() *fakeDriver {
	fake := synctest.NewWithWindow("win-1", "root")
	fake.AddContext("frame-a", true)
	fake.AddContext("shadow-a", true)
	fake.AddElement("root", synctest.Element{
		Ref: "el-frame", Selector: "iframe#checkout", Visible: true, FrameTarget: "frame-a",
	})
	fake.AddElement("frame-a", synctest.Element{
		Ref: "el-host", Selector: "payment-widget", Visible: true, ShadowRoot: "shadow-a",
	})
	fake.AddElement("shadow-a", synctest.Element{
		Ref: "el-pay", DOMID: "pay", Visible: true, Enabled: true,
	})
	return &fakeDriver{Session: fake}
}

func stepLoc(strategy, value string) *types.LocatorSpec {
	return &types.LocatorSpec{Strategy: strategy, Value: value}
}

func TestExecutor_RunFullFlow(t *testing.T) {
	drv := checkoutDriver()

	flow := &types.Flow{
		Name: "checkout",
		Steps: []types.FlowStep{
			{Kind: types.StepNavigate, URL: "https://shop.example/checkout"},
			{Kind: types.StepWaitElement, Locator: stepLoc(types.SelectByCSS, "iframe#checkout")},
			{Kind: types.StepEnterFrame, Locator: stepLoc(types.SelectByCSS, "iframe#checkout")},
			{Kind: types.StepEnterShadow, Locator: stepLoc(types.SelectByCSS, "payment-widget")},
			{Kind: types.StepWaitVisible, Locator: stepLoc(types.SelectByID, "pay")},
			{Kind: types.StepExitContext},
			{Kind: types.StepResetToRoot},
		},
	}

	ex := NewExecutor(flow, fastWait(), nil, zap.NewNop())
	err := ex.Run(context.Background(), drv, "flow-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.example/checkout"}, drv.navigated)
}

func TestExecutor_StepFailureCarriesIndexAndKind(t *testing.T) {
	drv := checkoutDriver()

	flow := &types.Flow{
		Name: "broken",
		Steps: []types.FlowStep{
			{Kind: types.StepWaitElement, Locator: stepLoc(types.SelectByID, "missing")},
		},
	}

	ex := NewExecutor(flow, fastWait(), nil, zap.NewNop())
	err := ex.Run(context.Background(), drv, "flow-2")

	require.Error(t, err)
	assert.ErrorIs(t, err, poller.ErrWaitTimeout)
	assert.Contains(t, err.Error(), `flow "broken" step 0 (wait_element)`)
}

func TestExecutor_PerStepTimeoutOverride(t *testing.T) {
	drv := checkoutDriver()

	flow := &types.Flow{
		Name: "impatient",
		Steps: []types.FlowStep{
			{
				Kind:    types.StepWaitElement,
				Locator: stepLoc(types.SelectByID, "missing"),
				Timeout: types.Duration(30 * time.Millisecond),
			},
		},
	}

	// Executor-level wait is generous; the step override must win
	slow := poller.WaitSpec{Timeout: 5 * time.Second, PollInterval: 10 * time.Millisecond}
	ex := NewExecutor(flow, slow, nil, zap.NewNop())

	start := time.Now()
	err := ex.Run(context.Background(), drv, "flow-3")

	require.ErrorIs(t, err, poller.ErrWaitTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestExecutor_OpenWindowStep(t *testing.T) {
	drv := checkoutDriver()
	drv.AddElement("root", synctest.Element{
		Ref: "el-open", DOMID: "details", Visible: true, Enabled: true,
	})
	drv.OnClick("el-open", func() {
		drv.OpenWindow("win-2", "root-2")
	})

	flow := &types.Flow{
		Name: "popup",
		Steps: []types.FlowStep{
			{Kind: types.StepOpenWindow, Locator: stepLoc(types.SelectByID, "details")},
		},
	}

	ex := NewExecutor(flow, fastWait(), nil, zap.NewNop())
	err := ex.Run(context.Background(), drv, "flow-4")

	require.NoError(t, err)
	assert.Equal(t, "win-2", string(drv.CurrentWindow()))
}

func TestExecutor_InvalidFlowRejected(t *testing.T) {
	drv := checkoutDriver()

	flow := &types.Flow{Name: "empty"}
	ex := NewExecutor(flow, fastWait(), nil, zap.NewNop())

	err := ex.Run(context.Background(), drv, "flow-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid flow")
}
