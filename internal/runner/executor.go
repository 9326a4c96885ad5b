// Package runner executes configured scrape flows against a browser
// session. A flow is configuration glue: the ordered steps, their
// locators and per-step timeouts live here, while all waiting and
// context bookkeeping is delegated to the orchestrator.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/sync/orchestrator"
	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/internal/sync/session"
	"github.com/sitegrab/engine/pkg/types"
)

// SessionDriver is a browser session that can also load URLs. Navigation
// sits outside the session capability surface because it invalidates
// every handle the session has issued.
type SessionDriver interface {
	session.Session
	Navigate(ctx context.Context, url string) error
}

// Executor runs one flow definition against a session
type Executor struct {
	flow    *types.Flow
	wait    poller.WaitSpec
	metrics orchestrator.MetricsRecorder
	logger  *zap.Logger
}

// NewExecutor creates an executor for a validated flow
func NewExecutor(flow *types.Flow, wait poller.WaitSpec, m orchestrator.MetricsRecorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		flow:    flow,
		wait:    wait,
		metrics: m,
		logger:  logger,
	}
}

// Run executes every step of the flow in order. The first failing step
// aborts the run; its error carries the step index and kind.
func (e *Executor) Run(ctx context.Context, drv SessionDriver, flowID string) error {
	if err := e.flow.Validate(); err != nil {
		return fmt.Errorf("invalid flow: %w", err)
	}

	started := time.Now()
	e.logger.Info("Flow started",
		zap.String("flow_id", flowID),
		zap.String("flow", e.flow.Name),
		zap.Int("steps", len(e.flow.Steps)))

	// The facade is built lazily after the first navigation: loading a URL
	// swaps the document and orphans every handle, so a pre-navigation
	// facade would be tracking dead scopes.
	var fac *orchestrator.Facade

	for i, step := range e.flow.Steps {
		e.logger.Debug("Executing step",
			zap.String("flow_id", flowID),
			zap.Int("step", i),
			zap.String("kind", step.Kind))

		if step.Kind == types.StepNavigate {
			if err := drv.Navigate(ctx, step.URL); err != nil {
				return e.stepErr(i, step.Kind, err)
			}
			fac = nil
			continue
		}

		if fac == nil {
			facOpts := []orchestrator.Option{
				orchestrator.WithWaitSpec(e.wait),
				orchestrator.WithLogger(e.logger),
				orchestrator.WithFlowID(flowID),
			}
			if e.metrics != nil {
				facOpts = append(facOpts, orchestrator.WithMetrics(e.metrics))
			}

			var err error
			fac, err = orchestrator.New(ctx, drv, facOpts...)
			if err != nil {
				return e.stepErr(i, step.Kind, fmt.Errorf("attach to session: %w", err))
			}
		}

		if err := e.runStep(ctx, fac, step); err != nil {
			return e.stepErr(i, step.Kind, err)
		}
	}

	e.logger.Info("Flow completed",
		zap.String("flow_id", flowID),
		zap.String("flow", e.flow.Name),
		zap.Duration("elapsed", time.Since(started)))

	return nil
}

// runStep dispatches one non-navigation step onto the orchestrator
func (e *Executor) runStep(ctx context.Context, fac *orchestrator.Facade, step types.FlowStep) error {
	var opts []orchestrator.WaitOption
	if step.Timeout > 0 {
		opts = append(opts, orchestrator.Within(step.Timeout.Std()))
	}

	switch step.Kind {
	case types.StepWaitElement:
		loc, err := session.FromSpec(step.Locator)
		if err != nil {
			return err
		}
		_, err = fac.WaitForElement(ctx, loc, opts...)
		return err

	case types.StepWaitVisible:
		loc, err := session.FromSpec(step.Locator)
		if err != nil {
			return err
		}
		_, err = fac.WaitForVisible(ctx, loc, opts...)
		return err

	case types.StepEnterFrame:
		loc, err := session.FromSpec(step.Locator)
		if err != nil {
			return err
		}
		return fac.EnterFrame(ctx, loc)

	case types.StepEnterShadow:
		loc, err := session.FromSpec(step.Locator)
		if err != nil {
			return err
		}
		return fac.EnterShadow(ctx, loc)

	case types.StepExitContext:
		return fac.ExitContext(ctx)

	case types.StepResetToRoot:
		return fac.ReturnToRoot(ctx)

	case types.StepOpenWindow:
		loc, err := session.FromSpec(step.Locator)
		if err != nil {
			return err
		}
		_, err = fac.OpenedWindow(ctx, func(ctx context.Context) error {
			return fac.Click(ctx, loc)
		}, opts...)
		return err

	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func (e *Executor) stepErr(index int, kind string, err error) error {
	return fmt.Errorf("flow %q step %d (%s): %w", e.flow.Name, index, kind, err)
}
