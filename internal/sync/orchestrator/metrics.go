package orchestrator

import "time"

// MetricsRecorder receives synchronization outcomes. The prometheus-backed
// implementation lives in internal/sync/metrics; tests install capturing
// fakes.
type MetricsRecorder interface {
	ObserveWait(kind, outcome string, elapsed time.Duration)
	ContextEntered(kind string)
	WindowSwitched()
}

// Wait kinds reported to the recorder
const (
	WaitPresent   = "present"
	WaitVisible   = "visible"
	WaitClickable = "clickable"
	WaitGone      = "gone"
	WaitWindow    = "window"
)

// Wait outcomes reported to the recorder
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

type nopMetrics struct{}

func (nopMetrics) ObserveWait(string, string, time.Duration) {}
func (nopMetrics) ContextEntered(string)                     {}
func (nopMetrics) WindowSwitched()                           {}
