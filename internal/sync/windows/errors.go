package windows

import (
	"errors"
	"fmt"

	"github.com/sitegrab/engine/internal/sync/session"
)

// Tracker errors
var (
	ErrNoWindows       = errors.New("session has no open windows")
	ErrOriginalUnknown = errors.New("cannot determine original window")
)

// AmbiguousNewWindowError reports that several windows appeared at once and
// no picker was installed to choose among them. It is not retryable:
// waiting longer cannot shrink the candidate set.
type AmbiguousNewWindowError struct {
	Candidates []session.WindowHandle
}

func (e *AmbiguousNewWindowError) Error() string {
	return fmt.Sprintf("%d new windows appeared simultaneously", len(e.Candidates))
}
