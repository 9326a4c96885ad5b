package windows

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/internal/sync/session"
	"github.com/sitegrab/engine/internal/sync/synctest"
)

func fastWait() Option {
	return WithWaitSpec(poller.WaitSpec{
		Timeout:      200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
}

func TestNewTracker_SoleWindowIsOriginal(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")

	tr, err := NewTracker(context.Background(), fake)
	require.NoError(t, err)
	assert.Equal(t, session.WindowHandle("win-a"), tr.Original())
}

func TestNewTracker_MultipleWindowsNeedExplicitOriginal(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	fake.OpenWindow("win-b", "root-b")
	ctx := context.Background()

	_, err := NewTracker(ctx, fake)
	require.ErrorIs(t, err, ErrOriginalUnknown)

	tr, err := NewTracker(ctx, fake, WithOriginal("win-b"))
	require.NoError(t, err)
	assert.Equal(t, session.WindowHandle("win-b"), tr.Original())

	_, err = NewTracker(ctx, fake, WithOriginal("win-z"))
	require.ErrorIs(t, err, session.ErrNoSuchWindow)
}

func TestWaitForNewWindow_DetectsSingleAddition(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	fake.OpenWindow("win-b", "root-b")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, WithOriginal("win-a"), fastWait())
	require.NoError(t, err)

	baseline, err := tr.Snapshot(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		fake.OpenWindow("win-c", "root-c")
	}()

	got, err := tr.WaitForNewWindow(ctx, baseline)
	require.NoError(t, err)
	assert.Equal(t, session.WindowHandle("win-c"), got)
}

func TestWaitForNewWindow_NoAdditionTimesOut(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, fastWait())
	require.NoError(t, err)

	baseline, err := tr.Snapshot(ctx)
	require.NoError(t, err)

	_, err = tr.WaitForNewWindow(ctx, baseline)
	require.ErrorIs(t, err, poller.ErrWaitTimeout)
}

func TestWaitForNewWindow_ClosureDoesNotMaskAddition(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	fake.OpenWindow("win-b", "root-b")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, WithOriginal("win-a"), fastWait())
	require.NoError(t, err)

	baseline, err := tr.Snapshot(ctx)
	require.NoError(t, err)

	// One window closes while another opens; the population size is
	// unchanged but the addition must still be found.
	fake.CloseWindow("win-b")
	fake.OpenWindow("win-c", "root-c")

	got, err := tr.WaitForNewWindow(ctx, baseline)
	require.NoError(t, err)
	assert.Equal(t, session.WindowHandle("win-c"), got)
}

func TestWaitForNewWindow_AmbiguousWithoutPicker(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, fastWait())
	require.NoError(t, err)

	baseline, err := tr.Snapshot(ctx)
	require.NoError(t, err)

	fake.OpenWindow("win-b", "root-b")
	fake.OpenWindow("win-c", "root-c")

	_, err = tr.WaitForNewWindow(ctx, baseline)
	var ambErr *AmbiguousNewWindowError
	require.ErrorAs(t, err, &ambErr)
	assert.ElementsMatch(t,
		[]session.WindowHandle{"win-b", "win-c"}, ambErr.Candidates)
	assert.NotErrorIs(t, err, poller.ErrWaitTimeout)
}

func TestWaitForNewWindow_PickNewestResolvesAmbiguity(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, fastWait(), WithPicker(PickNewest))
	require.NoError(t, err)

	baseline, err := tr.Snapshot(ctx)
	require.NoError(t, err)

	fake.OpenWindow("win-b", "root-b")
	fake.OpenWindow("win-c", "root-c")

	got, err := tr.WaitForNewWindow(ctx, baseline)
	require.NoError(t, err)
	assert.Equal(t, session.WindowHandle("win-c"), got)
}

func TestAttach_FocusesAndWaitsForReadiness(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, fastWait())
	require.NoError(t, err)

	fake.OpenWindow("win-b", "root-b")
	fake.SetReady("root-b", false)
	go func() {
		time.Sleep(30 * time.Millisecond)
		fake.SetReady("root-b", true)
	}()

	require.NoError(t, tr.Attach(ctx, "win-b"))
	assert.Equal(t, session.WindowHandle("win-b"), fake.CurrentWindow())

	scope, err := fake.CurrentScope(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.ContextHandle("root-b"), scope)
}

func TestAttach_UnreadyDocumentRestoresFocus(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, fastWait())
	require.NoError(t, err)

	fake.OpenWindow("win-b", "root-b")
	fake.SetReady("root-b", false)

	err = tr.Attach(ctx, "win-b")
	require.ErrorIs(t, err, poller.ErrWaitTimeout)

	// Focus rolled back to the last good window
	assert.Equal(t, session.WindowHandle("win-a"), fake.CurrentWindow())

	scope, err := fake.CurrentScope(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.ContextHandle("root-a"), scope)
}

func TestAttach_UnknownWindow(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, fastWait())
	require.NoError(t, err)

	err = tr.Attach(ctx, "win-z")
	require.ErrorIs(t, err, session.ErrNoSuchWindow)
}

func TestReturnToOriginal(t *testing.T) {
	fake := synctest.NewWithWindow("win-a", "root-a")
	ctx := context.Background()

	tr, err := NewTracker(ctx, fake, fastWait())
	require.NoError(t, err)

	fake.OpenWindow("win-b", "root-b")
	require.NoError(t, tr.Attach(ctx, "win-b"))
	require.NoError(t, tr.ReturnToOriginal(ctx))
	assert.Equal(t, session.WindowHandle("win-a"), fake.CurrentWindow())
}
