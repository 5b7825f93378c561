package poll

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/errclass"
)

var (
	errTerminal  = &coachapi.APIError{StatusCode: http.StatusNotFound, Err: coachapi.ErrNotFound}
	errRetryable = &coachapi.APIError{StatusCode: http.StatusServiceUnavailable, Err: coachapi.ErrServerError}
	errUser      = &coachapi.APIError{StatusCode: http.StatusConflict, Err: coachapi.ErrUserAction}
)

func waitStopped(t *testing.T, e *Engine[int]) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_TerminalStopsOnce(t *testing.T) {
	t.Parallel()

	var probes, terminal atomic.Int32

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		MaxPolls: 10,
		Probe: func(context.Context) (int, error) {
			probes.Add(1)

			return 0, errTerminal
		},
		OnTerminalError: func(err error, c errclass.Classification) {
			terminal.Add(1)
			assert.Equal(t, errclass.Terminal, c.Class)
			assert.ErrorIs(t, err, coachapi.ErrNotFound)
		},
	})

	e.Start(context.Background())
	waitStopped(t, e)

	assert.False(t, e.IsPolling())
	assert.Equal(t, int32(1), probes.Load())
	assert.Equal(t, int32(1), terminal.Load())
	assert.ErrorIs(t, e.LastError(), coachapi.ErrNotFound)
}

func TestEngine_RetryableBoundedByMaxPolls(t *testing.T) {
	t.Parallel()

	var probes, maxed atomic.Int32

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		MaxPolls: 3,
		Probe: func(context.Context) (int, error) {
			probes.Add(1)

			return 0, errRetryable
		},
		OnMaxAttempts: func() { maxed.Add(1) },
		OnTerminalError: func(error, errclass.Classification) {
			t.Error("retryable failures must not be terminal")
		},
	})

	e.Start(context.Background())
	waitStopped(t, e)

	assert.False(t, e.IsPolling())
	assert.Equal(t, 3, e.PollCount())
	assert.LessOrEqual(t, probes.Load(), int32(4))
	assert.Equal(t, int32(1), maxed.Load())
}

func TestEngine_UserActionStops(t *testing.T) {
	t.Parallel()

	var userAction atomic.Int32

	e := New(Options[int]{
		Interval:     10 * time.Millisecond,
		Probe:        func(context.Context) (int, error) { return 0, errUser },
		OnUserAction: func(error, errclass.Classification) { userAction.Add(1) },
	})

	e.Start(context.Background())
	waitStopped(t, e)

	assert.False(t, e.IsPolling())
	assert.Equal(t, int32(1), userAction.Load())
}

func TestEngine_SuccessUntilDone(t *testing.T) {
	t.Parallel()

	var n atomic.Int32

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		Probe: func(context.Context) (int, error) {
			v := int(n.Add(1))
			if v == 2 {
				return 0, errRetryable
			}

			return v, nil
		},
		OnSuccess: func(v int) bool { return v >= 4 },
	})

	e.Start(context.Background())
	waitStopped(t, e)

	assert.Equal(t, 4, e.PollCount())
	assert.NoError(t, e.LastError(), "success clears the last error")
}

func TestEngine_ProbesImmediately(t *testing.T) {
	t.Parallel()

	first := make(chan struct{}, 1)

	e := New(Options[int]{
		Interval: time.Hour,
		Probe: func(context.Context) (int, error) {
			select {
			case first <- struct{}{}:
			default:
			}

			return 1, nil
		},
	})

	e.Start(context.Background())
	defer e.Stop()

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("first probe should not wait for the interval")
	}

	assert.True(t, e.IsPolling())
}

func TestEngine_StopIsIdempotentAndDiscardsInFlight(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	var successes atomic.Int32

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		Probe: func(context.Context) (int, error) {
			close(entered)
			<-release

			return 1, nil
		},
		OnSuccess: func(int) bool {
			successes.Add(1)

			return false
		},
	})

	e.Start(context.Background())
	<-entered

	e.Stop()
	e.Stop()
	assert.False(t, e.IsPolling())

	close(release)
	waitStopped(t, e)

	assert.Zero(t, successes.Load(), "result resolved after stop must be dropped")
	assert.Zero(t, e.PollCount())
}

func TestEngine_ContextCancelStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		Probe:    func(context.Context) (int, error) { return 0, nil },
	})

	e.Start(ctx)
	cancel()
	waitStopped(t, e)

	assert.False(t, e.IsPolling())
}

func TestEngine_ContextCancelDiscardsInFlight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	var terminal, userAction, successes, maxed atomic.Int32

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		MaxPolls: 1,
		Probe: func(pctx context.Context) (int, error) {
			close(started)
			<-pctx.Done()

			return 0, pctx.Err()
		},
		OnSuccess: func(int) bool {
			successes.Add(1)

			return false
		},
		OnTerminalError: func(error, errclass.Classification) { terminal.Add(1) },
		OnUserAction:    func(error, errclass.Classification) { userAction.Add(1) },
		OnMaxAttempts:   func() { maxed.Add(1) },
	})

	e.Start(ctx)
	<-started
	cancel()
	waitStopped(t, e)

	assert.False(t, e.IsPolling())
	assert.Zero(t, terminal.Load())
	assert.Zero(t, userAction.Load())
	assert.Zero(t, successes.Load())
	assert.Zero(t, maxed.Load())
	assert.Zero(t, e.PollCount())
	assert.NoError(t, e.LastError())
}

func TestEngine_RestartResetsState(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		MaxPolls: 2,
		Probe: func(context.Context) (int, error) {
			if fail.Load() {
				return 0, errRetryable
			}

			return 1, nil
		},
		OnSuccess: func(int) bool { return true },
	})

	e.Start(context.Background())
	waitStopped(t, e)
	require.Error(t, e.LastError())

	fail.Store(false)
	e.Start(context.Background())
	waitStopped(t, e)

	assert.NoError(t, e.LastError())
	assert.Equal(t, 1, e.PollCount())
}

func TestEngine_CustomClassifier(t *testing.T) {
	t.Parallel()

	var terminal atomic.Int32

	e := New(Options[int]{
		Interval: 10 * time.Millisecond,
		Probe:    func(context.Context) (int, error) { return 0, errors.New("weird") },
		Classify: func(error) errclass.Classification {
			return errclass.Classification{Class: errclass.Terminal, Detail: "custom"}
		},
		OnTerminalError: func(_ error, c errclass.Classification) {
			terminal.Add(1)
			assert.Equal(t, "custom", c.Detail)
		},
	})

	e.Start(context.Background())
	waitStopped(t, e)

	assert.Equal(t, int32(1), terminal.Load())
}
