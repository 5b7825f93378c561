// Package poll re-invokes an asynchronous probe on a fixed interval until it
// reports completion, fails in a way retrying cannot fix, or runs out of
// attempts. Failures are classified by errclass so polling and direct call
// sites agree on what is worth retrying.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/coach-go/internal/errclass"
	"github.com/tonimelisma/coach-go/internal/metrics"
)

const defaultInterval = 5 * time.Second

// Stop reasons, as logged and counted.
const (
	reasonDone        = "done"
	reasonTerminal    = "terminal"
	reasonUserAction  = "user_action"
	reasonMaxAttempts = "max_attempts"
	reasonCancelled   = "cancelled"
	reasonStopped     = "stopped"
)

// Options configure an Engine. Probe is required.
type Options[T any] struct {
	Name     string        // used in logs
	Interval time.Duration // between invocations; default 5s
	MaxPolls int           // attempts before giving up; 0 means unbounded

	Probe func(ctx context.Context) (T, error)

	// OnSuccess sees every successful result and returns true when the
	// awaited condition holds, which stops polling.
	OnSuccess func(result T) (done bool)

	OnTerminalError func(err error, c errclass.Classification)
	OnUserAction    func(err error, c errclass.Classification)
	OnMaxAttempts   func()

	Classify func(error) errclass.Classification // default errclass.Classify
	Logger   *slog.Logger
}

// Engine drives one probe. Start may be called again after the engine
// stops; each run resets the count and last error. Safe for concurrent use.
type Engine[T any] struct {
	opts     Options[T]
	classify func(error) errclass.Classification
	logger   *slog.Logger

	mu      sync.Mutex
	polling bool
	count   int
	lastErr error
	gen     uint64 // bumped on every Start and Stop; stale probe results are dropped
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an engine. It does not start polling.
func New[T any](opts Options[T]) *Engine[T] {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}

	e := &Engine[T]{opts: opts, classify: opts.Classify, logger: opts.Logger}

	if e.classify == nil {
		e.classify = errclass.Classify
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	closed := make(chan struct{})
	close(closed)
	e.done = closed

	return e
}

// Start resets the count and error and begins polling: one probe now, then
// one per interval. A run already in progress is stopped first.
func (e *Engine[T]) Start(ctx context.Context) {
	e.mu.Lock()

	if e.polling {
		e.stopLocked()
	}

	e.gen++
	gen := e.gen
	e.count = 0
	e.lastErr = nil
	e.polling = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done

	e.mu.Unlock()

	e.logger.Debug("polling started",
		slog.String("probe", e.opts.Name),
		slog.Duration("interval", e.opts.Interval),
		slog.Int("max_polls", e.opts.MaxPolls),
	)

	go e.loop(runCtx, gen, done)
}

func (e *Engine[T]) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	if !e.tick(ctx, gen) {
		return
	}

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.halt(gen, reasonCancelled)

			return
		case <-ticker.C:
			if !e.tick(ctx, gen) {
				return
			}
		}
	}
}

// tick runs one probe and reports whether polling continues. A run whose
// context is cancelled ends without counting the probe or firing a callback.
func (e *Engine[T]) tick(ctx context.Context, gen uint64) bool {
	if !e.current(gen) {
		return false
	}

	if ctx.Err() != nil {
		e.halt(gen, reasonCancelled)

		return false
	}

	result, err := e.opts.Probe(ctx)

	e.mu.Lock()
	if e.gen != gen || !e.polling {
		e.mu.Unlock()

		e.logger.Debug("discarding probe result after stop", slog.String("probe", e.opts.Name))

		return false
	}

	if ctx.Err() != nil {
		e.mu.Unlock()

		e.logger.Debug("discarding probe result after cancel", slog.String("probe", e.opts.Name))
		e.halt(gen, reasonCancelled)

		return false
	}

	e.count++
	count := e.count
	e.lastErr = err
	e.mu.Unlock()

	if err == nil {
		metrics.RecordProbe("ok")

		if e.opts.OnSuccess != nil && e.opts.OnSuccess(result) {
			e.halt(gen, reasonDone)

			return false
		}
	} else {
		c := e.classify(err)
		metrics.RecordProbe(c.Class.String())

		switch c.Class {
		case errclass.Terminal:
			if e.halt(gen, reasonTerminal) && e.opts.OnTerminalError != nil {
				e.opts.OnTerminalError(err, c)
			}

			return false
		case errclass.UserAction:
			if e.halt(gen, reasonUserAction) && e.opts.OnUserAction != nil {
				e.opts.OnUserAction(err, c)
			}

			return false
		case errclass.Retryable:
			e.logger.Warn("probe failed, will retry",
				slog.String("probe", e.opts.Name),
				slog.Int("attempt", count),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.opts.MaxPolls > 0 && count >= e.opts.MaxPolls {
		if e.halt(gen, reasonMaxAttempts) && e.opts.OnMaxAttempts != nil {
			e.opts.OnMaxAttempts()
		}

		return false
	}

	return true
}

func (e *Engine[T]) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.gen == gen && e.polling
}

// halt ends run gen. Only the first caller for a run gets true, so each
// stop callback fires at most once.
func (e *Engine[T]) halt(gen uint64, reason string) bool {
	e.mu.Lock()

	if e.gen != gen || !e.polling {
		e.mu.Unlock()

		return false
	}

	e.polling = false
	e.cancel()
	count := e.count
	e.mu.Unlock()

	e.logger.Info("polling stopped",
		slog.String("probe", e.opts.Name),
		slog.String("reason", reason),
		slog.Int("polls", count),
	)
	metrics.RecordPollStop(reason)

	return true
}

// Stop ends polling. It is idempotent; results of a probe still in flight
// are discarded and no callback fires.
func (e *Engine[T]) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.polling {
		return
	}

	e.stopLocked()
	metrics.RecordPollStop(reasonStopped)
}

func (e *Engine[T]) stopLocked() {
	e.polling = false
	e.gen++
	e.cancel()
}

// Wait blocks until the current run's goroutine has exited.
func (e *Engine[T]) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	<-done
}

// IsPolling reports whether a run is active.
func (e *Engine[T]) IsPolling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.polling
}

// PollCount is the number of probe invocations in the current run.
func (e *Engine[T]) PollCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.count
}

// LastError is the most recent probe failure, cleared by a success.
func (e *Engine[T]) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}
