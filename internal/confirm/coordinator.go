// Package confirm mediates writes the backend may answer with a proposal
// instead of applying them. The Coordinator owns the single confirmation
// slot: a proposal parks the submitting caller until the user confirms
// (the stored command is re-sent with confirmed=true) or cancels.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/invalidate"
	"github.com/tonimelisma/coach-go/internal/metrics"
)

// Sentinel errors.
var (
	// ErrProtocolViolation: the backend asked to confirm a request that was
	// already confirmed.
	ErrProtocolViolation = errors.New("confirm: backend requested confirmation of a confirmed request")
	// ErrCancelled: the user declined the proposal. Not a failure.
	ErrCancelled = errors.New("confirm: cancelled by user")
	// ErrConfirmationPending: another proposal already occupies the slot.
	ErrConfirmationPending = errors.New("confirm: another confirmation is pending")
	// ErrNothingPending: Confirm or Cancel with an empty slot.
	ErrNothingPending = errors.New("confirm: no confirmation pending")
	// ErrRetryInProgress: the confirmed retry is already on the wire.
	ErrRetryInProgress = errors.New("confirm: confirmed retry in progress")
)

// IsCancelled reports whether err is a user cancellation, which callers
// should report as information rather than failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// State of the confirmation slot.
type State int

// Slot states.
const (
	Idle State = iota
	AwaitingConfirmation
	Retrying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case AwaitingConfirmation:
		return "AWAITING_CONFIRMATION"
	case Retrying:
		return "RETRYING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Writer executes a mutation. *coachapi.Client satisfies it.
type Writer interface {
	Write(ctx context.Context, m coachapi.Mutation) (*coachapi.WriteResponse, error)
}

// Pending is a snapshot of the occupied slot, for rendering the dialog.
type Pending struct {
	Mutation  coachapi.Mutation
	Proposal  coachapi.Proposal
	Since     time.Time
	Attempts  int   // confirmed retries tried so far
	LastError error // most recent retry failure, nil if none
}

// Options configure a Coordinator.
type Options struct {
	Logger      *slog.Logger
	Invalidator invalidate.Invalidator

	// OnProposal runs on the submitting goroutine once a proposal occupies
	// the slot and before Submit starts waiting. It typically prompts the
	// user and calls Confirm or Cancel.
	OnProposal func(ctx context.Context, p Pending)

	NowFunc func() time.Time
}

type outcome struct {
	resp *coachapi.WriteResponse
	err  error
}

type slot struct {
	cmd       coachapi.Mutation
	proposal  coachapi.Proposal
	since     time.Time
	attempts  int
	lastErr   error
	abandoned bool
	result    chan outcome // buffered 1, written exactly once
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	writer     Writer
	inv        invalidate.Invalidator
	logger     *slog.Logger
	onProposal func(context.Context, Pending)
	nowFunc    func() time.Time

	mu    sync.Mutex
	state State
	slot  *slot
}

// New creates a Coordinator writing through w.
func New(w Writer, opts Options) *Coordinator {
	c := &Coordinator{
		writer:     w,
		inv:        opts.Invalidator,
		logger:     opts.Logger,
		onProposal: opts.OnProposal,
		nowFunc:    opts.NowFunc,
	}

	if c.inv == nil {
		c.inv = invalidate.NoopInvalidator{}
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}

	return c
}

// Submit executes cmd. An applied (or conflict) response is returned at
// once and its invalidation published. A proposal parks the caller until
// Confirm, Cancel, or ctx ends; the caller then receives the confirmed
// result, ErrCancelled, ErrProtocolViolation, or ctx's error.
func (c *Coordinator) Submit(ctx context.Context, cmd coachapi.Mutation) (*coachapi.WriteResponse, error) {
	resp, err := c.writer.Write(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if !resp.IsProposal() {
		c.applied(ctx, cmd, resp)

		return resp, nil
	}

	if cmd.Confirmed {
		metrics.RecordConfirmation("violation", c.HasPendingConfirmation())

		return nil, fmt.Errorf("%w: %s %s", ErrProtocolViolation, cmd.Method, cmd.Path)
	}

	s, err := c.occupy(cmd, resp)
	if err != nil {
		return nil, err
	}

	if c.onProposal != nil {
		c.onProposal(ctx, c.snapshot(s))
	}

	return c.wait(ctx, s)
}

func (c *Coordinator) occupy(cmd coachapi.Mutation, resp *coachapi.WriteResponse) (*slot, error) {
	var proposal coachapi.Proposal
	if resp.Proposal != nil {
		proposal = *resp.Proposal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot != nil {
		c.logger.Warn("proposal rejected, slot occupied",
			slog.String("kind", string(cmd.Kind)),
			slog.String("pending_kind", string(c.slot.cmd.Kind)),
		)
		metrics.RecordConfirmation("rejected", true)

		return nil, fmt.Errorf("%w (%s)", ErrConfirmationPending, c.slot.cmd.Kind)
	}

	s := &slot{cmd: cmd, proposal: proposal, since: c.nowFunc(), result: make(chan outcome, 1)}
	c.slot = s
	c.state = AwaitingConfirmation

	c.logger.Info("awaiting confirmation",
		slog.String("kind", string(cmd.Kind)),
		slog.String("path", cmd.Path),
	)
	metrics.RecordConfirmation("proposed", true)

	return s, nil
}

func (c *Coordinator) wait(ctx context.Context, s *slot) (*coachapi.WriteResponse, error) {
	select {
	case out := <-s.result:
		return out.resp, out.err
	case <-ctx.Done():
	}

	// A result may have landed together with cancellation.
	select {
	case out := <-s.result:
		return out.resp, out.err
	default:
	}

	c.mu.Lock()
	if c.slot == s {
		if c.state == Retrying {
			// Confirm owns the slot until its request returns.
			s.abandoned = true
		} else {
			c.release()
		}
	}
	pending := c.slot != nil
	c.mu.Unlock()

	metrics.RecordConfirmation("abandoned", pending)

	return nil, ctx.Err()
}

// Confirm re-sends the pending command with confirmed=true. On success the
// parked caller receives the applied response, which is also returned
// here. A transport failure leaves the slot awaiting confirmation so the
// user can try again; the failure is returned to the confirmer only.
func (c *Coordinator) Confirm(ctx context.Context) (*coachapi.WriteResponse, error) {
	c.mu.Lock()

	s := c.slot
	if s == nil {
		c.mu.Unlock()

		return nil, ErrNothingPending
	}

	if c.state == Retrying {
		c.mu.Unlock()

		return nil, ErrRetryInProgress
	}

	c.state = Retrying
	s.attempts++
	attempt := s.attempts
	cmd := s.cmd.WithConfirmed()
	c.mu.Unlock()

	c.logger.Info("sending confirmed retry",
		slog.String("kind", string(cmd.Kind)),
		slog.Int("attempt", attempt),
	)

	resp, err := c.writer.Write(ctx, cmd)

	c.mu.Lock()

	if err != nil {
		if s.abandoned {
			c.release()
			c.mu.Unlock()

			return nil, fmt.Errorf("confirm: retry failed: %w", err)
		}

		s.lastErr = err
		c.state = AwaitingConfirmation
		c.mu.Unlock()

		c.logger.Warn("confirmed retry failed, proposal still pending",
			slog.String("kind", string(cmd.Kind)),
			slog.String("error", err.Error()),
		)
		metrics.RecordConfirmation("retry_failed", true)

		return nil, fmt.Errorf("confirm: retry failed: %w", err)
	}

	c.release()
	c.mu.Unlock()

	if resp.IsProposal() {
		violation := fmt.Errorf("%w: %s %s", ErrProtocolViolation, cmd.Method, cmd.Path)

		c.logger.Error("backend asked for confirmation twice",
			slog.String("kind", string(cmd.Kind)),
			slog.String("path", cmd.Path),
		)
		metrics.RecordConfirmation("violation", false)
		s.result <- outcome{err: violation}

		return nil, violation
	}

	c.applied(ctx, cmd, resp)
	metrics.RecordConfirmation("confirmed", false)
	s.result <- outcome{resp: resp}

	return resp, nil
}

// Cancel rejects the parked caller with ErrCancelled. Nothing is sent to
// the backend and nothing is invalidated.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()

	s := c.slot
	if s == nil {
		c.mu.Unlock()

		return ErrNothingPending
	}

	if c.state == Retrying {
		c.mu.Unlock()

		return ErrRetryInProgress
	}

	c.release()
	c.mu.Unlock()

	c.logger.Info("proposal cancelled", slog.String("kind", string(s.cmd.Kind)))
	metrics.RecordConfirmation("cancelled", false)
	s.result <- outcome{err: ErrCancelled}

	return nil
}

// release empties the slot. Caller holds mu.
func (c *Coordinator) release() {
	c.slot = nil
	c.state = Idle
}

// applied publishes invalidation for a response the backend accepted.
// Conflict reports count: the backend may have recorded the conflict
// against sessions the reader holds.
func (c *Coordinator) applied(ctx context.Context, cmd coachapi.Mutation, resp *coachapi.WriteResponse) {
	c.logger.Debug("mutation accepted",
		slog.String("kind", string(cmd.Kind)),
		slog.String("status", string(resp.Status)),
	)

	c.inv.InvalidateFor(ctx, cmd.Kind)
}

// HasPendingConfirmation reports whether the slot is occupied. Callers
// gate further proposal-capable writes on it.
func (c *Coordinator) HasPendingConfirmation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.slot != nil
}

// State returns the current slot state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Pending returns a snapshot of the occupied slot.
func (c *Coordinator) Pending() (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot == nil {
		return Pending{}, false
	}

	return c.snapshotLocked(c.slot), true
}

func (c *Coordinator) snapshot(s *slot) Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked(s)
}

func (c *Coordinator) snapshotLocked(s *slot) Pending {
	return Pending{
		Mutation:  s.cmd,
		Proposal:  s.proposal,
		Since:     s.since,
		Attempts:  s.attempts,
		LastError: s.lastErr,
	}
}
