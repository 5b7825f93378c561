package confirm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

type step struct {
	resp *coachapi.WriteResponse
	err  error
}

// scriptedWriter answers writes from a fixed script and records them.
type scriptedWriter struct {
	mu    sync.Mutex
	steps []step
	calls []coachapi.Mutation
}

func (w *scriptedWriter) Write(_ context.Context, m coachapi.Mutation) (*coachapi.WriteResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls = append(w.calls, m)
	if len(w.steps) == 0 {
		return nil, errors.New("script exhausted")
	}

	s := w.steps[0]
	w.steps = w.steps[1:]

	return s.resp, s.err
}

func (w *scriptedWriter) recorded() []coachapi.Mutation {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]coachapi.Mutation(nil), w.calls...)
}

type countingInvalidator struct {
	mu    sync.Mutex
	kinds []coachapi.MutationKind
}

func (c *countingInvalidator) InvalidateFor(_ context.Context, kind coachapi.MutationKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kinds = append(c.kinds, kind)
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.kinds)
}

func proposal() step {
	return step{resp: &coachapi.WriteResponse{
		Status:   coachapi.WriteProposal,
		Proposal: &coachapi.Proposal{Message: "Shift 3 sessions?"},
	}}
}

func applied() step {
	return step{resp: &coachapi.WriteResponse{Status: coachapi.WriteApplied}}
}

type result struct {
	resp *coachapi.WriteResponse
	err  error
}

// submitAsync runs Submit in a goroutine and waits until the proposal is
// parked (or Submit returned early).
func submitAsync(
	t *testing.T, ctx context.Context, c *Coordinator, parked <-chan Pending, m coachapi.Mutation,
) (<-chan result, Pending) {
	t.Helper()

	done := make(chan result, 1)
	go func() {
		resp, err := c.Submit(ctx, m)
		done <- result{resp, err}
	}()

	select {
	case p := <-parked:
		return done, p
	case r := <-done:
		t.Fatalf("Submit returned before parking: %v", r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for proposal")
	}

	return nil, Pending{}
}

func newCoordinator(w Writer, inv *countingInvalidator) (*Coordinator, <-chan Pending) {
	parked := make(chan Pending, 4)

	c := New(w, Options{
		Invalidator: inv,
		OnProposal:  func(_ context.Context, p Pending) { parked <- p },
		NowFunc:     func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) },
	})

	return c, parked
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()

	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Submit")
	}

	return result{}
}

func TestSubmit_AppliedInvalidatesImmediately(t *testing.T) {
	t.Parallel()

	w := &scriptedWriter{steps: []step{applied()}}
	inv := &countingInvalidator{}
	c, _ := newCoordinator(w, inv)

	resp, err := c.Submit(context.Background(), coachapi.MergePairing("a1", "s1"))
	require.NoError(t, err)
	assert.True(t, resp.Applied())
	assert.Equal(t, []coachapi.MutationKind{coachapi.KindPairingMerge}, inv.kinds)
	assert.Equal(t, Idle, c.State())
}

func TestSubmit_TransportErrorPassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	w := &scriptedWriter{steps: []step{{err: boom}}}
	inv := &countingInvalidator{}
	c, _ := newCoordinator(w, inv)

	_, err := c.Submit(context.Background(), coachapi.CreateWeek("2026-10-19"))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, inv.count())
	assert.False(t, c.HasPendingConfirmation())
}

func TestConfirm_RetriesWithConfirmedFlag(t *testing.T) {
	t.Parallel()

	w := &scriptedWriter{steps: []step{proposal(), applied()}}
	inv := &countingInvalidator{}
	c, parked := newCoordinator(w, inv)

	done, p := submitAsync(t, context.Background(), c, parked, coachapi.UpdateWorkoutDate("w1", "2026-10-22"))
	assert.Equal(t, "Shift 3 sessions?", p.Proposal.Message)
	assert.Equal(t, AwaitingConfirmation, c.State())
	assert.Zero(t, inv.count(), "nothing applied yet")

	resp, err := c.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Applied())

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Same(t, resp, r.resp)

	calls := w.recorded()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].Confirmed)
	assert.True(t, calls[1].Confirmed)
	assert.Equal(t, calls[0].Path, calls[1].Path)

	assert.Equal(t, 1, inv.count())
	assert.Equal(t, Idle, c.State())
	assert.False(t, c.HasPendingConfirmation())
}

func TestCancel_NoRetryNoInvalidation(t *testing.T) {
	t.Parallel()

	w := &scriptedWriter{steps: []step{proposal()}}
	inv := &countingInvalidator{}
	c, parked := newCoordinator(w, inv)

	done, _ := submitAsync(t, context.Background(), c, parked, coachapi.CreateWeek("2026-10-19"))
	require.NoError(t, c.Cancel())

	r := await(t, done)
	require.Error(t, r.err)
	assert.True(t, IsCancelled(r.err))
	assert.Nil(t, r.resp)

	assert.Len(t, w.recorded(), 1, "cancel must not re-send")
	assert.Zero(t, inv.count(), "cancel must not invalidate")
	assert.Equal(t, Idle, c.State())

	assert.ErrorIs(t, c.Cancel(), ErrNothingPending, "second cancel is a no-op error")
}

func TestConfirm_SecondProposalIsProtocolViolation(t *testing.T) {
	t.Parallel()

	w := &scriptedWriter{steps: []step{proposal(), proposal()}}
	inv := &countingInvalidator{}
	c, parked := newCoordinator(w, inv)

	done, _ := submitAsync(t, context.Background(), c, parked, coachapi.UpdateSessionStatus("s1", coachapi.SessionSkipped))

	_, err := c.Confirm(context.Background())
	require.ErrorIs(t, err, ErrProtocolViolation)

	r := await(t, done)
	require.ErrorIs(t, r.err, ErrProtocolViolation)
	assert.Nil(t, r.resp, "original caller must reject, not resolve")
	assert.Zero(t, inv.count())
	assert.False(t, c.HasPendingConfirmation())
}

func TestConfirm_RetryFailureKeepsSlot(t *testing.T) {
	t.Parallel()

	transient := &coachapi.APIError{StatusCode: 503, Err: coachapi.ErrServerError}
	w := &scriptedWriter{steps: []step{proposal(), {err: transient}, applied()}}
	inv := &countingInvalidator{}
	c, parked := newCoordinator(w, inv)

	done, _ := submitAsync(t, context.Background(), c, parked, coachapi.CreateWeek("2026-10-19"))

	_, err := c.Confirm(context.Background())
	require.ErrorIs(t, err, coachapi.ErrServerError)
	assert.Equal(t, AwaitingConfirmation, c.State())

	p, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, 1, p.Attempts)
	require.ErrorIs(t, p.LastError, coachapi.ErrServerError)

	select {
	case <-done:
		t.Fatal("caller must keep waiting after a failed retry")
	default:
	}

	_, err = c.Confirm(context.Background())
	require.NoError(t, err)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 1, inv.count())
}

func TestSubmit_SecondProposalRejectedFirstKept(t *testing.T) {
	t.Parallel()

	w := &scriptedWriter{steps: []step{proposal(), proposal(), applied()}}
	inv := &countingInvalidator{}
	c, parked := newCoordinator(w, inv)

	first, _ := submitAsync(t, context.Background(), c, parked, coachapi.CreateWeek("2026-10-19"))

	_, err := c.Submit(context.Background(), coachapi.UpdateWorkoutDate("w2", "2026-10-25"))
	require.ErrorIs(t, err, ErrConfirmationPending)

	p, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, coachapi.KindWeekCreate, p.Mutation.Kind, "first proposal must survive")

	_, err = c.Confirm(context.Background())
	require.NoError(t, err)
	require.NoError(t, await(t, first).err)
}

func TestSubmit_ConfirmedCommandGettingProposal(t *testing.T) {
	t.Parallel()

	w := &scriptedWriter{steps: []step{proposal()}}
	c, _ := newCoordinator(w, &countingInvalidator{})

	_, err := c.Submit(context.Background(), coachapi.CreateWeek("2026-10-19").WithConfirmed())
	require.ErrorIs(t, err, ErrProtocolViolation)
	assert.False(t, c.HasPendingConfirmation())
}

func TestSubmit_ContextCancelReleasesSlot(t *testing.T) {
	t.Parallel()

	w := &scriptedWriter{steps: []step{proposal()}}
	inv := &countingInvalidator{}
	c, parked := newCoordinator(w, inv)

	ctx, cancel := context.WithCancel(context.Background())
	done, _ := submitAsync(t, ctx, c, parked, coachapi.CreateWeek("2026-10-19"))

	cancel()

	r := await(t, done)
	require.ErrorIs(t, r.err, context.Canceled)
	assert.False(t, c.HasPendingConfirmation())

	_, err := c.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNothingPending)
}

func TestConfirm_NothingPending(t *testing.T) {
	t.Parallel()

	c := New(&scriptedWriter{}, Options{})

	_, err := c.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNothingPending)
	assert.ErrorIs(t, c.Cancel(), ErrNothingPending)

	_, ok := c.Pending()
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "AWAITING_CONFIRMATION", AwaitingConfirmation.String())
	assert.Equal(t, "RETRYING", Retrying.String())
	assert.Equal(t, "State(7)", State(7).String())
}
