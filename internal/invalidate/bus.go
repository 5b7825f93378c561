// Package invalidate decides which read-query families a write makes stale
// and tells interested readers. It never touches cached data itself:
// subscribers drop what they hold and the next read goes to the backend.
package invalidate

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/metrics"
)

// Tag names a family of read queries. Query keys are "<tag>" or
// "<tag>/<variant>", e.g. "calendar/week".
type Tag string

// Read-query families.
const (
	TagCalendar   Tag = "calendar"
	TagActivities Tag = "activities"
	TagRevisions  Tag = "revisions"
	TagPlanning   Tag = "planning"
)

// Covers reports whether key belongs to the tag's family.
func (t Tag) Covers(key string) bool {
	return key == string(t) || strings.HasPrefix(key, string(t)+"/")
}

// Key builds a query key within the family.
func (t Tag) Key(variant string) string {
	if variant == "" {
		return string(t)
	}

	return string(t) + "/" + variant
}

var policy = map[coachapi.MutationKind][]Tag{
	coachapi.KindPairingMerge:     {TagCalendar, TagActivities},
	coachapi.KindPairingUnmerge:   {TagCalendar, TagActivities},
	coachapi.KindSessionCreate:    {TagCalendar},
	coachapi.KindSessionUpdate:    {TagCalendar},
	coachapi.KindSessionStatus:    {TagCalendar},
	coachapi.KindWorkoutDate:      {TagCalendar},
	coachapi.KindWeekCreate:       {TagCalendar, TagPlanning},
	coachapi.KindRevisionApprove:  {TagRevisions, TagCalendar},
	coachapi.KindRevisionReject:   {TagRevisions, TagCalendar},
	coachapi.KindRevisionRollback: {TagRevisions, TagCalendar},
	coachapi.KindConflictResolve:  {TagCalendar, TagRevisions},
}

// TagsFor returns the families a mutation kind invalidates. Unknown kinds
// invalidate the calendar, since every write the backend accepts can move
// sessions.
func TagsFor(kind coachapi.MutationKind) []Tag {
	if tags, ok := policy[kind]; ok {
		return slices.Clone(tags)
	}

	return []Tag{TagCalendar}
}

// Invalidator is what write paths depend on.
type Invalidator interface {
	InvalidateFor(ctx context.Context, kind coachapi.MutationKind)
}

// NoopInvalidator discards invalidations.
type NoopInvalidator struct{}

// InvalidateFor performs no action.
func (NoopInvalidator) InvalidateFor(context.Context, coachapi.MutationKind) {}

// Handler receives invalidated tags. A returned error is logged; it never
// reaches the publisher.
type Handler func(ctx context.Context, tags []Tag) error

// Bus fans invalidations out to subscribers. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	name string
	fn   Handler
}

// NewBus creates a bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{logger: logger, subs: make(map[int]subscriber)}
}

// Subscribe registers fn under name (used in logs) and returns a function
// that removes it.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{name: name, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// InvalidateFor publishes the policy tags of a successful mutation.
func (b *Bus) InvalidateFor(ctx context.Context, kind coachapi.MutationKind) {
	b.publish(ctx, "mutation", TagsFor(kind))
}

// Invalidate publishes tags from a source other than a client mutation,
// such as a server push.
func (b *Bus) Invalidate(ctx context.Context, source string, tags ...Tag) {
	b.publish(ctx, source, tags)
}

func (b *Bus) publish(ctx context.Context, source string, tags []Tag) {
	if len(tags) == 0 {
		return
	}

	for _, t := range tags {
		metrics.RecordInvalidation(string(t), source)
	}

	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.logger.Debug("invalidating query families",
		slog.String("source", source),
		slog.Any("tags", tags),
		slog.Int("subscribers", len(subs)),
	)

	for _, s := range subs {
		if err := s.fn(ctx, slices.Clone(tags)); err != nil {
			b.logger.Warn("invalidation subscriber failed",
				slog.String("subscriber", s.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
