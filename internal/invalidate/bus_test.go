package invalidate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

func TestTagsFor_Policy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind coachapi.MutationKind
		want []Tag
	}{
		{coachapi.KindPairingMerge, []Tag{TagCalendar, TagActivities}},
		{coachapi.KindPairingUnmerge, []Tag{TagCalendar, TagActivities}},
		{coachapi.KindSessionStatus, []Tag{TagCalendar}},
		{coachapi.KindWorkoutDate, []Tag{TagCalendar}},
		{coachapi.KindRevisionRollback, []Tag{TagRevisions, TagCalendar}},
		{coachapi.MutationKind("something.new"), []Tag{TagCalendar}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TagsFor(tt.kind))
		})
	}
}

func TestTagsFor_ReturnsCopy(t *testing.T) {
	t.Parallel()

	tags := TagsFor(coachapi.KindPairingMerge)
	tags[0] = "mutated"

	assert.Equal(t, TagCalendar, TagsFor(coachapi.KindPairingMerge)[0])
}

func TestTag_Covers(t *testing.T) {
	t.Parallel()

	assert.True(t, TagCalendar.Covers("calendar"))
	assert.True(t, TagCalendar.Covers("calendar/week"))
	assert.False(t, TagCalendar.Covers("calendars"))
	assert.False(t, TagActivities.Covers("calendar/today"))
	assert.Equal(t, "calendar/season", TagCalendar.Key("season"))
	assert.Equal(t, "revisions", TagRevisions.Key(""))
}

func TestBus_FanOutAndUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)

	var mu sync.Mutex
	var got [][]Tag

	unsub := bus.Subscribe("recorder", func(_ context.Context, tags []Tag) error {
		mu.Lock()
		defer mu.Unlock()

		got = append(got, tags)

		return nil
	})

	bus.Subscribe("broken", func(context.Context, []Tag) error {
		return errors.New("disk full")
	})

	bus.InvalidateFor(context.Background(), coachapi.KindPairingMerge)
	bus.Invalidate(context.Background(), "push", TagActivities)
	bus.Invalidate(context.Background(), "push")

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, []Tag{TagCalendar, TagActivities}, got[0])
	assert.Equal(t, []Tag{TagActivities}, got[1])
	mu.Unlock()

	unsub()
	bus.InvalidateFor(context.Background(), coachapi.KindSessionCreate)

	mu.Lock()
	assert.Len(t, got, 2)
	mu.Unlock()
}

func TestNoopInvalidator(t *testing.T) {
	t.Parallel()

	var inv Invalidator = NoopInvalidator{}
	inv.InvalidateFor(context.Background(), coachapi.KindSessionCreate)
}
