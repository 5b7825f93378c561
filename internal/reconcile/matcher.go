// Package reconcile pairs planned sessions with completed activities and
// derives one execution state per session or day. Everything here is a pure
// function of its inputs: no I/O, no clock, no logging, so views can call it
// on every render.
package reconcile

import (
	"cmp"
	"slices"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

// RowKind says how a matcher row was produced.
type RowKind int

// Row kinds.
const (
	// RowCompleted pairs a session with its activity. Activity may be nil
	// when the session is completed by status but no activity resolved.
	RowCompleted RowKind = iota
	// RowPending is a session with nothing recorded against it yet.
	RowPending
	// RowUnplanned is an activity that no session claimed.
	RowUnplanned
)

func (k RowKind) String() string {
	switch k {
	case RowCompleted:
		return "completed"
	case RowPending:
		return "pending"
	case RowUnplanned:
		return "unplanned"
	default:
		return "unknown"
	}
}

// MatchRow is one output row of Match.
type MatchRow struct {
	Kind     RowKind
	Session  *coachapi.PlannedSession
	Activity *coachapi.CompletedActivity
	Rule     MatchRule // how the activity was found; RuleNone when absent
}

// MatchRule records which matching rule paired a session.
type MatchRule int

// Matching rules in priority order.
const (
	RuleNone MatchRule = iota
	RuleLinkedActivity
	RuleWorkout
	RuleBackReference
	RuleSport
	RuleStatusOnly
)

// Match pairs sessions with activities for one day or window.
//
// Sessions are visited in list order and each claims at most one activity:
//
//  1. the activity named by completed_activity_id, if present in this fetch
//     (an unresolvable link yields a pending row, never a fallback match);
//  2. the first unclaimed activity with the same workout_id;
//  3. an activity whose planned_session_id names the session;
//  4. the first unclaimed activity whose sport overlaps the session type,
//     tried only when the session has no workout_id.
//
// Steps 2 and 4 skip activities whose planned_session_id names a different
// session.
//
// A claimed activity is never offered again. Unmatched sessions with status
// completed become completed rows without activity detail. Leftover
// activities follow as unplanned rows in their original order.
//
// Activities repeating an id already seen are dropped as duplicates of the
// same upstream record. The result is deterministic for a given input
// order; callers should pass activities sorted by SortActivities.
func Match(sessions []coachapi.PlannedSession, activities []coachapi.CompletedActivity) []MatchRow {
	acts := dedupeActivities(activities)

	byID := make(map[string]int, len(acts))
	for i := range acts {
		if acts[i].ID != "" {
			byID[acts[i].ID] = i
		}
	}

	claimed := make([]bool, len(acts))
	rows := make([]MatchRow, 0, len(sessions)+len(acts))

	for i := range sessions {
		s := &sessions[i]

		idx, rule := claim(s, acts, byID, claimed)
		if idx >= 0 {
			claimed[idx] = true
			rows = append(rows, MatchRow{Kind: RowCompleted, Session: s, Activity: &acts[idx], Rule: rule})

			continue
		}

		if s.Status == coachapi.SessionCompleted {
			rows = append(rows, MatchRow{Kind: RowCompleted, Session: s, Rule: RuleStatusOnly})

			continue
		}

		rows = append(rows, MatchRow{Kind: RowPending, Session: s})
	}

	for i := range acts {
		if !claimed[i] {
			rows = append(rows, MatchRow{Kind: RowUnplanned, Activity: &acts[i]})
		}
	}

	return rows
}

// claim finds the activity index for one session, or -1.
func claim(
	s *coachapi.PlannedSession, acts []coachapi.CompletedActivity, byID map[string]int, claimed []bool,
) (int, MatchRule) {
	if s.CompletedActivityID != "" {
		idx, ok := byID[s.CompletedActivityID]
		if ok && !claimed[idx] {
			return idx, RuleLinkedActivity
		}

		// The link is trusted only when it resolves in this fetch.
		return -1, RuleNone
	}

	if s.WorkoutID != "" {
		for i := range acts {
			if !claimed[i] && !pairedElsewhere(&acts[i], s) && acts[i].WorkoutID == s.WorkoutID {
				return i, RuleWorkout
			}
		}
	}

	if s.ID != "" {
		for i := range acts {
			if !claimed[i] && acts[i].PlannedSessionID == s.ID {
				return i, RuleBackReference
			}
		}
	}

	// A workout link rules out sport matching even when nothing carries it.
	if s.WorkoutID != "" {
		return -1, RuleNone
	}

	for i := range acts {
		if claimed[i] {
			continue
		}

		if pairedElsewhere(&acts[i], s) {
			continue
		}

		if sportsOverlap(acts[i].Sport, s.Type) {
			return i, RuleSport
		}
	}

	return -1, RuleNone
}

// pairedElsewhere reports whether the backend already paired a with a
// different session. Such activities are left for that session.
func pairedElsewhere(a *coachapi.CompletedActivity, s *coachapi.PlannedSession) bool {
	return a.PlannedSessionID != "" && a.PlannedSessionID != s.ID
}

// dedupeActivities drops repeated ids, keeping the first occurrence.
// Activities without an id are kept as distinct records.
func dedupeActivities(in []coachapi.CompletedActivity) []coachapi.CompletedActivity {
	seen := make(map[string]struct{}, len(in))
	out := make([]coachapi.CompletedActivity, 0, len(in))

	for i := range in {
		if id := in[i].ID; id != "" {
			if _, dup := seen[id]; dup {
				continue
			}

			seen[id] = struct{}{}
		}

		out = append(out, in[i])
	}

	return out
}

// SortActivities returns a copy of activities ordered by start time, then
// id, giving Match a reproducible input order.
func SortActivities(activities []coachapi.CompletedActivity) []coachapi.CompletedActivity {
	out := slices.Clone(activities)
	slices.SortStableFunc(out, func(a, b coachapi.CompletedActivity) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return out
}
