package reconcile

import (
	"time"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

// ExecutionState classifies how a planned session relates to what was done.
type ExecutionState string

// Execution states.
const (
	PlannedOnly        ExecutionState = "PLANNED_ONLY"
	CompletedAsPlanned ExecutionState = "COMPLETED_AS_PLANNED"
	CompletedUnplanned ExecutionState = "COMPLETED_UNPLANNED"
	Missed             ExecutionState = "MISSED"
)

// Deltas are actual minus planned. A nil field means one side lacked it.
type Deltas struct {
	Duration *float64 `json:"duration,omitempty"` // minutes
	Distance *float64 `json:"distance,omitempty"` // km
}

// ExecutionSummary is the derived view of one session or activity.
type ExecutionSummary struct {
	Date     string                      `json:"date"`
	State    ExecutionState              `json:"executionState"`
	Planned  *coachapi.PlannedSession    `json:"planned,omitempty"`
	Activity *coachapi.CompletedActivity `json:"activity,omitempty"`
	Deltas   *Deltas                     `json:"deltas,omitempty"`
}

// DeriveExecutionState classifies a (planned, activity) pair relative to
// today. Either argument may be nil. Dates are compared as calendar days in
// today's location; a session whose date cannot be parsed is never MISSED.
func DeriveExecutionState(
	planned *coachapi.PlannedSession, activity *coachapi.CompletedActivity, today time.Time,
) ExecutionSummary {
	sum := ExecutionSummary{Planned: planned, Activity: activity}

	switch {
	case planned == nil && activity == nil:
		sum.State = PlannedOnly
	case planned == nil:
		sum.Date = activity.Date(today.Location())
		sum.State = CompletedUnplanned
	case activity != nil || planned.Status == coachapi.SessionCompleted:
		sum.Date = planned.Date
		sum.State = CompletedAsPlanned
		sum.Deltas = deltas(planned, activity)
	case isPast(planned, today):
		sum.Date = planned.Date
		sum.State = Missed
	default:
		sum.Date = planned.Date
		sum.State = PlannedOnly
	}

	return sum
}

func isPast(s *coachapi.PlannedSession, today time.Time) bool {
	if _, ok := s.Day(); !ok {
		return false
	}

	// YYYY-MM-DD orders lexically.
	return s.Date < today.Format(coachapi.DateLayout)
}

func deltas(planned *coachapi.PlannedSession, activity *coachapi.CompletedActivity) *Deltas {
	if activity == nil {
		return nil
	}

	d := &Deltas{
		Duration: diff(activity.Duration, planned.Duration),
		Distance: diff(activity.Distance, planned.Distance),
	}

	if d.Duration == nil && d.Distance == nil {
		return nil
	}

	return d
}

func diff(actual, planned *float64) *float64 {
	if actual == nil || planned == nil {
		return nil
	}

	v := *actual - *planned

	return &v
}

// Summarize derives one summary per matcher row, in row order.
func Summarize(rows []MatchRow, today time.Time) []ExecutionSummary {
	out := make([]ExecutionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, DeriveExecutionState(r.Session, r.Activity, today))
	}

	return out
}

// Compliance counts execution states over a set of summaries.
type Compliance struct {
	Planned   int `json:"planned"`
	Completed int `json:"completed"`
	Missed    int `json:"missed"`
	Unplanned int `json:"unplanned"`
	Upcoming  int `json:"upcoming"`
}

// Rate is completed over planned sessions that are no longer upcoming.
// Returns 0 when nothing is due yet.
func (c Compliance) Rate() float64 {
	due := c.Completed + c.Missed
	if due == 0 {
		return 0
	}

	return float64(c.Completed) / float64(due)
}

// DayCompliance tallies summaries. Planned counts every summary backed by a
// session, whatever its state.
func DayCompliance(summaries []ExecutionSummary) Compliance {
	var c Compliance

	for i := range summaries {
		if summaries[i].Planned != nil {
			c.Planned++
		}

		switch summaries[i].State {
		case CompletedAsPlanned:
			c.Completed++
		case Missed:
			c.Missed++
		case CompletedUnplanned:
			c.Unplanned++
		case PlannedOnly:
			if summaries[i].Planned != nil {
				c.Upcoming++
			}
		}
	}

	return c
}
