package reconcile

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

// Day is the reconciled view of one calendar date.
type Day struct {
	Date      string
	Rows      []MatchRow
	Summaries []ExecutionSummary
}

// Compliance tallies the day's summaries.
func (d *Day) Compliance() Compliance {
	return DayCompliance(d.Summaries)
}

// MatchDays groups sessions and activities by calendar date (activities in
// loc) and reconciles each date independently, so a Tuesday run never pairs
// with a Thursday session. Days are returned in ascending date order.
func MatchDays(
	sessions []coachapi.PlannedSession, activities []coachapi.CompletedActivity, loc *time.Location, today time.Time,
) []Day {
	sessionsByDay := make(map[string][]coachapi.PlannedSession)
	activitiesByDay := make(map[string][]coachapi.CompletedActivity)

	for i := range sessions {
		sessionsByDay[sessions[i].Date] = append(sessionsByDay[sessions[i].Date], sessions[i])
	}

	for _, a := range SortActivities(activities) {
		date := a.Date(loc)
		activitiesByDay[date] = append(activitiesByDay[date], a)
	}

	dates := make([]string, 0, len(sessionsByDay)+len(activitiesByDay))
	for d := range sessionsByDay {
		dates = append(dates, d)
	}

	for d := range activitiesByDay {
		if _, ok := sessionsByDay[d]; !ok {
			dates = append(dates, d)
		}
	}

	slices.Sort(dates)

	days := make([]Day, 0, len(dates))
	for _, d := range dates {
		rows := Match(sessionsByDay[d], activitiesByDay[d])
		days = append(days, Day{Date: d, Rows: rows, Summaries: Summarize(rows, today)})
	}

	return days
}

// ErrUnresolvableLink marks pairing references the current fetch cannot
// honour. Every LinkIssue unwraps to it.
var ErrUnresolvableLink = errors.New("reconcile: unresolvable pairing link")

// IssueKind names a pairing inconsistency.
type IssueKind string

// Issue kinds.
const (
	IssueMissingActivity IssueKind = "missing_activity"
	IssueDoubleClaim     IssueKind = "double_claim"
	IssueAsymmetric      IssueKind = "asymmetric"
)

// LinkIssue describes one pairing the backend reported inconsistently.
type LinkIssue struct {
	Kind       IssueKind
	SessionID  string
	ActivityID string
	Detail     string
}

func (i *LinkIssue) Error() string {
	return fmt.Sprintf("reconcile: %s: session %q activity %q: %s", i.Kind, i.SessionID, i.ActivityID, i.Detail)
}

func (i *LinkIssue) Unwrap() error { return ErrUnresolvableLink }

// Audit checks the explicit pairing references in a fetch. Missing
// activities are expected while a provider sync is still in flight, so
// callers usually log these rather than fail.
func Audit(sessions []coachapi.PlannedSession, activities []coachapi.CompletedActivity) []*LinkIssue {
	byID := make(map[string]*coachapi.CompletedActivity, len(activities))
	for i := range activities {
		if activities[i].ID != "" {
			if _, dup := byID[activities[i].ID]; !dup {
				byID[activities[i].ID] = &activities[i]
			}
		}
	}

	var issues []*LinkIssue

	claimedBy := make(map[string]string)

	for i := range sessions {
		s := &sessions[i]
		if s.CompletedActivityID == "" {
			continue
		}

		if prev, ok := claimedBy[s.CompletedActivityID]; ok {
			issues = append(issues, &LinkIssue{
				Kind: IssueDoubleClaim, SessionID: s.ID, ActivityID: s.CompletedActivityID,
				Detail: fmt.Sprintf("already linked from session %q", prev),
			})

			continue
		}

		claimedBy[s.CompletedActivityID] = s.ID

		a, ok := byID[s.CompletedActivityID]
		if !ok {
			issues = append(issues, &LinkIssue{
				Kind: IssueMissingActivity, SessionID: s.ID, ActivityID: s.CompletedActivityID,
				Detail: "activity not in current fetch",
			})

			continue
		}

		if a.PlannedSessionID != "" && a.PlannedSessionID != s.ID {
			issues = append(issues, &LinkIssue{
				Kind: IssueAsymmetric, SessionID: s.ID, ActivityID: a.ID,
				Detail: fmt.Sprintf("activity points at session %q", a.PlannedSessionID),
			})
		}
	}

	return issues
}
