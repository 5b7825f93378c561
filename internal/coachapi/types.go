package coachapi

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// SessionStatus is the lifecycle state of a planned session.
type SessionStatus string

// Session statuses as reported by the backend.
const (
	SessionPlanned   SessionStatus = "planned"
	SessionCompleted SessionStatus = "completed"
	SessionSkipped   SessionStatus = "skipped"
	SessionCancelled SessionStatus = "cancelled"
)

// Valid reports whether s is one of the known session statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPlanned, SessionCompleted, SessionSkipped, SessionCancelled:
		return true
	default:
		return false
	}
}

// ActivitySource records how an activity reached the backend.
type ActivitySource string

// Activity sources.
const (
	SourceProvider ActivitySource = "provider"
	SourceManual   ActivitySource = "manual"
)

// PlannedSession is one scheduled training unit. Optional numeric fields are
// pointers so that "absent" is distinguishable from zero.
type PlannedSession struct {
	ID                  string        `json:"id"`
	Date                string        `json:"date"` // YYYY-MM-DD
	StartTime           string        `json:"start_time,omitempty"`
	Type                string        `json:"type"`
	Title               string        `json:"title,omitempty"`
	Intensity           string        `json:"intensity,omitempty"`
	Duration            *float64      `json:"duration,omitempty"` // minutes
	Distance            *float64      `json:"distance,omitempty"` // km
	Status              SessionStatus `json:"status"`
	CompletedActivityID string        `json:"completed_activity_id,omitempty"`
	WorkoutID           string        `json:"workout_id,omitempty"`
	Notes               string        `json:"notes,omitempty"`
}

// Day parses the session date. Returns false when the date is malformed.
func (s *PlannedSession) Day() (time.Time, bool) {
	d, err := time.Parse(DateLayout, s.Date)
	if err != nil {
		return time.Time{}, false
	}

	return d, true
}

// CompletedActivity is one ingested real-world activity.
type CompletedActivity struct {
	ID               string         `json:"id"`
	StartTime        time.Time      `json:"start_time"`
	Sport            string         `json:"sport"`
	Duration         *float64       `json:"duration,omitempty"` // minutes
	Distance         *float64       `json:"distance,omitempty"` // km
	TrainingLoad     *float64       `json:"trainingLoad,omitempty"`
	Source           ActivitySource `json:"source"`
	PlannedSessionID string         `json:"planned_session_id,omitempty"`
	WorkoutID        string         `json:"workout_id,omitempty"`
}

// Date returns the activity's calendar date in the given location.
func (a *CompletedActivity) Date(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return a.StartTime.In(loc).Format(DateLayout)
}

// ConflictReason is the backend's explanation of a scheduling collision.
type ConflictReason string

// Conflict reasons.
const (
	ReasonTimeOverlap         ConflictReason = "time_overlap"
	ReasonAllDayOverlap       ConflictReason = "all_day_overlap"
	ReasonMultipleKeySessions ConflictReason = "multiple_key_sessions"
)

// Conflict is a backend-detected collision between two sessions. Read-only.
type Conflict struct {
	Date               string         `json:"date"`
	ExistingSessionID  string         `json:"existing_session_id"`
	CandidateSessionID string         `json:"candidate_session_id"`
	Reason             ConflictReason `json:"reason"`
}

// ConflictReport accompanies a write the backend refused to apply because it
// collides with existing sessions. Options lists resolution actions the
// backend is willing to take; they are relayed back as separate mutations.
type ConflictReport struct {
	Conflicts []Conflict `json:"conflicts"`
	Options   []string   `json:"options,omitempty"`
}

// RevisionStatus is the outcome recorded on a plan revision.
type RevisionStatus string

// Revision statuses.
const (
	RevisionApplied RevisionStatus = "applied"
	RevisionBlocked RevisionStatus = "blocked"
	RevisionPending RevisionStatus = "pending"
)

// PlanRevision is the backend's audit record of a plan change.
type PlanRevision struct {
	ID               string         `json:"id"`
	RevisionType     string         `json:"revision_type"`
	Status           RevisionStatus `json:"status"`
	Confidence       *float64       `json:"confidence,omitempty"`
	BlockedReason    string         `json:"blocked_reason,omitempty"`
	ParentRevisionID string         `json:"parent_revision_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// PlanningState is the progress of an asynchronous planning job.
type PlanningState string

// Planning states.
const (
	PlanningQueued     PlanningState = "queued"
	PlanningRunning    PlanningState = "running"
	PlanningDone       PlanningState = "done"
	PlanningFailed     PlanningState = "failed"
	PlanningNeedsInput PlanningState = "needs_input"
)

// PlanningStatus is returned by the planning status probe.
type PlanningStatus struct {
	State    PlanningState `json:"state"`
	Progress *float64      `json:"progress,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Finished reports whether the job reached a final state.
func (p *PlanningStatus) Finished() bool {
	return p.State == PlanningDone || p.State == PlanningFailed
}

// Proposal is the effect the backend computed for a write but did not
// apply. The diff and summary shapes vary by endpoint and are kept raw.
type Proposal struct {
	Diff    json.RawMessage `json:"diff,omitempty"`
	Summary json.RawMessage `json:"summary,omitempty"`
	Message string          `json:"message,omitempty"`
}

// SummaryText renders the summary for display: plain strings are unquoted,
// anything else is returned as compact JSON.
func (p *Proposal) SummaryText() string {
	if len(p.Summary) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(p.Summary, &s); err == nil {
		return s
	}

	return string(p.Summary)
}
