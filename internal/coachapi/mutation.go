package coachapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// ErrUnexpectedWriteStatus is returned when a write envelope carries a
// status this client does not understand.
var ErrUnexpectedWriteStatus = errors.New("coachapi: unexpected write status")

// HeaderIdempotencyKey lets the backend deduplicate a write that the
// transport retried after a lost response.
const HeaderIdempotencyKey = "Idempotency-Key"

// MutationKind names a class of write. It keys the invalidation policy.
type MutationKind string

// Mutation kinds understood by the backend.
const (
	KindPairingMerge     MutationKind = "pairing.merge"
	KindPairingUnmerge   MutationKind = "pairing.unmerge"
	KindSessionCreate    MutationKind = "session.create"
	KindSessionUpdate    MutationKind = "session.update"
	KindSessionStatus    MutationKind = "session.status"
	KindWorkoutDate      MutationKind = "workout.date"
	KindWeekCreate       MutationKind = "week.create"
	KindRevisionApprove  MutationKind = "revision.approve"
	KindRevisionReject   MutationKind = "revision.reject"
	KindRevisionRollback MutationKind = "revision.rollback"
	KindConflictResolve  MutationKind = "conflict.resolve"
)

// WriteStatus is the status field of a write envelope.
type WriteStatus string

// Write statuses.
const (
	WriteApplied  WriteStatus = "ok"
	WriteProposal WriteStatus = "PROPOSAL_ONLY"
	WriteConflict WriteStatus = "conflict_detected"
)

// Mutation is a retryable write command. Everything needed to re-send the
// request lives in the value itself, including whether the athlete has
// confirmed it, so a confirmed retry is just a copy with Confirmed set.
type Mutation struct {
	Kind      MutationKind
	Method    string
	Path      string
	Payload   map[string]any
	Confirmed bool
}

// WithConfirmed returns a copy of m marked as confirmed.
func (m Mutation) WithConfirmed() Mutation {
	m.Payload = maps.Clone(m.Payload)
	m.Confirmed = true

	return m
}

// body encodes the payload, adding confirmed=true for confirmed retries.
func (m Mutation) body() ([]byte, error) {
	payload := make(map[string]any, len(m.Payload)+1)
	maps.Copy(payload, m.Payload)

	if m.Confirmed {
		payload["confirmed"] = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("coachapi: encoding %s payload: %w", m.Kind, err)
	}

	return data, nil
}

// WriteResponse is the decoded envelope of a mutating call. Exactly one of
// Data (applied), Proposal, or Conflicts is meaningful depending on Status.
type WriteResponse struct {
	Status    WriteStatus
	Data      json.RawMessage
	Proposal  *Proposal
	Conflicts *ConflictReport
}

// Applied reports whether the backend applied the write.
func (r *WriteResponse) Applied() bool {
	return r.Status == WriteApplied
}

// IsProposal reports whether the backend is asking for confirmation.
func (r *WriteResponse) IsProposal() bool {
	return r.Status == WriteProposal
}

// DecodeData decodes the applied payload of r into T.
func DecodeData[T any](r *WriteResponse) (T, error) {
	var out T
	if r == nil || len(r.Data) == 0 {
		return out, nil
	}

	if err := json.Unmarshal(r.Data, &out); err != nil {
		return out, fmt.Errorf("coachapi: decoding write data: %w", err)
	}

	return out, nil
}

type writeEnvelope struct {
	Status    WriteStatus     `json:"status"`
	Diff      json.RawMessage `json:"diff"`
	Summary   json.RawMessage `json:"summary"`
	Message   string          `json:"message"`
	Conflicts []Conflict      `json:"conflicts"`
	Options   []string        `json:"options"`
}

// decodeWriteResponse parses a write envelope. Endpoints that predate the
// envelope answer with a bare object or an empty body; both mean applied.
func decodeWriteResponse(body []byte) (*WriteResponse, error) {
	if len(body) == 0 {
		return &WriteResponse{Status: WriteApplied}, nil
	}

	var env writeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Array or scalar payloads carry no envelope.
		var raw json.RawMessage
		if rawErr := json.Unmarshal(body, &raw); rawErr != nil {
			return nil, fmt.Errorf("coachapi: decoding write response: %w", err)
		}

		return &WriteResponse{Status: WriteApplied, Data: raw}, nil
	}

	switch env.Status {
	case "", WriteApplied:
		return &WriteResponse{Status: WriteApplied, Data: json.RawMessage(body)}, nil
	case WriteProposal:
		return &WriteResponse{
			Status: WriteProposal,
			Proposal: &Proposal{
				Diff:    env.Diff,
				Summary: env.Summary,
				Message: env.Message,
			},
		}, nil
	case WriteConflict:
		return &WriteResponse{
			Status:    WriteConflict,
			Conflicts: &ConflictReport{Conflicts: env.Conflicts, Options: env.Options},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedWriteStatus, env.Status)
	}
}

// Write sends a mutation and decodes its envelope. Each call gets a fresh
// idempotency key that stays constant across transport retries.
func (c *Client) Write(ctx context.Context, m Mutation) (*WriteResponse, error) {
	body, err := m.body()
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set(HeaderIdempotencyKey, c.newKey())

	c.logger.Info("sending mutation",
		slog.String("kind", string(m.Kind)),
		slog.String("method", m.Method),
		slog.String("path", m.Path),
		slog.Bool("confirmed", m.Confirmed),
	)

	resp, err := c.Do(ctx, m.Method, m.Path, body, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coachapi: reading %s response: %w", m.Kind, err)
	}

	wr, err := decodeWriteResponse(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("mutation answered",
		slog.String("kind", string(m.Kind)),
		slog.String("status", string(wr.Status)),
	)

	return wr, nil
}

func newIdempotencyKey() string {
	return uuid.NewString()
}

// MergePairing links an activity to a planned session.
func MergePairing(activityID, plannedSessionID string) Mutation {
	return Mutation{
		Kind:   KindPairingMerge,
		Method: http.MethodPost,
		Path:   "/admin/pairing/merge",
		Payload: map[string]any{
			"activityId":       activityID,
			"plannedSessionId": plannedSessionID,
		},
	}
}

// UnmergePairing removes whatever pairing the activity has.
func UnmergePairing(activityID string) Mutation {
	return Mutation{
		Kind:    KindPairingUnmerge,
		Method:  http.MethodPost,
		Path:    "/admin/pairing/unmerge",
		Payload: map[string]any{"activityId": activityID},
	}
}

// SessionDraft carries the fields of a session create or update. Nil
// pointers are omitted from the payload.
type SessionDraft struct {
	Date      string
	Type      string
	Title     string
	Intensity string
	Duration  *float64
	Distance  *float64
	Notes     string
}

func (d SessionDraft) payload() map[string]any {
	p := make(map[string]any)

	setString := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}

	setString("date", d.Date)
	setString("type", d.Type)
	setString("title", d.Title)
	setString("intensity", d.Intensity)
	setString("notes", d.Notes)

	if d.Duration != nil {
		p["duration"] = *d.Duration
	}

	if d.Distance != nil {
		p["distance"] = *d.Distance
	}

	return p
}

// CreateSession schedules a new planned session.
func CreateSession(d SessionDraft) Mutation {
	return Mutation{
		Kind:    KindSessionCreate,
		Method:  http.MethodPost,
		Path:    "/sessions",
		Payload: d.payload(),
	}
}

// UpdateSession patches an existing planned session.
func UpdateSession(sessionID string, d SessionDraft) Mutation {
	return Mutation{
		Kind:    KindSessionUpdate,
		Method:  http.MethodPatch,
		Path:    "/sessions/" + url.PathEscape(sessionID),
		Payload: d.payload(),
	}
}

// UpdateSessionStatus moves a session to a new lifecycle status.
func UpdateSessionStatus(sessionID string, status SessionStatus) Mutation {
	return Mutation{
		Kind:    KindSessionStatus,
		Method:  http.MethodPatch,
		Path:    "/sessions/" + url.PathEscape(sessionID) + "/status",
		Payload: map[string]any{"status": string(status)},
	}
}

// UpdateWorkoutDate moves a workout to another day.
func UpdateWorkoutDate(workoutID, date string) Mutation {
	return Mutation{
		Kind:    KindWorkoutDate,
		Method:  http.MethodPatch,
		Path:    "/workouts/" + url.PathEscape(workoutID) + "/date",
		Payload: map[string]any{"date": date},
	}
}

// CreateWeek asks the backend to plan the week starting at startDate.
func CreateWeek(startDate string) Mutation {
	return Mutation{
		Kind:    KindWeekCreate,
		Method:  http.MethodPost,
		Path:    "/weeks",
		Payload: map[string]any{"start_date": startDate},
	}
}

// ApproveRevision approves a pending plan revision.
func ApproveRevision(revisionID string) Mutation {
	return revisionAction(KindRevisionApprove, revisionID, "approve")
}

// RejectRevision rejects a pending plan revision.
func RejectRevision(revisionID string) Mutation {
	return revisionAction(KindRevisionReject, revisionID, "reject")
}

// RollbackRevision reverts an applied plan revision.
func RollbackRevision(revisionID string) Mutation {
	return revisionAction(KindRevisionRollback, revisionID, "rollback")
}

func revisionAction(kind MutationKind, revisionID, action string) Mutation {
	return Mutation{
		Kind:    kind,
		Method:  http.MethodPost,
		Path:    "/plan/revisions/" + url.PathEscape(revisionID) + "/" + action,
		Payload: map[string]any{},
	}
}

// Conflict resolution actions the backend offers.
const (
	ResolveAutoShift    = "auto_shift"
	ResolveDismiss      = "dismiss"
	ResolveManualReview = "manual_review"
)

// ResolveConflicts relays a resolution action for the conflicts on date.
func ResolveConflicts(date, action string) Mutation {
	return Mutation{
		Kind:    KindConflictResolve,
		Method:  http.MethodPost,
		Path:    "/conflicts/resolve",
		Payload: map[string]any{"date": date, "action": action},
	}
}
