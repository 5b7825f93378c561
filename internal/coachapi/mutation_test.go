package coachapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_AppliedEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/sessions/s1/status", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(HeaderIdempotencyKey))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"status":"skipped"}`, string(body))

		_, _ = w.Write([]byte(`{"status":"ok","session":{"id":"s1","status":"skipped"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	wr, err := client.Write(context.Background(), UpdateSessionStatus("s1", SessionSkipped))
	require.NoError(t, err)
	assert.True(t, wr.Applied())

	type payload struct {
		Session PlannedSession `json:"session"`
	}

	got, err := DecodeData[payload](wr)
	require.NoError(t, err)
	assert.Equal(t, SessionSkipped, got.Session.Status)
}

func TestWrite_ProposalEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"PROPOSAL_ONLY","diff":{"moved":2},"summary":"Move 2 sessions","message":"Confirm?"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	wr, err := client.Write(context.Background(), CreateWeek("2026-10-19"))
	require.NoError(t, err)
	require.True(t, wr.IsProposal())
	require.NotNil(t, wr.Proposal)
	assert.Equal(t, "Move 2 sessions", wr.Proposal.SummaryText())
	assert.Equal(t, "Confirm?", wr.Proposal.Message)
	assert.JSONEq(t, `{"moved":2}`, string(wr.Proposal.Diff))
}

func TestWrite_ConfirmedRetrySendsFlag(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["confirmed"])
		assert.Equal(t, "2026-10-21", body["date"])

		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	m := UpdateWorkoutDate("w9", "2026-10-21")
	confirmed := m.WithConfirmed()

	assert.False(t, m.Confirmed, "original command must stay unconfirmed")
	assert.True(t, confirmed.Confirmed)

	client := newTestClient(t, srv.URL)
	wr, err := client.Write(context.Background(), confirmed)
	require.NoError(t, err)
	assert.True(t, wr.Applied())
}

func TestWrite_ConflictEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"conflict_detected","conflicts":[{"date":"2026-10-20","existing_session_id":"a","candidate_session_id":"b","reason":"time_overlap"}],"options":["auto_shift","manual_review"]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	wr, err := client.Write(context.Background(), CreateSession(SessionDraft{Date: "2026-10-20", Type: "run"}))
	require.NoError(t, err)
	assert.Equal(t, WriteConflict, wr.Status)
	require.NotNil(t, wr.Conflicts)
	require.Len(t, wr.Conflicts.Conflicts, 1)
	assert.Equal(t, ReasonTimeOverlap, wr.Conflicts.Conflicts[0].Reason)
	assert.Equal(t, []string{"auto_shift", "manual_review"}, wr.Conflicts.Options)
}

func TestWrite_IdempotencyKeyStableAcrossRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var firstKey atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if calls.Add(1) == 1 {
			firstKey.Store(key)
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		assert.Equal(t, firstKey.Load(), key)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Write(context.Background(), MergePairing("a1", "s1"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDecodeWriteResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		status  WriteStatus
		wantErr bool
	}{
		{"empty body", ``, WriteApplied, false},
		{"bare object", `{"id":"s1"}`, WriteApplied, false},
		{"bare array", `[1,2]`, WriteApplied, false},
		{"explicit ok", `{"status":"ok"}`, WriteApplied, false},
		{"proposal", `{"status":"PROPOSAL_ONLY"}`, WriteProposal, false},
		{"unknown status", `{"status":"maybe"}`, "", true},
		{"garbage", `{`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wr, err := decodeWriteResponse([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.status, wr.Status)
		})
	}
}

func TestCalendar_DecodesSessions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendar/week", r.URL.Path)
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","date":"2026-10-19","type":"run","duration":45,"status":"planned","workout_id":"w1"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sessions, err := client.Calendar(context.Background(), ScopeWeek)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "w1", sessions[0].WorkoutID)
	require.NotNil(t, sessions[0].Duration)
	assert.InDelta(t, 45.0, *sessions[0].Duration, 0.001)
	assert.Nil(t, sessions[0].Distance)

	_, err = client.Calendar(context.Background(), CalendarScope("month"))
	assert.Error(t, err)
}

func TestActivities_QueryBounds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-10-12", r.URL.Query().Get("from"))
		assert.Equal(t, "2026-10-19", r.URL.Query().Get("to"))
		_, _ = w.Write([]byte(`[{"id":"a1","start_time":"2026-10-18T07:30:00Z","sport":"running","source":"provider"}]`))
	}))
	defer srv.Close()

	from := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	client := newTestClient(t, srv.URL)
	acts, err := client.Activities(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "2026-10-18", acts[0].Date(time.UTC))
	assert.Equal(t, SourceProvider, acts[0].Source)
}

func TestPlanningStatus_Finished(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":"done","progress":1}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ps, err := client.PlanningStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, ps.Finished())
}
