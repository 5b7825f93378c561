package coachapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// CalendarScope selects one of the calendar read endpoints.
type CalendarScope string

// Calendar scopes.
const (
	ScopeToday  CalendarScope = "today"
	ScopeWeek   CalendarScope = "week"
	ScopeSeason CalendarScope = "season"
)

// Valid reports whether s names a calendar endpoint.
func (s CalendarScope) Valid() bool {
	return s == ScopeToday || s == ScopeWeek || s == ScopeSeason
}

type calendarResponse struct {
	Sessions []PlannedSession `json:"sessions"`
}

// Calendar returns the planned sessions for the given scope, in the order
// the backend lists them.
func (c *Client) Calendar(ctx context.Context, scope CalendarScope) ([]PlannedSession, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("coachapi: unknown calendar scope %q", scope)
	}

	var cr calendarResponse
	if err := c.getJSON(ctx, "/calendar/"+string(scope), &cr); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched calendar",
		slog.String("scope", string(scope)),
		slog.Int("sessions", len(cr.Sessions)),
	)

	return cr.Sessions, nil
}

// Activities returns completed activities in [from, to]. Zero bounds are
// omitted from the query.
func (c *Client) Activities(ctx context.Context, from, to time.Time) ([]CompletedActivity, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.Format(DateLayout))
	}

	if !to.IsZero() {
		q.Set("to", to.Format(DateLayout))
	}

	path := "/activities"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var activities []CompletedActivity
	if err := c.getJSON(ctx, path, &activities); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched activities", slog.Int("count", len(activities)))

	return activities, nil
}

type revisionsResponse struct {
	Revisions []PlanRevision `json:"revisions"`
}

// Revisions returns the plan revision history, newest first.
func (c *Client) Revisions(ctx context.Context) ([]PlanRevision, error) {
	var rr revisionsResponse
	if err := c.getJSON(ctx, "/plan/revisions", &rr); err != nil {
		return nil, err
	}

	return rr.Revisions, nil
}

// PlanningStatus probes the asynchronous planning job.
func (c *Client) PlanningStatus(ctx context.Context) (*PlanningStatus, error) {
	var ps PlanningStatus
	if err := c.getJSON(ctx, "/planning/status", &ps); err != nil {
		return nil, err
	}

	return &ps, nil
}
