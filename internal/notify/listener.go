// Package notify listens for backend change notifications over a WebSocket
// and republishes them as cache invalidations, so data that changes without
// a client write (a provider sync delivering an activity, a planning job
// finishing) is refetched too.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/coach-go/internal/invalidate"
)

// Path is the notification endpoint relative to the API base URL.
const Path = "/ws/notifications"

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 2 * time.Minute
	readLimit   = 64 << 10
)

// Event is one server push.
type Event struct {
	Type string `json:"type"`
	Date string `json:"date,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Event types the backend sends.
const (
	EventActivitySynced   = "activity.synced"
	EventSessionUpdated   = "session.updated"
	EventPlanUpdated      = "plan.updated"
	EventRevisionCreated  = "revision.created"
	EventPlanningFinished = "planning.finished"
)

var eventTags = map[string][]invalidate.Tag{
	EventActivitySynced:   {invalidate.TagActivities, invalidate.TagCalendar},
	EventSessionUpdated:   {invalidate.TagCalendar},
	EventPlanUpdated:      {invalidate.TagCalendar, invalidate.TagRevisions},
	EventRevisionCreated:  {invalidate.TagRevisions},
	EventPlanningFinished: {invalidate.TagPlanning, invalidate.TagCalendar},
}

// TagsForEvent maps an event onto the families it makes stale. Unknown
// event types map to nothing.
func TagsForEvent(eventType string) []invalidate.Tag {
	return eventTags[eventType]
}

// Publisher receives invalidations. *invalidate.Bus satisfies it.
type Publisher interface {
	Invalidate(ctx context.Context, source string, tags ...invalidate.Tag)
}

// Listener holds one WebSocket subscription open, reconnecting with
// exponential backoff until its context ends.
type Listener struct {
	url        string
	httpClient *http.Client
	pub        Publisher
	logger     *slog.Logger

	// OnEvent, if set, sees every decoded event after invalidation.
	OnEvent func(Event)

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewListener builds a listener for the API at baseURL. httpClient carries
// the session cookies for the handshake.
func NewListener(baseURL string, httpClient *http.Client, pub Publisher, logger *slog.Logger) (*Listener, error) {
	wsURL, err := WebSocketURL(baseURL)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		url:        wsURL,
		httpClient: httpClient,
		pub:        pub,
		logger:     logger,
		sleepFunc:  timeSleep,
	}, nil
}

// WebSocketURL derives the notification URL from the API base URL.
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("notify: parsing base url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("notify: unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + Path

	return u.String(), nil
}

// Run connects and dispatches events until ctx is cancelled, which is the
// only way it returns nil. Connection failures are retried indefinitely.
func (l *Listener) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if connected {
			attempt = 0
		}

		backoff := calcBackoff(attempt)

		l.logger.Warn("notification stream lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)

		if err := l.sleepFunc(ctx, backoff); err != nil {
			return nil
		}
	}
}

// session runs one connection. It reports whether the handshake succeeded.
func (l *Listener) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{HTTPClient: l.httpClient})
	if err != nil {
		return false, fmt.Errorf("notify: dialing %s: %w", l.url, err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)
	l.logger.Info("notification stream connected", slog.String("url", l.url))

	// Anything pushed while disconnected was missed; treat every family
	// as stale once.
	l.pub.Invalidate(ctx, "reconnect", invalidate.TagCalendar, invalidate.TagActivities, invalidate.TagRevisions)

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return true, errors.New("notify: server closed stream")
			}

			return true, fmt.Errorf("notify: reading: %w", err)
		}

		l.dispatch(ctx, ev)
	}
}

func (l *Listener) dispatch(ctx context.Context, ev Event) {
	tags := TagsForEvent(ev.Type)
	if len(tags) == 0 {
		l.logger.Debug("ignoring notification", slog.String("type", ev.Type))
	} else {
		l.logger.Debug("notification received",
			slog.String("type", ev.Type),
			slog.String("date", ev.Date),
		)
		l.pub.Invalidate(ctx, "push", tags...)
	}

	if l.OnEvent != nil {
		l.OnEvent(ev)
	}
}

func calcBackoff(attempt int) time.Duration {
	d := baseBackoff << min(attempt, 10)

	return min(d, maxBackoff)
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
