package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/confirm"
	"github.com/tonimelisma/coach-go/internal/invalidate"
	"github.com/tonimelisma/coach-go/internal/metrics"
	"github.com/tonimelisma/coach-go/internal/querycache"
	"github.com/tonimelisma/coach-go/internal/sessionfile"
)

var errNotLoggedIn = errors.New("not logged in, run 'coach-go login' first")

// activitiesTTL caps cached activity reads. Provider syncs land without any
// event outside watch --realtime.
const activitiesTTL = 2 * time.Minute

// Backend bundles everything a command needs to talk to the coaching API:
// the authenticated client, the invalidation bus, the query cache wired to
// it, and the confirmation coordinator.
type Backend struct {
	API   *coachapi.Client
	HTTP  *http.Client
	Bus   *invalidate.Bus
	Cache *querycache.Cache // nil when disabled or unavailable
	Coord *confirm.Coordinator

	cc          *CLIContext
	session     *sessionfile.Session
	meta        map[string]string
	jar         http.CookieJar
	unsubscribe func()

	// retryErr is the last confirmed-retry failure that led to an automatic
	// cancel, so the command can report it instead of a plain cancel.
	retryErr error
}

// NewBackend loads the saved session and wires the client stack. The
// returned Backend must be closed to persist rotated cookies.
func NewBackend(ctx context.Context, cc *CLIContext) (*Backend, error) {
	session, meta, err := sessionfile.Load(cc.Cfg.SessionFile)
	if err != nil {
		return nil, err
	}

	if session == nil {
		return nil, errNotLoggedIn
	}

	if session.Expired(cc.Now()) {
		return nil, fmt.Errorf("session expired, run 'coach-go login' again")
	}

	if session.ServerURL != cc.Cfg.ServerURL {
		return nil, fmt.Errorf("saved session is for %s, not %s; run 'coach-go login' again",
			session.ServerURL, cc.Cfg.ServerURL)
	}

	jar, err := sessionfile.NewJar(session)
	if err != nil {
		return nil, err
	}

	b := newBackend(ctx, cc, jar)
	b.session = session
	b.meta = meta

	return b, nil
}

// newBackend wires the stack around an already-populated cookie jar.
func newBackend(ctx context.Context, cc *CLIContext, jar http.CookieJar) *Backend {
	logger := cc.Logger
	httpClient := newHTTPClient(cc.Cfg, jar)

	api := coachapi.NewClient(cc.Cfg.ServerURL, httpClient, logger, userAgent(cc))
	api.SetMaxRetries(cc.Cfg.MaxRetries)
	api.OnRetry(func(method, path string, status int) {
		metrics.RecordRetry(method)
		logger.Debug("retrying request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", status),
		)
	})

	b := &Backend{
		API:  api,
		HTTP: httpClient,
		Bus:  invalidate.NewBus(logger),
		cc:   cc,
		jar:  jar,
	}

	if cc.Cfg.CacheEnabled {
		cache, err := querycache.Open(ctx, cc.Cfg.CacheFile, cc.Cfg.TTL(), logger)
		if err != nil {
			logger.Warn("query cache unavailable, reading from backend",
				slog.String("path", cc.Cfg.CacheFile),
				slog.String("error", err.Error()),
			)
		} else {
			cache.CapTTL(invalidate.TagActivities, activitiesTTL)
			b.Cache = cache
			b.unsubscribe = cache.Subscribe(b.Bus)
		}
	}

	b.Coord = confirm.New(api, confirm.Options{
		Logger:      logger,
		Invalidator: b.Bus,
		OnProposal:  b.resolveProposal,
		NowFunc:     cc.Now,
	})

	return b
}

func userAgent(cc *CLIContext) string {
	if cc.Cfg.UserAgent != "" {
		return cc.Cfg.UserAgent
	}

	return "coach-go/" + version
}

// Close persists cookies the server rotated during this run and closes the
// cache.
func (b *Backend) Close() error {
	var errs []error

	if b.unsubscribe != nil {
		b.unsubscribe()
	}

	if b.Cache != nil {
		errs = append(errs, b.Cache.Close())
	}

	if b.session != nil {
		errs = append(errs, b.persistSession())
	}

	return errors.Join(errs...)
}

func (b *Backend) persistSession() error {
	captured, err := sessionfile.Capture(b.jar, b.session.ServerURL, b.session, b.cc.Now())
	if err != nil {
		return err
	}

	if len(captured.Cookies) == 0 || sameCookies(captured.Cookies, b.session.Cookies) {
		return nil
	}

	b.cc.Logger.Debug("session cookies rotated, saving")

	return sessionfile.Save(b.cc.Cfg.SessionFile, captured, b.meta)
}

func sameCookies(a, b []sessionfile.Cookie) bool {
	return slices.EqualFunc(a, b, func(x, y sessionfile.Cookie) bool {
		return x.Name == y.Name && x.Value == y.Value
	})
}

// Calendar reads planned sessions through the cache.
func (b *Backend) Calendar(ctx context.Context, scope coachapi.CalendarScope) ([]coachapi.PlannedSession, error) {
	return querycache.Fetch(ctx, b.Cache, invalidate.TagCalendar, string(scope),
		func(ctx context.Context) ([]coachapi.PlannedSession, error) {
			return b.API.Calendar(ctx, scope)
		})
}

// Activities reads completed activities in [from, to] through the cache.
func (b *Backend) Activities(ctx context.Context, from, to time.Time) ([]coachapi.CompletedActivity, error) {
	variant := from.Format(coachapi.DateLayout) + ".." + to.Format(coachapi.DateLayout)

	return querycache.Fetch(ctx, b.Cache, invalidate.TagActivities, variant,
		func(ctx context.Context) ([]coachapi.CompletedActivity, error) {
			return b.API.Activities(ctx, from, to)
		})
}

// Revisions reads the plan revision history through the cache.
func (b *Backend) Revisions(ctx context.Context) ([]coachapi.PlanRevision, error) {
	return querycache.Fetch(ctx, b.Cache, invalidate.TagRevisions, "all",
		func(ctx context.Context) ([]coachapi.PlanRevision, error) {
			return b.API.Revisions(ctx)
		})
}
