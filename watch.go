package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/config"
	"github.com/tonimelisma/coach-go/internal/errclass"
	"github.com/tonimelisma/coach-go/internal/invalidate"
	"github.com/tonimelisma/coach-go/internal/metrics"
	"github.com/tonimelisma/coach-go/internal/notify"
	"github.com/tonimelisma/coach-go/internal/poll"
)

const (
	defaultRefreshEvery   = 5 * time.Minute
	metricsShutdownWait   = 5 * time.Second
	metricsHeaderTimeout  = 10 * time.Second
	watchSubscriberName   = "watch"
	timerInvalidateSource = "timer"
)

func newWatchCmd() *cobra.Command {
	var (
		scopeName   string
		every       time.Duration
		realtime    bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a calendar view up to date",
		Long: `Render a calendar view and re-render it whenever the backend reports a
change. With realtime enabled the view follows server pushes; otherwise it
refreshes every --every.

The config file is reloaded on edit or on SIGHUP (see 'coach-go reload').
Only one watch runs per user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			scope := coachapi.CalendarScope(scopeName)
			if !scope.Valid() {
				return fmt.Errorf("unknown --scope %q, expected today, week or season", scopeName)
			}

			if every <= 0 {
				return errors.New("--every must be positive")
			}

			if cmd.Flags().Changed("realtime") {
				cc.CLI.Realtime = &realtime
				cc.Cfg.Realtime = realtime
			}

			if cmd.Flags().Changed("metrics-addr") {
				cc.CLI.MetricsAddr = &metricsAddr
				cc.Cfg.MetricsAddr = metricsAddr
			}

			return runWatch(cmd.Context(), cc, scope, every)
		},
	}

	cmd.Flags().StringVar(&scopeName, "scope", string(coachapi.ScopeToday), "calendar view: today, week or season")
	cmd.Flags().DurationVar(&every, "every", defaultRefreshEvery, "refresh interval when realtime is off")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "follow server push notifications (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

// watcher owns the render loop. Everything that touches cc.Cfg after
// startup runs on the loop goroutine.
type watcher struct {
	cc       *CLIContext
	b        *Backend
	holder   *config.Holder
	scope    coachapi.CalendarScope
	every    time.Duration
	refresh  chan struct{}
	planning *poll.Engine[*coachapi.PlanningStatus]
}

func runWatch(ctx context.Context, cc *CLIContext, scope coachapi.CalendarScope, every time.Duration) error {
	release, err := lockWatch(watchPIDPath())
	if err != nil {
		return err
	}
	defer release()

	b, err := NewBackend(ctx, cc)
	if err != nil {
		return err
	}

	w := &watcher{
		cc:      cc,
		b:       b,
		holder:  config.NewHolder(cc.Cfg, cc.CfgPath),
		scope:   scope,
		every:   every,
		refresh: make(chan struct{}, 1),
	}

	unsubscribe := b.Bus.Subscribe(watchSubscriberName, w.onInvalidate)
	defer unsubscribe()

	var listener *notify.Listener
	if cc.Cfg.Realtime {
		if listener, err = notify.NewListener(cc.Cfg.ServerURL, b.HTTP, b.Bus, cc.Logger); err != nil {
			return errors.Join(err, b.Close())
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr := cc.Cfg.MetricsAddr; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr, cc.Logger) })
	}

	if listener != nil {
		g.Go(func() error { return listener.Run(gctx) })
	}

	g.Go(func() error { return w.loop(gctx) })

	err = g.Wait()
	if w.planning != nil {
		w.planning.Stop()
	}

	return errors.Join(err, b.Close())
}

// onInvalidate is the bus subscriber. It only queues work; the loop does it.
func (w *watcher) onInvalidate(_ context.Context, tags []invalidate.Tag) error {
	if slices.Contains(tags, invalidate.TagCalendar) || slices.Contains(tags, invalidate.TagActivities) ||
		slices.Contains(tags, invalidate.TagPlanning) {
		select {
		case w.refresh <- struct{}{}:
		default:
		}
	}

	return nil
}

func (w *watcher) loop(ctx context.Context) error {
	reloads := reloadSignals(ctx)
	edits := watchConfigFile(ctx, w.holder.Path(), w.cc.Logger)

	var tick <-chan time.Time

	if !w.cc.Cfg.Realtime {
		ticker := time.NewTicker(w.every)
		defer ticker.Stop()

		tick = ticker.C
	}

	w.render(ctx)
	w.checkPlanning(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.b.Bus.Invalidate(ctx, timerInvalidateSource, invalidate.TagCalendar, invalidate.TagActivities)
		case <-w.refresh:
			w.render(ctx)
			w.checkPlanning(ctx)
		case _, ok := <-reloads:
			if !ok {
				return nil
			}

			w.reload(ctx, "signal")
		case <-edits:
			w.reload(ctx, "file")
		}
	}
}

// render draws the view. Failures are logged and the previous screen stays,
// so a transient outage does not end the watch.
func (w *watcher) render(ctx context.Context) {
	view, err := loadCalendar(ctx, w.cc, w.b, w.scope)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		c := errclass.Classify(err)
		w.cc.Logger.Warn("refresh failed",
			slog.String("class", c.Class.String()),
			slog.String("error", err.Error()),
		)

		return
	}

	if w.cc.Flags.JSON {
		if err := printJSON(w.cc.Out, view); err != nil {
			w.cc.Logger.Warn("writing view", slog.String("error", err.Error()))
		}

		return
	}

	fmt.Fprintf(w.cc.Out, "\n%s\n", styleHeader.Render(fmt.Sprintf("%s, updated %s",
		w.scope, w.cc.Now().In(w.cc.Cfg.Location()).Format("15:04:05"))))
	renderCalendar(w.cc.Out, view)
}

// checkPlanning starts the planning poll when a job is in flight. When the
// job settles the poll invalidates the calendar, which triggers a render.
func (w *watcher) checkPlanning(ctx context.Context) {
	if w.planning != nil && w.planning.IsPolling() {
		return
	}

	status, err := w.b.API.PlanningStatus(ctx)
	if err != nil {
		w.cc.Logger.Debug("planning status unavailable", slog.String("error", err.Error()))

		return
	}

	if status.State != coachapi.PlanningQueued && status.State != coachapi.PlanningRunning {
		return
	}

	w.cc.Statusf("Planning %s; following until it finishes.\n", status.State)

	cfg := w.cc.Cfg
	w.planning = poll.New(poll.Options[*coachapi.PlanningStatus]{
		Name:     "planning",
		Interval: cfg.Interval(),
		MaxPolls: cfg.MaxPolls,
		Probe:    w.b.API.PlanningStatus,
		OnSuccess: func(s *coachapi.PlanningStatus) bool {
			if s.State == coachapi.PlanningQueued || s.State == coachapi.PlanningRunning {
				return false
			}

			w.b.Bus.Invalidate(ctx, "planning", invalidate.TagCalendar, invalidate.TagRevisions)

			if s.State == coachapi.PlanningFailed || s.State == coachapi.PlanningNeedsInput {
				w.cc.Logger.Warn("planning ended without a plan",
					slog.String("state", string(s.State)),
					slog.String("message", s.Message),
				)
			}

			return true
		},
		OnTerminalError: func(err error, c errclass.Classification) {
			w.cc.Logger.Warn("planning poll stopped", slog.String("detail", c.Detail), slog.String("error", err.Error()))
		},
		OnUserAction: func(err error, c errclass.Classification) {
			w.cc.Logger.Warn("planning poll needs attention", slog.String("detail", c.Detail), slog.String("error", err.Error()))
		},
		OnMaxAttempts: func() {
			w.cc.Logger.Warn("planning still running after max_polls probes, giving up")
		},
		Logger: w.cc.Logger,
	})

	w.planning.Start(ctx)
}

// reload re-reads the config file. Settings that only take effect at
// startup are reported rather than applied.
func (w *watcher) reload(ctx context.Context, trigger string) {
	old := w.cc.Cfg

	cfg, err := w.holder.Reload(w.cc.Env, w.cc.CLI)
	if err != nil {
		w.cc.Logger.Warn("config reload rejected, keeping current settings",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)

		return
	}

	w.cc.Cfg = cfg
	w.cc.Logger.Info("config reloaded", slog.String("trigger", trigger), slog.String("path", w.holder.Path()))

	for _, key := range restartOnlyChanges(old, cfg) {
		w.cc.Logger.Warn("setting changed; restart watch to apply", slog.String("key", key))
	}

	w.render(ctx)
}

// restartOnlyChanges lists keys that differ between a and b but are bound
// at startup.
func restartOnlyChanges(a, b *config.Config) []string {
	var keys []string

	check := func(key string, changed bool) {
		if changed {
			keys = append(keys, key)
		}
	}

	check("server_url", a.ServerURL != b.ServerURL)
	check("session_file", a.SessionFile != b.SessionFile)
	check("cache_enabled", a.CacheEnabled != b.CacheEnabled)
	check("cache_file", a.CacheFile != b.CacheFile)
	check("cache_ttl", a.CacheTTL != b.CacheTTL)
	check("realtime", a.Realtime != b.Realtime)
	check("metrics_addr", a.MetricsAddr != b.MetricsAddr)
	check("log_level", a.LogLevel != b.LogLevel)
	check("log_file", a.LogFile != b.LogFile)
	check("log_format", a.LogFormat != b.LogFormat)
	check("connect_timeout", a.ConnectTimeout != b.ConnectTimeout)
	check("data_timeout", a.DataTimeout != b.DataTimeout)
	check("user_agent", a.UserAgent != b.UserAgent)
	check("max_retries", a.MaxRetries != b.MaxRetries)

	return keys
}

// serveMetrics exposes the Prometheus registry until ctx ends.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
	}

	return nil
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running watch to reload its config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			pid, err := signalReload(watchPIDPath())
			if err != nil {
				return err
			}

			cc.Statusf("Reload requested (pid %d).\n", pid)

			return nil
		},
	}
}
