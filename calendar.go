package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/reconcile"
)

// seasonLookback bounds the activity fetch for the season view.
const seasonLookback = 6 * 30 * 24 * time.Hour

func newCalendarCmd(name, short string) *cobra.Command {
	scope := coachapi.CalendarScope(name)

	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				view, err := loadCalendar(ctx, cc, b, scope)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, view)
				}

				renderCalendar(cc.Out, view)

				return nil
			})
		},
	}
}

// calendarView is the reconciled result of one calendar read.
type calendarView struct {
	Scope      coachapi.CalendarScope       `json:"scope"`
	Timezone   string                       `json:"timezone"`
	Days       []calendarDay                `json:"days"`
	Compliance reconcile.Compliance         `json:"compliance"`
	Summaries  []reconcile.ExecutionSummary `json:"-"`
}

type calendarDay struct {
	Date       string                       `json:"date"`
	Summaries  []reconcile.ExecutionSummary `json:"summaries"`
	Compliance reconcile.Compliance         `json:"compliance"`
}

// activityWindow returns the date range of activities relevant to scope.
func activityWindow(scope coachapi.CalendarScope, now time.Time) (from, to time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch scope {
	case coachapi.ScopeWeek:
		offset := (int(today.Weekday()) + 6) % 7 // Monday is day 0
		from = today.AddDate(0, 0, -offset)

		return from, from.AddDate(0, 0, 6)
	case coachapi.ScopeSeason:
		return today.Add(-seasonLookback), today
	default:
		return today, today
	}
}

// loadCalendar fetches sessions and activities concurrently and reconciles
// them day by day in the configured timezone.
func loadCalendar(ctx context.Context, cc *CLIContext, b *Backend, scope coachapi.CalendarScope) (*calendarView, error) {
	loc := cc.Cfg.Location()
	now := cc.Now().In(loc)
	from, to := activityWindow(scope, now)

	var (
		sessions   []coachapi.PlannedSession
		activities []coachapi.CompletedActivity
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		sessions, err = b.Calendar(gctx, scope)

		return err
	})

	g.Go(func() error {
		var err error
		activities, err = b.Activities(gctx, from, to)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading %s calendar: %w", scope, err)
	}

	for _, issue := range reconcile.Audit(sessions, activities) {
		cc.Logger.Warn("pairing link unresolved",
			slog.String("kind", string(issue.Kind)),
			slog.String("session", issue.SessionID),
			slog.String("activity", issue.ActivityID),
			slog.String("detail", issue.Detail),
		)
	}

	days := reconcile.MatchDays(sessions, activities, loc, now)

	view := &calendarView{
		Scope:    scope,
		Timezone: loc.String(),
		Days:     make([]calendarDay, 0, len(days)),
	}

	for i := range days {
		d := &days[i]
		view.Days = append(view.Days, calendarDay{Date: d.Date, Summaries: d.Summaries, Compliance: d.Compliance()})
		view.Summaries = append(view.Summaries, d.Summaries...)
	}

	view.Compliance = reconcile.DayCompliance(view.Summaries)

	return view, nil
}

// renderCalendar writes the view as a table followed by a compliance line.
func renderCalendar(w io.Writer, view *calendarView) {
	if len(view.Summaries) == 0 {
		fmt.Fprintln(w, "Nothing planned or recorded.")

		return
	}

	headers := []string{"DATE", "STATE", "SESSION", "ACTIVITY", "ΔDUR", "ΔDIST"}
	rows := make([][]string, 0, len(view.Summaries))

	for i := range view.Summaries {
		s := &view.Summaries[i]

		var dDur, dDist string
		if s.Deltas != nil {
			dDur = formatDelta(s.Deltas.Duration, "m")
			dDist = formatDelta(s.Deltas.Distance, "km")
		}

		rows = append(rows, []string{
			s.Date,
			stateLabel(s.State),
			sessionLabel(s.Planned),
			activityLabel(s.Activity),
			dDur,
			dDist,
		})
	}

	printTable(w, headers, rows)

	c := view.Compliance
	fmt.Fprintf(w, "\n%d planned, %d completed, %d missed, %d extra, %d upcoming",
		c.Planned, c.Completed, c.Missed, c.Unplanned, c.Upcoming)

	if c.Completed+c.Missed > 0 {
		fmt.Fprintf(w, " (compliance %s)", formatPercent(c.Rate()))
	}

	fmt.Fprintln(w)
}

func sessionLabel(s *coachapi.PlannedSession) string {
	if s == nil {
		return "-"
	}

	label := s.Type
	if s.Title != "" {
		label = s.Title
	}

	return fmt.Sprintf("%s %s", label, formatMinutes(s.Duration))
}

func activityLabel(a *coachapi.CompletedActivity) string {
	if a == nil {
		return "-"
	}

	return fmt.Sprintf("%s %s %s", a.Sport, formatMinutes(a.Duration), formatKm(a.Distance))
}
