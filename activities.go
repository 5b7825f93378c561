package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/reconcile"
)

// defaultActivityDays is the lookback used when --from is not given.
const defaultActivityDays = 14

func newActivitiesCmd() *cobra.Command {
	var fromFlag, toFlag string

	cmd := &cobra.Command{
		Use:   "activities",
		Short: "List completed activities",
		Long: `List activities recorded by connected providers.

Without flags the last two weeks are shown. Dates are YYYY-MM-DD in the
configured timezone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				loc := cc.Cfg.Location()

				from, to, err := activityRange(fromFlag, toFlag, cc.Now().In(loc), loc)
				if err != nil {
					return err
				}

				activities, err := b.Activities(ctx, from, to)
				if err != nil {
					return fmt.Errorf("loading activities: %w", err)
				}

				activities = reconcile.SortActivities(activities)

				if cc.Flags.JSON {
					return printJSON(cc.Out, activities)
				}

				renderActivities(cc, activities, loc)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toFlag, "to", "", "last day (YYYY-MM-DD), default today")

	return cmd
}

// activityRange parses the --from/--to flags, filling defaults relative to now.
func activityRange(fromFlag, toFlag string, now time.Time, loc *time.Location) (from, to time.Time, err error) {
	to = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if toFlag != "" {
		if to, err = time.ParseInLocation(coachapi.DateLayout, toFlag, loc); err != nil {
			return from, to, fmt.Errorf("invalid --to %q, use YYYY-MM-DD", toFlag)
		}
	}

	from = to.AddDate(0, 0, -defaultActivityDays)
	if fromFlag != "" {
		if from, err = time.ParseInLocation(coachapi.DateLayout, fromFlag, loc); err != nil {
			return from, to, fmt.Errorf("invalid --from %q, use YYYY-MM-DD", fromFlag)
		}
	}

	if from.After(to) {
		return from, to, fmt.Errorf("--from %s is after --to %s", from.Format(coachapi.DateLayout), to.Format(coachapi.DateLayout))
	}

	return from, to, nil
}

func renderActivities(cc *CLIContext, activities []coachapi.CompletedActivity, loc *time.Location) {
	if len(activities) == 0 {
		fmt.Fprintln(cc.Out, "No activities in range.")

		return
	}

	now := cc.Now()
	rows := make([][]string, 0, len(activities))

	for i := range activities {
		a := &activities[i]

		paired := a.PlannedSessionID
		if paired == "" {
			paired = "-"
		}

		rows = append(rows, []string{
			a.ID,
			formatTime(a.StartTime.In(loc), now),
			a.Sport,
			formatMinutes(a.Duration),
			formatKm(a.Distance),
			string(a.Source),
			paired,
		})
	}

	printTable(cc.Out, []string{"ID", "START", "SPORT", "DURATION", "DISTANCE", "SOURCE", "SESSION"}, rows)
}
