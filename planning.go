package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/errclass"
	"github.com/tonimelisma/coach-go/internal/invalidate"
	"github.com/tonimelisma/coach-go/internal/poll"
)

var (
	errPlanningFailed  = errors.New("planning failed")
	errPlanningTimeout = errors.New("planning did not finish in time")
)

func newPlanningCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "planning",
		Short: "Follow the coach's planning job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				status, err := b.API.PlanningStatus(ctx)
				if err != nil {
					return fmt.Errorf("reading planning status: %w", err)
				}

				return printPlanningStatus(cc, status)
			})
		},
	}

	cmd.AddCommand(newPlanningWaitCmd())

	return cmd
}

func newPlanningWaitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wait",
		Short: "Poll until planning finishes",
		Long: `Poll the planning job at poll_interval until it finishes, needs input,
or max_polls probes have been made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				status, err := waitForPlanning(ctx, cc, b)
				if status != nil {
					if perr := printPlanningStatus(cc, status); perr != nil {
						return perr
					}
				}

				return err
			})
		},
	}
}

// waitForPlanning drives a poll engine over the planning status probe and
// returns the last status seen. When the job settles the calendar and
// revision caches are invalidated.
func waitForPlanning(ctx context.Context, cc *CLIContext, b *Backend) (*coachapi.PlanningStatus, error) {
	var (
		last   *coachapi.PlanningStatus
		result error
	)

	engine := poll.New(poll.Options[*coachapi.PlanningStatus]{
		Name:     "planning",
		Interval: cc.Cfg.Interval(),
		MaxPolls: cc.Cfg.MaxPolls,
		Probe:    b.API.PlanningStatus,
		OnSuccess: func(s *coachapi.PlanningStatus) bool {
			last = s

			cc.Logger.Debug("planning status", slog.String("state", string(s.State)))

			switch {
			case s.State == coachapi.PlanningFailed:
				result = errPlanningFailed
			case s.State == coachapi.PlanningNeedsInput, s.Finished():
			default:
				if s.Progress != nil {
					cc.Statusf("Planning %s (%s)\n", s.State, formatPercent(*s.Progress))
				}

				return false
			}

			return true
		},
		OnTerminalError: func(err error, c errclass.Classification) {
			result = fmt.Errorf("planning status: %s: %w", c.Detail, err)
		},
		OnUserAction: func(err error, c errclass.Classification) {
			result = fmt.Errorf("planning status needs attention (%s): %w", c.Detail, err)
		},
		OnMaxAttempts: func() {
			result = errPlanningTimeout
		},
		Logger: cc.Logger,
	})

	engine.Start(ctx)
	engine.Wait()

	if err := ctx.Err(); err != nil {
		return last, err
	}

	if last != nil && last.State != coachapi.PlanningQueued && last.State != coachapi.PlanningRunning {
		b.Bus.Invalidate(ctx, "planning", invalidate.TagPlanning, invalidate.TagCalendar, invalidate.TagRevisions)
	}

	return last, result
}

func printPlanningStatus(cc *CLIContext, s *coachapi.PlanningStatus) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, s)
	}

	fmt.Fprintf(cc.Out, "State: %s\n", s.State)

	if s.Progress != nil {
		fmt.Fprintf(cc.Out, "Progress: %s\n", formatPercent(*s.Progress))
	}

	if s.Message != "" {
		fmt.Fprintf(cc.Out, "Message: %s\n", s.Message)
	}

	return nil
}
