package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/confirm"
)

// errNotApplied is returned when the backend refused a write because of
// scheduling conflicts.
var errNotApplied = errors.New("change not applied: schedule conflict")

// withBackend opens a Backend for the command, runs fn, and closes it.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, b *Backend) error) error {
	cc, err := cliContextFrom(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	b, err := NewBackend(ctx, cc)
	if err != nil {
		return err
	}

	runErr := fn(ctx, cc, b)

	return errors.Join(runErr, b.Close())
}

// runMutation submits m through the confirmation coordinator and reports
// the outcome.
func runMutation(ctx context.Context, cc *CLIContext, b *Backend, m coachapi.Mutation) error {
	resp, err := b.Coord.Submit(ctx, m)
	if err != nil {
		if confirm.IsCancelled(err) && b.retryErr != nil {
			return fmt.Errorf("applying confirmed change: %w", b.retryErr)
		}

		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, writeOutput(resp))
	}

	if resp.Conflicts != nil {
		printConflicts(cc.Out, resp.Conflicts)

		return errNotApplied
	}

	cc.Statusf("Done.\n")

	return nil
}

type writeJSON struct {
	Status    coachapi.WriteStatus     `json:"status"`
	Data      any                      `json:"data,omitempty"`
	Conflicts *coachapi.ConflictReport `json:"conflicts,omitempty"`
}

func writeOutput(resp *coachapi.WriteResponse) writeJSON {
	out := writeJSON{Status: resp.Status, Conflicts: resp.Conflicts}
	if len(resp.Data) > 0 {
		out.Data = resp.Data
	}

	return out
}

func printConflicts(w io.Writer, report *coachapi.ConflictReport) {
	fmt.Fprintln(w, "The change collides with existing sessions:")

	rows := make([][]string, 0, len(report.Conflicts))
	for _, c := range report.Conflicts {
		rows = append(rows, []string{c.Date, c.ExistingSessionID, c.CandidateSessionID, string(c.Reason)})
	}

	printTable(w, []string{"DATE", "EXISTING", "CANDIDATE", "REASON"}, rows)

	if len(report.Options) > 0 && len(report.Conflicts) > 0 {
		fmt.Fprintf(w, "\nResolve with: coach-go conflicts resolve %s <action>\n", report.Conflicts[0].Date)
		fmt.Fprintf(w, "Actions offered: %v\n", report.Options)
	}
}

func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <activity-id> <session-id>",
		Short: "Pair a completed activity with a planned session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.MergePairing(args[0], args[1]))
			})
		},
	}
}

func newUnpairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpair <activity-id>",
		Short: "Remove an activity's pairing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.UnmergePairing(args[0]))
			})
		},
	}
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Change planned sessions",
	}

	cmd.AddCommand(newSessionStatusCmd())
	cmd.AddCommand(newSessionMoveCmd())
	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionUpdateCmd())

	return cmd
}

func newSessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id> <planned|completed|skipped|cancelled>",
		Short: "Set a session's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := coachapi.SessionStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}

			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.UpdateSessionStatus(args[0], status))
			})
		},
	}
}

func newSessionMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <workout-id> <YYYY-MM-DD>",
		Short: "Move a workout to another day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkDate(args[1]); err != nil {
				return err
			}

			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.UpdateWorkoutDate(args[0], args[1]))
			})
		},
	}
}

// draftFlags binds the session fields shared by create and update.
type draftFlags struct {
	date, sport, title, intensity, notes string
	duration, distance                   float64
}

func (f *draftFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.sport, "sport", "", "session type, e.g. run or ride")
	cmd.Flags().StringVar(&f.title, "title", "", "session title")
	cmd.Flags().StringVar(&f.intensity, "intensity", "", "intensity label")
	cmd.Flags().StringVar(&f.notes, "notes", "", "notes for the athlete")
	cmd.Flags().Float64Var(&f.duration, "duration", 0, "planned duration in minutes")
	cmd.Flags().Float64Var(&f.distance, "distance", 0, "planned distance in km")
}

// draft builds a SessionDraft from the flags the user actually set.
func (f *draftFlags) draft(cmd *cobra.Command) (coachapi.SessionDraft, error) {
	d := coachapi.SessionDraft{
		Date:      f.date,
		Type:      f.sport,
		Title:     f.title,
		Intensity: f.intensity,
		Notes:     f.notes,
	}

	if f.date != "" {
		if err := checkDate(f.date); err != nil {
			return d, err
		}
	}

	if cmd.Flags().Changed("duration") {
		if f.duration <= 0 {
			return d, errors.New("--duration must be positive")
		}

		d.Duration = &f.duration
	}

	if cmd.Flags().Changed("distance") {
		if f.distance < 0 {
			return d, errors.New("--distance must not be negative")
		}

		d.Distance = &f.distance
	}

	return d, nil
}

func newSessionCreateCmd() *cobra.Command {
	var f draftFlags

	cmd := &cobra.Command{
		Use:   "create --date YYYY-MM-DD --sport <type> --duration <min>",
		Short: "Schedule a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := f.draft(cmd)
			if err != nil {
				return err
			}

			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.CreateSession(d))
			})
		},
	}

	f.bind(cmd)

	for _, name := range []string{"date", "sport", "duration"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func newSessionUpdateCmd() *cobra.Command {
	var f draftFlags

	cmd := &cobra.Command{
		Use:   "update <session-id>",
		Short: "Change a session's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.draft(cmd)
			if err != nil {
				return err
			}

			if d == (coachapi.SessionDraft{}) {
				return errors.New("nothing to update; pass at least one field flag")
			}

			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.UpdateSession(args[0], d))
			})
		},
	}

	f.bind(cmd)

	return cmd
}

// newWeekCmd is the week calendar view with a create subcommand.
func newWeekCmd() *cobra.Command {
	cmd := newCalendarCmd("week", "Show this week's sessions and activities")

	var start string

	create := &cobra.Command{
		Use:   "create",
		Short: "Ask the coach to plan the week starting at --start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkDate(start); err != nil {
				return err
			}

			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.CreateWeek(start))
			})
		},
	}

	create.Flags().StringVar(&start, "start", "", "first day of the week (YYYY-MM-DD)")
	_ = create.MarkFlagRequired("start")

	cmd.AddCommand(create)

	return cmd
}

func checkDate(s string) error {
	if _, err := time.Parse(coachapi.DateLayout, s); err != nil {
		return fmt.Errorf("invalid date %q, use YYYY-MM-DD", s)
	}

	return nil
}
