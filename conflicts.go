package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

var resolveActions = []string{
	coachapi.ResolveAutoShift,
	coachapi.ResolveDismiss,
	coachapi.ResolveManualReview,
}

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Resolve scheduling conflicts",
		Long: `Scheduling conflicts are reported when a change collides with sessions
already on the calendar. The report lists the conflicting day and the
actions the backend offers for it.`,
	}

	cmd.AddCommand(newConflictsResolveCmd())

	return cmd
}

func newConflictsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <YYYY-MM-DD> <" + strings.Join(resolveActions, "|") + ">",
		Short: "Apply a resolution to the conflicts on a day",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 1 {
				return resolveActions, cobra.ShellCompDirectiveNoFileComp
			}

			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			date, action := args[0], args[1]

			if err := checkDate(date); err != nil {
				return err
			}

			if !slices.Contains(resolveActions, action) {
				return fmt.Errorf("unknown action %q, expected one of: %s", action, strings.Join(resolveActions, ", "))
			}

			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, coachapi.ResolveConflicts(date, action))
			})
		},
	}
}
