package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

func newRevisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revisions",
		Short: "List plan revisions",
		Long: `List the coach's plan revisions, newest first.

Use the approve, reject and rollback subcommands to act on one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				revisions, err := b.Revisions(ctx)
				if err != nil {
					return fmt.Errorf("loading revisions: %w", err)
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, revisions)
				}

				renderRevisions(cc, revisions)

				return nil
			})
		},
	}

	cmd.AddCommand(newRevisionActionCmd("approve", "Approve a pending revision", coachapi.ApproveRevision))
	cmd.AddCommand(newRevisionActionCmd("reject", "Reject a pending revision", coachapi.RejectRevision))
	cmd.AddCommand(newRevisionActionCmd("rollback", "Roll the plan back to before a revision", coachapi.RollbackRevision))

	return cmd
}

func newRevisionActionCmd(name, short string, build func(revisionID string) coachapi.Mutation) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <revision-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, cc *CLIContext, b *Backend) error {
				return runMutation(ctx, cc, b, build(args[0]))
			})
		},
	}
}

func renderRevisions(cc *CLIContext, revisions []coachapi.PlanRevision) {
	if len(revisions) == 0 {
		fmt.Fprintln(cc.Out, "No plan revisions.")

		return
	}

	now := cc.Now()
	rows := make([][]string, 0, len(revisions))

	for i := range revisions {
		r := &revisions[i]

		confidence := "-"
		if r.Confidence != nil {
			confidence = formatPercent(*r.Confidence)
		}

		note := r.BlockedReason
		if note == "" && r.ParentRevisionID != "" {
			note = "after " + r.ParentRevisionID
		}

		rows = append(rows, []string{
			r.ID,
			r.RevisionType,
			string(r.Status),
			confidence,
			formatTime(r.CreatedAt.In(cc.Cfg.Location()), now),
			note,
		})
	}

	printTable(cc.Out, []string{"ID", "TYPE", "STATUS", "CONFIDENCE", "CREATED", "NOTE"}, rows)
}
