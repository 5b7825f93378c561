package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/tonimelisma/coach-go/internal/confirm"
	"github.com/tonimelisma/coach-go/internal/errclass"
)

// askFunc shows a yes/no question and returns the answer. Replaced in tests.
type askFunc func(title, description string) (bool, error)

// askConfirm is the interactive prompt used for proposals.
var askConfirm askFunc = func(title, description string) (bool, error) {
	apply := true

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&apply),
		),
	).WithShowHelp(false).Run()

	return apply, err
}

// resolveProposal decides what happens to a parked proposal. It runs on
// the submitting goroutine and always leaves the slot either confirmed or
// cancelled, so Submit never waits on a prompt that no longer exists.
func (b *Backend) resolveProposal(ctx context.Context, p confirm.Pending) {
	cc := b.cc
	fmt.Fprintln(cc.Err, styleProposal.Render(describeProposal(p)))

	switch {
	case cc.Flags.Yes:
		b.autoConfirm(ctx)
	case !cc.Interactive:
		cc.Statusf("Not a terminal; re-run with --yes to apply this change.\n")
		b.cancelProposal()
	default:
		b.promptLoop(ctx)
	}
}

func (b *Backend) autoConfirm(ctx context.Context) {
	if _, err := b.Coord.Confirm(ctx); err != nil {
		b.retryErr = err
		b.cancelProposal()
	}
}

func (b *Backend) promptLoop(ctx context.Context) {
	title := "Apply this change?"

	for {
		apply, err := askConfirm(title, "")
		if err != nil || !apply {
			if err != nil && !errors.Is(err, huh.ErrUserAborted) {
				b.cc.Logger.Warn("confirmation prompt failed", slog.String("error", err.Error()))
			}

			b.cancelProposal()

			return
		}

		_, err = b.Coord.Confirm(ctx)
		if err == nil || errors.Is(err, confirm.ErrProtocolViolation) || ctx.Err() != nil {
			// The parked caller has its result.
			return
		}

		c := errclass.Classify(err)
		b.cc.Logger.Warn("confirmed retry failed",
			slog.String("class", c.Class.String()),
			slog.String("error", err.Error()),
		)

		if c.Class == errclass.Terminal {
			b.retryErr = err
			b.cancelProposal()

			return
		}

		title = fmt.Sprintf("Applying failed (%s). Try again?", c.Detail)
	}
}

func (b *Backend) cancelProposal() {
	if err := b.Coord.Cancel(); err != nil && !errors.Is(err, confirm.ErrNothingPending) {
		b.cc.Logger.Warn("cancelling proposal", slog.String("error", err.Error()))
	}
}

// describeProposal renders what the coach is proposing.
func describeProposal(p confirm.Pending) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "The coach proposes a change (%s)", p.Mutation.Kind)

	if summary := p.Proposal.SummaryText(); summary != "" {
		fmt.Fprintf(&sb, "\n\n%s", summary)
	}

	if p.Proposal.Message != "" {
		fmt.Fprintf(&sb, "\n\n%s", p.Proposal.Message)
	}

	if len(p.Proposal.Diff) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, p.Proposal.Diff, "", "  "); err == nil {
			fmt.Fprintf(&sb, "\n\n%s", pretty.String())
		}
	}

	if p.LastError != nil {
		fmt.Fprintf(&sb, "\n\nLast attempt failed: %v", p.LastError)
	}

	return sb.String()
}
