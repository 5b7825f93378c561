package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/sessionfile"
)

// promptCookie asks for the session cookie without echoing it. Replaced in
// tests.
var promptCookie = func() (string, error) {
	var value string

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Session cookie").
				Description("Copy the Cookie header from a signed-in browser tab.").
				EchoMode(huh.EchoModePassword).
				Value(&value),
		),
	).WithShowHelp(false).Run()

	return value, err
}

// stdin is where "--cookie -" reads from. Replaced in tests.
var stdin io.Reader = os.Stdin

func newLoginCmd() *cobra.Command {
	var cookie string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a session for the coaching backend",
		Long: `Save the session cookie of a signed-in browser so later commands can act
on your behalf. Pass the Cookie header with --cookie, use "--cookie -" to
read it from stdin, or omit the flag on a terminal to be prompted.

The session is checked against the backend before it is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			header, err := readCookieHeader(cc, cookie)
			if err != nil {
				return err
			}

			return runLogin(cmd.Context(), cc, header)
		},
	}

	cmd.Flags().StringVar(&cookie, "cookie", "", `Cookie header value, or "-" for stdin`)

	return cmd
}

func readCookieHeader(cc *CLIContext, flag string) (string, error) {
	switch {
	case flag == "-":
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading cookie from stdin: %w", err)
		}

		return strings.TrimSpace(line), nil
	case flag != "":
		return flag, nil
	case cc.Interactive:
		value, err := promptCookie()
		if err != nil {
			return "", err
		}

		return strings.TrimSpace(value), nil
	default:
		return "", errors.New("no cookie given; pass --cookie or run on a terminal")
	}
}

func runLogin(ctx context.Context, cc *CLIContext, header string) error {
	serverURL := cc.Cfg.ServerURL
	now := cc.Now()

	session, err := sessionfile.FromCookieHeader(serverURL, strings.TrimPrefix(header, "Cookie: "), now)
	if err != nil {
		return err
	}

	jar, err := sessionfile.NewJar(session)
	if err != nil {
		return err
	}

	cc.Logger.Info("login started", "server", serverURL, "cookies", len(session.Cookies))

	b := newBackend(ctx, cc, jar)

	sessions, err := b.API.Calendar(ctx, coachapi.ScopeToday)
	if err != nil {
		return errors.Join(fmt.Errorf("session rejected by %s: %w", serverURL, err), b.Close())
	}

	// Keep anything the server rotated during the check.
	captured, err := sessionfile.Capture(jar, serverURL, session, now)
	if err != nil {
		return errors.Join(err, b.Close())
	}

	if len(captured.Cookies) == 0 {
		captured = session
	}

	meta := map[string]string{"login_at": now.UTC().Format(time.RFC3339)}
	if err := sessionfile.Save(cc.Cfg.SessionFile, captured, meta); err != nil {
		return errors.Join(err, b.Close())
	}

	if err := b.Close(); err != nil {
		return err
	}

	cc.Logger.Info("login successful", "server", serverURL, "path", cc.Cfg.SessionFile)
	cc.Statusf("Logged in to %s (%d sessions today).\n", serverURL, len(sessions))

	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			if err := sessionfile.Remove(cc.Cfg.SessionFile); err != nil {
				return err
			}

			cc.Logger.Info("logout successful", "path", cc.Cfg.SessionFile)
			cc.Statusf("Logged out.\n")

			return nil
		},
	}
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ServerURL string            `json:"server_url"`
	SavedAt   time.Time         `json:"saved_at"`
	Expires   *time.Time        `json:"expires,omitempty"`
	Expired   bool              `json:"expired"`
	Cookies   []string          `json:"cookies"`
	Meta      map[string]string `json:"meta,omitempty"`
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := cliContextFrom(cmd)
			if err != nil {
				return err
			}

			session, meta, err := sessionfile.Load(cc.Cfg.SessionFile)
			if err != nil {
				return err
			}

			if session == nil {
				return errNotLoggedIn
			}

			out := whoamiOutput{
				ServerURL: session.ServerURL,
				SavedAt:   session.SavedAt,
				Expires:   latestExpiry(session),
				Expired:   session.Expired(cc.Now()),
				Meta:      meta,
			}

			for _, c := range session.Cookies {
				out.Cookies = append(out.Cookies, c.Name)
			}

			if cc.Flags.JSON {
				return printJSON(cc.Out, out)
			}

			printWhoamiText(cc, out)

			return nil
		},
	}
}

// latestExpiry is the last moment any dated cookie is valid, or nil when
// a cookie carries no expiry.
func latestExpiry(s *sessionfile.Session) *time.Time {
	var latest time.Time

	for _, c := range s.Cookies {
		if c.Expires.IsZero() {
			return nil
		}

		if c.Expires.After(latest) {
			latest = c.Expires
		}
	}

	if latest.IsZero() {
		return nil
	}

	return &latest
}

func printWhoamiText(cc *CLIContext, out whoamiOutput) {
	now := cc.Now()
	loc := cc.Cfg.Location()

	fmt.Fprintf(cc.Out, "Server:  %s\n", out.ServerURL)
	fmt.Fprintf(cc.Out, "Saved:   %s\n", formatTime(out.SavedAt.In(loc), now))

	switch {
	case out.Expired:
		fmt.Fprintln(cc.Out, "Expires: expired, run 'coach-go login' again")
	case out.Expires != nil:
		fmt.Fprintf(cc.Out, "Expires: %s\n", formatTime(out.Expires.In(loc), now))
	default:
		fmt.Fprintln(cc.Out, "Expires: with the browser session")
	}

	fmt.Fprintf(cc.Out, "Cookies: %s\n", strings.Join(out.Cookies, ", "))

	if out.ServerURL != cc.Cfg.ServerURL {
		fmt.Fprintf(cc.Out, "\nNote: configured server is %s\n", cc.Cfg.ServerURL)
	}
}
