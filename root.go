package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// logFilePermissions keeps log files private; they can contain dates and
// session ids.
const logFilePermissions = 0o600

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	ServerURL  string
	JSON       bool
	Verbose    bool
	Quiet      bool
	Yes        bool
	NoCache    bool
}

// CLIContext is built once per invocation by the root pre-run hook and
// carried on the command's context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Env     config.EnvOverrides
	CLI     config.CLIOverrides
	Logger  *slog.Logger

	Out io.Writer
	Err io.Writer

	// Interactive is true when both stdin and stderr are terminals, so a
	// confirmation prompt can be shown.
	Interactive bool

	Now func() time.Time

	closeLog func() error
}

type cliContextKey struct{}

var errNoCLIContext = errors.New("internal error: command ran without configuration")

// cliContextFrom returns the CLIContext stored by the root pre-run hook.
func cliContextFrom(cmd *cobra.Command) (*CLIContext, error) {
	cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		return nil, errNoCLIContext
	}

	return cc, nil
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "coach-go",
		Short: "Training plan client for the coaching backend",
		Long: "Review planned sessions against completed activities, edit the plan, " +
			"and confirm the changes the coach proposes.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc, err := cliContextFrom(cmd); err == nil && cc.closeLog != nil {
				return cc.closeLog()
			}

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.ServerURL, "server", "", "backend API base URL")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	pf.BoolVarP(&flags.Yes, "yes", "y", false, "confirm coach proposals without prompting")
	pf.BoolVar(&flags.NoCache, "no-cache", false, "bypass the local query cache (activities are cached up to 2m, other reads per cache_ttl)")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newCalendarCmd("today", "Show today's sessions and activities"))
	cmd.AddCommand(newWeekCmd())
	cmd.AddCommand(newCalendarCmd("season", "Show the season's sessions and activities"))
	cmd.AddCommand(newActivitiesCmd())
	cmd.AddCommand(newPairCmd())
	cmd.AddCommand(newUnpairCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newRevisionsCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newPlanningCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		ServerURL:  flags.ServerURL,
		NoCache:    flags.NoCache,
	}

	if flags.Verbose {
		cli.LogLevel = "debug"
	}

	env := config.ReadEnvOverrides()

	cfg, path, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc := &CLIContext{
		Flags:       flags,
		Cfg:         cfg,
		CfgPath:     path,
		Env:         env,
		CLI:         cli,
		Out:         cmd.OutOrStdout(),
		Err:         cmd.ErrOrStderr(),
		Interactive: isTerminal(os.Stdin) && isTerminal(os.Stderr),
		Now:         time.Now,
	}

	logger, closeLog, err := buildLogger(cfg, flags, cc.Err)
	if err != nil {
		return nil, err
	}

	cc.Logger = logger
	cc.closeLog = closeLog

	return cc, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Config, flags CLIFlags, stderr io.Writer) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	out := stderr
	closeFn := func() error { return nil }

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePermissions)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out = f
		closeFn = f.Close
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closeFn, nil
}

// newHTTPClient builds the client used for API calls and the notification
// handshake. The jar carries the session cookies.
func newHTTPClient(cfg *config.Config, jar http.CookieJar) *http.Client {
	connect, data := cfg.Timeouts()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: data,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{Jar: jar, Transport: transport}
}
