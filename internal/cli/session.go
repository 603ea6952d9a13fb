package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/goose/internal/config"
	"github.com/harun/goose/internal/console"
	"github.com/harun/goose/pkg/session"
	"github.com/harun/goose/pkg/stats"
	"github.com/spf13/cobra"
)

var (
	sessionProfile string
	clearKeep      int
	statsAll       bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, resume and manage sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Start a new interactive session",
	Long: `Start a new interactive session. A random name such as r2d2 is chosen when none
is given. Press Ctrl-C to interrupt the model; press it again to leave the session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionStart,
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume [name]",
	Short: "Resume an existing session (the most recent one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionResume,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete old sessions, keeping the most recent ones",
	Args:  cobra.NoArgs,
	RunE:  runSessionClear,
}

var sessionStatsCmd = &cobra.Command{
	Use:   "stats [name]",
	Short: "Show recorded stats for a session, or totals with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionStats,
}

func init() {
	sessionStartCmd.Flags().StringVar(&sessionProfile, "profile", "", "profile to use (default from config)")
	sessionResumeCmd.Flags().StringVar(&sessionProfile, "profile", "", "profile to use (default from config)")
	sessionClearCmd.Flags().IntVar(&clearKeep, "keep", 3, "number of most recent sessions to keep")
	sessionStatsCmd.Flags().BoolVar(&statsAll, "all", false, "show totals across all sessions")

	sessionCmd.AddCommand(sessionStartCmd, sessionResumeCmd, sessionListCmd, sessionClearCmd, sessionStatsCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var name string
	if len(args) > 0 {
		name = args[0]
	} else if name, err = session.UniqueName(a.store); err != nil {
		return err
	}

	history, err := a.store.Load(cmd.Context(), name)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		return fmt.Errorf("session %s already exists, use \"goose session resume %s\"", name, name)
	}

	return a.interactive(cmd, name, sessionProfile)
}

func runSessionResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var name string
	if len(args) > 0 {
		name = args[0]
		if !a.store.Exists(name) {
			return fmt.Errorf("session %s not found", name)
		}
	} else if name, err = a.store.Latest(); err != nil {
		if errors.Is(err, session.ErrNoSessions) {
			return fmt.Errorf("no sessions to resume, start one with \"goose session start\"")
		}
		return err
	}

	return a.interactive(cmd, name, sessionProfile)
}

// interactive runs a session against the terminal until the operator leaves.
func (a *app) interactive(cmd *cobra.Command, name, profileName string) error {
	profile, profileName, err := a.loadProfile(profileName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	a.startTelemetry(ctx)

	con := console.New(cmd.InOrStdin(), cmd.OutOrStdout())
	live, err := a.openSession(ctx, name, profile, con)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go watchSignals(ctx, sigs, live.session, cancel)

	con.Notice("starting session | name: %s profile: %s", name, profileName)
	con.Notice("%s", profile.Info())

	runErr := live.session.Run(ctx)
	closeErr := live.Close(context.WithoutCancel(ctx))

	st := live.session.Stats()
	con.Notice("Closing session. Recorded to %s", a.store.Path(name))
	con.Notice("%s", st.Summary())

	return errors.Join(runErr, closeErr)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.store.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found")
		return nil
	}
	for _, info := range sessions {
		fmt.Fprintf(out, "%s\t%s\n", info.Name, info.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.store.Clear(cmd.Context(), clearKeep)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range removed {
		fmt.Fprintf(out, "Deleted session %s\n", name)
	}
	fmt.Fprintf(out, "Removed %d sessions, kept the %d most recent\n", len(removed), clearKeep)
	return nil
}

func runSessionStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ledger, err := stats.OpenLedger(a.cfg.StatsDB)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := cmd.Context()
	var (
		st   stats.SessionStats
		name string
	)
	switch {
	case statsAll:
		st, err = ledger.Total(ctx)
	case len(args) > 0:
		name = args[0]
		st, err = ledger.Get(ctx, name)
	default:
		if name, err = a.store.Latest(); err != nil {
			return err
		}
		st, err = ledger.Get(ctx, name)
	}
	if errors.Is(err, stats.ErrNotFound) {
		return fmt.Errorf("no stats recorded for session %s", name)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), st.Summary())
	return nil
}

// loadProfile returns the named profile and its display name, adding the default profile
// to the config file when it is missing.
func (a *app) loadProfile(name string) (config.Profile, string, error) {
	_, profile, err := a.loader.EnsureProfile(name)
	if err != nil {
		return config.Profile{}, "", err
	}
	if name == "" {
		name = a.cfg.DefaultProfile
	}
	return profile, name, nil
}
