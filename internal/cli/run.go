package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/goose/internal/console"
	"github.com/harun/goose/pkg/session"
	"github.com/spf13/cobra"
)

var (
	runProfile       string
	runResumeSession bool
)

var runCmd = &cobra.Command{
	Use:   "run [message-file]",
	Short: "Run a single turn from a file or stdin and exit",
	Long: `Run one operator turn without an interactive prompt. The message is read from
message-file, or from stdin when no file is given. The turn runs in a new session
unless --resume-session continues the most recent one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runProfile, "profile", "", "profile to use (default from config)")
	runCmd.Flags().BoolVar(&runResumeSession, "resume-session", false, "continue the most recent session")
	rootCmd.AddCommand(runCmd)
}

func readMessage(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) > 0 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("message is empty")
	}
	return text, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	text, err := readMessage(cmd, args)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var name string
	if runResumeSession {
		if name, err = a.store.Latest(); err != nil {
			return err
		}
	} else if name, err = session.UniqueName(a.store); err != nil {
		return err
	}

	profile, _, err := a.loadProfile(runProfile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	a.startTelemetry(ctx)

	con := console.New(strings.NewReader(""), cmd.OutOrStdout())
	live, err := a.openSession(ctx, name, profile, con)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go watchSignals(ctx, sigs, live.session, cancel)

	_, turnErr := live.session.ProcessOneTurn(ctx, text)
	closeErr := live.Close(context.WithoutCancel(ctx))

	con.Notice("To resume this session run: goose session resume %s", name)
	return errors.Join(turnErr, closeErr)
}
