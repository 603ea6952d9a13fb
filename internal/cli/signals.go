package cli

import (
	"context"
	"os"
	"syscall"

	"github.com/harun/goose/pkg/session"
	"github.com/rs/zerolog/log"
)

// interruptible is the part of a session the signal watcher drives.
type interruptible interface {
	Interrupt()
	IsInterrupted() bool
	State() session.State
}

// watchSignals turns SIGINT into session interrupts until ctx ends. A SIGINT while the
// session is already interrupted or waiting for input, and any SIGTERM, cancels instead.
func watchSignals(ctx context.Context, sigs <-chan os.Signal, target interruptible, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGTERM {
				log.Info().Str("signal", sig.String()).Msg("Received signal")
				cancel()
				return
			}
			if target.IsInterrupted() || target.State() == session.StateAwaitingInput {
				log.Info().Str("signal", sig.String()).Msg("Exiting on repeated interrupt")
				cancel()
				return
			}
			log.Debug().Str("state", target.State().String()).Msg("Interrupt requested")
			target.Interrupt()
		}
	}
}
