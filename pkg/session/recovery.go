package session

import (
	"context"
	"errors"

	"github.com/harun/goose/internal/observability"
	"github.com/harun/goose/internal/tracing"
	"github.com/harun/goose/pkg/exchange"
	"github.com/harun/goose/pkg/message"
	"github.com/rs/zerolog/log"
)

const (
	AdvisoryDefault     = "We interrupted before the next processing started."
	AdvisoryRemovedTurn = "We interrupted before the model replied and removed the last message."
	AdvisoryToolCall    = "We interrupted the existing tool call. How would you like to proceed?"
)

// Interrupt asks the session to stop the current turn. It only raises a flag that the
// loop polls at its boundaries; under PolicyPreemptive it also cancels the in-flight
// backend or tool call. Safe to call from any goroutine, including signal handlers.
func (s *Session) Interrupt() {
	s.interrupts.Add(1)
	observability.RecordInterrupt("signal")
	if s.policy == PolicyPreemptive {
		s.cancelInflight()
	}
}

// IsInterrupted reports whether an interrupt is waiting to be handled.
func (s *Session) IsInterrupted() bool {
	return s.interrupts.Load() > 0
}

func (s *Session) cancelInflight() {
	s.inflightMu.Lock()
	cancel := s.inflight
	s.inflightMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// recoverInterrupt repairs the history after an interrupt. A trailing operator turn never
// got its reply and is removed; a trailing message that only carries tool results is kept. A trailing assistant message with tool calls is kept and
// the operator is asked how to proceed. The interrupts seen at the start are cleared as
// the last step, so an Interrupt arriving meanwhile stays pending.
func (s *Session) recoverInterrupt(ctx context.Context) (string, bool) {
	pending := s.interrupts.Load()
	if pending == 0 {
		return "", false
	}
	s.setState(StateInterrupted)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	advisory := AdvisoryDefault
	action := "none"

	if last, ok := s.exchange.Last(); ok && operatorTurn(last) {
		if _, err := s.exchange.Rewind(); err != nil && !errors.Is(err, exchange.ErrEmptyHistory) {
			logger.Error().Err(err).Msg("Failed to remove interrupted message")
		} else {
			advisory = AdvisoryRemovedTurn
			action = "removed_user_message"
			s.forget(ctx)
		}
	} else if ok && last.Role == message.RoleUser {
		// results of tools that already ran stay in the history
		advisory = AdvisoryToolCall
		action = "kept_tool_results"
	}
	if last, ok := s.exchange.Last(); ok && last.Role == message.RoleAssistant && last.HasToolUse() {
		advisory = AdvisoryToolCall
		action = "pending_tool_call"
	}

	observability.RecordInterrupt(action)
	observability.RecordInterruptAudit(ctx, s.name, action)
	logger.Info().Str("action", action).Int64("signals", pending).Msg("Interrupt recovered")

	s.advise(advisory)
	s.interrupts.Add(-pending)
	return advisory, true
}

// forget rewrites the session log when a removed message had already been persisted.
func (s *Session) forget(ctx context.Context) {
	n := s.exchange.Len()
	if s.store == nil || s.persisted <= n {
		return
	}
	if err := s.store.Rewrite(ctx, s.name, s.exchange.HistorySnapshot()); err != nil {
		log.Error().Err(err).Str("session", s.name).Msg("Failed to rewrite session log")
		return
	}
	s.persisted = n
}

// operatorTurn reports whether msg carries operator text, as opposed to a message that
// only returns tool results to the model.
func operatorTurn(msg message.Message) bool {
	if msg.Role != message.RoleUser {
		return false
	}
	for _, c := range msg.Content {
		if c.Kind() == message.KindText {
			return true
		}
	}
	return false
}
