package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/goose/internal/observability"
	"github.com/harun/goose/internal/tracing"
	"github.com/harun/goose/pkg/exchange"
	"github.com/harun/goose/pkg/message"
	"github.com/harun/goose/pkg/stats"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxToolRounds = 50

	interruptedToolOutput = "The tool call was interrupted by the operator before it produced a result."
	skippedToolOutput     = "The tool call was skipped because the operator interrupted the turn."
	roundLimitToolOutput  = "The tool call was not run because the turn stopped after reaching the tool-round limit."
)

// State is a position in the session loop.
type State int32

const (
	StateIdle State = iota
	StateAwaitingInput
	StateGenerating
	StateDispatchingTools
	StateInterrupted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateGenerating:
		return "generating"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateInterrupted:
		return "interrupted"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// InterruptPolicy selects how Interrupt affects work already in flight.
type InterruptPolicy string

const (
	// PolicyCooperative only raises the flag. In-flight calls run to completion and the
	// flag is handled at the next loop boundary.
	PolicyCooperative InterruptPolicy = "cooperative"
	// PolicyPreemptive also cancels the context of the in-flight backend or tool call.
	PolicyPreemptive InterruptPolicy = "preemptive"
)

// ParseInterruptPolicy accepts "cooperative", "preemptive" or an empty string for the default.
func ParseInterruptPolicy(s string) (InterruptPolicy, error) {
	switch InterruptPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyCooperative:
		return PolicyCooperative, nil
	case PolicyPreemptive:
		return PolicyPreemptive, nil
	default:
		return "", fmt.Errorf("unknown interrupt policy %q", s)
	}
}

// Operator is the human side of the session. ReadLine returns io.EOF at end of input.
type Operator interface {
	ReadLine(ctx context.Context) (string, error)
	Display(text string)
}

// Advisor is implemented by operators that render advisories differently from replies.
type Advisor interface {
	Advise(text string)
}

// Recorder keeps the stats of finished sessions.
type Recorder interface {
	Record(ctx context.Context, s stats.SessionStats) error
}

// Config holds Session configuration
type Config struct {
	Name     string
	Exchange *exchange.Exchange
	// Store persists the history. Nil keeps the session in memory only.
	Store *Store
	// Operator is required by Run. ProcessOneTurn displays through it when set.
	Operator        Operator
	Ledger          Recorder
	InterruptPolicy InterruptPolicy
	// ToolConcurrency above one runs the tool calls of a turn in parallel.
	ToolConcurrency int
	// MaxToolRounds caps generate/dispatch cycles per turn. Zero means DefaultMaxToolRounds,
	// a negative value removes the cap.
	MaxToolRounds int
	CostPerToken  float64
}

// TurnResult describes how one operator turn ended.
type TurnResult struct {
	// Reply is the final assistant message. It is empty when the turn was interrupted.
	Reply       message.Message
	ToolRounds  int
	Interrupted bool
	Advisory    string
}

// Session drives one conversation: it reads operator turns, calls the model through its
// Exchange, dispatches requested tools and recovers from interrupts.
type Session struct {
	name     string
	exchange *exchange.Exchange
	store    *Store
	operator Operator
	ledger   Recorder
	policy   InterruptPolicy

	toolConcurrency int
	maxToolRounds   int

	interrupts atomic.Int64
	state      atomic.Int32

	inflightMu sync.Mutex
	inflight   context.CancelFunc

	statsMu sync.Mutex
	stats   *stats.SessionStats

	// turnMu serializes turns. persisted and danglingOutput are guarded by it.
	turnMu    sync.Mutex
	persisted int
	// danglingOutput answers tool calls left unanswered by the previous turn.
	danglingOutput string

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a session. With a Store configured the existing log for the name is loaded
// into the Exchange; any failure there aborts startup.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	if cfg.Exchange == nil {
		return nil, errors.New("exchange is required")
	}
	policy := cfg.InterruptPolicy
	if policy == "" {
		policy = PolicyCooperative
	}
	if policy != PolicyCooperative && policy != PolicyPreemptive {
		return nil, fmt.Errorf("unknown interrupt policy %q", policy)
	}
	if cfg.MaxToolRounds == 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.ToolConcurrency <= 0 {
		cfg.ToolConcurrency = 1
	}

	s := &Session{
		name:            cfg.Name,
		exchange:        cfg.Exchange,
		store:           cfg.Store,
		operator:        cfg.Operator,
		ledger:          cfg.Ledger,
		policy:          policy,
		toolConcurrency: cfg.ToolConcurrency,
		maxToolRounds:   cfg.MaxToolRounds,
		stats:           stats.New(cfg.Name, cfg.CostPerToken),
	}

	if s.store != nil {
		history, err := s.store.Load(ctx, s.name)
		if err != nil {
			return nil, err
		}
		if err := s.exchange.Restore(history); err != nil {
			return nil, &PersistenceError{Op: "restore", Session: s.name, Err: err}
		}
		s.persisted = len(history)
	}

	observability.SessionStarted()
	observability.RecordSessionAudit(ctx, "start", s.name, map[string]interface{}{
		"restored_messages": s.persisted,
		"interrupt_policy":  string(s.policy),
	})
	log.Info().
		Str("session", s.name).
		Int("restored_messages", s.persisted).
		Str("interrupt_policy", string(s.policy)).
		Msg("Session started")

	return s, nil
}

func (s *Session) Name() string {
	return s.name
}

// State returns the current loop state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// History returns a copy of the conversation.
func (s *Session) History() []message.Message {
	return s.exchange.HistorySnapshot()
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() stats.SessionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.Snapshot()
}

func (s *Session) countMessage() {
	s.statsMu.Lock()
	s.stats.AddMessage()
	s.statsMu.Unlock()
}

func (s *Session) countTokens(n int64) {
	s.statsMu.Lock()
	s.stats.AddTokens(n)
	s.statsMu.Unlock()
}

// Run reads operator turns until end of input, an empty line, or ctx is done, and then
// terminates the session.
func (s *Session) Run(ctx context.Context) error {
	if s.operator == nil {
		return ErrNoOperator
	}
	if s.closed.Load() {
		return ErrTerminated
	}
	defer s.Close(context.WithoutCancel(ctx))

	ctx = tracing.NewSessionContext(ctx, s.name)

	for {
		s.turnMu.Lock()
		s.recoverInterrupt(ctx)
		s.turnMu.Unlock()

		s.setState(StateAwaitingInput)
		line, err := s.operator.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read operator input: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			return nil
		}

		if _, err := s.ProcessOneTurn(ctx, line); err != nil {
			if errors.Is(err, ErrTerminated) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.reportError(err)
		}
	}
}

// ProcessOneTurn submits one operator turn and runs generate/dispatch cycles until the
// model answers without tool calls. Backend failures are returned with the history as it
// was before the failing call. An interrupt ends the turn with Interrupted set and a nil
// error.
func (s *Session) ProcessOneTurn(ctx context.Context, text string) (TurnResult, error) {
	if s.closed.Load() {
		return TurnResult{}, ErrTerminated
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	ctx = tracing.NewTurnContext(tracing.NewSessionContext(ctx, s.name))
	ctx, span := tracing.StartSpan(ctx, "session.turn")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	result, err := s.turn(ctx, text)

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "error"
		if errors.Is(err, ErrToolRoundLimit) {
			outcome = "tool_round_limit"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn().Err(err).Int("tool_rounds", result.ToolRounds).Msg("Turn failed")
	case result.Interrupted:
		outcome = "interrupted"
		logger.Info().Str("advisory", result.Advisory).Msg("Turn interrupted")
	default:
		logger.Debug().Int("tool_rounds", result.ToolRounds).Msg("Turn completed")
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("tool_rounds", result.ToolRounds))
	observability.RecordTurn(outcome)

	if s.closed.Load() {
		s.setState(StateTerminated)
	} else {
		s.setState(StateAwaitingInput)
	}
	return result, err
}

func (s *Session) turn(ctx context.Context, text string) (TurnResult, error) {
	if err := s.exchange.AddMessage(s.operatorMessage(text)); err != nil {
		return TurnResult{}, err
	}
	s.countMessage()

	rounds := 0
	for {
		if advisory, ok := s.recoverInterrupt(ctx); ok {
			return TurnResult{ToolRounds: rounds, Interrupted: true, Advisory: advisory}, nil
		}

		s.setState(StateGenerating)
		reply, err := s.generate(ctx)
		if err != nil {
			if advisory, ok := s.recoverInterrupt(ctx); ok {
				return TurnResult{ToolRounds: rounds, Interrupted: true, Advisory: advisory}, nil
			}
			return TurnResult{ToolRounds: rounds}, err
		}

		if text := reply.Text(); text != "" {
			s.display(text)
		}
		if !reply.HasToolUse() {
			return TurnResult{Reply: reply, ToolRounds: rounds}, nil
		}

		rounds++
		if s.maxToolRounds > 0 && rounds > s.maxToolRounds {
			s.danglingOutput = roundLimitToolOutput
			return TurnResult{ToolRounds: rounds - 1}, fmt.Errorf("%w: %d rounds", ErrToolRoundLimit, s.maxToolRounds)
		}

		if advisory, ok := s.recoverInterrupt(ctx); ok {
			return TurnResult{ToolRounds: rounds - 1, Interrupted: true, Advisory: advisory}, nil
		}

		s.setState(StateDispatchingTools)
		results := s.dispatch(ctx, reply.ToolUses())
		if err := s.exchange.AddMessage(message.WithToolResults(results...)); err != nil {
			return TurnResult{ToolRounds: rounds}, err
		}
		s.countMessage()
		s.flush(ctx)
	}
}

// operatorMessage builds the user message for an operator turn. When the conversation
// still ends with unanswered tool calls, after an interrupt or the tool-round limit, each
// of them is answered with an error result ahead of the operator's text.
func (s *Session) operatorMessage(text string) message.Message {
	output := interruptedToolOutput
	if s.danglingOutput != "" {
		output = s.danglingOutput
		s.danglingOutput = ""
	}

	last, ok := s.exchange.Last()
	if !ok || last.Role != message.RoleAssistant || !last.HasToolUse() {
		return message.User(text)
	}

	content := make([]message.Content, 0, len(last.Content)+1)
	for _, use := range last.ToolUses() {
		content = append(content, message.ErrorResult(use.ID, output))
	}
	content = append(content, message.Text{Text: text})
	return message.New(message.RoleUser, content...)
}

func (s *Session) generate(ctx context.Context) (message.Message, error) {
	ctx, done := s.track(ctx)
	defer done()

	before := s.exchange.TokenUsage()
	reply, err := s.exchange.Generate(ctx, s.exchange.Tools())
	if err != nil {
		return message.Message{}, err
	}
	after := s.exchange.TokenUsage()

	s.countMessage()
	s.countTokens(after.Total() - before.Total())
	s.flush(ctx)
	return reply, nil
}

// dispatch runs every tool call of one assistant turn and returns the results in call order.
func (s *Session) dispatch(ctx context.Context, uses []message.ToolUse) []message.ToolResult {
	ctx, done := s.track(ctx)
	defer done()

	results := make([]message.ToolResult, len(uses))

	if s.toolConcurrency <= 1 || len(uses) == 1 {
		for i, use := range uses {
			if i > 0 && s.IsInterrupted() {
				results[i] = message.ErrorResult(use.ID, skippedToolOutput)
				continue
			}
			results[i] = s.exchange.DispatchTool(ctx, use)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.toolConcurrency)
	for i, use := range uses {
		g.Go(func() error {
			results[i] = s.exchange.DispatchTool(gctx, use)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// track registers a cancel func for the in-flight call so a preemptive Interrupt can
// abort it.
func (s *Session) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.inflightMu.Lock()
	s.inflight = cancel
	s.inflightMu.Unlock()

	// an Interrupt that raced with the registration above must still cancel
	if s.policy == PolicyPreemptive && s.IsInterrupted() {
		cancel()
	}

	return ctx, func() {
		s.inflightMu.Lock()
		s.inflight = nil
		s.inflightMu.Unlock()
		cancel()
	}
}

// flush appends history entries not yet in the session log. Failures are reported but
// leave the in-memory conversation untouched.
func (s *Session) flush(ctx context.Context) {
	if s.store == nil {
		return
	}
	history := s.exchange.HistorySnapshot()
	if s.persisted >= len(history) {
		return
	}
	if err := s.store.Append(ctx, s.name, history[s.persisted:]...); err != nil {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Error().Err(err).Msg("Failed to persist messages")
		s.reportError(err)
		return
	}
	s.persisted = len(history)
}

// Close terminates the session: it stamps the end time, records the stats and logs the
// summary. Later calls do nothing.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancelInflight()

		s.turnMu.Lock()
		defer s.turnMu.Unlock()

		s.setState(StateTerminated)
		s.flush(ctx)

		s.statsMu.Lock()
		s.stats.Complete()
		final := s.stats.Snapshot()
		s.statsMu.Unlock()

		if s.ledger != nil {
			if rerr := s.ledger.Record(ctx, final); rerr != nil {
				err = fmt.Errorf("failed to record session stats: %w", rerr)
			}
		}

		observability.SessionEnded()
		observability.RecordSessionAudit(ctx, "end", s.name, map[string]interface{}{
			"message_count": final.TotalMessages,
			"token_count":   final.TotalTokens,
		})
		log.Info().
			Str("session", s.name).
			Int64("message_count", final.TotalMessages).
			Int64("token_count", final.TotalTokens).
			Float64("accrued_cost", final.TotalCost).
			Dur("duration", final.Duration()).
			Msg("Session terminated")
	})
	return err
}

func (s *Session) display(text string) {
	if s.operator != nil {
		s.operator.Display(text)
	}
}

func (s *Session) advise(text string) {
	if s.operator == nil {
		return
	}
	if a, ok := s.operator.(Advisor); ok {
		a.Advise(text)
		return
	}
	s.operator.Display(text)
}

func (s *Session) reportError(err error) {
	switch {
	case errors.Is(err, exchange.ErrTimeout):
		s.advise(fmt.Sprintf("The model did not answer in time: %v", err))
	case errors.Is(err, exchange.ErrProvider):
		s.advise(fmt.Sprintf("The model call failed: %v", err))
	case errors.Is(err, ErrToolRoundLimit):
		s.advise(fmt.Sprintf("Stopped after too many tool calls (%v). How would you like to proceed?", err))
	default:
		s.advise(fmt.Sprintf("Error: %v", err))
	}
}

// Duration reports how long the session has been running.
func (s *Session) Duration() time.Duration {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.Duration()
}
