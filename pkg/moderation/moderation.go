// Package moderation shapes the history an Exchange sends to the model. Moderators never
// change the stored history, only the view of it that reaches the backend.
package moderation

import (
	"fmt"
	"strings"

	"github.com/harun/goose/pkg/message"
	"github.com/rs/zerolog/log"
)

// DefaultContextTokens is the budget used by truncate when none is configured.
const DefaultContextTokens = 100000

// Moderator rewrites the history sent with a model call.
type Moderator interface {
	Name() string
	Moderate(history []message.Message) []message.Message
}

// Options configures the moderators created by New.
type Options struct {
	// ContextTokens is the estimated token budget for truncate. Zero means
	// DefaultContextTokens.
	ContextTokens int
}

// Available lists the names New accepts.
var Available = []string{"passive", "truncate"}

// New returns the moderator called name. An empty name is passive.
func New(name string, opts Options) (Moderator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "passive":
		return Passive{}, nil
	case "truncate":
		return NewTruncate(opts.ContextTokens), nil
	default:
		return nil, fmt.Errorf("unknown moderator %q (available: %s)", name, strings.Join(Available, ", "))
	}
}

// Passive sends the history unchanged.
type Passive struct{}

func (Passive) Name() string { return "passive" }

func (Passive) Moderate(history []message.Message) []message.Message { return history }

// Truncate drops the oldest operator turns until the estimated size of the history fits
// the budget. It only cuts in front of a plain operator message, so every tool result
// that is sent still follows its tool use. The newest turn is always kept.
type Truncate struct {
	budget int
}

func NewTruncate(contextTokens int) *Truncate {
	if contextTokens <= 0 {
		contextTokens = DefaultContextTokens
	}
	return &Truncate{budget: contextTokens}
}

func (t *Truncate) Name() string { return "truncate" }

func (t *Truncate) Moderate(history []message.Message) []message.Message {
	cut := -1
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += EstimateTokens(history[i])
		if total > t.budget && cut >= 0 {
			break
		}
		if turnStart(history[i]) {
			cut = i
		}
	}
	if cut <= 0 {
		return history
	}

	log.Debug().
		Int("dropped", cut).
		Int("kept", len(history)-cut).
		Int("budget", t.budget).
		Msg("History truncated for model call")
	return history[cut:]
}

// turnStart reports whether msg opens an operator turn, i.e. a user message that does
// not answer earlier tool calls.
func turnStart(msg message.Message) bool {
	return msg.Role == message.RoleUser && !msg.HasToolResult()
}

// EstimateTokens approximates the token count of msg at four characters per token.
func EstimateTokens(msg message.Message) int {
	chars := 0
	for _, c := range msg.Content {
		chars += len(c.String())
	}
	return (chars+3)/4 + 1
}
