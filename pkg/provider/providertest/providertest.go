// Package providertest provides model backend doubles for tests.
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/harun/goose/pkg/message"
	"github.com/harun/goose/pkg/provider"
	"github.com/stretchr/testify/mock"
)

// ErrExhausted is returned when a Scripted provider runs out of steps.
var ErrExhausted = errors.New("providertest: script exhausted")

// Step is one scripted backend reply. Exactly one of Message or Err is meaningful; Wait,
// when set, blocks the call until it is closed or the context is done.
type Step struct {
	Message message.Message
	Usage   provider.Usage
	Err     error
	Wait    <-chan struct{}
}

// Reply builds a Step returning an assistant message with the given content.
func Reply(usage int64, content ...message.Content) Step {
	return Step{
		Message: message.New(message.RoleAssistant, content...),
		Usage:   provider.Usage{InputTokens: usage},
	}
}

// Fail builds a Step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Scripted replays a fixed sequence of steps and records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []provider.Request
}

// NewScripted returns a provider that answers calls with steps, in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) Name() string {
	return "scripted"
}

func (s *Scripted) Generate(ctx context.Context, request provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, request)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return nil, ErrExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Wait != nil {
		select {
		case <-step.Wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &provider.Response{Message: step.Message.Clone(), Usage: step.Usage}, nil
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of Generate calls.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Mock is a testify mock of provider.Provider.
type Mock struct {
	mock.Mock
}

func (m *Mock) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *Mock) Generate(ctx context.Context, request provider.Request) (*provider.Response, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*provider.Response)
	return resp, args.Error(1)
}
