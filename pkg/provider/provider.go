package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/goose/pkg/message"
	"github.com/harun/goose/pkg/toolexecutor"
	"github.com/openai/openai-go"
)

// Provider is a model backend. Generate turns a conversation into the next assistant
// message and reports the tokens the call consumed.
type Provider interface {
	Generate(ctx context.Context, request Request) (*Response, error)
	Name() string
}

// Request contains the request parameters for one backend call
type Request struct {
	Model        string
	SystemPrompt string
	History      []message.Message
	Tools        []toolexecutor.ToolDefinition
	MaxTokens    int
	Temperature  float64
}

// Response is the assistant message produced by a backend call and its usage.
type Response struct {
	Message message.Message
	Usage   Usage
}

// Usage tracks token consumption
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Config selects and authenticates a backend.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Retry    RetryConfig
}

// Supported lists the backend names New accepts.
var Supported = []string{"openai", "anthropic"}

// New creates a backend wrapped with the retry policy from cfg.
func New(cfg Config) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "openai":
		p = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL)
	case "anthropic":
		p = NewAnthropicProvider(cfg.APIKey, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return WithRetry(p, cfg.Retry), nil
}

// IsRetryableError reports whether a failed call may succeed if repeated: rate limits,
// server errors and transient network failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "rate limit", "overloaded"} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
