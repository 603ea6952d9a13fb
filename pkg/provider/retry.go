package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// RetryConfig controls WithRetry. MaxRetries of zero disables retries.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the retry policy used by the CLI.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

type retryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry repeats failed Generate calls with exponential backoff and jitter, but only
// for errors IsRetryableError accepts.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.MaxRetries <= 0 {
		return p
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &retryingProvider{inner: p, cfg: cfg}
}

func (r *retryingProvider) Name() string {
	return r.inner.Name()
}

// Unwrap returns the wrapped provider.
func (r *retryingProvider) Unwrap() Provider {
	return r.inner
}

func (r *retryingProvider) Generate(ctx context.Context, request Request) (*Response, error) {
	var resp *Response
	attempt := 0

	operation := func() error {
		attempt++
		out, err := r.inner.Generate(ctx, request)
		if err != nil {
			if !IsRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}

	notify := func(err error, delay time.Duration) {
		log.Warn().
			Str("provider", r.inner.Name()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")
	}

	if err := backoff.RetryNotify(operation, r.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *retryingProvider) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries)), ctx)
}
