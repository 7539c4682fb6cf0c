package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryOptions struct {
	MaxRetries      int // 0 disables retrying
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:      0,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Retrier re-runs operations that fail with a retryable error using
// exponential backoff.
type Retrier struct {
	opts RetryOptions
}

func NewRetrier(opts RetryOptions) *Retrier {
	def := DefaultRetryOptions()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = def.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = def.MaxInterval
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = def.Multiplier
	}
	return &Retrier{opts: opts}
}

func (r *Retrier) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxInterval = r.opts.MaxInterval
	b.Multiplier = r.opts.Multiplier
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxRetries)), ctx)
}

// Do returns the last error from operation unchanged.
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	if r == nil || r.opts.MaxRetries == 0 {
		return operation()
	}

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, r.newBackoff(ctx))
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}
