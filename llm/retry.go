package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds how often a transient failure is retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration // doubled after every attempt
	Timeout    time.Duration // per attempt; 0 disables
}

type retryClient struct {
	next    Client
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewLimiter returns a limiter admitting rpm requests per minute, or nil when
// rpm is not positive.
func NewLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// WithRetry wraps next so that transient failures are retried with
// exponential backoff. Quota, malformed and canceled failures return at once.
func WithRetry(next Client, policy RetryPolicy, limiter *rate.Limiter, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &retryClient{
		next:    next,
		policy:  policy,
		limiter: limiter,
		logger:  logger,
		sleep:   sleepWithContext,
	}
}

func (c *retryClient) Generate(ctx context.Context, req Request) (string, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}

		text, err := c.attempt(ctx, req)
		if err == nil {
			return text, nil
		}

		class := Classify(err)
		if class != ClassTransient || attempt >= c.policy.MaxRetries {
			return "", err
		}

		delay := c.policy.Backoff << attempt
		c.logger.Warn("retrying llm call",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return "", sleepErr
		}
	}
}

func (c *retryClient) attempt(ctx context.Context, req Request) (string, error) {
	if c.policy.Timeout <= 0 {
		return c.next.Generate(ctx, req)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	text, err := c.next.Generate(callCtx, req)
	if err != nil && ctx.Err() == nil && callCtx.Err() != nil {
		// Our own per-attempt deadline, not the caller's: treat as transient.
		return "", fmt.Errorf("%w: attempt timed out after %s", ErrUnavailable, c.policy.Timeout)
	}
	return text, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
