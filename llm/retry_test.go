package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Generate(ctx context.Context, req Request) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	return "ok", nil
}

func newTestRetry(next Client, maxRetries int) (*retryClient, *[]time.Duration) {
	var slept []time.Duration
	c := WithRetry(next, RetryPolicy{MaxRetries: maxRetries, Backoff: 10 * time.Millisecond}, nil, nil).(*retryClient)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestRetryTransientThenSuccess(t *testing.T) {
	next := &scriptedClient{errs: []error{
		fmt.Errorf("first: %w", ErrUnavailable),
		fmt.Errorf("second: %w", ErrUnavailable),
	}}
	client, slept := newTestRetry(next, 3)

	text, err := client.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	next := &scriptedClient{errs: []error{ErrUnavailable, ErrUnavailable, ErrUnavailable}}
	client, _ := newTestRetry(next, 2)

	_, err := client.Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, next.calls)
}

func TestRetryNeverRetriesQuota(t *testing.T) {
	next := &scriptedClient{errs: []error{fmt.Errorf("429: %w", ErrQuotaExceeded)}}
	client, slept := newTestRetry(next, 5)

	_, err := client.Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, next.calls)
	assert.Empty(t, *slept)
}

func TestRetryNeverRetriesOtherErrors(t *testing.T) {
	next := &scriptedClient{errs: []error{errors.New("bad request")}}
	client, _ := newTestRetry(next, 5)

	_, err := client.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}

type slowClient struct{ calls int }

func (s *slowClient) Generate(ctx context.Context, req Request) (string, error) {
	s.calls++
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRetryPerAttemptTimeoutIsTransient(t *testing.T) {
	next := &slowClient{}
	client := WithRetry(next, RetryPolicy{MaxRetries: 1, Timeout: 5 * time.Millisecond}, nil, nil).(*retryClient)
	client.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := client.Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, next.calls)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	assert.NotNil(t, NewLimiter(60))
}
