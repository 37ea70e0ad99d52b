package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/openai/openai-go"

	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
)

// ErrUpstream wraps the last provider error once retries are exhausted or
// the error is not worth retrying.
var ErrUpstream = errors.New("llm upstream failure")

// Resilient bounds every attempt with a timeout and retries transient
// failures with exponential backoff.
type Resilient struct {
	inner       core.LLMProvider
	timeout     time.Duration
	maxAttempts uint
	initial     time.Duration
	log         *logger.Logger
}

func NewResilient(inner core.LLMProvider, timeout time.Duration, maxAttempts int, log *logger.Logger) *Resilient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Resilient{
		inner:       inner,
		timeout:     timeout,
		maxAttempts: uint(maxAttempts),
		initial:     500 * time.Millisecond,
		log:         log,
	}
}

func (r *Resilient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		out, err := r.inner.Generate(callCtx, systemPrompt, userPrompt)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return "", backoff.Permanent(err)
		}
		r.log.Warn("llm call failed, retrying", "attempt", attempt, "error", err)
		return "", err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initial
	eb.MaxInterval = 8 * time.Second

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.maxAttempts),
	)
	if err != nil {
		return "", fmt.Errorf("%w after %d attempt(s): %w", ErrUpstream, attempt, err)
	}
	return out, nil
}

// isTransient treats timeouts, throttling, server errors and empty replies as
// retryable. Other 4xx answers will not change on retry.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyCompletion) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= 500
	}
	return true
}

var _ core.LLMProvider = (*Resilient)(nil)
