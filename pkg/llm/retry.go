package llm

import (
	"context"
	"errors"
	"math"
	"time"

	"gamesmith/pkg/llm/llmerrors"
	"gamesmith/pkg/logx"
)

// ThrottleSink counts rate-limit waits. The metrics recorder satisfies it.
type ThrottleSink interface {
	IncThrottle(model, reason string)
}

// RetryMiddleware retries failed completions with per-error-type budgets and
// exponential backoff. Auth and bad-prompt errors surface immediately; context
// cancellation is never retried. A retryable error that exhausts its budget
// surfaces as ErrorTypeServiceUnavailable so callers can stop calling. Each
// rate-limit wait is counted on throttle when one is provided.
func RetryMiddleware(logger *logx.Logger, throttle ThrottleSink) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				for attempt := 1; ; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return CompletionResponse{}, err
					}

					llmErr := llmerrors.Classify(err)
					if !llmErr.IsRetryable() {
						return CompletionResponse{}, llmErr
					}
					cfg := llmErr.GetRetryConfig()
					if attempt > cfg.MaxRetries {
						return CompletionResponse{}, llmerrors.NewServiceUnavailableError(llmErr, cfg.MaxRetries)
					}

					if throttle != nil && llmErr.Type == llmerrors.ErrorTypeRateLimit {
						throttle.IncThrottle(next.GetModelName(), "rate_limit")
					}

					delay := backoffDelay(cfg, attempt)
					if logger != nil {
						logger.Warn("LLM call failed (%s), retry %d/%d in %s: %v",
							llmErr.Type, attempt, cfg.MaxRetries, delay, err)
					}
					select {
					case <-ctx.Done():
						return CompletionResponse{}, ctx.Err()
					case <-time.After(delay):
					}
				}
			},
			next.GetModelName,
		)
	}
}

// backoffDelay computes the wait before retry number attempt.
func backoffDelay(cfg llmerrors.RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		jitterFactor := 2*time.Now().UnixNano()%2 - 1 // -1 or 1
		delay += time.Duration(float64(delay) * 0.1 * float64(jitterFactor))
		if delay < 0 {
			delay = cfg.InitialDelay
		}
	}
	return delay
}

// TimeoutMiddleware bounds every completion call with a deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
