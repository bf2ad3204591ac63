package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// CompleteWithRetry calls p.Complete with up to retries additional attempts,
// sleeping 2^attempt seconds between them. A rate-limited error propagates
// immediately without consuming a retry: rate limits are resolved by rotating
// providers, not by waiting. Stats and health are recorded per attempt; the
// returned result carries measured latency and estimated cost.
func CompleteWithRetry(ctx context.Context, p Provider, req *Request, retries int, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	operation := func() (*Result, error) {
		start := time.Now()
		res, err := p.Complete(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			p.RecordFailure(err)
			var pe *Error
			if errors.As(err, &pe) && !pe.Retryable {
				// Permanent for this provider; the router moves on.
				return nil, backoff.Permanent(err)
			}
			log.Warn("provider call failed, will retry",
				zap.String("provider", p.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			attempt++
			return nil, err
		}

		p.RecordSuccess(elapsed, res.InputTokens, res.OutputTokens)
		res.Latency = elapsed
		res.Cost = p.EstimateCost(res.InputTokens, res.OutputTokens)
		return res, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 60 * time.Second

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries)+1),
	)
}
