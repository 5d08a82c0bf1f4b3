package generation

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps t so that calls wait for a token from limiter. A nil
// limiter returns t unchanged.
func RateLimited(t Translator, limiter *rate.Limiter) Translator {
	if limiter == nil {
		return t
	}
	return TranslatorFunc(func(ctx context.Context, req Request) (string, error) {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", ErrTransientFailure
		}
		return t.Translate(ctx, req)
	})
}

// NewLimiter returns a limiter allowing perSecond requests with the given
// burst, or nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
