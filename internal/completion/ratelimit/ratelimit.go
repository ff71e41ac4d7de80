package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/askdb/askdb/internal/completion"
)

// Limiter spaces calls to a Completer with a token bucket. A call that
// cannot get a token before its deadline fails as a quota error without
// reaching the provider.
type Limiter struct {
	next    completion.Completer
	limiter *rate.Limiter
}

// Wrap returns next unchanged when perSecond is not positive.
func Wrap(next completion.Completer, perSecond float64, burst int) completion.Completer {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Complete(ctx context.Context, req completion.Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", completion.Wrap("ratelimit", completion.KindTimeout, ctx.Err())
		}
		return "", completion.Wrap("ratelimit", completion.KindQuota, fmt.Errorf("wait for completion quota: %w", err))
	}
	return l.next.Complete(ctx, req)
}
