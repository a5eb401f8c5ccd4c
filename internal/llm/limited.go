package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited wraps a gateway with a shared token-bucket rate limiter.
type Limited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls on average with the given burst.
func NewLimited(next Gateway, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Name returns the wrapped gateway's name.
func (l *Limited) Name() string { return l.next.Name() }

// Complete waits for a token, then delegates.
func (l *Limited) Complete(ctx context.Context, p Prompt, hint SchemaHint) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", &ProviderError{Provider: l.next.Name(), Reason: ReasonTimeout, Err: err}
	}
	return l.next.Complete(ctx, p, hint)
}

// Embed waits for a token, then delegates.
func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Provider: l.next.Name(), Reason: ReasonTimeout, Err: err}
	}
	return l.next.Embed(ctx, text)
}

// Unwrap returns the wrapped gateway.
func (l *Limited) Unwrap() Gateway { return l.next }
