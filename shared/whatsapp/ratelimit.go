package whatsapp

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedSender paces calls to the wrapped Sender with a token bucket.
type RateLimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimitedSender allows perSecond sends on average with the given
// burst. A non-positive perSecond returns next unwrapped.
func NewRateLimitedSender(next Sender, perSecond float64, burst int) Sender {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for a token. If ctx ends first no request is made and the
// result is a status-0 failure, which callers treat as retryable.
func (s *RateLimitedSender) Send(ctx context.Context, msg Message) Result {
	if err := s.limiter.Wait(ctx); err != nil {
		return Result{Error: "rate limiter: " + err.Error()}
	}
	return s.next.Send(ctx, msg)
}
