package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits request admission for one session. A nil *Throttle or one
// built with a non-positive rate admits everything.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle admits perSecond requests per second with the given burst.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return &Throttle{}
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// AllowAt reports whether a request arriving at now may proceed.
func (t *Throttle) AllowAt(now time.Time) bool {
	if t == nil || t.limiter == nil {
		return true
	}
	return t.limiter.AllowN(now, 1)
}
