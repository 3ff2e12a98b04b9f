package openai

import (
	"time"

	"golang.org/x/time/rate"
)

// newLimiter converts a requests-per-minute budget into a token bucket. A non-positive rpm disables limiting.
func newLimiter(rpm int, burst int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
}
