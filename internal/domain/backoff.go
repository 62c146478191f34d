package domain

import (
	"math/rand"
	"time"
)

// Backoff computes the exponential-with-jitter delay before the next retry
// attempt, given how many retries have already been scheduled (0 for the
// first retry):
//
//	delay(k) = min(maxBackoff, base * 2^k) + U(0,1) seconds
func Backoff(base, max time.Duration, retriesDone int) time.Duration {
	d := base
	for i := 0; i < retriesDone; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Float64() * float64(time.Second))
	return d + jitter
}
