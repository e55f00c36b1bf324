package jobs

import (
	"math/rand"
	"time"
)

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// retryDelay computes the wait before attempt n+1 is redelivered: exponential
// from the base, capped, with jitter so a burst of failures does not retry in
// lockstep.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
