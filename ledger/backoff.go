package ledger

import (
	"math"
	"math/rand"
	"time"
)

// DefaultJitter is the jitter factor applied to retry delays.
const DefaultJitter = 0.2

// Delay calculates the delay for a given retry attempt using exponential
// backoff with jitter.
func Delay(baseDelay, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if jitter > 0 {
		jitterFactor := 1 - jitter + rand.Float64()*2*jitter
		delay *= jitterFactor
	}

	return time.Duration(delay)
}
