package transport

import "time"

// Reconnect backoff bounds.
const (
	BackoffBase = time.Second
	BackoffMax  = 60 * time.Second
)

// Backoff returns the wait before reconnect attempt n (1-based):
// min(1s * 2^(n-1), 60s).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= BackoffMax {
			return BackoffMax
		}
	}
	return d
}
