package relay

import "time"

const (
	// MaxFailures is the number of consecutive close events after which
	// the reported status drops from connecting to disconnected. Reconnect
	// attempts continue regardless.
	MaxFailures = 5

	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
)

// Backoff returns the reconnect delay after failures consecutive close
// events: 1s, 2s, 4s, ... capped at 30s. Counts below 1 are treated as 1.
func Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := backoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= backoffMax {
			return backoffMax
		}
	}
	return min(delay, backoffMax)
}
