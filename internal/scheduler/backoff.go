package scheduler

import "time"

const (
	backoffBase    = 30 * time.Second
	backoffCeiling = 1 * time.Hour
)

// failureBackoff returns the delay before retrying a task that has now
// failed `failures` consecutive times: 30s, 60s, 120s, ... capped at 1h.
// Deterministic on purpose — operators can predict the retry ladder from
// the failure count alone.
func failureBackoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := backoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= backoffCeiling {
			return backoffCeiling
		}
	}
	return delay
}
