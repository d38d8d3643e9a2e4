package metrics

import "sync/atomic"

// Counters are plain atomic mirrors of the main Prometheus counters,
// exposed on the scheduler instance so tests and the interactive commands
// can assert on them without scraping.
type Counters struct {
	Received  atomic.Int64
	Processed atomic.Int64
	Failed    atomic.Int64
}
