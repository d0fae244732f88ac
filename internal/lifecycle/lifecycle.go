// Package lifecycle holds process-wide drain state: the shutdown flag and the
// counters of harvest runs and HTTP requests still in progress.
package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true, and no new run starts.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not start new runs.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
