package lifecycle

import (
	"context"
	"sync"
)

// InFlight counts units of work currently executing and lets shutdown wait for them.
// The zero value is ready to use.
type InFlight struct {
	mu    sync.Mutex
	count int64
	idle  chan struct{}
}

// Begin adds one unit of work and returns the func that ends it. The returned func
// is safe to call more than once.
func (f *InFlight) Begin() (end func()) {
	f.mu.Lock()
	if f.count == 0 {
		f.idle = make(chan struct{})
	}
	f.count++
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(f.end) }
}

func (f *InFlight) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count--
	if f.count == 0 {
		close(f.idle)
	}
}

// Count returns the number of units currently executing.
func (f *InFlight) Count() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Wait blocks until the count reaches zero or ctx is done.
func (f *InFlight) Wait(ctx context.Context) error {
	f.mu.Lock()
	if f.count == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	runs     InFlight
	requests InFlight
)

// BeginRun marks a harvest run as started. Call the returned func when it finishes.
func BeginRun() (end func()) {
	return runs.Begin()
}

// RunsInFlight returns the number of harvest runs executing.
func RunsInFlight() int64 {
	return runs.Count()
}

// WaitForRuns blocks until no harvest run is executing or ctx is done.
func WaitForRuns(ctx context.Context) error {
	return runs.Wait(ctx)
}

// BeginRequest marks an HTTP request as being served. Call the returned func when done.
func BeginRequest() (end func()) {
	return requests.Begin()
}

// RequestsInFlight returns the number of HTTP requests being served.
func RequestsInFlight() int64 {
	return requests.Count()
}

// WaitForRequests blocks until no HTTP request is being served or ctx is done.
func WaitForRequests(ctx context.Context) error {
	return requests.Wait(ctx)
}
