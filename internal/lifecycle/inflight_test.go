package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInFlight_CountAndEnd(t *testing.T) {
	var f InFlight

	if got := f.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	end1 := f.Begin()
	end2 := f.Begin()
	if got := f.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}

	end1()
	end1()
	if got := f.Count(); got != 1 {
		t.Errorf("Count() = %d after double end, want 1", got)
	}

	end2()
	if got := f.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestInFlight_WaitReturnsWhenIdle(t *testing.T) {
	var f InFlight
	end := f.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Wait(ctx) }()

	time.Sleep(10 * time.Millisecond)
	end()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after count reached zero")
	}
}

func TestInFlight_WaitHonorsContext(t *testing.T) {
	var f InFlight
	defer f.Begin()()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestInFlight_WaitOnZeroValue(t *testing.T) {
	var f InFlight
	if err := f.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestInFlight_ReusableAfterIdle(t *testing.T) {
	var f InFlight
	f.Begin()()
	end := f.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx); err == nil {
		t.Error("Wait() returned nil while a second unit is in flight")
	}
	end()
	if err := f.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestBeginRun_PackageCounters(t *testing.T) {
	end := BeginRun()
	if got := RunsInFlight(); got != 1 {
		t.Errorf("RunsInFlight() = %d, want 1", got)
	}
	if got := RequestsInFlight(); got != 0 {
		t.Errorf("RequestsInFlight() = %d, want 0", got)
	}
	end()
	if err := WaitForRuns(context.Background()); err != nil {
		t.Errorf("WaitForRuns() error = %v", err)
	}

	endReq := BeginRequest()
	endReq()
	if err := WaitForRequests(context.Background()); err != nil {
		t.Errorf("WaitForRequests() error = %v", err)
	}
}
