package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

type transitions struct {
	mu  sync.Mutex
	got []string
}

func (tr *transitions) record(from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, from.String()+"->"+to.String())
}

func (tr *transitions) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.got...)
}

// TestCircuitBreaker_OpensAfterConsecutiveFailures verifies that the circuit opens after
// FailureThreshold failures in a row and then rejects calls without running them.
func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	tr := &transitions{}
	cb := New(Config{FailureThreshold: 3, Timeout: time.Minute, Component: "feed", OnStateChange: tr.record})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Call(ctx, func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d error = %v, want upstream error", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	ran := false
	err := cb.Call(ctx, func() error { ran = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Call() error = %v, want ErrOpen", err)
	}
	if ran {
		t.Error("fn ran while circuit open")
	}
	if got := tr.list(); len(got) != 1 || got[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", got)
	}
}

// TestCircuitBreaker_SuccessResetsFailureCount verifies that only consecutive failures count.
func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	cb.Call(ctx, func() error { return errUpstream })
	cb.Call(ctx, func() error { return nil })
	cb.Call(ctx, func() error { return errUpstream })

	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

// TestCircuitBreaker_HalfOpenRecovers verifies the open -> half_open -> closed path once
// the timeout elapsed and trial calls succeed.
func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	tr := &transitions{}
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 20 * time.Millisecond, OnStateChange: tr.record})
	ctx := context.Background()

	cb.Call(ctx, func() error { return errUpstream })
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
	time.Sleep(40 * time.Millisecond)

	if err := cb.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("half-open call error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	got := tr.list()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transitions = %v, want %v", got, want)
		}
	}
}

// TestCircuitBreaker_CanceledCallsDoNotTrip verifies that a canceled caller is not
// counted as an upstream failure.
func TestCircuitBreaker_CanceledCallsDoNotTrip(t *testing.T) {
	cb := New(Config{FailureThreshold: 1})

	err := cb.Call(context.Background(), func() error { return context.Canceled })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

// TestCircuitBreaker_CanceledContext verifies that fn does not run for a done context.
func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	if err := cb.Call(ctx, func() error { ran = true; return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v", err)
	}
	if ran {
		t.Error("fn ran with canceled context")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
