// Package gate decides whether a run has new upstream data to publish.
//
// The gate compares the information timestamp of the current run with a persisted
// watermark. A run proceeds only when the watermark is strictly lower. The watermark is
// written after every decision, whether or not the run proceeds.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/julienvalera/velib-harvester/internal/watermark"
)

// Policy selects the value written back after a decision.
type Policy string

const (
	// PolicyAlwaysOverwrite writes the current timestamp, even when it is lower than the
	// stored watermark.
	PolicyAlwaysOverwrite Policy = "always_overwrite"
	// PolicyMonotonic never lowers the stored watermark.
	PolicyMonotonic Policy = "monotonic"
)

// State is the gate state for one run.
type State int

const (
	Idle State = iota
	CheckedAdvanced
	CheckedStale
)

func (s State) String() string {
	switch s {
	case CheckedAdvanced:
		return "advanced"
	case CheckedStale:
		return "stale"
	default:
		return "idle"
	}
}

// Decision is the outcome of one Check.
type Decision struct {
	State    State
	Proceed  bool
	Previous int64
	Current  int64
	// Written is the watermark value persisted by the check.
	Written int64
	// Initialized is set when no watermark existed and the zero baseline was written.
	Initialized bool
	// Corrupt holds the read error when an unreadable watermark was replaced by the
	// zero baseline. Initialized is set too.
	Corrupt error
}

// Gate compares run timestamps against a watermark store.
type Gate struct {
	store  watermark.Store
	policy Policy
}

// New creates a Gate. An empty policy means PolicyAlwaysOverwrite.
func New(store watermark.Store, policy Policy) (*Gate, error) {
	switch policy {
	case "":
		policy = PolicyAlwaysOverwrite
	case PolicyAlwaysOverwrite, PolicyMonotonic:
	default:
		return nil, fmt.Errorf("gate: unknown policy %q", policy)
	}
	return &Gate{store: store, policy: policy}, nil
}

// Policy returns the configured policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Check reads the watermark, decides, and persists the new watermark. An absent or
// corrupt watermark is initialized to 0 before comparing. Other store errors abort the
// check; when the final write fails the returned Decision still describes what was decided.
func (g *Gate) Check(ctx context.Context, current int64) (Decision, error) {
	d := Decision{Current: current}
	previous, ok, err := g.store.Read(ctx)
	switch {
	case errors.Is(err, watermark.ErrCorrupt):
		d.Corrupt = err
		ok = false
	case err != nil:
		return Decision{State: Idle, Current: current}, fmt.Errorf("gate: read watermark: %w", err)
	}
	if !ok {
		if err := g.store.Write(ctx, 0); err != nil {
			return Decision{State: Idle, Current: current}, fmt.Errorf("gate: initialize watermark: %w", err)
		}
		previous = 0
		d.Initialized = true
	}
	d.Previous = previous
	d.Proceed = previous < current
	if d.Proceed {
		d.State = CheckedAdvanced
	} else {
		d.State = CheckedStale
	}

	d.Written = current
	if g.policy == PolicyMonotonic && previous > current {
		d.Written = previous
	}
	if err := g.store.Write(ctx, d.Written); err != nil {
		return d, fmt.Errorf("gate: write watermark: %w", err)
	}
	return d, nil
}
