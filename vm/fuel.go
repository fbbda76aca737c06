package vm

import (
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/vmerr"
)

// FuelTracker bounds execution by a per-instruction cost budget, the only
// form of preemptive cancellation spec.md's Non-goals permit. Charge is
// called once per dispatched opcode; returning an error aborts evaluation
// with OutOfFuel.
type FuelTracker interface {
	Charge(code op.Code) error
}

// CountingFuelTracker is a concrete FuelTracker that charges one unit per
// instruction regardless of opcode, refusing once the budget is consumed.
type CountingFuelTracker struct {
	remaining int64
}

// NewCountingFuelTracker creates a tracker with the given instruction
// budget.
func NewCountingFuelTracker(budget int64) *CountingFuelTracker {
	return &CountingFuelTracker{remaining: budget}
}

func (t *CountingFuelTracker) Charge(code op.Code) error {
	if t.remaining <= 0 {
		return vmerr.New(vmerr.OutOfFuel, "out of fuel")
	}
	t.remaining--
	return nil
}

// Remaining reports the unspent budget.
func (t *CountingFuelTracker) Remaining() int64 {
	return t.remaining
}
