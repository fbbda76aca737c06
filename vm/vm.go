// Package vm implements the stack-based bytecode interpreter at the heart
// of the template engine: the dispatch loop over the opcode set in
// package op, driving a Stack and Output under a per-evaluation State,
// calling out to the value model for arithmetic/lookup/iteration and to
// an environment.Environment for filters/tests/template resolution.
package vm

import (
	"context"
	"fmt"

	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/environment"
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
	"github.com/rs/zerolog"
)

// UndefinedBehavior parameterizes how the VM reacts to observing an
// undefined value, per spec.md §7.
type UndefinedBehavior int

const (
	// Strict raises UndefinedError whenever an undefined value is observed.
	Strict UndefinedBehavior = iota
	// Lenient raises only when the receiver of an attr/item lookup was
	// itself defined and is missing the attribute/item; a lookup through an
	// already-undefined receiver silently yields undefined.
	Lenient
	// Chained tolerates undefined everywhere, never raising.
	Chained
)

// DefaultContextCheckInterval is the number of instructions between
// deterministic ctx.Done() polls, ported from the teacher's cancellation
// cadence (vm.DefaultContextCheckInterval).
const DefaultContextCheckInterval = 1000

// VirtualMachine is the template evaluation engine. One VirtualMachine may
// be reused across many independent Eval calls; it holds no per-evaluation
// state itself (that lives in *state), so concurrent Eval calls on
// distinct States are safe as long as the Environment is safe for
// concurrent read (spec.md §5).
type VirtualMachine struct {
	env       environment.Environment
	undefined UndefinedBehavior

	fuel     FuelTracker
	observer Observer
	logger   zerolog.Logger

	recursionLimitOverride *int
	contextCheckInterval   int
}

// New constructs a VirtualMachine against the given Environment.
func New(env environment.Environment, opts ...Option) *VirtualMachine {
	v := &VirtualMachine{
		env:                  env,
		undefined:            Strict,
		contextCheckInterval: DefaultContextCheckInterval,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// WithUndefinedBehavior is a constructor-time setting (not a vm.Option,
// since it changes evaluation semantics rather than ambient configuration)
// selecting how undefined values are treated.
func (v *VirtualMachine) WithUndefinedBehavior(b UndefinedBehavior) *VirtualMachine {
	v.undefined = b
	return v
}

func (v *VirtualMachine) recursionLimit() int {
	if v.recursionLimitOverride != nil {
		return *v.recursionLimitOverride
	}
	return v.env.RecursionLimit()
}

func (v *VirtualMachine) observerOrNop() Observer {
	if v.observer == nil {
		return NoOpObserver{}
	}
	return v.observer
}

// Eval runs a full template to completion: the instruction/block pair,
// a root context value bound into the base frame under the name "root",
// an output sink, and a starting auto-escape mode. It returns any trailing
// value left on the stack (expression-mode evaluation) and any error. The
// per-evaluation state is not returned; it is discarded when Eval returns.
func (v *VirtualMachine) Eval(ctx context.Context, ins *bytecode.Instructions, blocks map[string]*bytecode.Instructions, root value.Value, out *output, autoEscape op.AutoEscape) (value.Value, error) {
	st := newState(ins, blocks, autoEscape, v.recursionLimit())
	base := newFrame()
	if root != nil {
		base.store("root", root)
	}
	if err := st.ctx.pushFrame(base); err != nil {
		return nil, err
	}
	defer st.ctx.popFrame()

	result, err := v.doEval(ctx, st, out, 0, newStack())
	st.tracker.teardown()
	return result, err
}

// CallBlock invokes a named block post-hoc against an already-populated
// state (spec.md §6.3's call_block).
func (v *VirtualMachine) CallBlock(ctx context.Context, st *state, out *output, name string) error {
	return v.callBlock(ctx, st, out, name)
}

// doEval is the indefinite advance loop described in spec.md §4.4: fetch,
// charge fuel, dispatch, advance pc (unless the opcode set it explicitly),
// enrich any error that escapes with the faulting instruction's location.
func (v *VirtualMachine) doEval(ctx context.Context, st *state, out *output, startPC int, stk *stack) (value.Value, error) {
	pc := startPC
	observer := v.observerOrNop()
	steps := 0

	for {
		if pc >= st.currentInstructions.Len() {
			if st.parentInstructions != nil {
				out.endCapture(op.AutoEscapeNone)
				st.currentInstructions = st.parentInstructions
				st.parentInstructions = nil
				st.filterCache = nil
				st.testCache = nil
				pc = 0
				continue
			}
			v, _ := stk.tryPop()
			return v, nil
		}

		if v.contextCheckInterval > 0 {
			steps++
			if steps%v.contextCheckInterval == 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
				}
			}
		}

		code := st.currentInstructions.Fetch(pc)

		if v.fuel != nil {
			if err := v.fuel.Charge(code); err != nil {
				observer.OnLimitExceeded(vmerr.OutOfFuel)
				return nil, v.enrich(st, pc, err)
			}
		}

		observer.OnStep(pc, code)

		nextPC, result, done, err := v.step(ctx, st, out, stk, pc, code)
		if err != nil {
			return nil, v.enrich(st, pc, err)
		}
		if done {
			return result, nil
		}
		pc = nextPC
	}
}

// enrich attaches the faulting PC's source location to err if it does not
// already carry one (spec.md §6.4).
func (v *VirtualMachine) enrich(st *state, pc int, err error) error {
	e, ok := vmerr.As(err)
	if !ok {
		e = vmerr.New(vmerr.InvalidOperation, "%s", err.Error()).WithCause(err)
	}
	if loc, ok := st.currentInstructions.Location(pc); ok {
		e = e.WithLocation(loc)
	}
	return e
}

// operand reads the operand word immediately following the opcode at pc.
func operand(ins *bytecode.Instructions, pc, index int) uint16 {
	return ins.Operand(pc + 1 + index)
}

func operandCount(code op.Code) int {
	return op.GetInfo(code).OperandCount
}
