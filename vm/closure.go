package vm

import (
	"context"
	"fmt"

	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/value"
)

// Cell holds one captured variable's value at the moment it was enclosed.
// Unlike the teacher's object.Cell (a live, shared reference cell used for
// read/write closure aliasing), spec.md's Enclose "copies the named local
// from the current frame" — a snapshot, not an alias — so Cell here is a
// plain immutable holder.
type Cell struct {
	value value.Value
}

func (c *Cell) Get() value.Value { return c.value }

// Closure is the record built incrementally by Enclose and finalized by
// takeClosure when a macro definition completes.
type Closure struct {
	id    int
	cells map[string]*Cell
}

func (cl *Closure) get(name string) (value.Value, bool) {
	c, ok := cl.cells[name]
	if !ok {
		return nil, false
	}
	return c.Get(), true
}

// closureTracker owns every Closure created during one evaluation, so
// cyclic references (a macro's closure capturing a value that refers back
// to the macro) can be torn down in bulk rather than requiring per-cell
// reference counting (spec.md §9).
type closureTracker struct {
	next int
	all  map[int]*Closure
}

func newClosureTracker() *closureTracker {
	return &closureTracker{all: map[int]*Closure{}}
}

func (t *closureTracker) new() *Closure {
	id := t.next
	t.next++
	cl := &Closure{id: id, cells: map[string]*Cell{}}
	t.all[id] = cl
	return cl
}

// teardown drops every closure the tracker owns in one step, breaking any
// reference cycles formed between macros and the values they captured.
func (t *closureTracker) teardown() {
	for id := range t.all {
		delete(t.all, id)
	}
}

// closureValue adapts a *Closure into a value.Value so GetClosure can push
// it onto the operand stack, and exposes its captured names via GetAttr so
// macro bodies can look up enclosed variables through a normal lookup.
type closureValue struct {
	closure *Closure
}

func (c closureValue) Kind() string              { return "closure" }
func (c closureValue) String() string            { return "<closure>" }
func (c closureValue) IsTruthy() bool             { return true }
func (c closureValue) IsUndefined() bool          { return false }
func (c closureValue) Equals(o value.Value) bool {
	other, ok := o.(closureValue)
	return ok && other.closure == c.closure
}
func (c closureValue) GetAttr(name string) (value.Value, bool) {
	return c.closure.get(name)
}
func (c closureValue) GetItem(key value.Value) (value.Value, bool) { return nil, false }
func (c closureValue) Iter() (value.Iterator, error) {
	return nil, fmt.Errorf("closure is not iterable")
}
func (c closureValue) Validate() error { return nil }

// Macro is the user-callable value built by BuildMacro: compiled
// instructions, an entry PC, an argument spec, and an optional captured
// closure. Invoking it re-enters the owning VM's evalMacro.
type Macro struct {
	owner        *VirtualMachine
	name         string
	instructions *bytecode.Instructions
	entryPC      int
	closure      *Closure
	argSpec      *value.List
	isCaller     bool

	// st/out are the evaluation this macro was defined in. A macro value
	// does not outlive the Eval call that built it (spec.md never exposes
	// macros as a cross-render artifact), so binding them at BuildMacro
	// time lets Call satisfy value.Callable's (ctx, args) signature without
	// threading State/Output through every value that might be called.
	st  *state
	out *output
}

func (m *Macro) Kind() string   { return "macro" }
func (m *Macro) String() string { return fmt.Sprintf("<macro %s>", m.name) }
func (m *Macro) IsTruthy() bool { return true }
func (m *Macro) IsUndefined() bool { return false }
func (m *Macro) Equals(o value.Value) bool {
	other, ok := o.(*Macro)
	return ok && other == m
}
func (m *Macro) GetAttr(name string) (value.Value, bool)          { return nil, false }
func (m *Macro) GetItem(key value.Value) (value.Value, bool)      { return nil, false }
func (m *Macro) Iter() (value.Iterator, error)                    { return nil, fmt.Errorf("macro is not iterable") }
func (m *Macro) Validate() error                                  { return nil }

// Call invokes the macro body through evalMacro: a frame bound to the call
// arguments is pushed onto the defining evaluation's existing context (no
// fresh context is created), and the macro's closure is made active, so
// its cells are consulted only after every frame misses; they are not
// copied into the frame's locals. The body runs from entryPC to Return.
func (m *Macro) Call(ctx context.Context, args []value.Value) (value.Value, error) {
	return m.owner.evalMacro(ctx, m, args, nil)
}
