package vm

import (
	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/environment"
	"github.com/brookvale/stencil/op"
)

// state is the per-evaluation mutable bundle threaded through dispatch:
// the Context, the block-override table, auto-escape mode, the
// instructions currently executing, the name of the block currently
// executing (for super-resolution), the set of template names active on
// the current extends/include chain (cycle detection), the shared macro
// table, and the closure tracker.
type state struct {
	ctx *context

	blocks           map[string]*blockStack
	autoEscape       op.AutoEscape
	currentInstructions *bytecode.Instructions
	currentBlock     string // "" when not executing inside a block
	loadedTemplates  map[string]bool

	macros  []*Macro
	tracker *closureTracker

	// filterCache/testCache back ApplyFilter/PerformTest's local_id cache
	// (spec.md §4.4); both are invalidated on extends-switch since
	// local_id is only meaningful relative to the Instructions it was
	// assigned in.
	filterCache map[uint16]environment.Filter
	testCache   map[uint16]environment.Test

	// parentInstructions is set by LoadBlocks; once non-nil, reaching the
	// end of currentInstructions swaps to it instead of terminating
	// evaluation (spec.md §4.4 step 1 / §9's "instruction swap" design).
	parentInstructions *bytecode.Instructions
}

func newState(ins *bytecode.Instructions, blocks map[string]*bytecode.Instructions, autoEscape op.AutoEscape, recursionLimit int) *state {
	bs := map[string]*blockStack{}
	for name, def := range blocks {
		bs[name] = newBlockStack(def)
	}
	return &state{
		ctx:                 newContext(recursionLimit),
		blocks:              bs,
		autoEscape:          autoEscape,
		currentInstructions: ins,
		loadedTemplates:     map[string]bool{},
		tracker:             newClosureTracker(),
	}
}

func (s *state) pushAutoEscape(mode op.AutoEscape) op.AutoEscape {
	prev := s.autoEscape
	s.autoEscape = mode
	return prev
}

func (s *state) popAutoEscape(prev op.AutoEscape) {
	s.autoEscape = prev
}
