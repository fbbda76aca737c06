package vm

import (
	"context"

	"github.com/brookvale/stencil/value"
)

// recursionJump records where to resume execution when a `loop(x)`
// sub-recursion call returns via PopFrame — the stashed (return PC,
// close-capture?) pair from spec.md §4.7's "tail-style re-entry".
type recursionJump struct {
	returnPC      int
	closeCapture  bool
	valid         bool
}

// loopState is the VM-internal half of a loop iteration: the bound
// iterator and control-flow bookkeeping. The user-visible half (index,
// length, depth, peek triple, changed()) lives in value.Loop, shared so
// template expressions that capture `loop` observe the same object the VM
// is advancing.
type loopState struct {
	withLoopVar       bool
	iterator          value.Iterator
	object            *value.Loop
	recurseJumpTarget int
	hasRecurseTarget  bool
	pendingRecursion  recursionJump
	adjacentItems     bool

	// One-item lookahead buffer backing previtem/nextitem when
	// adjacentItems is set (spec.md §4.5's adjacent_loop_items): bufLoaded
	// is false only before the very first next() call, bufHasItem reports
	// whether bufItem holds a real upcoming item or the iterator is
	// already exhausted, and prev is the item handed out last time.
	bufLoaded  bool
	bufHasItem bool
	bufItem    value.Value
	prev       value.Value
}

// newLoopState constructs loop control state for a freshly pushed loop.
// depth is 0 unless the immediately enclosing loop is itself recursive, in
// which case it is that loop's depth + 1 (spec.md §4.5).
func newLoopState(it value.Iterator, withLoopVar, recursive, adjacentItems bool, depth int) *loopState {
	lower, upper, hasUpper := it.SizeHint()
	obj := value.NewLoop(depth, lower, upper, hasUpper)
	ls := &loopState{
		withLoopVar:   withLoopVar,
		iterator:      it,
		object:        obj,
		adjacentItems: adjacentItems,
	}
	return ls
}

// next advances the loop by one item. With adjacentItems disabled it is a
// thin pass-through to the iterator; with it enabled it keeps a one-item
// lookahead buffer so each item can be paired with the item that precedes
// and follows it, pushing that triple onto the shared value.Loop object via
// SetAdjacent before returning the current item (spec.md §4.5).
func (ls *loopState) next(ctx context.Context) (value.Value, bool) {
	if !ls.adjacentItems {
		return ls.iterator.Next(ctx)
	}

	if !ls.bufLoaded {
		item, ok := ls.iterator.Next(ctx)
		ls.bufHasItem = ok
		ls.bufItem = item
		ls.bufLoaded = true
		ls.prev = value.Undefined
	}

	if !ls.bufHasItem {
		return nil, false
	}

	current := ls.bufItem
	nextItem, ok := ls.iterator.Next(ctx)
	ls.bufHasItem = ok
	ls.bufItem = nextItem

	nextVal := value.Value(value.Undefined)
	if ok {
		nextVal = nextItem
	}
	ls.object.SetAdjacent(ls.prev, nextVal)
	ls.prev = current

	return current, true
}

// recurseJumpEnabled reports whether this loop was declared recursive,
// i.e. whether a nested loop beneath it should inherit an incremented
// depth.
func (ls *loopState) recurseJumpEnabled() bool {
	return ls.hasRecurseTarget
}

// takePendingRecursion consumes and clears the stashed resume point, if
// any was set by a `loop(x)` call into this loop.
func (ls *loopState) takePendingRecursion() (recursionJump, bool) {
	rj := ls.pendingRecursion
	ls.pendingRecursion = recursionJump{}
	return rj, rj.valid
}
