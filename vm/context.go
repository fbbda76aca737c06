package vm

import (
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
)

// IncludeCost and MacroCost inflate the depth counter for each active
// include/macro call, bounding include-chain and macro-chain recursion by
// the same budget that bounds frame nesting (spec.md §3).
const (
	IncludeCost = 10
	MacroCost   = 4
)

// context is the ordered stack of frames plus a depth counter bounded by
// the environment's configured recursion limit, and the active/building
// closure state for macro support.
type context struct {
	frames []*frame
	depth  int
	limit  int

	building *Closure
	active   *Closure

	// pendingLoopRecursion is the resume point stashed by a `loop()`/
	// FastRecurse call, in transit between the jump to the enclosing
	// loop's recurseJumpTarget and the PushLoop that executes there. It
	// belongs to the context rather than to any particular loopState
	// because it describes the CALLER's resume point, not anything about
	// the sub-loop PushLoop is about to create; PushLoop claims it for
	// the new loopState it builds so that loop's own eventual PopFrame
	// resumes the caller (spec.md §4.5/§4.7/§9).
	pendingLoopRecursion recursionJump
}

// stashLoopRecursion records where to resume once the about-to-be-pushed
// sub-loop's frame is popped.
func (c *context) stashLoopRecursion(rj recursionJump) {
	c.pendingLoopRecursion = rj
}

// takeLoopRecursion consumes and clears the stashed resume point, if any,
// called by PushLoop to bind it to the loopState it is about to create.
func (c *context) takeLoopRecursion() (recursionJump, bool) {
	rj := c.pendingLoopRecursion
	c.pendingLoopRecursion = recursionJump{}
	return rj, rj.valid
}

func newContext(limit int) *context {
	return &context{limit: limit}
}

// pushFrame fails with a RecursionLimit error when the push would exceed
// the configured limit.
func (c *context) pushFrame(f *frame) error {
	if c.depth+1 > c.limit {
		return vmerr.New(vmerr.RecursionLimit, "recursion limit of %d exceeded", c.limit)
	}
	c.frames = append(c.frames, f)
	c.depth++
	return nil
}

// popFrame removes and returns the top frame.
func (c *context) popFrame() *frame {
	n := len(c.frames) - 1
	f := c.frames[n]
	c.frames = c.frames[:n]
	c.depth--
	return f
}

func (c *context) topFrame() *frame {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func (c *context) store(name string, v value.Value) {
	c.topFrame().store(name, v)
}

// lookup searches frames top-down, returning the first hit; a frame
// carrying an active loop with with_loop_var set exposes "loop" bound to
// that loop's shared record even if no explicit local named "loop" exists.
func (c *context) lookup(name string) (value.Value, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if v, ok := c.frames[i].lookup(name); ok {
			return v, true
		}
	}
	if c.active != nil {
		if v, ok := c.active.get(name); ok {
			return v, true
		}
	}
	return value.Undefined, false
}

// currentLoop returns the nearest enclosing frame's loop state, if any.
func (c *context) currentLoop() *loopState {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].loop != nil {
			return c.frames[i].loop
		}
	}
	return nil
}

// incrDepth/decrDepth account for non-frame costs (include/macro depth
// inflation) that must still be bounded by the recursion limit.
func (c *context) incrDepth(n int) error {
	if c.depth+n > c.limit {
		return vmerr.New(vmerr.RecursionLimit, "recursion limit of %d exceeded", c.limit)
	}
	c.depth += n
	return nil
}

func (c *context) decrDepth(n int) {
	c.depth -= n
}

// enclose lazily starts a building closure if none is being built and copies
// the named local from the current frame into it (spec.md §4.7).
func (c *context) enclose(tracker *closureTracker, name string) {
	if c.building == nil {
		c.building = tracker.new()
	}
	v, ok := c.topFrame().lookup(name)
	if !ok {
		v = value.Undefined
	}
	c.building.cells[name] = &Cell{value: v}
}

// takeClosure finalizes and detaches the building closure.
func (c *context) takeClosure() *Closure {
	cl := c.building
	c.building = nil
	return cl
}

// resetClosure discards any in-progress building closure without
// finalizing it.
func (c *context) resetClosure() {
	c.building = nil
}

// pushActiveClosure binds cl as the closure consulted by GetClosure and
// by lookup inside a macro body, returning the previous value to restore
// on exit.
func (c *context) pushActiveClosure(cl *Closure) *Closure {
	prev := c.active
	c.active = cl
	return prev
}

func (c *context) popActiveClosure(prev *Closure) {
	c.active = prev
}
