package value

import (
	"context"
	"sync"
	"sync/atomic"
)

// loopBeforeFirst is the sentinel atomic index value meaning "iteration has
// not yet advanced past the first item", mirroring the original's use of a
// signed index starting one below zero so `loop.index0` reads 0 on the very
// first iteration.
const loopBeforeFirst int64 = -1

// Loop is the per-iteration state object bound to the `loop` template
// variable. Its index is advanced by the VM's Iterate opcode and read
// through GetAttr; its changed() method is exposed through CallMethod.
// The index is atomic because a recursive loop body can re-enter before
// the enclosing iteration step has finished updating other fields.
type Loop struct {
	base

	idx   int64 // atomic, holds loopBeforeFirst until the first Iterate succeeds
	depth int

	// length is the total item count when known up front (the iterator's
	// SizeHint reported an equal lower/upper bound); hasLength is false
	// when the source is a lazy, unsized iterable.
	length    int
	hasLength bool

	mu           sync.Mutex
	previtem     Value // valid only when adjacentItems is true
	nextitem     Value
	adjacentItems bool
	lastChanged  Value
}

// NewLoop constructs a Loop for an iterator with the given size hint and
// nesting depth.
func NewLoop(depth int, lower, upper int, hasUpper bool) *Loop {
	l := &Loop{depth: depth, idx: loopBeforeFirst}
	if hasUpper && lower == upper {
		l.length = upper
		l.hasLength = true
	}
	return l
}

func (l *Loop) Kind() string   { return "loop" }
func (l *Loop) String() string { return "<loop>" }
func (l *Loop) IsTruthy() bool { return true }
func (l *Loop) Equals(o Value) bool {
	other, ok := o.(*Loop)
	return ok && other == l
}

// Advance moves the loop to its next index, called by the Iterate opcode
// once per successfully produced item.
func (l *Loop) Advance() int64 {
	return atomic.AddInt64(&l.idx, 1)
}

// IsBeforeFirst reports whether the loop has not yet produced an item —
// the primitive behind `{% for ... %}...{% else %}...{% endfor %}`.
func (l *Loop) IsBeforeFirst() bool {
	return atomic.LoadInt64(&l.idx) == loopBeforeFirst
}

// DepthValue returns the raw nesting depth (0 at the outermost loop),
// used by PushLoop to compute a child recursive loop's depth.
func (l *Loop) DepthValue() int {
	return l.depth
}

// SetAdjacent records the previous/next item triple for loop.previtem and
// loop.nextitem, restored from the original's adjacent_loop_items feature.
func (l *Loop) SetAdjacent(prev, next Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.previtem = prev
	l.nextitem = next
	l.adjacentItems = true
}

func (l *Loop) index0() int64 {
	idx := atomic.LoadInt64(&l.idx)
	if idx < 0 {
		return 0
	}
	return idx
}

func (l *Loop) GetAttr(name string) (Value, bool) {
	switch name {
	case "index0":
		return NewInt(l.index0()), true
	case "index":
		return NewInt(l.index0() + 1), true
	case "first":
		return NewBool(atomic.LoadInt64(&l.idx) <= 0), true
	case "last":
		if !l.hasLength {
			return Undefined, false
		}
		return NewBool(l.index0() == int64(l.length-1)), true
	case "length":
		if !l.hasLength {
			return Undefined, false
		}
		return NewInt(int64(l.length)), true
	case "revindex":
		if !l.hasLength {
			return Undefined, false
		}
		return NewInt(int64(l.length) - l.index0()), true
	case "revindex0":
		if !l.hasLength {
			return Undefined, false
		}
		return NewInt(int64(l.length) - l.index0() - 1), true
	case "depth", "depth0":
		// Both names read the raw, 0-indexed nesting counter: the
		// outermost loop is depth 0, each `loop(x)` recursion adds 1.
		// This diverges from real Jinja's 1-indexed `loop.depth` to match
		// this engine's own literal invariant (depth == 1 at the deepest
		// node of a two-level recursive tree).
		return NewInt(int64(l.depth)), true
	case "previtem":
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.adjacentItems || l.previtem == nil {
			return Undefined, true
		}
		return l.previtem, true
	case "nextitem":
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.adjacentItems || l.nextitem == nil {
			return Undefined, true
		}
		return l.nextitem, true
	default:
		return nil, false
	}
}

// CallMethod implements loop.changed(...), restored from the original's
// last_changed_value field: returns true the first time it is called and
// thereafter whenever the given values differ from the previous call's.
func (l *Loop) CallMethod(ctx context.Context, name string, args []Value) (Value, error) {
	if name != "changed" {
		return nil, &indexError{"loop has no method " + name}
	}
	current := Value(NewList(args))
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := l.lastChanged == nil || !l.lastChanged.Equals(current)
	l.lastChanged = current
	return NewBool(changed), nil
}
