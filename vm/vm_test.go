package vm

import (
	"context"
	"testing"

	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/environment"
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVM(env environment.Environment) *VirtualMachine {
	if env == nil {
		env = environment.NewMapEnvironment(100)
	}
	return New(env)
}

func run(t *testing.T, v *VirtualMachine, b *bytecode.Builder, out *output) (value.Value, error) {
	t.Helper()
	ins := b.Build()
	return v.Eval(context.Background(), ins, nil, nil, out, op.AutoEscapeNone)
}

// Scenario 1: arithmetic emission.
func TestArithmeticEmission(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.Emit(op.LoadConst, b.Constant(value.NewInt(2)))
	b.Emit(op.LoadConst, b.Constant(value.NewInt(3)))
	b.Emit(op.Add)
	b.Emit(op.Emit)
	b.Emit(op.Halt)

	out := newOutput()
	v := newTestVM(nil)
	_, err := run(t, v, b, out)
	require.NoError(t, err)
	assert.Equal(t, "5", out.String())
}

// Scenario 2: for/else over an empty list.
func TestLoopWithElse(t *testing.T) {
	b := bytecode.NewBuilder("main")
	emptyList := b.Constant(value.NewList(nil))

	b.Emit(op.LoadConst, emptyList)
	b.Emit(op.PushLoop, 0)
	iteratePC := b.Emit(op.Iterate, 0) // exit target patched below
	b.Emit(op.EmitRaw, b.Name("A"))
	b.Emit(op.Jump, uint16(iteratePC)) // loop back to Iterate
	exitPC := b.Here()
	b.PatchOperand(iteratePC+1, uint16(exitPC))

	b.Emit(op.PushDidNotIterate)
	elseSkip := b.Emit(op.JumpIfFalse, 0)
	b.Emit(op.EmitRaw, b.Name("B"))
	afterElse := b.Here()
	b.PatchOperand(elseSkip+1, uint16(afterElse))
	b.Emit(op.PopFrame)
	b.Emit(op.Halt)

	out := newOutput()
	v := newTestVM(nil)
	_, err := run(t, v, b, out)
	require.NoError(t, err)
	assert.Equal(t, "B", out.String())
}

// Scenario 3: recursive loop over a small tree, checking loop.depth at the
// deepest node by emitting loop.depth at every node and comparing output.
func TestRecursiveLoopDepth(t *testing.T) {
	leaf := value.NewMap()
	leaf.Set("name", value.NewString("b"))
	leaf.Set("children", value.NewList(nil))

	root := value.NewMap()
	root.Set("name", value.NewString("a"))
	root.Set("children", value.NewList([]value.Value{leaf}))

	b := bytecode.NewBuilder("main")
	childrenName := b.Name("children")

	rootConst := b.Constant(root)
	b.Emit(op.LoadConst, rootConst)

	// Build a one-element list containing root, then push a recursive loop
	// over it so `loop(item.children)` can recurse into the child.
	b.Emit(op.BuildList, 1)
	loopEntry := b.Emit(op.PushLoop, op.LoopRecursive|op.LoopWithLoopVar)
	iteratePC := b.Emit(op.Iterate, 0)

	// Emit loop.depth at every node visited, in pre-order: "a" at depth 0,
	// "b" at depth 1, confirming the deepest node observes depth == 1.
	b.Emit(op.Lookup, b.Name("loop"))
	b.Emit(op.GetAttr, b.Name("depth"))
	b.Emit(op.Emit)

	// recurse: loop(item.children)
	b.Emit(op.DupTop) // keep the item around beneath the recursion's own copy
	b.Emit(op.GetAttr, childrenName)
	b.Emit(op.CallFunction, b.Name("loop"), 1)
	// CallFunction's "loop" branch jumps directly back to PushLoop without
	// pushing a result (no capture requested), so control resumes here with
	// only the duplicated item left to discard.
	b.Emit(op.DiscardTop)
	b.Emit(op.Jump, uint16(iteratePC))

	exitPC := b.Here()
	b.PatchOperand(iteratePC+1, uint16(exitPC))
	b.Emit(op.PopFrame)
	b.Emit(op.Halt)

	_ = loopEntry

	out := newOutput()
	v := newTestVM(nil)
	_, err := run(t, v, b, out)
	require.NoError(t, err)
	assert.Equal(t, "01", out.String())
}

// A recursive loop must visit every sibling subtree exactly once in
// pre-order, not just the first: root with two children, each a leaf.
// Before the fix that transfers a stashed loop() resume point into the
// sub-loop PushLoop is about to create, the second child's subtree was
// never reached.
func TestRecursiveLoopVisitsAllSiblings(t *testing.T) {
	child1 := value.NewMap()
	child1.Set("children", value.NewList(nil))
	child2 := value.NewMap()
	child2.Set("children", value.NewList(nil))

	root := value.NewMap()
	root.Set("children", value.NewList([]value.Value{child1, child2}))

	b := bytecode.NewBuilder("main")
	childrenName := b.Name("children")

	b.Emit(op.LoadConst, b.Constant(root))
	b.Emit(op.BuildList, 1)
	loopEntry := b.Emit(op.PushLoop, op.LoopRecursive|op.LoopWithLoopVar)
	iteratePC := b.Emit(op.Iterate, 0)

	b.Emit(op.Lookup, b.Name("loop"))
	b.Emit(op.GetAttr, b.Name("depth"))
	b.Emit(op.Emit)

	b.Emit(op.DupTop)
	b.Emit(op.GetAttr, childrenName)
	b.Emit(op.CallFunction, b.Name("loop"), 1)
	b.Emit(op.DiscardTop)
	b.Emit(op.Jump, uint16(iteratePC))

	exitPC := b.Here()
	b.PatchOperand(iteratePC+1, uint16(exitPC))
	b.Emit(op.PopFrame)
	b.Emit(op.Halt)

	_ = loopEntry

	out := newOutput()
	v := newTestVM(nil)
	_, err := run(t, v, b, out)
	require.NoError(t, err)
	assert.Equal(t, "011", out.String())
}

// PushLoop's LoopWithAdjacent flag must make Iterate advance loop.previtem/
// loop.nextitem via one-item lookahead (spec.md §4.5's adjacent_loop_items);
// boundary items see the opposite end of the pair as undefined.
func TestLoopAdjacentItems(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.Emit(op.LoadConst, b.Constant(value.NewString("x")))
	b.Emit(op.LoadConst, b.Constant(value.NewString("y")))
	b.Emit(op.BuildList, 2)
	b.Emit(op.PushLoop, op.LoopWithLoopVar|op.LoopWithAdjacent)
	iteratePC := b.Emit(op.Iterate, 0)

	b.Emit(op.Lookup, b.Name("loop"))
	b.Emit(op.GetAttr, b.Name("previtem"))
	b.Emit(op.Emit)
	b.Emit(op.EmitRaw, b.Name("-"))

	b.Emit(op.DupTop)
	b.Emit(op.Emit)
	b.Emit(op.EmitRaw, b.Name("-"))

	b.Emit(op.Lookup, b.Name("loop"))
	b.Emit(op.GetAttr, b.Name("nextitem"))
	b.Emit(op.Emit)
	b.Emit(op.EmitRaw, b.Name(";"))

	b.Emit(op.DiscardTop)
	b.Emit(op.Jump, uint16(iteratePC))

	exitPC := b.Here()
	b.PatchOperand(iteratePC+1, uint16(exitPC))
	b.Emit(op.PopFrame)
	b.Emit(op.Halt)

	out := newOutput()
	v := New(environment.NewMapEnvironment(100)).WithUndefinedBehavior(Chained)
	_, err := run(t, v, b, out)
	require.NoError(t, err)
	assert.Equal(t, "-x-y;x-y-;", out.String())
}

// Scenario 4: extends + super.
func TestExtendsAndSuper(t *testing.T) {
	// Parent block "content" emits "PARENT".
	pb := bytecode.NewBuilder("parent_content")
	pb.Emit(op.EmitRaw, pb.Name("PARENT"))
	pb.Emit(op.Halt)
	parentBlock := pb.Build()

	parentMain := bytecode.NewBuilder("parent_main")
	parentMain.Emit(op.CallBlock, parentMain.Name("content"))
	parentMain.Emit(op.Halt)

	env := environment.NewMapEnvironment(100)
	env.Templates["parent.html"] = &environment.CompiledTemplate{
		TemplateName: "parent.html",
		Body:         parentMain.Build(),
		Blocks:       map[string]*bytecode.Instructions{"content": parentBlock},
		AutoEscape:   op.AutoEscapeNone,
	}

	// Child block "content" emits "[child:" + super() + "]".
	cb := bytecode.NewBuilder("child_content")
	cb.Emit(op.EmitRaw, cb.Name("[child:"))
	cb.Emit(op.CallFunction, cb.Name("super"), 0)
	cb.Emit(op.Emit)
	cb.Emit(op.EmitRaw, cb.Name("]"))
	cb.Emit(op.Halt)
	childBlock := cb.Build()

	// No trailing Halt: the extends swap in doEval only fires when pc runs
	// past the end of currentInstructions, not on an explicit Halt opcode,
	// so the child program must fall off the end for the parent's
	// instructions to take over.
	childMain := bytecode.NewBuilder("child_main")
	childMain.Emit(op.LoadConst, childMain.Constant(value.NewString("parent.html")))
	childMain.Emit(op.LoadBlocks)
	childMain.Emit(op.CallBlock, childMain.Name("content"))

	out := newOutput()
	v := newTestVM(env)
	_, err := v.Eval(context.Background(), childMain.Build(), map[string]*bytecode.Instructions{"content": childBlock}, nil, out, op.AutoEscapeNone)
	require.NoError(t, err)
	assert.Equal(t, "[child:PARENT]", out.String())
}

// Scenario 5: include with ignore_missing.
func TestIncludeIgnoreMissing(t *testing.T) {
	env := environment.NewMapEnvironment(100)

	b := bytecode.NewBuilder("main")
	b.Emit(op.LoadConst, b.Constant(value.NewString("absent")))
	b.Emit(op.Include, 1) // ignore_missing = true
	b.Emit(op.Halt)

	out := newOutput()
	v := newTestVM(env)
	_, err := run(t, v, b, out)
	require.NoError(t, err)
	assert.Equal(t, "", out.String())

	b2 := bytecode.NewBuilder("main")
	b2.Emit(op.LoadConst, b2.Constant(value.NewString("absent")))
	b2.Emit(op.Include, 0) // ignore_missing = false
	b2.Emit(op.Halt)

	out2 := newOutput()
	_, err = run(t, v, b2, out2)
	require.Error(t, err)
	e, ok := vmerr.As(err)
	require.True(t, ok)
	assert.Equal(t, vmerr.TemplateNotFound, e.Kind)
}

// Scenario 6: strict undefined raises with line info.
func TestStrictUndefinedRaisesWithLocation(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.EmitAt(vmerr.Location{Filename: "index.html", Line: 3, Column: 7}, op.Lookup, b.Name("missing"))
	b.Emit(op.Emit)
	b.Emit(op.Halt)

	out := newOutput()
	v := New(environment.NewMapEnvironment(100)).WithUndefinedBehavior(Strict)
	_, err := run(t, v, b, out)
	require.Error(t, err)

	e, ok := vmerr.As(err)
	require.True(t, ok)
	assert.Equal(t, vmerr.UndefinedError, e.Kind)
	assert.Equal(t, 3, e.Location.Line)
}

// Round-trip: BeginCapture(Capture); EmitRaw("x"); EndCapture.
func TestCaptureRoundTrip(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.Emit(op.BeginCapture, uint16(op.CaptureCapture))
	b.Emit(op.EmitRaw, b.Name("x"))
	b.Emit(op.EndCapture)
	b.Emit(op.Halt)

	out := newOutput()
	v := newTestVM(nil)
	result, err := run(t, v, b, out)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "x", result.String())
	assert.Equal(t, "", out.String())
}

// Round-trip: build a list of n values, UnpackList n, same values in order.
func TestUnpackListRoundTrip(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.Emit(op.LoadConst, b.Constant(value.NewInt(1)))
	b.Emit(op.LoadConst, b.Constant(value.NewInt(2)))
	b.Emit(op.LoadConst, b.Constant(value.NewInt(3)))
	b.Emit(op.BuildList, 3)
	b.Emit(op.UnpackList, 3)
	b.Emit(op.Halt) // leaves the top (3) as the trailing stack value

	out := newOutput()
	v := newTestVM(nil)
	result, err := run(t, v, b, out)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.(value.Int).Val)
}

// Lenient undefined policy tolerates chaining through an already-undefined
// receiver but still raises on a miss against a genuinely defined value.
func TestLenientUndefinedPolicy(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.Emit(op.Lookup, b.Name("missing"))
	b.Emit(op.GetAttr, b.Name("anything"))
	b.Emit(op.Emit)
	b.Emit(op.Halt)

	out := newOutput()
	v := New(environment.NewMapEnvironment(100)).WithUndefinedBehavior(Lenient)
	_, err := run(t, v, b, out)
	assert.NoError(t, err)

	b2 := bytecode.NewBuilder("main")
	b2.Emit(op.LoadConst, b2.Constant(value.NewMap()))
	b2.Emit(op.GetAttr, b2.Name("nope"))
	b2.Emit(op.Emit)
	b2.Emit(op.Halt)

	out2 := newOutput()
	_, err = run(t, v, b2, out2)
	require.Error(t, err)
}

// BuildList's open-question sentinel: count popped from the stack,
// validated as a non-negative integer.
func TestBuildListPoppedCount(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.Emit(op.LoadConst, b.Constant(value.NewInt(1)))
	b.Emit(op.LoadConst, b.Constant(value.NewInt(2)))
	b.Emit(op.LoadConst, b.Constant(value.NewInt(2))) // count
	b.Emit(op.BuildList, buildListNoCount)
	b.Emit(op.Halt)

	out := newOutput()
	v := newTestVM(nil)
	result, err := run(t, v, b, out)
	require.NoError(t, err)
	lst, ok := result.(*value.List)
	require.True(t, ok)
	assert.Equal(t, 2, len(lst.Items))
}

func TestBuildListPoppedCountRejectsNegative(t *testing.T) {
	b := bytecode.NewBuilder("main")
	b.Emit(op.LoadConst, b.Constant(value.NewInt(-1))) // count
	b.Emit(op.BuildList, buildListNoCount)
	b.Emit(op.Halt)

	out := newOutput()
	v := newTestVM(nil)
	_, err := run(t, v, b, out)
	require.Error(t, err)
	e, ok := vmerr.As(err)
	require.True(t, ok)
	assert.Equal(t, vmerr.InvalidOperation, e.Kind)
}

// Macro invocation: a macro body's output is captured and returned as the
// call expression's value, per the Jinja macro-as-expression convention.
func TestMacroCallCapturesBody(t *testing.T) {
	mb := bytecode.NewBuilder("macro_greet")
	mb.Emit(op.Lookup, mb.Name("name"))
	mb.Emit(op.Emit)
	mb.Emit(op.Halt)
	macroIns := mb.Build()

	out := newOutput()
	env := environment.NewMapEnvironment(100)
	v := newTestVM(env)

	st := newState(bytecode.NewBuilder("main").Build(), nil, op.AutoEscapeNone, v.recursionLimit())
	require.NoError(t, st.ctx.pushFrame(newFrame()))

	argSpec := value.NewList([]value.Value{value.NewString("name")})
	m := &Macro{
		owner:        v,
		name:         "greet",
		instructions: macroIns,
		entryPC:      0,
		argSpec:      argSpec,
		st:           st,
		out:          out,
	}
	result, err := v.evalMacro(context.Background(), m, []value.Value{value.NewString("world")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "world", result.String())
}
