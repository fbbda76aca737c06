package vm

import (
	"context"

	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/environment"
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
)

// callFunction implements the general-name-lookup half of CallFunction:
// "super" and "loop" are intercepted earlier in dispatch, so by the time
// control reaches here name is resolved the ordinary way and called
// (spec.md §4.4/§9).
func (v *VirtualMachine) callFunction(ctx context.Context, st *state, stk *stack, name string, argc int) (value.Value, error) {
	args := append([]value.Value(nil), stk.sliceTop(argc)...)
	stk.dropTop(argc)

	val, ok := st.ctx.lookup(name)
	if !ok {
		return nil, vmerr.New(vmerr.UnknownFunction, "unknown function %q", name)
	}
	callable, ok := val.(value.Callable)
	if !ok {
		return nil, vmerr.New(vmerr.InvalidOperation, "%q is not callable", name)
	}
	return callable.Call(ctx, args)
}

// evalBlockBody runs target from pc 0 under a fresh frame, restoring
// currentInstructions on the way out, per spec.md §4.6's "a block
// invocation pushes an empty frame, swaps in the BlockStack's top
// Instructions, evaluates, pops frame, restores Instructions".
func (v *VirtualMachine) evalBlockBody(ctx context.Context, st *state, out *output, target *bytecode.Instructions) error {
	saved := st.currentInstructions
	st.currentInstructions = target

	if err := st.ctx.pushFrame(newFrame()); err != nil {
		st.currentInstructions = saved
		return err
	}

	_, err := v.doEval(ctx, st, out, 0, newStack())

	st.ctx.popFrame()
	st.currentInstructions = saved

	if err != nil {
		if e, ok := vmerr.As(err); ok {
			return vmerr.New(vmerr.EvalBlock, "%s", e.Error()).WithCause(err)
		}
		return vmerr.New(vmerr.EvalBlock, "%s", err.Error()).WithCause(err)
	}
	return nil
}

// callBlock invokes the currently overriding definition of a named block.
// A CallBlock encountered before an extends-swap has happened runs inside
// the Discard capture LoadBlocks opened, so its output is silently dropped
// by output.writeStr — no separate "pre-extension phase" check is needed.
func (v *VirtualMachine) callBlock(ctx context.Context, st *state, out *output, name string) error {
	bs, ok := st.blocks[name]
	if !ok {
		return vmerr.New(vmerr.UnknownBlock, "unknown block %q", name)
	}

	v.observerOrNop().OnCall(name, 0)
	prevBlock := st.currentBlock
	st.currentBlock = name
	err := v.evalBlockBody(ctx, st, out, bs.top())
	st.currentBlock = prevBlock
	v.observerOrNop().OnReturn(name)
	return err
}

// callSuper implements §4.6's "super": only valid inside a block, it
// descends the current block's BlockStack to the parent definition,
// optionally captures the parent's output (CallFunction("super") is an
// expression; FastSuper just streams through), evaluates it, and restores
// the BlockStack.
func (v *VirtualMachine) callSuper(ctx context.Context, st *state, out *output, capture bool) (value.Value, error) {
	if st.currentBlock == "" {
		return nil, vmerr.New(vmerr.InvalidOperation, "super() called outside of a block")
	}
	bs, ok := st.blocks[st.currentBlock]
	if !ok || !bs.hasParent() {
		return nil, vmerr.New(vmerr.InvalidOperation, "no parent block to call super() on")
	}

	childDef := bs.top()
	parentDef := bs.push()

	if capture {
		out.beginCapture(op.CaptureCapture)
	}
	err := v.evalBlockBody(ctx, st, out, parentDef)
	bs.pop(childDef)

	if err != nil {
		if capture {
			out.endCapture(st.autoEscape)
		}
		return nil, err
	}
	if capture {
		return out.endCapture(st.autoEscape), nil
	}
	return value.Undefined, nil
}

// loadBlocks implements the LoadBlocks opcode (spec.md §4.8): resolves the
// named template, refuses a cycle, and merges its blocks beneath the
// caller's BlockStacks so later CallBlock/super calls see the full
// extends chain.
func (v *VirtualMachine) loadBlocks(ctx context.Context, st *state, name string) error {
	if st.loadedTemplates[name] {
		v.observerOrNop().OnCycleDetected(name)
		return vmerr.New(vmerr.InvalidOperation, "template %q extends itself", name)
	}
	tmpl, ok := v.env.GetTemplate(name)
	if !ok {
		return vmerr.New(vmerr.TemplateNotFound, "template %q not found", name)
	}
	st.loadedTemplates[name] = true

	parentIns, parentBlocks := tmpl.InstructionsAndBlocks()
	for blockName, def := range parentBlocks {
		if bs, ok := st.blocks[blockName]; ok {
			bs.appendInstructions(def)
		} else {
			st.blocks[blockName] = newBlockStack(def)
		}
	}
	st.parentInstructions = parentIns
	v.observerOrNop().OnExtend(name)
	return nil
}

// candidateNames resolves Include's popped value into an ordered list of
// template names to try: a single name, or the names yielded by an
// iterable (spec.md §4.8).
func candidateNames(ctx context.Context, nameVal value.Value) ([]string, error) {
	if s, ok := nameVal.(value.String); ok {
		return []string{s.Val}, nil
	}
	it, err := nameVal.Iter()
	if err != nil {
		return nil, vmerr.New(vmerr.BadInclude, "include value must be a template name or an iterable of names")
	}
	var names []string
	for {
		item, ok := it.Next(ctx)
		if !ok {
			break
		}
		s, ok := item.(value.String)
		if !ok {
			return nil, vmerr.New(vmerr.BadInclude, "include iterable must yield template names")
		}
		names = append(names, s.Val)
	}
	return names, nil
}

// include implements the Include opcode (spec.md §4.8): tries each
// candidate name in turn, rendering the first that resolves in-place under
// a saved/replaced evaluation context, scoped by its own cycle-detection
// set so an included template may itself extend or include independently.
func (v *VirtualMachine) include(ctx context.Context, st *state, out *output, nameVal value.Value, ignoreMissing bool) error {
	names, err := candidateNames(ctx, nameVal)
	if err != nil {
		return err
	}

	for _, name := range names {
		tmpl, ok := v.env.GetTemplate(name)
		if !ok {
			continue
		}
		v.observerOrNop().OnInclude(name)
		return v.renderInclude(ctx, st, out, tmpl)
	}

	if ignoreMissing {
		return nil
	}
	return vmerr.New(vmerr.TemplateNotFound, "no template found among include candidates")
}

func (v *VirtualMachine) renderInclude(ctx context.Context, st *state, out *output, tmpl environment.Template) error {
	savedAutoEscape := st.autoEscape
	savedInstructions := st.currentInstructions
	savedBlocks := st.blocks
	savedLoaded := st.loadedTemplates
	savedFilterCache := st.filterCache
	savedTestCache := st.testCache
	savedParent := st.parentInstructions

	restore := func() {
		st.autoEscape = savedAutoEscape
		st.currentInstructions = savedInstructions
		st.blocks = savedBlocks
		st.loadedTemplates = savedLoaded
		st.filterCache = savedFilterCache
		st.testCache = savedTestCache
		st.parentInstructions = savedParent
	}

	if err := st.ctx.incrDepth(IncludeCost); err != nil {
		return err
	}

	ins, blocks := tmpl.InstructionsAndBlocks()
	bs := map[string]*blockStack{}
	for name, def := range blocks {
		bs[name] = newBlockStack(def)
	}
	loaded := map[string]bool{}
	for name := range savedLoaded {
		loaded[name] = true
	}

	st.autoEscape = tmpl.InitialAutoEscape()
	st.currentInstructions = ins
	st.blocks = bs
	st.loadedTemplates = loaded
	st.filterCache = nil
	st.testCache = nil
	st.parentInstructions = nil

	if err := st.ctx.pushFrame(newFrame()); err != nil {
		restore()
		st.ctx.decrDepth(IncludeCost)
		return err
	}

	_, err := v.doEval(ctx, st, out, 0, newStack())

	st.ctx.popFrame()
	restore()
	st.ctx.decrDepth(IncludeCost)

	if err != nil {
		if e, ok := vmerr.As(err); ok {
			return vmerr.New(vmerr.BadInclude, "%s", e.Error()).WithCause(err)
		}
		return vmerr.New(vmerr.BadInclude, "%s", err.Error()).WithCause(err)
	}
	return nil
}

// evalMacro implements §4.7's eval_macro: a fresh frame binding the call
// arguments to argSpec's declared names, the macro's closure made active
// so its body's lookups resolve enclosed variables, and the body's output
// captured so the call expression's result is the rendered string (the
// usual Jinja macro-as-expression convention) rather than whatever the
// body's dispatch loop leaves on its own operand stack.
func (v *VirtualMachine) evalMacro(ctx context.Context, m *Macro, args []value.Value, caller value.Value) (value.Value, error) {
	st := m.st
	out := m.out

	f := newFrame()
	if m.argSpec != nil {
		for i, nameVal := range m.argSpec.Items {
			name := nameVal.String()
			if i < len(args) {
				f.store(name, args[i])
			} else {
				f.store(name, value.Undefined)
			}
		}
	}
	if m.isCaller && caller != nil {
		f.store("caller", caller)
	}

	if err := st.ctx.incrDepth(MacroCost); err != nil {
		return nil, err
	}
	prevClosure := st.ctx.pushActiveClosure(m.closure)
	if err := st.ctx.pushFrame(f); err != nil {
		st.ctx.popActiveClosure(prevClosure)
		st.ctx.decrDepth(MacroCost)
		return nil, err
	}

	savedInstructions := st.currentInstructions
	st.currentInstructions = m.instructions
	out.beginCapture(op.CaptureCapture)

	v.observerOrNop().OnCall(m.name, len(args))
	_, err := v.doEval(ctx, st, out, m.entryPC, newStack())
	v.observerOrNop().OnReturn(m.name)

	result := out.endCapture(st.autoEscape)
	st.currentInstructions = savedInstructions
	st.ctx.popFrame()
	st.ctx.popActiveClosure(prevClosure)
	st.ctx.decrDepth(MacroCost)

	if err != nil {
		return nil, err
	}
	return result, nil
}
