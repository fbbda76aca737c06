package vm

import (
	"context"
	"fmt"

	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
)

// step executes one opcode at pc, returning the next pc to resume at
// (ignored when done is true), any trailing value for an end-of-program
// return (only meaningful when done is true), whether evaluation should
// stop, and any error. It is split out of doEval purely for readability;
// the two functions together implement spec.md §4.4's dispatch table.
func (v *VirtualMachine) step(ctx context.Context, st *state, out *output, stk *stack, pc int, code op.Code) (int, value.Value, bool, error) {
	ins := st.currentInstructions
	next := pc + 1 + operandCount(code)

	switch code {
	case op.Nop:
		// no-op

	case op.Halt:
		val, _ := stk.tryPop()
		return 0, val, true, nil

	case op.LoadConst:
		stk.push(ins.Constant(operand(ins, pc, 0)))

	case op.StoreLocal:
		name := ins.NameAt(operand(ins, pc, 0))
		st.ctx.store(name, stk.pop())

	case op.Lookup:
		name := ins.NameAt(operand(ins, pc, 0))
		val, _ := st.ctx.lookup(name)
		if err := val.Validate(); err != nil {
			return 0, nil, false, err
		}
		stk.push(val)

	case op.Swap:
		stk.swap()

	case op.DupTop:
		stk.dup()

	case op.DiscardTop:
		stk.pop()

	case op.Copy:
		n := int(operand(ins, pc, 0))
		items := stk.sliceTop(n)
		cp := append([]value.Value(nil), items...)
		for _, item := range cp {
			stk.push(item)
		}

	case op.GetAttr:
		name := ins.NameAt(operand(ins, pc, 0))
		receiver := stk.pop()
		val, err := v.getAttr(receiver, name)
		if err != nil {
			return 0, nil, false, err
		}
		stk.push(val)

	case op.SetAttr:
		name := ins.NameAt(operand(ins, pc, 0))
		val := stk.pop()
		receiver := stk.pop()
		holder, ok := receiver.(value.NamespaceHolder)
		if !ok {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "cannot set attribute on non-namespace value")
		}
		ns, ok := holder.AsNamespace()
		if !ok {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "cannot set attribute on non-namespace value")
		}
		ns.Set(name, val)

	case op.GetItem:
		key := stk.pop()
		receiver := stk.pop()
		val, err := v.getItem(receiver, key)
		if err != nil {
			return 0, nil, false, err
		}
		stk.push(val)

	case op.Slice:
		step := stk.pop()
		stop := stk.pop()
		start := stk.pop()
		a := stk.pop()
		if a.IsUndefined() && v.undefined == Strict {
			return 0, nil, false, vmerr.New(vmerr.UndefinedError, "cannot slice an undefined value")
		}
		val, err := sliceValue(a, start, stop, step)
		if err != nil {
			return 0, nil, false, err
		}
		stk.push(val)

	case op.BuildMap:
		k := int(operand(ins, pc, 0))
		m := value.NewMap()
		items := stk.sliceTop(2 * k)
		for i := 0; i < k; i++ {
			key := items[2*i]
			val := items[2*i+1]
			if _, exists := m.GetAttr(key.String()); !exists {
				m.Set(key.String(), val)
			}
		}
		stk.dropTop(2 * k)
		stk.push(m)

	case op.BuildKwargs:
		k := int(operand(ins, pc, 0))
		m := value.NewMap()
		m.Kwargs = true
		items := stk.sliceTop(2 * k)
		for i := 0; i < k; i++ {
			key := items[2*i]
			val := items[2*i+1]
			if _, exists := m.GetAttr(key.String()); !exists {
				m.Set(key.String(), val)
			}
		}
		stk.dropTop(2 * k)
		stk.push(m)

	case op.BuildList:
		n, err := v.buildListCount(ins, pc, stk)
		if err != nil {
			return 0, nil, false, err
		}
		items := append([]value.Value(nil), stk.sliceTop(n)...)
		stk.dropTop(n)
		stk.push(value.NewList(items))

	case op.UnpackList:
		k := int(operand(ins, pc, 0))
		iterable := stk.pop()
		items, err := drainAll(ctx, iterable)
		if err != nil {
			return 0, nil, false, err
		}
		if len(items) != k {
			return 0, nil, false, vmerr.New(vmerr.CannotUnpack, "expected %d values, got %d", k, len(items))
		}
		for _, item := range items {
			stk.push(item)
		}

	case op.Add, op.Sub, op.Mul, op.Div, op.IntDiv, op.Rem, op.Pow:
		rhs := stk.pop()
		lhs := stk.pop()
		val, err := arith(code, lhs, rhs)
		if err != nil {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "%s", err.Error())
		}
		stk.push(val)

	case op.Neg:
		val, err := value.Neg(stk.pop())
		if err != nil {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "%s", err.Error())
		}
		stk.push(val)

	case op.Not:
		val := stk.pop()
		if err := v.checkStrictUndefined(val); err != nil {
			return 0, nil, false, err
		}
		stk.push(value.NewBool(!val.IsTruthy()))

	case op.Eq:
		rhs := stk.pop()
		lhs := stk.pop()
		stk.push(value.NewBool(lhs.Equals(rhs)))

	case op.Ne:
		rhs := stk.pop()
		lhs := stk.pop()
		stk.push(value.NewBool(!lhs.Equals(rhs)))

	case op.Gt, op.Gte, op.Lt, op.Lte:
		rhs := stk.pop()
		lhs := stk.pop()
		result, err := compare(code, lhs, rhs)
		if err != nil {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "%s", err.Error())
		}
		stk.push(value.NewBool(result))

	case op.StringConcat:
		rhs := stk.pop()
		lhs := stk.pop()
		stk.push(value.NewString(lhs.String() + rhs.String()))

	case op.In:
		rhs := stk.pop()
		lhs := stk.pop()
		if err := v.checkStrictUndefined(rhs); err != nil {
			return 0, nil, false, err
		}
		found, err := membershipTest(ctx, lhs, rhs)
		if err != nil {
			return 0, nil, false, err
		}
		stk.push(value.NewBool(found))

	case op.PushWith:
		if err := st.ctx.pushFrame(newFrame()); err != nil {
			return 0, nil, false, err
		}

	case op.PopFrame:
		f := st.ctx.popFrame()
		if f.loop != nil {
			if rj, ok := f.loop.takePendingRecursion(); ok {
				if rj.closeCapture {
					val := out.endCapture(st.autoEscape)
					stk.push(val)
				}
				return rj.returnPC, nil, false, nil
			}
		}

	case op.PushAutoEscape:
		val := stk.pop()
		mode, err := deriveAutoEscape(val, st.autoEscape)
		if err != nil {
			return 0, nil, false, err
		}
		stk.push(encodeAutoEscape(st.pushAutoEscape(mode)))

	case op.PopAutoEscape:
		prevVal := stk.pop()
		st.popAutoEscape(decodeAutoEscape(prevVal))

	case op.BeginCapture:
		mode := op.CaptureMode(operand(ins, pc, 0))
		out.beginCapture(mode)

	case op.EndCapture:
		stk.push(out.endCapture(st.autoEscape))

	case op.EmitRaw:
		s := ins.NameAt(operand(ins, pc, 0))
		out.writeStr(s)

	case op.Emit:
		val := stk.pop()
		if err := v.checkStrictUndefined(val); err != nil {
			return 0, nil, false, err
		}
		if err := v.env.Format(ctx, val, st.autoEscape, out); err != nil {
			return 0, nil, false, err
		}

	case op.Jump:
		return int(operand(ins, pc, 0)), nil, false, nil

	case op.JumpIfFalse:
		val := stk.pop()
		if err := v.checkStrictUndefined(val); err != nil {
			return 0, nil, false, err
		}
		if !val.IsTruthy() {
			return int(operand(ins, pc, 0)), nil, false, nil
		}

	case op.JumpIfFalseOrPop:
		val := stk.peek()
		if err := v.checkStrictUndefined(val); err != nil {
			return 0, nil, false, err
		}
		if !val.IsTruthy() {
			return int(operand(ins, pc, 0)), nil, false, nil
		}
		stk.pop()

	case op.JumpIfTrueOrPop:
		val := stk.peek()
		if err := v.checkStrictUndefined(val); err != nil {
			return 0, nil, false, err
		}
		if val.IsTruthy() {
			return int(operand(ins, pc, 0)), nil, false, nil
		}
		stk.pop()

	case op.PushLoop:
		flags := operand(ins, pc, 0)
		iterable := stk.pop()
		if err := v.checkStrictUndefined(iterable); err != nil {
			return 0, nil, false, err
		}
		it, err := iterable.Iter()
		if err != nil {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "%s", err.Error())
		}
		recursive := flags&op.LoopRecursive != 0
		withLoopVar := flags&op.LoopWithLoopVar != 0
		adjacentItems := flags&op.LoopWithAdjacent != 0
		depth := 0
		if parent := st.ctx.currentLoop(); parent != nil && parent.recurseJumpEnabled() {
			depth = parent.object.DepthValue() + 1
		}
		ls := newLoopState(it, withLoopVar, recursive, adjacentItems, depth)
		if recursive {
			ls.recurseJumpTarget = pc
			ls.hasRecurseTarget = true
		}
		// A `loop()`/FastRecurse call into this loop stashes its resume
		// point on the context just before jumping here; claim it now so
		// THIS loop's own PopFrame (not the caller's) resumes the caller
		// once this sub-loop's iteration is exhausted.
		if rj, ok := st.ctx.takeLoopRecursion(); ok {
			ls.pendingRecursion = rj
		}
		f := newFrame()
		f.loop = ls
		if err := st.ctx.pushFrame(f); err != nil {
			return 0, nil, false, err
		}

	case op.Iterate:
		loop := st.ctx.currentLoop()
		if loop == nil {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "ITERATE outside of a loop")
		}
		item, ok := loop.next(ctx)
		if !ok {
			return int(operand(ins, pc, 0)), nil, false, nil
		}
		loop.object.Advance()
		if err := item.Validate(); err != nil {
			return 0, nil, false, err
		}
		stk.push(item)

	case op.PushDidNotIterate:
		loop := st.ctx.currentLoop()
		stk.push(value.NewBool(loop == nil || loop.object.IsBeforeFirst()))

	case op.FastRecurse:
		loop := st.ctx.currentLoop()
		if loop == nil || !loop.hasRecurseTarget {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "loop() called outside of a recursive loop")
		}
		st.ctx.stashLoopRecursion(recursionJump{returnPC: next, valid: true})
		return loop.recurseJumpTarget, nil, false, nil

	case op.ApplyFilter:
		name := ins.NameAt(operand(ins, pc, 0))
		argc := int(operand(ins, pc, 1))
		localID := operand(ins, pc, 2)
		filter, err := v.resolveFilter(st, name, localID)
		if err != nil {
			return 0, nil, false, err
		}
		args := append([]value.Value(nil), stk.sliceTop(argc)...)
		stk.dropTop(argc)
		val := stk.pop()
		result, err := filter(ctx, val, args)
		if err != nil {
			return 0, nil, false, err
		}
		stk.push(result)

	case op.PerformTest:
		name := ins.NameAt(operand(ins, pc, 0))
		argc := int(operand(ins, pc, 1))
		localID := operand(ins, pc, 2)
		test, err := v.resolveTest(st, name, localID)
		if err != nil {
			return 0, nil, false, err
		}
		args := append([]value.Value(nil), stk.sliceTop(argc)...)
		stk.dropTop(argc)
		val := stk.pop()
		result, err := test(ctx, val, args)
		if err != nil {
			return 0, nil, false, err
		}
		stk.push(value.NewBool(result))

	case op.CallFunction:
		nameIdx := operand(ins, pc, 0)
		argc := int(operand(ins, pc, 1))
		name := ins.NameAt(nameIdx)

		// "super" and "loop" are resolved here, ahead of general name
		// lookup, and cannot be shadowed by a user binding (spec.md §9).
		switch name {
		case "super":
			if argc != 0 {
				return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "super() takes no arguments")
			}
			v.observerOrNop().OnCall(name, argc)
			result, err := v.callSuper(ctx, st, out, true)
			if err != nil {
				return 0, nil, false, err
			}
			v.observerOrNop().OnReturn(name)
			stk.push(result)
			return next, nil, false, nil

		case "loop":
			if argc != 1 {
				return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "loop() takes exactly one argument")
			}
			arg := stk.pop()
			loop := st.ctx.currentLoop()
			if loop == nil || !loop.hasRecurseTarget {
				return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "loop() called outside of a recursive loop")
			}
			v.observerOrNop().OnCall(name, argc)
			stk.push(arg)
			st.ctx.stashLoopRecursion(recursionJump{returnPC: next, valid: true})
			return loop.recurseJumpTarget, nil, false, nil
		}

		v.observerOrNop().OnCall(name, argc)
		result, err := v.callFunction(ctx, st, stk, name, argc)
		if err != nil {
			return 0, nil, false, err
		}
		v.observerOrNop().OnReturn(name)
		stk.push(result)

	case op.CallMethod:
		nameIdx := operand(ins, pc, 0)
		argc := int(operand(ins, pc, 1))
		name := ins.NameAt(nameIdx)
		args := append([]value.Value(nil), stk.sliceTop(argc)...)
		stk.dropTop(argc)
		receiver := stk.pop()
		caller, ok := receiver.(value.MethodCaller)
		if !ok {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "value has no callable methods")
		}
		v.observerOrNop().OnCall(name, argc)
		result, err := caller.CallMethod(ctx, name, args)
		if err != nil {
			return 0, nil, false, err
		}
		v.observerOrNop().OnReturn(name)
		stk.push(result)

	case op.CallObject:
		argc := int(operand(ins, pc, 0))
		args := append([]value.Value(nil), stk.sliceTop(argc)...)
		stk.dropTop(argc)
		callee := stk.pop()
		callable, ok := callee.(value.Callable)
		if !ok {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "value is not callable")
		}
		v.observerOrNop().OnCall(callee.String(), argc)
		result, err := callable.Call(ctx, args)
		if err != nil {
			return 0, nil, false, err
		}
		v.observerOrNop().OnReturn(callee.String())
		stk.push(result)

	case op.CallBlock:
		name := ins.NameAt(operand(ins, pc, 0))
		if err := v.callBlock(ctx, st, out, name); err != nil {
			return 0, nil, false, err
		}

	case op.FastSuper:
		v.observerOrNop().OnCall("super", 0)
		if _, err := v.callSuper(ctx, st, out, false); err != nil {
			return 0, nil, false, err
		}
		v.observerOrNop().OnReturn("super")

	case op.LoadBlocks:
		nameVal := stk.pop()
		if st.parentInstructions != nil {
			return 0, nil, false, vmerr.New(vmerr.InvalidOperation, "template already extends another template")
		}
		if err := v.loadBlocks(ctx, st, nameVal.String()); err != nil {
			return 0, nil, false, err
		}
		out.beginCapture(op.CaptureDiscard)

	case op.ExportLocals:
		stk.push(st.ctx.topFrame().exportLocals())

	case op.BuildMacro:
		nameIdx := operand(ins, pc, 0)
		entryPC := int(operand(ins, pc, 1))
		flags := operand(ins, pc, 2)
		closureVal := stk.pop()
		argSpecVal := stk.pop()
		argSpec, _ := argSpecVal.(*value.List)
		var cl *Closure
		if cv, ok := closureVal.(closureValue); ok {
			cl = cv.closure
		}
		macro := &Macro{
			owner:        v,
			name:         ins.NameAt(nameIdx),
			instructions: ins,
			entryPC:      entryPC,
			closure:      cl,
			argSpec:      argSpec,
			isCaller:     flags&op.MacroCaller != 0,
			st:           st,
			out:          out,
		}
		st.macros = append(st.macros, macro)
		stk.push(macro)

	case op.Return:
		val, _ := stk.tryPop()
		return 0, val, true, nil

	case op.Enclose:
		name := ins.NameAt(operand(ins, pc, 0))
		st.ctx.enclose(st.tracker, name)

	case op.GetClosure:
		if st.ctx.active == nil {
			stk.push(value.Undefined)
		} else {
			stk.push(closureValue{closure: st.ctx.active})
		}

	case op.IsUndefined:
		val := stk.pop()
		stk.push(value.NewBool(val.IsUndefined()))

	case op.Include:
		ignoreMissing := operand(ins, pc, 0) != 0
		nameVal := stk.pop()
		if err := v.include(ctx, st, out, nameVal, ignoreMissing); err != nil {
			return 0, nil, false, err
		}

	default:
		return 0, nil, false, fmt.Errorf("unhandled opcode %s", op.GetInfo(code).Name)
	}

	return next, nil, false, nil
}

func (v *VirtualMachine) checkStrictUndefined(val value.Value) error {
	if val.IsUndefined() && v.undefined == Strict {
		return vmerr.New(vmerr.UndefinedError, "value is undefined")
	}
	return nil
}

func (v *VirtualMachine) getAttr(receiver value.Value, name string) (value.Value, error) {
	if val, ok := receiver.GetAttr(name); ok {
		return val, nil
	}
	return v.resolveMiss(receiver, fmt.Sprintf("attribute %q", name))
}

func (v *VirtualMachine) getItem(receiver value.Value, key value.Value) (value.Value, error) {
	if val, ok := receiver.GetItem(key); ok {
		return val, nil
	}
	return v.resolveMiss(receiver, fmt.Sprintf("item %q", key.String()))
}

// resolveMiss implements the three-way undefined-behavior policy for a
// failed attribute/item lookup (spec.md §4.4, §7): Strict always raises;
// Lenient raises only when the receiver was already defined (a miss
// against a real value is an error, but chaining through an already-
// undefined receiver is tolerated); Chained never raises.
func (v *VirtualMachine) resolveMiss(receiver value.Value, what string) (value.Value, error) {
	switch v.undefined {
	case Strict:
		return nil, vmerr.New(vmerr.UndefinedError, "%s is undefined", what)
	case Lenient:
		if receiver.IsUndefined() {
			return value.Undefined, nil
		}
		return nil, vmerr.New(vmerr.UndefinedError, "%s is undefined", what)
	default:
		return value.Undefined, nil
	}
}

// buildListNoCount is the BuildList operand sentinel meaning "the count
// was not known at compile time; pop it from the stack instead". This
// resolves spec.md §9's open question about BuildList's optional count:
// the operand slot, rather than being absent, carries 0xFFFF and the
// actual count is read off the stack and validated as a non-negative
// integer, raising InvalidOperation otherwise (rather than the original's
// infallible conversion).
const buildListNoCount uint16 = 0xFFFF

func (v *VirtualMachine) buildListCount(ins *bytecode.Instructions, pc int, stk *stack) (int, error) {
	n := operand(ins, pc, 0)
	if n != buildListNoCount {
		return int(n), nil
	}
	countVal := stk.pop()
	i, ok := countVal.(value.Int)
	if !ok || i.Val < 0 {
		return 0, vmerr.New(vmerr.InvalidOperation, "BUILD_LIST count must be a non-negative integer")
	}
	return int(i.Val), nil
}
