package vm

import (
	"context"

	"github.com/brookvale/stencil/environment"
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
)

// arith dispatches an Add/Sub/Mul/Div/IntDiv/Rem/Pow opcode to the value
// model, mirroring the teacher's object.BinaryOp(opType, a, b) free
// function sitting in front of the per-type RunOperation method.
func arith(code op.Code, lhs, rhs value.Value) (value.Value, error) {
	arithOp, ok := arithOpFor(code)
	if !ok {
		return nil, vmerr.New(vmerr.InvalidOperation, "not an arithmetic opcode: %s", op.GetInfo(code).Name)
	}
	a, ok := lhs.(value.Arithmetic)
	if !ok {
		return nil, vmerr.New(vmerr.InvalidOperation, "unsupported operand type for arithmetic: %s", lhs.Kind())
	}
	return a.Arith(arithOp, rhs)
}

func arithOpFor(code op.Code) (value.ArithOp, bool) {
	switch code {
	case op.Add:
		return value.OpAdd, true
	case op.Sub:
		return value.OpSub, true
	case op.Mul:
		return value.OpMul, true
	case op.Div:
		return value.OpDiv, true
	case op.IntDiv:
		return value.OpIntDiv, true
	case op.Rem:
		return value.OpRem, true
	case op.Pow:
		return value.OpPow, true
	default:
		return 0, false
	}
}

// compare dispatches Gt/Gte/Lt/Lte to the value model's Comparable
// capability interface.
func compare(code op.Code, lhs, rhs value.Value) (bool, error) {
	cmp, ok := lhs.(value.Comparable)
	if !ok {
		return false, vmerr.New(vmerr.InvalidOperation, "value of type %s is not orderable", lhs.Kind())
	}
	result, ok := cmp.Compare(rhs)
	if !ok {
		return false, vmerr.New(vmerr.InvalidOperation, "cannot compare %s with %s", lhs.Kind(), rhs.Kind())
	}
	switch code {
	case op.Gt:
		return result > 0, nil
	case op.Gte:
		return result >= 0, nil
	case op.Lt:
		return result < 0, nil
	case op.Lte:
		return result <= 0, nil
	default:
		return false, vmerr.New(vmerr.InvalidOperation, "not a comparison opcode")
	}
}

// membershipTest implements the In opcode: the right operand must be
// iterable; membership is decided by Equals against each produced item.
func membershipTest(ctx context.Context, lhs, rhs value.Value) (bool, error) {
	it, err := rhs.Iter()
	if err != nil {
		return false, vmerr.New(vmerr.InvalidOperation, "right operand of 'in' is not iterable")
	}
	for {
		item, ok := it.Next(ctx)
		if !ok {
			return false, nil
		}
		if lhs.Equals(item) {
			return true, nil
		}
	}
}

// drainAll exhausts an iterable value into a slice, used by UnpackList.
func drainAll(ctx context.Context, iterable value.Value) ([]value.Value, error) {
	it, err := iterable.Iter()
	if err != nil {
		return nil, vmerr.New(vmerr.CannotUnpack, "value is not iterable")
	}
	var items []value.Value
	for {
		item, ok := it.Next(ctx)
		if !ok {
			break
		}
		items = append(items, item)
	}
	return items, nil
}

// sliceValue implements the Slice opcode for List- and String-backed
// values; start/stop/step follow Python-style slicing semantics with nil
// (Undefined) endpoints meaning "from the beginning"/"to the end".
func sliceValue(a, start, stop, step value.Value) (value.Value, error) {
	stepN := 1
	if !step.IsUndefined() {
		i, ok := step.(value.Int)
		if !ok || i.Val == 0 {
			return nil, vmerr.New(vmerr.InvalidOperation, "slice step must be a non-zero integer")
		}
		stepN = int(i.Val)
	}

	switch v := a.(type) {
	case *value.List:
		lo, hi := sliceBounds(len(v.Items), start, stop, stepN)
		return value.NewList(sliceItems(v.Items, lo, hi, stepN)), nil
	case value.String:
		runes := []rune(v.Val)
		lo, hi := sliceBounds(len(runes), start, stop, stepN)
		var out []rune
		if stepN > 0 {
			for i := lo; i < hi; i += stepN {
				out = append(out, runes[i])
			}
		} else {
			for i := lo; i > hi; i += stepN {
				out = append(out, runes[i])
			}
		}
		return value.NewString(string(out)), nil
	default:
		return nil, vmerr.New(vmerr.InvalidOperation, "value of type %s is not sliceable", a.Kind())
	}
}

func sliceBounds(n int, start, stop value.Value, step int) (int, int) {
	lo, hi := 0, n
	if step < 0 {
		lo, hi = n-1, -1
	}
	if i, ok := start.(value.Int); ok {
		lo = normalizeIndex(int(i.Val), n, step)
	}
	if i, ok := stop.(value.Int); ok {
		hi = normalizeIndex(int(i.Val), n, step)
	}
	return lo, hi
}

func normalizeIndex(i, n, step int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		if step < 0 {
			return -1
		}
		return 0
	}
	if i >= n {
		if step < 0 {
			return n - 1
		}
		return n
	}
	return i
}

func sliceItems(items []value.Value, lo, hi, step int) []value.Value {
	var out []value.Value
	if step > 0 {
		for i := lo; i < hi; i += step {
			out = append(out, items[i])
		}
	} else {
		for i := lo; i > hi; i += step {
			out = append(out, items[i])
		}
	}
	return out
}

// deriveAutoEscape implements PushAutoEscape's mode-derivation rules
// (spec.md §4.4).
func deriveAutoEscape(val value.Value, current op.AutoEscape) (op.AutoEscape, error) {
	if s, ok := val.(value.String); ok {
		switch s.Val {
		case "html":
			return op.AutoEscapeHTML, nil
		case "json":
			return op.AutoEscapeJSON, nil
		case "none":
			return op.AutoEscapeNone, nil
		}
	}
	if b, ok := val.(value.Bool); ok {
		if !b.Val {
			return op.AutoEscapeNone, nil
		}
		if current == op.AutoEscapeNone {
			return op.AutoEscapeHTML, nil
		}
		return current, nil
	}
	return 0, vmerr.New(vmerr.InvalidOperation, "invalid auto-escape value")
}

// encodeAutoEscape/decodeAutoEscape round-trip an AutoEscape mode through
// the operand stack for PushAutoEscape/PopAutoEscape, which per spec.md
// push/pop the previous mode as a stack value.
func encodeAutoEscape(mode op.AutoEscape) value.Value {
	return value.NewInt(int64(mode))
}

func decodeAutoEscape(v value.Value) op.AutoEscape {
	i, ok := v.(value.Int)
	if !ok {
		return op.AutoEscapeNone
	}
	return op.AutoEscape(i.Val)
}

// resolveFilter/resolveTest implement ApplyFilter/PerformTest's small
// per-Instructions cache: if localID names a populated slot, reuse it;
// otherwise resolve by name through the environment and memoize.
// NoLocal (0xFF) always resolves by name and never caches.
func (v *VirtualMachine) resolveFilter(st *state, name string, localID uint16) (environment.Filter, error) {
	if st.filterCache == nil {
		st.filterCache = map[uint16]environment.Filter{}
	}
	if localID != op.NoLocal {
		if f, ok := st.filterCache[localID]; ok {
			return f, nil
		}
	}
	f, ok := v.env.GetFilter(name)
	if !ok {
		return nil, vmerr.New(vmerr.UnknownFilter, "unknown filter %q", name)
	}
	if localID != op.NoLocal {
		st.filterCache[localID] = f
	}
	return f, nil
}

func (v *VirtualMachine) resolveTest(st *state, name string, localID uint16) (environment.Test, error) {
	if st.testCache == nil {
		st.testCache = map[uint16]environment.Test{}
	}
	if localID != op.NoLocal {
		if tst, ok := st.testCache[localID]; ok {
			return tst, nil
		}
	}
	tst, ok := v.env.GetTest(name)
	if !ok {
		return nil, vmerr.New(vmerr.UnknownTest, "unknown test %q", name)
	}
	if localID != op.NoLocal {
		st.testCache[localID] = tst
	}
	return tst, nil
}
