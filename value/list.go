package value

import (
	"context"
	"strings"
)

// sliceIterator iterates a fixed, pre-materialized slice of values. It backs
// List.Iter and String.Iter, mirroring the teacher's object/iter.go slice
// iterator.
type sliceIterator struct {
	items []Value
	pos   int
}

func (it *sliceIterator) Next(ctx context.Context) (Value, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

func (it *sliceIterator) SizeHint() (int, int, bool) {
	remaining := len(it.items) - it.pos
	if remaining < 0 {
		remaining = 0
	}
	return remaining, remaining, true
}

// List is an ordered, mutable sequence of values.
type List struct {
	base
	Items []Value
}

func NewList(items []Value) *List {
	return &List{Items: items}
}

func (l *List) Kind() string { return "list" }

func (l *List) String() string {
	parts := make([]string, len(l.Items))
	for i, v := range l.Items {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (l *List) IsTruthy() bool { return len(l.Items) > 0 }

func (l *List) Equals(o Value) bool {
	other, ok := o.(*List)
	if !ok || len(other.Items) != len(l.Items) {
		return false
	}
	for i := range l.Items {
		if !l.Items[i].Equals(other.Items[i]) {
			return false
		}
	}
	return true
}

func (l *List) Len() int { return len(l.Items) }

func (l *List) GetItem(key Value) (Value, bool) {
	idx, ok := key.(Int)
	if !ok {
		return nil, false
	}
	i := int(idx.Val)
	if i < 0 {
		i += len(l.Items)
	}
	if i < 0 || i >= len(l.Items) {
		return nil, false
	}
	return l.Items[i], true
}

func (l *List) SetItem(key, val Value) error {
	idx, ok := key.(Int)
	if !ok {
		return &indexError{"list index must be an integer"}
	}
	i := int(idx.Val)
	if i < 0 {
		i += len(l.Items)
	}
	if i < 0 || i >= len(l.Items) {
		return &indexError{"list index out of range"}
	}
	l.Items[i] = val
	return nil
}

func (l *List) Iter() (Iterator, error) {
	return &sliceIterator{items: l.Items}, nil
}

type indexError struct{ msg string }

func (e *indexError) Error() string { return e.msg }
