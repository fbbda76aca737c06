package value

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarTruthiness(t *testing.T) {
	assert.False(t, Nil.IsTruthy())
	assert.False(t, Undefined.IsTruthy())
	assert.True(t, Undefined.IsUndefined())
	assert.False(t, NewBool(false).IsTruthy())
	assert.True(t, NewBool(true).IsTruthy())
	assert.False(t, NewInt(0).IsTruthy())
	assert.True(t, NewInt(1).IsTruthy())
	assert.False(t, NewString("").IsTruthy())
	assert.True(t, NewString("x").IsTruthy())
}

func TestIntFloatEquality(t *testing.T) {
	assert.True(t, NewInt(2).Equals(NewFloat(2.0)))
	assert.True(t, NewFloat(2.0).Equals(NewInt(2)))
	assert.False(t, NewInt(2).Equals(NewInt(3)))
}

func TestComparable(t *testing.T) {
	a, ok := NewInt(1).(Comparable)
	require.True(t, ok)
	cmp, ok := a.Compare(NewInt(2))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestListIndexing(t *testing.T) {
	l := NewList([]Value{NewInt(10), NewInt(20), NewInt(30)})
	v, ok := l.GetItem(NewInt(-1))
	require.True(t, ok)
	assert.Equal(t, "30", v.String())

	require.NoError(t, l.SetItem(NewInt(0), NewInt(99)))
	v, _ = l.GetItem(NewInt(0))
	assert.Equal(t, "99", v.String())

	_, ok = l.GetItem(NewInt(5))
	assert.False(t, ok)
}

func TestListIteration(t *testing.T) {
	l := NewList([]Value{NewInt(1), NewInt(2)})
	it, err := l.Iter()
	require.NoError(t, err)
	lower, upper, hasUpper := it.SizeHint()
	assert.Equal(t, 2, lower)
	assert.True(t, hasUpper)
	assert.Equal(t, 2, upper)

	ctx := context.Background()
	v, ok := it.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", v.String())
	v, ok = it.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", v.String())
	_, ok = it.Next(ctx)
	assert.False(t, ok)
}

func TestMapOrderingAndAttr(t *testing.T) {
	m := NewMap()
	m.Set("b", NewInt(2))
	m.Set("a", NewInt(1))
	assert.Equal(t, []string{"b", "a"}, m.Keys())
	assert.Equal(t, []string{"a", "b"}, m.SortedKeys())

	v, ok := m.GetAttr("a")
	require.True(t, ok)
	assert.Equal(t, "1", v.String())
}

func TestNamespaceMutation(t *testing.T) {
	ns := NewNamespace()
	ns.Set("x", NewInt(1))
	v, ok := ns.GetAttr("x")
	require.True(t, ok)
	assert.Equal(t, "1", v.String())

	ns.Set("x", NewInt(2))
	v, _ = ns.GetAttr("x")
	assert.Equal(t, "2", v.String())

	var holder NamespaceHolder = ns
	got, ok := holder.AsNamespace()
	require.True(t, ok)
	assert.Same(t, ns, got)
}

func TestLoopIndexProgression(t *testing.T) {
	l := NewLoop(0, 3, 3, true)
	v, ok := l.GetAttr("first")
	require.True(t, ok)
	assert.True(t, v.IsTruthy())

	l.Advance()
	v, _ = l.GetAttr("index0")
	assert.Equal(t, "0", v.String())
	v, _ = l.GetAttr("index")
	assert.Equal(t, "1", v.String())

	l.Advance()
	l.Advance()
	v, ok = l.GetAttr("last")
	require.True(t, ok)
	assert.True(t, v.IsTruthy())

	v, _ = l.GetAttr("length")
	assert.Equal(t, "3", v.String())
}

func TestLoopChanged(t *testing.T) {
	l := NewLoop(0, 0, 0, false)
	ctx := context.Background()

	changed, err := l.CallMethod(ctx, "changed", []Value{NewInt(1)})
	require.NoError(t, err)
	assert.True(t, changed.IsTruthy())

	changed, err = l.CallMethod(ctx, "changed", []Value{NewInt(1)})
	require.NoError(t, err)
	assert.False(t, changed.IsTruthy())

	changed, err = l.CallMethod(ctx, "changed", []Value{NewInt(2)})
	require.NoError(t, err)
	assert.True(t, changed.IsTruthy())
}

func TestLoopAdjacentItems(t *testing.T) {
	l := NewLoop(0, 0, 0, false)
	_, ok := l.GetAttr("previtem")
	require.True(t, ok)

	l.SetAdjacent(nil, NewInt(5))
	v, _ := l.GetAttr("previtem")
	assert.True(t, v.IsUndefined())
	v, _ = l.GetAttr("nextitem")
	assert.Equal(t, "5", v.String())
}

func TestStringIterationAndIndexing(t *testing.T) {
	s := NewString("ab")
	v, ok := s.(Lenner)
	require.True(t, ok)
	assert.Equal(t, 2, v.Len())

	it, err := s.Iter()
	require.NoError(t, err)
	ctx := context.Background()
	first, ok := it.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", first.String())

	last, ok := s.GetItem(NewInt(-1))
	require.True(t, ok)
	assert.Equal(t, "b", last.String())
}
