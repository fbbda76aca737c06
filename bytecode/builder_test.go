package bytecode

import (
	"testing"

	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func locAt(line, col int) vmerr.Location {
	return vmerr.Location{Line: line, Column: col}
}

func TestBuilderEmitAndFetch(t *testing.T) {
	b := NewBuilder("t")
	cIdx := b.Constant(value.NewInt(5))
	b.Emit(op.LoadConst, cIdx)
	b.Emit(op.Halt)
	ins := b.Build()

	assert.Equal(t, op.LoadConst, ins.Fetch(0))
	assert.Equal(t, cIdx, ins.Operand(1))
	assert.Equal(t, op.Halt, ins.Fetch(2))
	assert.Equal(t, 3, ins.Len())

	v := ins.Constant(ins.Operand(1))
	assert.Equal(t, "5", v.String())
}

func TestBuilderNameInterningDedups(t *testing.T) {
	b := NewBuilder("t")
	i1 := b.Name("x")
	i2 := b.Name("y")
	i3 := b.Name("x")
	assert.Equal(t, i1, i3)
	assert.NotEqual(t, i1, i2)
}

func TestBuilderJumpPatch(t *testing.T) {
	b := NewBuilder("t")
	jumpPC := b.Emit(op.Jump, 0)
	target := b.Here()
	b.Emit(op.Nop)
	b.PatchOperand(jumpPC+1, uint16(target))
	ins := b.Build()
	assert.Equal(t, uint16(target), ins.Operand(jumpPC+1))
}

func TestBuilderLocationTracking(t *testing.T) {
	b := NewBuilder("t")
	pc := b.EmitAt(locAt(1, 2), op.Nop)
	ins := b.Build()
	loc, ok := ins.Location(pc)
	require.True(t, ok)
	assert.Equal(t, 1, loc.Line)
	assert.Equal(t, 2, loc.Column)
}
