package bytecode

import (
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
)

// Builder assembles an Instructions one opcode at a time. It exists so
// tests (and, later, a compiler) can emit bytecode without hand-building
// the word stream, modeled on the teacher's compiler/code.go Code builder
// and its Emit/ChangeOperand/patch-the-jump-later pattern.
type Builder struct {
	name      string
	code      []op.Code
	constants []value.Value
	names     []string
	locations map[int]vmerr.Location
}

// NewBuilder starts a new Instructions assembly for the named template.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, locations: map[int]vmerr.Location{}}
}

// Emit appends an opcode and its operand words, returning the PC the
// opcode was written at (useful as a jump patch target).
func (b *Builder) Emit(code op.Code, operands ...uint16) int {
	pc := len(b.code)
	b.code = append(b.code, code)
	for _, o := range operands {
		b.code = append(b.code, op.Code(o))
	}
	return pc
}

// EmitAt mirrors Emit but also records a source location for the opcode,
// used by tests exercising error enrichment.
func (b *Builder) EmitAt(loc vmerr.Location, code op.Code, operands ...uint16) int {
	pc := b.Emit(code, operands...)
	b.locations[pc] = loc
	return pc
}

// Constant appends a constant value to the pool, returning its index.
// Equal values are not deduplicated; each call adds a new entry.
func (b *Builder) Constant(v value.Value) uint16 {
	b.constants = append(b.constants, v)
	return uint16(len(b.constants) - 1)
}

// Name interns a name string, returning its pool index.
func (b *Builder) Name(s string) uint16 {
	for i, existing := range b.names {
		if existing == s {
			return uint16(i)
		}
	}
	b.names = append(b.names, s)
	return uint16(len(b.names) - 1)
}

// PatchOperand overwrites the operand word at position pos (as returned by
// Emit, plus an offset) — used to back-patch forward jump targets once the
// jump destination is known.
func (b *Builder) PatchOperand(pos int, value uint16) {
	b.code[pos] = op.Code(value)
}

// Here returns the PC the next Emit call will be written at, the natural
// jump target for a backward jump (e.g. a loop's Iterate target).
func (b *Builder) Here() int {
	return len(b.code)
}

// Build finalizes the assembly into an immutable Instructions.
func (b *Builder) Build() *Instructions {
	return New(b.name, append([]op.Code(nil), b.code...), append([]value.Value(nil), b.constants...), append([]string(nil), b.names...), b.locations)
}
