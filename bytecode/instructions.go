// Package bytecode holds the compiled instruction representation the VM
// executes: a flat stream of opcode words with parallel constant and name
// pools, plus a sparse per-PC source location table used to enrich errors.
// It is grounded directly on the teacher's bytecode.Code /
// compiler.Code: a flat []op.Code instruction stream addressed by a
// word-granular program counter, with Constants/Names pools and a
// SourceLocation-per-instruction table (here sparse, since most words in a
// stream are operands rather than opcodes).
package bytecode

import (
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
	"github.com/brookvale/stencil/vmerr"
)

// Instructions is one compiled template body (or one block override within
// it). It is immutable once built and safe for concurrent read, mirroring
// the teacher's Code type.
type Instructions struct {
	name      string
	code      []op.Code
	constants []value.Value
	names     []string
	locations map[int]vmerr.Location
}

// New constructs an Instructions from already-assembled parts. Most
// callers should use Builder instead.
func New(name string, code []op.Code, constants []value.Value, names []string, locations map[int]vmerr.Location) *Instructions {
	if locations == nil {
		locations = map[int]vmerr.Location{}
	}
	return &Instructions{
		name:      name,
		code:      code,
		constants: constants,
		names:     names,
		locations: locations,
	}
}

// Name is the template name this Instructions was compiled from, used for
// error enrichment and extends-cycle bookkeeping.
func (ins *Instructions) Name() string { return ins.name }

// Len is the length of the instruction stream in words.
func (ins *Instructions) Len() int { return len(ins.code) }

// Fetch returns the opcode word at pc, or op.Halt if pc is past the end —
// callers detect end-of-program by comparing pc against Len(), not by
// relying on this sentinel, but the sentinel makes defensive reads safe.
func (ins *Instructions) Fetch(pc int) op.Code {
	if pc < 0 || pc >= len(ins.code) {
		return op.Halt
	}
	return ins.code[pc]
}

// Operand returns the raw operand word at pc (used by the dispatch loop to
// read an opcode's fixed-count operands immediately following it).
func (ins *Instructions) Operand(pc int) uint16 {
	if pc < 0 || pc >= len(ins.code) {
		return 0
	}
	return uint16(ins.code[pc])
}

// Constant returns the constant at index i.
func (ins *Instructions) Constant(i uint16) value.Value {
	if int(i) >= len(ins.constants) {
		return value.Undefined
	}
	return ins.constants[i]
}

// NameAt returns the interned name string at index i.
func (ins *Instructions) NameAt(i uint16) string {
	if int(i) >= len(ins.names) {
		return ""
	}
	return ins.names[i]
}

// Location returns the source location attributed to the opcode at pc or,
// when none was recorded there, the nearest location recorded at an
// earlier pc; ok is false only when no location is recorded at or before pc.
func (ins *Instructions) Location(pc int) (vmerr.Location, bool) {
	if pc >= len(ins.code) {
		pc = len(ins.code) - 1
	}
	for p := pc; p >= 0; p-- {
		if loc, ok := ins.locations[p]; ok {
			return loc, true
		}
	}
	return vmerr.Location{}, false
}
