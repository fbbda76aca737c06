// Package op defines the opcodes interpreted by the stencil virtual machine.
//
// Each opcode carries a fixed number of operand words, which are stored as
// uint16 values immediately following the opcode word in an instruction
// stream (see package bytecode). OperandCount in Info describes how many
// operand words follow a given opcode.
package op

// Code is an opcode understood by the VM dispatch loop.
type Code uint16

const (
	Invalid Code = iota

	// Execution
	Nop
	Halt

	// Constants and locals
	LoadConst
	StoreLocal
	Lookup

	// Stack manipulation
	Swap
	DupTop
	DiscardTop
	Copy

	// Attribute and item access
	GetAttr
	SetAttr
	GetItem
	Slice

	// Builders
	BuildMap
	BuildKwargs
	BuildList

	// Unpacking
	UnpackList

	// Arithmetic and logic
	Add
	Sub
	Mul
	Div
	IntDiv
	Rem
	Pow
	Neg
	Not
	Eq
	Ne
	Gt
	Gte
	Lt
	Lte
	StringConcat
	In

	// Scopes
	PushWith
	PopFrame

	// Auto-escape
	PushAutoEscape
	PopAutoEscape

	// Captures
	BeginCapture
	EndCapture

	// Emission
	EmitRaw
	Emit

	// Branching
	Jump
	JumpIfFalse
	JumpIfFalseOrPop
	JumpIfTrueOrPop

	// Loops
	PushLoop
	Iterate
	PushDidNotIterate
	FastRecurse

	// Filters and tests
	ApplyFilter
	PerformTest

	// Calls
	CallFunction
	CallMethod
	CallObject

	// Block inheritance
	CallBlock
	FastSuper
	LoadBlocks
	ExportLocals

	// Macros
	BuildMacro
	Return
	Enclose
	GetClosure
	IsUndefined

	// Include
	Include

	numOpcodes
)

// CaptureMode identifies the disposition of a capture buffer pushed by
// BeginCapture.
type CaptureMode uint16

const (
	// CaptureStream writes straight through to the enclosing sink.
	CaptureStream CaptureMode = iota
	// CaptureCapture buffers writes and materializes them as a string Value
	// when the capture ends.
	CaptureCapture
	// CaptureDiscard silently drops all writes made while active.
	CaptureDiscard
)

// AutoEscape identifies how Emit transforms a value into output bytes.
type AutoEscape uint16

const (
	AutoEscapeNone AutoEscape = iota
	AutoEscapeHTML
	AutoEscapeJSON
)

// Loop flag bits, combined with bitwise OR as the single operand of
// PushLoop.
const (
	LoopRecursive    uint16 = 0x01
	LoopWithLoopVar  uint16 = 0x02
	LoopWithAdjacent uint16 = 0x04
)

// Macro flag bits, combined with bitwise OR as an operand of BuildMacro.
const (
	MacroCaller uint16 = 0x01
)

// NoLocal is the local_id sentinel meaning "never cache, always resolve by
// name" for ApplyFilter/PerformTest.
const NoLocal uint16 = 0xFF

// MaxLocals is the number of filter/test cache slots per Instructions.
const MaxLocals = 50

// Info describes an opcode: its name and how many operand words follow it
// in the instruction stream.
type Info struct {
	Code         Code
	Name         string
	OperandCount int
}

var infos [numOpcodes]Info

func reg(c Code, name string, operands int) {
	infos[c] = Info{Code: c, Name: name, OperandCount: operands}
}

func init() {
	reg(Nop, "NOP", 0)
	reg(Halt, "HALT", 0)
	reg(LoadConst, "LOAD_CONST", 1)
	reg(StoreLocal, "STORE_LOCAL", 1)
	reg(Lookup, "LOOKUP", 1)
	reg(Swap, "SWAP", 0)
	reg(DupTop, "DUP_TOP", 0)
	reg(DiscardTop, "DISCARD_TOP", 0)
	reg(Copy, "COPY", 1)
	reg(GetAttr, "GET_ATTR", 1)
	reg(SetAttr, "SET_ATTR", 1)
	reg(GetItem, "GET_ITEM", 0)
	reg(Slice, "SLICE", 0)
	reg(BuildMap, "BUILD_MAP", 1)
	reg(BuildKwargs, "BUILD_KWARGS", 1)
	reg(BuildList, "BUILD_LIST", 1)
	reg(UnpackList, "UNPACK_LIST", 1)
	reg(Add, "ADD", 0)
	reg(Sub, "SUB", 0)
	reg(Mul, "MUL", 0)
	reg(Div, "DIV", 0)
	reg(IntDiv, "INT_DIV", 0)
	reg(Rem, "REM", 0)
	reg(Pow, "POW", 0)
	reg(Neg, "NEG", 0)
	reg(Not, "NOT", 0)
	reg(Eq, "EQ", 0)
	reg(Ne, "NE", 0)
	reg(Gt, "GT", 0)
	reg(Gte, "GTE", 0)
	reg(Lt, "LT", 0)
	reg(Lte, "LTE", 0)
	reg(StringConcat, "STRING_CONCAT", 0)
	reg(In, "IN", 0)
	reg(PushWith, "PUSH_WITH", 0)
	reg(PopFrame, "POP_FRAME", 0)
	reg(PushAutoEscape, "PUSH_AUTO_ESCAPE", 0)
	reg(PopAutoEscape, "POP_AUTO_ESCAPE", 0)
	reg(BeginCapture, "BEGIN_CAPTURE", 1)
	reg(EndCapture, "END_CAPTURE", 0)
	reg(EmitRaw, "EMIT_RAW", 1)
	reg(Emit, "EMIT", 0)
	reg(Jump, "JUMP", 1)
	reg(JumpIfFalse, "JUMP_IF_FALSE", 1)
	reg(JumpIfFalseOrPop, "JUMP_IF_FALSE_OR_POP", 1)
	reg(JumpIfTrueOrPop, "JUMP_IF_TRUE_OR_POP", 1)
	reg(PushLoop, "PUSH_LOOP", 1)
	reg(Iterate, "ITERATE", 1)
	reg(PushDidNotIterate, "PUSH_DID_NOT_ITERATE", 0)
	reg(FastRecurse, "FAST_RECURSE", 0)
	reg(ApplyFilter, "APPLY_FILTER", 3)
	reg(PerformTest, "PERFORM_TEST", 3)
	reg(CallFunction, "CALL_FUNCTION", 2)
	reg(CallMethod, "CALL_METHOD", 2)
	reg(CallObject, "CALL_OBJECT", 1)
	reg(CallBlock, "CALL_BLOCK", 1)
	reg(FastSuper, "FAST_SUPER", 0)
	reg(LoadBlocks, "LOAD_BLOCKS", 0)
	reg(ExportLocals, "EXPORT_LOCALS", 0)
	reg(BuildMacro, "BUILD_MACRO", 3)
	reg(Return, "RETURN", 0)
	reg(Enclose, "ENCLOSE", 1)
	reg(GetClosure, "GET_CLOSURE", 0)
	reg(IsUndefined, "IS_UNDEFINED", 0)
	reg(Include, "INCLUDE", 1)
}

// GetInfo returns metadata about the given opcode.
func GetInfo(c Code) Info {
	if int(c) < 0 || int(c) >= len(infos) {
		return Info{}
	}
	return infos[c]
}
