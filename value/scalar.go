package value

import (
	"fmt"
	"strconv"
)

// base provides the common no-op implementations shared by most concrete
// value types, mirroring the teacher's object.base embedding pattern.
type base struct{}

func (base) GetAttr(name string) (Value, bool) { return nil, false }
func (base) GetItem(key Value) (Value, bool)   { return nil, false }
func (base) Iter() (Iterator, error)           { return nil, fmt.Errorf("value is not iterable") }
func (base) IsUndefined() bool                 { return false }
func (base) Validate() error                   { return nil }

// Nil is the singleton representing the absence of a value (as opposed to
// Undefined, which represents a failed lookup).
var Nil Value = nilValue{}

type nilValue struct{ base }

func (nilValue) Kind() string            { return "nil" }
func (nilValue) String() string          { return "" }
func (nilValue) IsTruthy() bool          { return false }
func (nilValue) Equals(o Value) bool     { _, ok := o.(nilValue); return ok }
func (n nilValue) Compare(o Value) (int, bool) {
	if _, ok := o.(nilValue); ok {
		return 0, true
	}
	return 0, false
}

// Undefined is the sentinel pushed by Lookup/GetAttr/GetItem when a name
// does not resolve. Whether observing it is an error depends on the
// active UndefinedBehavior policy (see vm.UndefinedBehavior).
var Undefined Value = undefinedValue{}

type undefinedValue struct{ base }

func (undefinedValue) Kind() string        { return "undefined" }
func (undefinedValue) String() string      { return "" }
func (undefinedValue) IsTruthy() bool      { return false }
func (undefinedValue) IsUndefined() bool   { return true }
func (undefinedValue) Equals(o Value) bool { _, ok := o.(undefinedValue); return ok }

// Bool wraps a boolean.
type Bool struct {
	base
	Val bool
}

var (
	True  Value = Bool{Val: true}
	False Value = Bool{Val: false}
)

// NewBool returns True or False for the given Go bool.
func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

func (b Bool) Kind() string   { return "bool" }
func (b Bool) String() string { return strconv.FormatBool(b.Val) }
func (b Bool) IsTruthy() bool { return b.Val }
func (b Bool) Equals(o Value) bool {
	other, ok := o.(Bool)
	return ok && other.Val == b.Val
}
func (b Bool) Compare(o Value) (int, bool) {
	other, ok := o.(Bool)
	if !ok {
		return 0, false
	}
	if b.Val == other.Val {
		return 0, true
	}
	if !b.Val && other.Val {
		return -1, true
	}
	return 1, true
}

// Int wraps a 64-bit signed integer.
type Int struct {
	base
	Val int64
}

func NewInt(v int64) Value { return Int{Val: v} }

func (i Int) Kind() string   { return "int" }
func (i Int) String() string { return strconv.FormatInt(i.Val, 10) }
func (i Int) IsTruthy() bool { return i.Val != 0 }
func (i Int) Equals(o Value) bool {
	switch other := o.(type) {
	case Int:
		return other.Val == i.Val
	case Float:
		return other.Val == float64(i.Val)
	default:
		return false
	}
}
func (i Int) Compare(o Value) (int, bool) {
	var otherF float64
	switch other := o.(type) {
	case Int:
		otherF = float64(other.Val)
	case Float:
		otherF = other.Val
	default:
		return 0, false
	}
	selfF := float64(i.Val)
	switch {
	case selfF < otherF:
		return -1, true
	case selfF > otherF:
		return 1, true
	default:
		return 0, true
	}
}

// Float wraps a 64-bit float.
type Float struct {
	base
	Val float64
}

func NewFloat(v float64) Value { return Float{Val: v} }

func (f Float) Kind() string   { return "float" }
func (f Float) String() string { return strconv.FormatFloat(f.Val, 'g', -1, 64) }
func (f Float) IsTruthy() bool { return f.Val != 0 }
func (f Float) Equals(o Value) bool {
	switch other := o.(type) {
	case Float:
		return other.Val == f.Val
	case Int:
		return float64(other.Val) == f.Val
	default:
		return false
	}
}
func (f Float) Compare(o Value) (int, bool) {
	var otherF float64
	switch other := o.(type) {
	case Float:
		otherF = other.Val
	case Int:
		otherF = float64(other.Val)
	default:
		return 0, false
	}
	switch {
	case f.Val < otherF:
		return -1, true
	case f.Val > otherF:
		return 1, true
	default:
		return 0, true
	}
}

// String wraps a Go string. Safe reports whether the string is already
// escaped and should bypass auto-escaping when emitted (the result of
// e.g. a `|safe` filter or a capture closed under any auto-escape mode
// other than AutoEscapeNone).
type String struct {
	base
	Val  string
	Safe bool
}

func NewString(s string) Value       { return String{Val: s} }
func NewSafeString(s string) Value   { return String{Val: s, Safe: true} }

func (s String) Kind() string   { return "string" }
func (s String) String() string { return s.Val }
func (s String) IsTruthy() bool { return s.Val != "" }
func (s String) Equals(o Value) bool {
	other, ok := o.(String)
	return ok && other.Val == s.Val
}
func (s String) Compare(o Value) (int, bool) {
	other, ok := o.(String)
	if !ok {
		return 0, false
	}
	switch {
	case s.Val < other.Val:
		return -1, true
	case s.Val > other.Val:
		return 1, true
	default:
		return 0, true
	}
}
func (s String) Len() int { return len([]rune(s.Val)) }

func (s String) GetItem(key Value) (Value, bool) {
	idx, ok := key.(Int)
	if !ok {
		return nil, false
	}
	runes := []rune(s.Val)
	i := int(idx.Val)
	if i < 0 {
		i += len(runes)
	}
	if i < 0 || i >= len(runes) {
		return nil, false
	}
	return NewString(string(runes[i])), true
}

func (s String) Iter() (Iterator, error) {
	runes := []rune(s.Val)
	return &sliceIterator{items: runesToValues(runes)}, nil
}

func runesToValues(runes []rune) []Value {
	items := make([]Value, len(runes))
	for i, r := range runes {
		items[i] = NewString(string(r))
	}
	return items
}
