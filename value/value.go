// Package value provides the dynamic value model consumed by the VM.
//
// spec.md places the "dynamic value type and its arithmetic/iteration
// operators" out of scope for the VM core, specifying only the interface
// the VM consumes. This package supplies that interface (Value, Iterator)
// plus a minimal concrete reference implementation — enough to drive and
// test the VM end to end — grounded on the teacher's object package: a
// small core interface plus capability interfaces (Callable, MethodCaller,
// NamespaceHolder) that concrete types opt into, mirroring object.Callable,
// object.AttrResolver, and object.Container in the teacher.
package value

import "context"

// Value is the dynamic value type the VM operates on. Every concrete value
// in this package implements it; user-supplied host values may too.
type Value interface {
	// Kind returns a short type tag, e.g. "string", "int", "list".
	Kind() string

	// String returns the value's string projection, used by Emit's
	// formatting and by StringConcat.
	String() string

	// IsTruthy reports whether the value is considered true in a boolean
	// context (JumpIfFalse, Not, etc).
	IsTruthy() bool

	// IsUndefined reports whether this value represents a missing
	// attribute/item/name lookup. Used by the undefined-behavior policy.
	IsUndefined() bool

	// Equals reports value equality with another Value.
	Equals(other Value) bool

	// GetAttr performs fast attribute lookup by name. The second return
	// value is false when the attribute does not exist, letting the VM's
	// undefined-behavior policy decide what to do instead of raising
	// immediately.
	GetAttr(name string) (Value, bool)

	// GetItem performs item lookup by key ([] operator).
	GetItem(key Value) (Value, bool)

	// Iter produces an iterator over this value, or an error if the value
	// is not iterable.
	Iter() (Iterator, error)

	// Validate performs a validity check that can fail; invalid values
	// propagate as errors the moment they would be observed.
	Validate() error
}

// Iterator is produced by Value.Iter. It reports a size hint as
// (lower, upper, hasUpper) mirroring Rust's (lower, Option<upper>).
type Iterator interface {
	Next(ctx context.Context) (Value, bool)
	SizeHint() (lower, upper int, hasUpper bool)
}

// Callable is implemented by values that can be invoked via CallFunction /
// CallObject.
type Callable interface {
	Call(ctx context.Context, args []Value) (Value, error)
}

// MethodCaller is implemented by values that support CallMethod directly,
// without going through a separate attribute lookup first.
type MethodCaller interface {
	CallMethod(ctx context.Context, name string, args []Value) (Value, error)
}

// NamespaceHolder is implemented by values that can be downcast to a
// mutable Namespace for SetAttr.
type NamespaceHolder interface {
	AsNamespace() (*Namespace, bool)
}

// Comparable is implemented by values with a well-defined ordering.
type Comparable interface {
	Compare(other Value) (int, bool)
}

// Setter is implemented by containers that support the SetItem operator.
type Setter interface {
	SetItem(key, val Value) error
}

// Lenner is implemented by containers with a defined length, for callers
// that need Len() without a full iteration. UnpackList does not use it; it
// drains the iterator and counts the items.
type Lenner interface {
	Len() int
}
