package value

import "strings"

// Namespace is the mutable dynamic-attribute object restored from
// original_source/minijinja: `{% set ns = namespace(x=1) %}` followed by
// `{% set ns.x = 2 %}` requires a value whose attributes can be rebound
// after construction, unlike Map's `{% set %}`-only top-level bindings.
// SetAttr in the VM is only ever valid against a value that downcasts to
// *Namespace via AsNamespace; every other receiver is an error.
type Namespace struct {
	base
	attrs map[string]Value
	order []string
}

func NewNamespace() *Namespace {
	return &Namespace{attrs: map[string]Value{}}
}

func (n *Namespace) Kind() string { return "namespace" }

func (n *Namespace) String() string {
	parts := make([]string, 0, len(n.order))
	for _, k := range n.order {
		parts = append(parts, k+"="+n.attrs[k].String())
	}
	return "namespace(" + strings.Join(parts, ", ") + ")"
}

func (n *Namespace) IsTruthy() bool { return true }

func (n *Namespace) Equals(o Value) bool {
	other, ok := o.(*Namespace)
	return ok && other == n
}

func (n *Namespace) GetAttr(name string) (Value, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

// Set rebinds an attribute, appending to insertion order on first write.
func (n *Namespace) Set(name string, val Value) {
	if _, exists := n.attrs[name]; !exists {
		n.order = append(n.order, name)
	}
	n.attrs[name] = val
}

func (n *Namespace) AsNamespace() (*Namespace, bool) {
	return n, true
}
