package environment

import (
	"context"
	"fmt"
	"html"

	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
)

// CompiledTemplate is a concrete Template backed by already-assembled
// Instructions, the shape a hand-written or future-compiler-produced
// template takes.
type CompiledTemplate struct {
	TemplateName string
	Body         *bytecode.Instructions
	Blocks       map[string]*bytecode.Instructions
	AutoEscape   op.AutoEscape
}

func (t *CompiledTemplate) Name() string { return t.TemplateName }

func (t *CompiledTemplate) InstructionsAndBlocks() (*bytecode.Instructions, map[string]*bytecode.Instructions) {
	return t.Body, t.Blocks
}

func (t *CompiledTemplate) InitialAutoEscape() op.AutoEscape { return t.AutoEscape }

// MapEnvironment is a minimal in-memory Environment: templates, filters,
// and tests are registered directly into maps rather than loaded from
// disk. It is sufficient to drive include/extends/filter/test opcodes in
// tests, generalized from the teacher's importer.Importer (pluggable
// module resolution behind an interface) the way a loader resolves
// importable modules by name.
type MapEnvironment struct {
	Templates      map[string]Template
	Filters        map[string]Filter
	Tests          map[string]Test
	MaxRecursion   int
	DebugEnabled   bool
}

// NewMapEnvironment constructs an empty MapEnvironment with the given
// recursion limit (spec.md §3's recursion_limit).
func NewMapEnvironment(recursionLimit int) *MapEnvironment {
	return &MapEnvironment{
		Templates:    map[string]Template{},
		Filters:      map[string]Filter{},
		Tests:        map[string]Test{},
		MaxRecursion: recursionLimit,
	}
}

func (e *MapEnvironment) GetTemplate(name string) (Template, bool) {
	t, ok := e.Templates[name]
	return t, ok
}

func (e *MapEnvironment) GetFilter(name string) (Filter, bool) {
	f, ok := e.Filters[name]
	return f, ok
}

func (e *MapEnvironment) GetTest(name string) (Test, bool) {
	t, ok := e.Tests[name]
	return t, ok
}

func (e *MapEnvironment) RecursionLimit() int { return e.MaxRecursion }

func (e *MapEnvironment) Debug() bool { return e.DebugEnabled }

// Format writes val to w, applying the given auto-escape mode. html mode
// escapes via the standard library's html.EscapeString unless val is
// already marked safe; json mode marshals a minimal subset sufficient for
// scalars, lists, and maps; none writes the raw string projection.
func (e *MapEnvironment) Format(ctx context.Context, val value.Value, escape op.AutoEscape, w Writer) error {
	if val == nil || val.IsUndefined() {
		return nil
	}
	switch escape {
	case op.AutoEscapeHTML:
		if safe, ok := val.(value.String); ok && safe.Safe {
			_, err := w.WriteString(safe.Val)
			return err
		}
		_, err := w.WriteString(html.EscapeString(val.String()))
		return err
	case op.AutoEscapeJSON:
		encoded, err := encodeJSON(val)
		if err != nil {
			return err
		}
		_, err = w.WriteString(encoded)
		return err
	default:
		_, err := w.WriteString(val.String())
		return err
	}
}

// encodeJSON renders val as JSON text. It is a minimal encoder over this
// package's own value types rather than encoding/json, since value.Value
// is an interface the standard library's reflection-based encoder cannot
// introspect meaningfully.
func encodeJSON(val value.Value) (string, error) {
	switch v := val.(type) {
	case value.String:
		return quoteJSON(v.Val), nil
	case value.Int:
		return v.String(), nil
	case value.Float:
		return v.String(), nil
	case value.Bool:
		return v.String(), nil
	case *value.List:
		out := "["
		for i, item := range v.Items {
			if i > 0 {
				out += ","
			}
			s, err := encodeJSON(item)
			if err != nil {
				return "", err
			}
			out += s
		}
		return out + "]", nil
	case *value.Map:
		out := "{"
		for i, k := range v.SortedKeys() {
			if i > 0 {
				out += ","
			}
			item, _ := v.GetAttr(k)
			s, err := encodeJSON(item)
			if err != nil {
				return "", err
			}
			out += quoteJSON(k) + ":" + s
		}
		return out + "}", nil
	default:
		if val.IsUndefined() || val.Kind() == "nil" {
			return "null", nil
		}
		return quoteJSON(val.String()), nil
	}
}

func quoteJSON(s string) string {
	return fmt.Sprintf("%q", s)
}
