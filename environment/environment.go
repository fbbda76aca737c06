// Package environment defines the collaborator interfaces the VM consumes
// for formatting, filter/test resolution, and template loading (spec.md
// §6.2), plus a minimal in-memory implementation good enough to drive the
// VM end to end. It is grounded on the teacher's importer.Importer
// (pluggable module resolution behind an interface) and object.Module (a
// named, attribute-bearing unit of compiled code), generalized here from
// "importable module" to "loadable template".
package environment

import (
	"context"

	"github.com/brookvale/stencil/bytecode"
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
)

// Filter is a callable registered under a name, invoked by ApplyFilter.
type Filter func(ctx context.Context, val value.Value, args []value.Value) (value.Value, error)

// Test is a callable registered under a name, invoked by PerformTest.
type Test func(ctx context.Context, val value.Value, args []value.Value) (bool, error)

// Writer is the sink Format writes formatted output bytes to. The VM's
// Output type satisfies it.
type Writer interface {
	WriteString(s string) (int, error)
}

// Template is a compiled, loadable template: bytecode plus its block table
// and the auto-escape mode it should start with.
type Template interface {
	// Name is the template's registered name, used for cycle detection on
	// extends/include chains.
	Name() string

	// InstructionsAndBlocks returns the compiled body and its block table,
	// keyed by block name. The table is a map and carries no block order.
	InstructionsAndBlocks() (instructions *bytecode.Instructions, blocks map[string]*bytecode.Instructions)

	// InitialAutoEscape is the auto-escape mode evaluation starts in,
	// normally derived from the template's file extension.
	InitialAutoEscape() op.AutoEscape
}

// Environment is the external collaborator the VM consumes for everything
// outside its own dispatch loop: formatting, filter/test resolution, and
// template loading (spec.md §6.2).
type Environment interface {
	// Format emits val to w under the given auto-escape mode.
	Format(ctx context.Context, val value.Value, escape op.AutoEscape, w Writer) error

	// GetFilter resolves a filter by name, or reports it unknown.
	GetFilter(name string) (Filter, bool)

	// GetTest resolves a test by name, or reports it unknown.
	GetTest(name string) (Test, bool)

	// GetTemplate resolves a template by name, or reports it not found.
	GetTemplate(name string) (Template, bool)

	// RecursionLimit bounds Context depth (spec.md §3).
	RecursionLimit() int

	// Debug reports whether debug-info enrichment is active (spec.md §6.4).
	Debug() bool
}
