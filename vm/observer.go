package vm

import (
	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/vmerr"
	"github.com/rs/zerolog"
)

// Observer watches dispatch-loop events for tracing, profiling, or
// structured logging, generalized from the teacher's vm/observer.go
// OnStep/OnCall/OnReturn hook to this VM's opcode set and its
// template-specific control-flow events (extends resolution, include
// resolution, cycle detection, fuel exhaustion) that spec.md's ambient stack
// calls out as otherwise invisible to a caller.
type Observer interface {
	// OnStep is called once per dispatched instruction.
	OnStep(pc int, code op.Code)

	// OnCall is called when CallFunction, CallMethod, or CallObject is
	// about to invoke a callee.
	OnCall(name string, argc int)

	// OnReturn is called when a macro call or block call returns.
	OnReturn(name string)

	// OnExtend is called when LoadBlocks has loaded a parent template and
	// merged its blocks; the swap to the parent's instructions happens
	// later, when the child's instructions run out.
	OnExtend(templateName string)

	// OnInclude is called when Include resolves a candidate template name.
	OnInclude(templateName string)

	// OnCycleDetected is called when an extends chain revisits a template
	// name already active on the chain.
	OnCycleDetected(templateName string)

	// OnLimitExceeded is called with vmerr.OutOfFuel when the fuel tracker
	// refuses an instruction. Reaching the recursion limit does not call it.
	OnLimitExceeded(kind vmerr.Kind)
}

// NoOpObserver implements Observer with no-op methods. Embed it to satisfy
// the interface while overriding only the events you care about.
type NoOpObserver struct{}

func (NoOpObserver) OnStep(int, op.Code)          {}
func (NoOpObserver) OnCall(string, int)           {}
func (NoOpObserver) OnReturn(string)              {}
func (NoOpObserver) OnExtend(string)              {}
func (NoOpObserver) OnInclude(string)             {}
func (NoOpObserver) OnCycleDetected(string)        {}
func (NoOpObserver) OnLimitExceeded(vmerr.Kind)    {}

// ZerologObserver is the concrete structured-logging backend for Observer,
// emitting debug-level events the way the teacher's cmd/risor-lsp and
// cmd/risor-api programs log through zerolog.Logger.
type ZerologObserver struct {
	NoOpObserver
	Logger zerolog.Logger
}

func (o ZerologObserver) OnExtend(name string) {
	o.Logger.Debug().Str("template", name).Msg("extends: loaded parent template")
}

func (o ZerologObserver) OnInclude(name string) {
	o.Logger.Debug().Str("template", name).Msg("include: resolved template")
}

func (o ZerologObserver) OnCycleDetected(name string) {
	o.Logger.Debug().Str("template", name).Msg("extends: cycle detected")
}

func (o ZerologObserver) OnLimitExceeded(kind vmerr.Kind) {
	o.Logger.Debug().Str("kind", kind.String()).Msg("execution limit exceeded")
}
