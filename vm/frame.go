package vm

import "github.com/brookvale/stencil/value"

// frame is one lexical scope: local bindings plus an optional loop state.
// Frames are owned exclusively by the context that pushed them.
type frame struct {
	locals map[string]value.Value
	loop   *loopState
}

func newFrame() *frame {
	return &frame{locals: map[string]value.Value{}}
}

func (f *frame) store(name string, v value.Value) {
	f.locals[name] = v
}

func (f *frame) lookup(name string) (value.Value, bool) {
	if f.loop != nil && f.loop.withLoopVar && name == "loop" {
		return f.loop.object, true
	}
	v, ok := f.locals[name]
	return v, ok
}

// exportLocals snapshots the frame's locals into a map value, used by the
// ExportLocals opcode.
func (f *frame) exportLocals() *value.Map {
	m := value.NewMap()
	for k, v := range f.locals {
		m.Set(k, v)
	}
	return m
}
