package vm

import (
	"strings"

	"github.com/brookvale/stencil/op"
	"github.com/brookvale/stencil/value"
)

// captureFrame is one entry on the output's capture stack.
type captureFrame struct {
	mode op.CaptureMode
	buf  strings.Builder
}

// output is the write sink threaded through evaluation: a stack of nested
// capture buffers, each either streaming straight through to the root
// sink, materializing into a string, or silently discarding writes.
type output struct {
	root     strings.Builder
	captures []*captureFrame
}

func newOutput() *output {
	return &output{}
}

// WriteString implements environment.Writer so the environment's Format
// method can write formatted values straight into the active capture (or
// the root sink), without the environment package needing to know about
// captures at all.
func (o *output) WriteString(s string) (int, error) {
	o.writeStr(s)
	return len(s), nil
}

func (o *output) writeStr(s string) {
	if o.isDiscarding() {
		return
	}
	if n := len(o.captures); n > 0 {
		o.captures[n-1].buf.WriteString(s)
		return
	}
	o.root.WriteString(s)
}

func (o *output) beginCapture(mode op.CaptureMode) {
	o.captures = append(o.captures, &captureFrame{mode: mode})
}

// endCapture pops the most recent capture and, if it was a Capture-mode
// buffer, materializes its contents into a string value under the given
// auto-escape mode (Safe when escape is not AutoEscapeNone, matching the
// spec's "captured text as a safe/unsafe string according to escape").
func (o *output) endCapture(escape op.AutoEscape) value.Value {
	n := len(o.captures)
	top := o.captures[n-1]
	o.captures = o.captures[:n-1]
	switch top.mode {
	case op.CaptureCapture:
		text := top.buf.String()
		if escape == op.AutoEscapeNone {
			return value.NewString(text)
		}
		return value.NewSafeString(text)
	default:
		return value.Undefined
	}
}

// isDiscarding reports whether any enclosing capture has Discard mode;
// writes are silently dropped while true.
func (o *output) isDiscarding() bool {
	for i := len(o.captures) - 1; i >= 0; i-- {
		if o.captures[i].mode == op.CaptureDiscard {
			return true
		}
	}
	return false
}

func (o *output) String() string {
	return o.root.String()
}
