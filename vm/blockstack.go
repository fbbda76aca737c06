package vm

import "github.com/brookvale/stencil/bytecode"

// blockStack is a non-empty-once-pushed ordered sequence of Instructions
// for one named block: the top is the currently overriding definition.
// push descends to the parent (the next entry down) for `super`; pop
// restores. appendInstructions appends a new parent beneath the existing
// stack when a child extends again (spec.md §4.8's LoadBlocks merge).
type blockStack struct {
	defs []*bytecode.Instructions
}

func newBlockStack(initial *bytecode.Instructions) *blockStack {
	return &blockStack{defs: []*bytecode.Instructions{initial}}
}

func (b *blockStack) top() *bytecode.Instructions {
	return b.defs[len(b.defs)-1]
}

// hasParent reports whether a push() call would succeed.
func (b *blockStack) hasParent() bool {
	return len(b.defs) > 1
}

// push descends one level toward the base (oldest-extended) definition,
// returning the new top. Callers must pair with pop.
func (b *blockStack) push() *bytecode.Instructions {
	b.defs = b.defs[:len(b.defs)-1]
	return b.top()
}

// pop restores the definition most recently removed by push.
func (b *blockStack) pop(previous *bytecode.Instructions) {
	b.defs = append(b.defs, previous)
}

// appendInstructions appends a new parent definition beneath the current
// stack, so child overrides remain on top and super walks upward through
// the full extends chain.
func (b *blockStack) appendInstructions(i *bytecode.Instructions) {
	b.defs = append([]*bytecode.Instructions{i}, b.defs...)
}
