package asm

import "fmt"

// Assembler collects the encoded bytes of one function together with its
// labels and relocations.
//
// An Assembler is owned by a single function compilation and must not be
// shared between goroutines.
type Assembler struct {
	Buffer

	// symbol is the name of the function being assembled. Relocations against
	// local labels are rewritten against it by Finalize.
	symbol string

	// labels holds the offset of each label indexed by Label, -1 if unbound.
	labels []int
	// bound lists labels in binding order so that Rollback can unbind them.
	bound     []Label
	labelRefs []labelRef
	placed    []*Fixup
}

// labelRef is a rel32 field which is patched by Finalize.
type labelRef struct {
	label Label
	at    int
}

// Mark is a position in the Assembler returned by Mark and used by Rollback.
type Mark struct {
	size, bound, labelRefs, placed int
}

// NewAssembler returns an Assembler for the function named symbol.
func NewAssembler(symbol string) *Assembler {
	a := &Assembler{}
	a.Reset(symbol)
	return a
}

// Reset clears the Assembler so that it can be reused for another function.
func (a *Assembler) Reset(symbol string) {
	a.Buffer.Reset()
	a.symbol = symbol
	a.labels = append(a.labels[:0], -1) // LabelInvalid
	a.bound = a.bound[:0]
	a.labelRefs = a.labelRefs[:0]
	a.placed = a.placed[:0]
}

// Symbol returns the function name given to NewAssembler or Reset.
func (a *Assembler) Symbol() string {
	return a.symbol
}

// CurrentOffset returns the offset where the next byte is emitted.
func (a *Assembler) CurrentOffset() int {
	return a.Len()
}

// CreateFixup returns a new, unplaced relocation against symbol.
func (a *Assembler) CreateFixup(kind FixupKind, symbol string) *Fixup {
	return &Fixup{Kind: kind, Symbol: symbol, Offset: -1}
}

// CreateLabelFixup returns a new, unplaced relocation against a local label.
func (a *Assembler) CreateLabelFixup(kind FixupKind, l Label) *Fixup {
	if l == LabelInvalid {
		panic("BUG: fixup against invalid label")
	}
	return &Fixup{Kind: kind, Label: l, Offset: -1}
}

// EmitFixup places a copy of f at the current offset and emits the
// placeholder bytes of the relocated field, holding addend where it fits.
func (a *Assembler) EmitFixup(f *Fixup, addend int64) {
	placed := *f
	placed.Offset = a.CurrentOffset()
	placed.Addend += addend
	a.placed = append(a.placed, &placed)
	switch f.Kind.Size() {
	case 4:
		a.EmitUint32(0)
	case 8:
		a.EmitUint64(0)
	}
}

// NewLabel allocates a new unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// BindLabel binds l to the current offset.
func (a *Assembler) BindLabel(l Label) {
	if l == LabelInvalid || int(l) >= len(a.labels) {
		panic(fmt.Sprintf("BUG: unknown label %s", l))
	}
	if a.labels[l] >= 0 {
		panic(fmt.Sprintf("BUG: label %s bound twice", l))
	}
	a.labels[l] = a.CurrentOffset()
	a.bound = append(a.bound, l)
}

// LabelOffset returns the offset l is bound to.
func (a *Assembler) LabelOffset(l Label) (int, bool) {
	if l == LabelInvalid || int(l) >= len(a.labels) || a.labels[l] < 0 {
		return 0, false
	}
	return a.labels[l], true
}

// EmitLabelRel32 emits a rel32 field referring to l, resolved by Finalize.
func (a *Assembler) EmitLabelRel32(l Label) {
	a.labelRefs = append(a.labelRefs, labelRef{label: l, at: a.CurrentOffset()})
	a.EmitUint32(0)
}

// nops are the recommended multi-byte NOP forms indexed by length.
var nops = [...][]byte{
	1: {0x90},
	2: {0x66, 0x90},
	3: {0x0f, 0x1f, 0x00},
	4: {0x0f, 0x1f, 0x40, 0x00},
	5: {0x0f, 0x1f, 0x44, 0x00, 0x00},
	6: {0x66, 0x0f, 0x1f, 0x44, 0x00, 0x00},
	7: {0x0f, 0x1f, 0x80, 0x00, 0x00, 0x00, 0x00},
	8: {0x0f, 0x1f, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
	9: {0x66, 0x0f, 0x1f, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// MaxNopSize is the length of the longest single NOP instruction EmitNops uses.
const MaxNopSize = len(nops) - 1

// EmitNops emits n bytes of NOP instructions.
func (a *Assembler) EmitNops(n int) {
	for n > 0 {
		size := n
		if size > MaxNopSize {
			size = MaxNopSize
		}
		_, _ = a.Write(nops[size])
		n -= size
	}
}

// Mark returns the current position to be passed to Rollback.
func (a *Assembler) Mark() Mark {
	return Mark{size: a.Len(), bound: len(a.bound), labelRefs: len(a.labelRefs), placed: len(a.placed)}
}

// Rollback discards everything emitted after m, including label bindings
// and placed fixups.
func (a *Assembler) Rollback(m Mark) {
	a.Truncate(m.size)
	for _, l := range a.bound[m.bound:] {
		a.labels[l] = -1
	}
	a.bound = a.bound[:m.bound]
	a.labelRefs = a.labelRefs[:m.labelRefs]
	a.placed = a.placed[:m.placed]
}

// Fixups returns the placed relocations.
func (a *Assembler) Fixups() []*Fixup {
	return a.placed
}

// Finalize patches all rel32 label references and rewrites placed fixups
// against local labels into relocations against the function symbol.
func (a *Assembler) Finalize() error {
	for _, ref := range a.labelRefs {
		target, ok := a.LabelOffset(ref.label)
		if !ok {
			return fmt.Errorf("label %s is referenced but never bound", ref.label)
		}
		a.PatchUint32(ref.at, uint32(int32(target-(ref.at+4))))
	}
	for _, f := range a.placed {
		if f.Label == LabelInvalid {
			continue
		}
		target, ok := a.LabelOffset(f.Label)
		if !ok {
			return fmt.Errorf("fixup %s refers to an unbound label", f)
		}
		f.Label = LabelInvalid
		f.Symbol = a.symbol
		f.Addend += int64(target)
	}
	return nil
}
