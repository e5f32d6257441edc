package asm

import "fmt"

// FixupKind is the kind of relocation a Fixup asks the object writer for.
type FixupKind byte

const (
	FixupKindInvalid FixupKind = iota
	// FixupKindAbs32 is a 32-bit absolute address of the target plus addend.
	FixupKindAbs32
	// FixupKindPCRel32 is a 32-bit displacement from the end of the patched
	// field to the target plus addend.
	FixupKindPCRel32
	// FixupKindAbs64 is a 64-bit absolute address of the target plus addend.
	FixupKindAbs64
)

// String implements fmt.Stringer.
func (k FixupKind) String() string {
	switch k {
	case FixupKindAbs32:
		return "abs32"
	case FixupKindPCRel32:
		return "pcrel32"
	case FixupKindAbs64:
		return "abs64"
	default:
		return "invalid"
	}
}

// Size returns the number of bytes the relocated field occupies.
func (k FixupKind) Size() int {
	switch k {
	case FixupKindAbs32, FixupKindPCRel32:
		return 4
	case FixupKindAbs64:
		return 8
	default:
		panic("BUG: invalid fixup kind")
	}
}

// Fixup is a deferred relocation. It is created when an operand refers to a
// symbol or label whose address is unknown, and is placed at a code offset
// once the referring instruction is encoded.
type Fixup struct {
	Kind FixupKind
	// Symbol is the symbolic target. Empty when Label is set.
	Symbol string
	// Label is the function-local target, or LabelInvalid.
	Label Label
	// Offset is the position of the relocated field in the code, or -1 while
	// the fixup has not been placed.
	Offset int
	// Addend is added to the target address.
	Addend int64
}

// String implements fmt.Stringer.
func (f *Fixup) String() string {
	target := f.Symbol
	if f.Label != LabelInvalid {
		target = f.Label.String()
	}
	if f.Addend != 0 {
		return fmt.Sprintf("%s(%s%+d)", f.Kind, target, f.Addend)
	}
	return fmt.Sprintf("%s(%s)", f.Kind, target)
}

// Label is a function-local code position.
type Label uint32

// LabelInvalid is the zero Label which is never bound.
const LabelInvalid Label = 0

// String implements fmt.Stringer.
func (l Label) String() string {
	return fmt.Sprintf("L%d", uint32(l))
}
