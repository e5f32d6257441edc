package backend

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
)

// Variable is a typed value of the function being lowered. After register
// allocation it is either bound to a physical register, or assigned a slot in
// the stack frame, or both (spilled values reloaded for an instruction).
//
// A Variable may additionally be rematerializable: its value is always
// FrameReg + Offset, so it never needs to be truncated for sandboxing and can
// be folded into memory operands.
type Variable struct {
	id  regalloc.VRegID
	typ ir.Type
	reg regalloc.RealReg

	hasStackOffset bool
	stackOffset    int32

	remat       bool
	rematBase   regalloc.RealReg
	rematOffset int32

	// zeroExtended is set on 64-bit values whose upper half is known to be
	// zero because they were produced by zero-extending a 32-bit value.
	zeroExtended bool
}

// ID returns the identifier of the variable, unique within its Function.
func (v *Variable) ID() regalloc.VRegID { return v.id }

// Type returns the type of the variable.
func (v *Variable) Type() ir.Type { return v.typ }

// HasReg returns true if the variable is bound to a physical register.
func (v *Variable) HasReg() bool { return v.reg != regalloc.RealRegInvalid }

// Reg returns the physical register bound to the variable, or RealRegInvalid.
func (v *Variable) Reg() regalloc.RealReg { return v.reg }

// SetReg binds the variable to r. This is called with the result of register
// allocation.
func (v *Variable) SetReg(r regalloc.RealReg) { v.reg = r }

// VReg returns the VReg representation of the variable.
func (v *Variable) VReg() regalloc.VReg {
	return regalloc.VReg(v.id).SetRealReg(v.reg).SetRegType(regalloc.RegTypeOf(v.typ))
}

// StackOffset returns the frame offset assigned to the variable, if any.
func (v *Variable) StackOffset() (int32, bool) { return v.stackOffset, v.hasStackOffset }

// SetStackOffset assigns a frame offset to the variable.
func (v *Variable) SetStackOffset(off int32) {
	v.stackOffset, v.hasStackOffset = off, true
}

// SetRematerializable marks the variable as always holding base + offset,
// where base is the stack or frame pointer.
func (v *Variable) SetRematerializable(base regalloc.RealReg, offset int32) {
	v.remat, v.rematBase, v.rematOffset = true, base, offset
}

// IsRematerializable returns true if SetRematerializable has been called.
func (v *Variable) IsRematerializable() bool { return v.remat }

// Remat returns the rematerialization formula of the variable.
func (v *Variable) Remat() (base regalloc.RealReg, offset int32) {
	return v.rematBase, v.rematOffset
}

// MarkZeroExtended records that the upper 32 bits of the value are zero.
func (v *Variable) MarkZeroExtended() { v.zeroExtended = true }

// ZeroExtended returns true if MarkZeroExtended has been called.
func (v *Variable) ZeroExtended() bool { return v.zeroExtended }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if v.HasReg() {
		return fmt.Sprintf("v%d:%s(%s)", v.id, v.typ, v.reg)
	}
	return fmt.Sprintf("v%d:%s", v.id, v.typ)
}

// SplitPart selects a 32-bit half of a 64-bit stack slot.
type SplitPart byte

const (
	SplitLo SplitPart = iota
	SplitHi
)

// String implements fmt.Stringer.
func (p SplitPart) String() string {
	if p == SplitLo {
		return "lo"
	}
	return "hi"
}

// VariableSplit views one 32-bit half of a 64-bit variable which lives in the
// stack frame. It is used to move a 64-bit floating point value between the
// vector and general purpose register files 32 bits at a time.
type VariableSplit struct {
	Parent *Variable
	Part   SplitPart
}

// NewVariableSplit returns the given half of v.
func NewVariableSplit(v *Variable, part SplitPart) (VariableSplit, error) {
	if v.typ.Bits() != 64 {
		return VariableSplit{}, fmt.Errorf("cannot split %s: not a 64-bit value", v)
	}
	if !v.hasStackOffset {
		return VariableSplit{}, fmt.Errorf("cannot split %s: no stack slot", v)
	}
	return VariableSplit{Parent: v, Part: part}, nil
}

// Offset returns the frame offset of this half.
func (s VariableSplit) Offset() int32 {
	off := s.Parent.stackOffset
	if s.Part == SplitHi {
		off += 4
	}
	return off
}

// String implements fmt.Stringer.
func (s VariableSplit) String() string {
	return fmt.Sprintf("%s.%s", s.Parent, s.Part)
}
