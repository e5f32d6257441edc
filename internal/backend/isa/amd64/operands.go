package amd64

import (
	"fmt"
	"strings"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
)

type operand struct {
	kind  operandKind
	v     *backend.Variable
	mem   *MemoryOperand
	imm32 uint32
	fixup *asm.Fixup
}

type operandKind byte

const (
	// operandKindReg is an operand which is a Variable bound to a register.
	operandKindReg operandKind = iota + 1

	// operandKindMem is a value in memory. This can denote an 8, 16, 32, 64, or 128 bit value.
	operandKindMem

	// operandKindImm32 is a 32-bit immediate, sign-extended to 64 bits where applicable.
	operandKindImm32

	// operandKindFixup is a 32-bit immediate resolved by a relocation.
	operandKindFixup
)

func (o *operand) format(bits byte) string {
	switch o.kind {
	case operandKindReg:
		return formatVariable(o.v, bits)
	case operandKindMem:
		return o.mem.String()
	case operandKindImm32:
		return fmt.Sprintf("$%d", int32(o.imm32))
	case operandKindFixup:
		return "$" + fixupTarget(o.fixup)
	default:
		panic("BUG: invalid operand kind")
	}
}

func newOperandReg(v *backend.Variable) operand {
	return operand{kind: operandKindReg, v: v}
}

func newOperandMem(m *MemoryOperand) operand {
	return operand{kind: operandKindMem, mem: m}
}

func newOperandImm32(imm32 uint32) operand {
	return operand{kind: operandKindImm32, imm32: imm32}
}

func newOperandFixup(f *asm.Fixup) operand {
	return operand{kind: operandKindFixup, fixup: f}
}

// bitsOf returns the width of integer values of the type of v.
func bitsOf(v *backend.Variable) byte {
	switch t := v.Type(); t {
	case ir.TypeI1, ir.TypeI8:
		return 8
	default:
		return t.Bits()
	}
}

// formatVariable formats v in AT&T syntax as the view of its register of the
// given width. Unbound variables are printed with a trailing '?'.
func formatVariable(v *backend.Variable, bits byte) string {
	if !v.HasReg() {
		return fmt.Sprintf("%%v%d?", v.ID())
	}
	r := v.Reg()
	if isGPR(r) && r != ah && bits <= 64 {
		r = gprView(r, bits)
	}
	return "%" + RegisterName(r)
}

func fixupTarget(f *asm.Fixup) string {
	var target string
	if f.Label != asm.LabelInvalid {
		target = f.Label.String()
	} else {
		target = f.Symbol
	}
	if f.Addend != 0 {
		target += fmt.Sprintf("%+d", f.Addend)
	}
	return target
}

// MemoryOperand is a memory reference disp(base, index, 1<<shift). The
// displacement is an integer constant plus an optional Fixup. Memory operands
// are allocated by a Machine and live until the Machine is reset.
type MemoryOperand struct {
	base, index *backend.Variable
	shift       byte
	disp        int32
	fixup       *asm.Fixup

	// rebased is set on operands produced by the sandboxing legalizer.
	rebased bool
}

// Base returns the base variable, or nil.
func (o *MemoryOperand) Base() *backend.Variable { return o.base }

// Index returns the index variable, or nil.
func (o *MemoryOperand) Index() *backend.Variable { return o.index }

// Shift returns log2 of the scale of the index.
func (o *MemoryOperand) Shift() byte { return o.shift }

// Disp returns the constant displacement.
func (o *MemoryOperand) Disp() int32 { return o.disp }

// Fixup returns the relocatable part of the displacement, or nil.
func (o *MemoryOperand) Fixup() *asm.Fixup { return o.fixup }

// Rebased returns true if the operand has been legalized for sandboxing.
func (o *MemoryOperand) Rebased() bool { return o.rebased }

// String implements fmt.Stringer.
func (o *MemoryOperand) String() string {
	var b strings.Builder
	if o.fixup != nil {
		b.WriteString(fixupTarget(o.fixup))
		if o.disp != 0 {
			fmt.Fprintf(&b, "%+d", o.disp)
		}
	} else if o.disp != 0 || (o.base == nil && o.index == nil) {
		fmt.Fprintf(&b, "%d", o.disp)
	}
	if o.base == nil && o.index == nil {
		return b.String()
	}
	b.WriteByte('(')
	if o.base != nil {
		b.WriteString(formatVariable(o.base, 64))
	}
	if o.index != nil {
		fmt.Fprintf(&b, ",%s,%d", formatVariable(o.index, 64), 1<<o.shift)
	}
	b.WriteByte(')')
	return b.String()
}

// amode is a memory operand resolved to physical registers.
type amode struct {
	kind        amodeKind
	disp        int32
	base, index regalloc.RealReg
	shift       byte
	fixup       *asm.Fixup
}

type amodeKind byte

const (
	// amodeImmReg calculates sign-extend-32-to-64(Immediate) + base
	amodeImmReg amodeKind = iota + 1

	// amodeRegRegShift calculates sign-extend-32-to-64(Immediate) + base + (index << shift)
	amodeRegRegShift

	// amodeIndexShift calculates sign-extend-32-to-64(Immediate) + (index << shift)
	amodeIndexShift

	// amodeAbsolute is sign-extend-32-to-64(Immediate).
	amodeAbsolute
)

// addressRegister returns the 64-bit register holding the address part v.
func addressRegister(v *backend.Variable) (regalloc.RealReg, error) {
	if !v.HasReg() {
		return regalloc.RealRegInvalid, fmt.Errorf("%w: %s has no register", ErrInvalidAddressing, v)
	}
	r := v.Reg()
	if !isGPR(r) || r == ah {
		return regalloc.RealRegInvalid, fmt.Errorf("%w: %s cannot hold an address", ErrInvalidAddressing, RegisterName(r))
	}
	return baseReg(r), nil
}

// toMachineAddress resolves the operand to an encodable addressing mode.
func (o *MemoryOperand) toMachineAddress() (a amode, err error) {
	a.disp, a.fixup, a.shift = o.disp, o.fixup, o.shift
	if o.base != nil {
		if a.base, err = addressRegister(o.base); err != nil {
			return
		}
	}
	if o.index != nil {
		if a.index, err = addressRegister(o.index); err != nil {
			return
		}
		if a.index == rsp {
			// The SIB encoding of rsp as index means "no index".
			err = fmt.Errorf("%w: %%rsp cannot be an index", ErrInvalidAddressing)
			return
		}
	}
	switch {
	case o.base != nil && o.index != nil:
		a.kind = amodeRegRegShift
	case o.base != nil:
		a.kind = amodeImmReg
	case o.index != nil:
		a.kind = amodeIndexShift
	default:
		a.kind = amodeAbsolute
	}
	return
}
