package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/ir"
)

// LowerLoad loads dst from mem, legalizing mem first. Integers narrower than
// 64 bits are zero-extended.
func (m *Machine) LowerLoad(dst *backend.Variable, mem *MemoryOperand) error {
	mem, err := m.LegalizeMemOperand(mem)
	if err != nil {
		return err
	}
	src := newOperandMem(mem)
	switch typ := dst.Type(); typ {
	case ir.TypeI64:
		m.insert(m.allocateInstr().asMov64MR(mem, dst))
	case ir.TypeI32:
		m.insert(m.allocateInstr().asMovzxRmR(extModeLQ, src, dst))
	case ir.TypeI16:
		m.insert(m.allocateInstr().asMovzxRmR(extModeWL, src, dst))
	case ir.TypeI8, ir.TypeI1:
		m.insert(m.allocateInstr().asMovzxRmR(extModeBL, src, dst))
	case ir.TypeF32:
		m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovss, src, dst))
	case ir.TypeF64:
		m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovsd, src, dst))
	case ir.TypeV4F32, ir.TypeV4I32:
		m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovdqu, src, dst))
	default:
		return fmt.Errorf("%w: load of %s", ErrInvalidRegisterClass, typ)
	}
	return nil
}

// LowerStore stores src to mem, legalizing mem first.
func (m *Machine) LowerStore(src *backend.Variable, mem *MemoryOperand) error {
	mem, err := m.LegalizeMemOperand(mem)
	if err != nil {
		return err
	}
	switch typ := src.Type(); typ {
	case ir.TypeI64, ir.TypeI32, ir.TypeI16, ir.TypeI8, ir.TypeI1:
		m.insert(m.allocateInstr().asMovRM(src, mem, bitsOf(src)))
	case ir.TypeF32:
		m.insert(m.allocateInstr().asXmmMovRM(sseOpcodeMovss, src, mem))
	case ir.TypeF64:
		m.insert(m.allocateInstr().asXmmMovRM(sseOpcodeMovsd, src, mem))
	case ir.TypeV4F32, ir.TypeV4I32:
		m.insert(m.allocateInstr().asXmmMovRM(sseOpcodeMovdqu, src, mem))
	default:
		return fmt.Errorf("%w: store of %s", ErrInvalidRegisterClass, typ)
	}
	return nil
}

// SplitAddress returns the address of one half of the stack slot of s.Parent.
// Slots are addressed from rbp when the frame is established, and from rsp
// otherwise.
func (m *Machine) SplitAddress(s backend.VariableSplit) *MemoryOperand {
	off := s.Offset()
	if m.fn.UsesFramePointer() {
		return m.NewMemoryOperand(m.PhysicalRegister(rbp), nil, 0, off, nil)
	}
	return m.NewMemoryOperand(m.PhysicalRegister(rsp), nil, 0, off+m.fn.StackAdjustment(), nil)
}

// MoveF64ToGPRPair moves the bits of the f64 src into the 32-bit lo and hi.
// Without SSE4.1, the value goes through the stack slot of src.
func (m *Machine) MoveF64ToGPRPair(src, lo, hi *backend.Variable) error {
	if err := checkPair(src, lo, hi); err != nil {
		return err
	}
	if m.cfg.InstructionSet.hasSSE41() {
		m.insert(m.allocateInstr().asXmmToGpr(sseOpcodeMovd, src, lo, 32))
		m.insert(m.allocateInstr().asXmmToGprImm(sseOpcodePextrd, 1, src, hi))
		return nil
	}
	sLo, sHi, err := splitSlot(src)
	if err != nil {
		return err
	}
	m.insert(m.allocateInstr().asXmmMovRM(sseOpcodeMovsd, src, m.SplitAddress(sLo)))
	m.insert(m.allocateInstr().asMovzxRmR(extModeLQ, newOperandMem(m.SplitAddress(sLo)), lo))
	m.insert(m.allocateInstr().asMovzxRmR(extModeLQ, newOperandMem(m.SplitAddress(sHi)), hi))
	return nil
}

// MoveGPRPairToF64 moves the bits of the 32-bit lo and hi into the f64 dst.
// Without SSE4.1, the value goes through the stack slot of dst.
func (m *Machine) MoveGPRPairToF64(lo, hi, dst *backend.Variable) error {
	if err := checkPair(dst, lo, hi); err != nil {
		return err
	}
	if m.cfg.InstructionSet.hasSSE41() {
		m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovd, newOperandReg(lo), dst, 32))
		m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodePinsrd, 1, newOperandReg(hi), dst))
		return nil
	}
	sLo, sHi, err := splitSlot(dst)
	if err != nil {
		return err
	}
	m.insert(m.allocateInstr().asMovRM(lo, m.SplitAddress(sLo), 32))
	m.insert(m.allocateInstr().asMovRM(hi, m.SplitAddress(sHi), 32))
	m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovsd, newOperandMem(m.SplitAddress(sLo)), dst))
	return nil
}

func checkPair(f, lo, hi *backend.Variable) error {
	if f.Type() != ir.TypeF64 {
		return fmt.Errorf("%w: %s is not f64", ErrInvalidRegisterClass, f)
	}
	if lo.Type() != ir.TypeI32 || hi.Type() != ir.TypeI32 {
		return fmt.Errorf("%w: %s and %s are not i32", ErrInvalidRegisterClass, lo, hi)
	}
	return nil
}

func splitSlot(v *backend.Variable) (lo, hi backend.VariableSplit, err error) {
	if lo, err = backend.NewVariableSplit(v, backend.SplitLo); err != nil {
		return lo, hi, fmt.Errorf("%w: %v", ErrInvalidAddressing, err)
	}
	hi, err = backend.NewVariableSplit(v, backend.SplitHi)
	return lo, hi, err
}
