package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/ir"
	"github.com/sfilabs/x64lower/internal/logging"
)

// inWindow returns true if v is bound to rsp or rbp, which always point into
// the sandbox window.
func inWindow(v *backend.Variable) bool {
	if !v.HasReg() || !isGPR(v.Reg()) || v.Reg() == ah {
		return false
	}
	b := baseReg(v.Reg())
	return b == rsp || b == rbp
}

// rematDisp returns the displacement of a rematerializable value relative to
// its frame register at this point of the function.
func (m *Machine) rematDisp(v *backend.Variable) (base *backend.Variable, disp int32) {
	r, off := v.Remat()
	if r == rsp {
		off += m.fn.StackAdjustment()
	}
	return m.PhysicalRegister(r), off
}

// LegalizeMemOperand returns an operand equivalent to mem which can be
// encoded. A rematerializable base is folded into its frame register.
//
// When sandboxing, the address is additionally confined to the sandbox
// window: the only run-time register of the operand is zero-extended from 32
// bits and used as the index of r15 (or of rsp/rbp when one of them is also
// present). A negative or relocatable displacement is first added to the
// run-time register with a 32-bit lea so that it cannot escape the window.
// Operands returned are marked rebased, and legalizing them again emits
// nothing.
func (m *Machine) LegalizeMemOperand(mem *MemoryOperand) (*MemoryOperand, error) {
	if !m.Sandboxed() {
		if mem.base == nil || !mem.base.IsRematerializable() {
			return mem, nil
		}
		base, off := m.rematDisp(mem.base)
		return m.NewMemoryOperand(base, mem.index, mem.shift, mem.disp+off, mem.fixup), nil
	}
	if mem.rebased {
		return m.truncateRebasedIndex(mem), nil
	}

	var (
		effBase, t *backend.Variable
		shift      byte
		folded     bool
		disp       = mem.disp
	)
	if b := mem.base; b != nil {
		switch {
		case b.IsRematerializable():
			var off int32
			effBase, off = m.rematDisp(b)
			disp += off
			folded = true
		case inWindow(b):
			effBase = b
		default:
			t = b
		}
	}
	if x := mem.index; x != nil {
		switch {
		case x.IsRematerializable():
			return nil, fmt.Errorf("%w: frame address %s used as index", ErrInvalidAddressing, x)
		case inWindow(x):
			if effBase != nil || mem.shift != 0 {
				return nil, fmt.Errorf("%w: %s cannot be a scaled index or a second frame register", ErrInvalidAddressing, mem)
			}
			effBase = x
		case t != nil:
			return nil, fmt.Errorf("%w: %s has two run-time registers", ErrInvalidAddressing, mem)
		default:
			t, shift = x, mem.shift
		}
	}

	needsLea := mem.fixup != nil || disp < 0
	if t == nil {
		switch {
		case effBase != nil && !folded && effBase == mem.base:
			// Both frame registers stay in the window.
			return mem, nil
		case effBase != nil:
			return m.newRebased(effBase, nil, 0, disp, mem.fixup, mem), nil
		case !needsLea:
			return m.newRebased(m.PhysicalRegister(sandboxBase), nil, 0, disp, nil, mem), nil
		}
	} else if t.Type() != ir.TypeI32 {
		return nil, fmt.Errorf("%w: address register %s is not 32-bit", ErrInvalidAddressing, t)
	}

	fixup := mem.fixup
	src := t
	if needsLea {
		var addr *MemoryOperand
		if shift == 0 {
			addr = m.NewMemoryOperand(t, nil, 0, disp, fixup)
		} else {
			addr = m.NewMemoryOperand(nil, t, shift, disp, fixup)
		}
		src = m.fn.AllocateVariable(ir.TypeI32)
		m.insert(m.allocateInstr().asLEA(addr, src, 32))
		shift, disp, fixup = 0, 0, nil
	}
	index := m.zeroExtend(src)

	if effBase == nil {
		effBase = m.PhysicalRegister(sandboxBase)
	}
	return m.newRebased(effBase, index, shift, disp, fixup, mem), nil
}

// zeroExtend returns a new 64-bit variable holding the 32-bit value v.
func (m *Machine) zeroExtend(v *backend.Variable) *backend.Variable {
	v64 := m.fn.AllocateVariable(ir.TypeI64)
	v64.MarkZeroExtended()
	m.insert(m.allocateInstr().asMovzxRmR(extModeLQ, newOperandReg(v), v64))
	return v64
}

func (m *Machine) newRebased(base, index *backend.Variable, shift byte, disp int32, fixup *asm.Fixup, orig *MemoryOperand) *MemoryOperand {
	o := m.NewMemoryOperand(base, index, shift, disp, fixup)
	o.rebased = true
	m.logger.Logf(logging.LogScopeSandbox, "rebased %s as %s", orig, o)
	return o
}

// truncateRebasedIndex makes sure the index of the rebased operand mem holds
// a zero-extended 32-bit value.
func (m *Machine) truncateRebasedIndex(mem *MemoryOperand) *MemoryOperand {
	if mem.index == nil || mem.index.ZeroExtended() {
		return mem
	}
	o := m.NewMemoryOperand(mem.base, m.zeroExtend(mem.index), mem.shift, mem.disp, mem.fixup)
	o.rebased = true
	return o
}

// LowerIndirectJump jumps to the 32-bit code address held by target. When
// sandboxing, the target is aligned down to a bundle boundary and rebased on
// r15.
func (m *Machine) LowerIndirectJump(target *backend.Variable) error {
	if err := checkCodeAddress(target); err != nil {
		return err
	}
	if m.Sandboxed() {
		m.lowerSandboxedTransfer(target, asm.LabelInvalid, nil)
		return nil
	}
	t := target
	if target.Type() != ir.TypeI64 {
		t = m.zeroExtend(target)
	}
	m.insert(m.allocateInstr().asJmpIndirect(newOperandReg(t)))
	return nil
}

func checkCodeAddress(v *backend.Variable) error {
	if t := v.Type(); t != ir.TypeI32 && t != ir.TypeI64 {
		return fmt.Errorf("%w: %s cannot hold a code address", ErrInvalidAddressing, v)
	}
	return nil
}

// lowerSandboxedTransfer emits the masked jump to target, or a call when ret
// is valid:
//
//	movl target, t32
//	.bundle_lock [pad_to_end]
//	[pushq $ret]
//	and $-bundleSize, t32
//	movzx.lq t32, t64
//	add %r15, t64
//	[.keepalive live]
//	jmp *t64
//	.bundle_unlock
//	[ret:]
//
// live, when non-nil, is a register observed by the jump target, such as the
// returned value, which t32 and t64 must not be bound to.
func (m *Machine) lowerSandboxedTransfer(target *backend.Variable, ret asm.Label, live *backend.Variable) {
	isCall := ret != asm.LabelInvalid
	t32 := m.fn.AllocateVariable(ir.TypeI32)
	t64 := m.fn.AllocateVariable(ir.TypeI64)
	t64.MarkZeroExtended()
	mask := uint32(-int32(m.bundleSize()))

	m.insert(m.allocateInstr().asMovRR(target, t32, 32))
	opt := bundleOptionNone
	if isCall {
		opt = bundleOptionPadToEnd
	}
	m.withBundle(opt, func() {
		if isCall {
			m.insert(m.allocateInstr().asPush64(newOperandFixup(m.asm.CreateLabelFixup(asm.FixupKindAbs32, ret))))
		}
		m.insert(m.allocateInstr().asAluRmiR(aluRmiROpcodeAnd, newOperandImm32(mask), t32, 32))
		m.insert(m.allocateInstr().asMovzxRmR(extModeLQ, newOperandReg(t32), t64))
		m.rebase(t64)
		if live != nil {
			m.insert(m.allocateInstr().asKeepAlive(live))
		}
		m.insert(m.allocateInstr().asJmpIndirect(newOperandReg(t64)))
	})
	if isCall {
		m.InsertLabel(ret)
	}
}
