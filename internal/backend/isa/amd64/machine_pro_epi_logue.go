package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/logging"
)

// IncrementStackPointer releases adj bytes of stack.
func (m *Machine) IncrementStackPointer(adj int32) {
	m.logger.Logf(logging.LogScopeFrame, "increment sp by %d", adj)
	m.adjustStackPointer(aluRmiROpcodeAdd, adj)
	m.fn.AddStackAdjustment(-adj)
}

// DecrementStackPointer reserves adj bytes of stack.
func (m *Machine) DecrementStackPointer(adj int32) {
	m.logger.Logf(logging.LogScopeFrame, "decrement sp by %d", adj)
	m.adjustStackPointer(aluRmiROpcodeSub, adj)
	m.fn.AddStackAdjustment(adj)
}

// adjustStackPointer applies op with adj to the stack pointer. When
// sandboxing, the arithmetic is done on esp and rsp is rebased on r15:
//
//	.bundle_lock
//	.shadowdef %rsp, %esp
//	add $adj, %esp
//	.shadowdef %esp, %rsp
//	add %r15, %rsp
//	.bundle_unlock
func (m *Machine) adjustStackPointer(op aluRmiROpcode, adj int32) {
	rspVReg := m.PhysicalRegister(rsp)
	if !m.Sandboxed() {
		m.insert(m.allocateInstr().asAluRmiR(op, newOperandImm32(uint32(adj)), rspVReg, 64))
		return
	}
	espVReg := m.PhysicalRegister(esp)
	m.withBundle(bundleOptionNone, func() {
		m.insert(m.allocateInstr().asShadowDef(espVReg, rspVReg))
		m.insert(m.allocateInstr().asAluRmiR(op, newOperandImm32(uint32(adj)), espVReg, 32))
		m.insert(m.allocateInstr().asShadowDef(rspVReg, espVReg))
		m.rebase(rspVReg)
	})
}

// rebase adds the sandbox base to the 64-bit register v.
func (m *Machine) rebase(v *backend.Variable) {
	m.insert(m.allocateInstr().asAluRmiR(aluRmiROpcodeAdd, newOperandReg(m.PhysicalRegister(sandboxBase)), v, 64))
}

// EstablishFrame saves the caller's frame pointer and sets up a new frame.
func (m *Machine) EstablishFrame() {
	m.logger.Logf(logging.LogScopeFrame, "establish frame")
	m.fn.SetUsesFramePointer(true)
	rspVReg, rbpVReg := m.PhysicalRegister(rsp), m.PhysicalRegister(rbp)
	if !m.Sandboxed() {
		m.insert(m.allocateInstr().asPush64(newOperandReg(rbpVReg)))
		m.insert(m.allocateInstr().asMovRR(rspVReg, rbpVReg, 64))
		m.insert(m.allocateInstr().asKeepAlive(rbpVReg))
		return
	}

	m.pushFramePointerSandboxed()
	espVReg, ebpVReg := m.PhysicalRegister(esp), m.PhysicalRegister(ebp)
	m.withBundle(bundleOptionNone, func() {
		m.insert(m.allocateInstr().asShadowDef(espVReg, rspVReg))
		m.insert(m.allocateInstr().asMovRR(espVReg, ebpVReg, 32))
		m.insert(m.allocateInstr().asShadowDef(rbpVReg, ebpVReg))
		m.rebase(rbpVReg)
	})
	m.insert(m.allocateInstr().asKeepAlive(rbpVReg))
}

// TearDownFrame releases the frame and restores the caller's frame pointer.
func (m *Machine) TearDownFrame() {
	m.logger.Logf(logging.LogScopeFrame, "tear down frame")
	rspVReg, rbpVReg := m.PhysicalRegister(rsp), m.PhysicalRegister(rbp)
	// Keeps the previous adjustments of rsp alive.
	m.insert(m.allocateInstr().asKeepAlive(rspVReg))
	if !m.Sandboxed() {
		m.insert(m.allocateInstr().asMovRR(rbpVReg, rspVReg, 64))
		m.insert(m.allocateInstr().asPop64(rbpVReg))
		return
	}

	espVReg, ebpVReg := m.PhysicalRegister(esp), m.PhysicalRegister(ebp)
	m.withBundle(bundleOptionNone, func() {
		m.insert(m.allocateInstr().asShadowDef(ebpVReg, rbpVReg))
		m.insert(m.allocateInstr().asMovRR(ebpVReg, espVReg, 32))
		m.insert(m.allocateInstr().asShadowDef(rspVReg, espVReg))
		m.rebase(rspVReg)
	})
	m.popFramePointerSandboxed()
}

// pushFramePointerSandboxed pushes the low 32 bits of rbp. Its upper half
// holds the sandbox base which must not leak into memory.
func (m *Machine) pushFramePointerSandboxed() {
	ebpVReg := m.PhysicalRegister(ebp)
	mem := m.NewMemoryOperand(m.PhysicalRegister(rsp), nil, 0, 0, nil)
	m.withBundle(bundleOptionNone, func() {
		m.insert(m.allocateInstr().asPush64(newOperandImm32(0)))
		m.insert(m.allocateInstr().asMovRM(ebpVReg, mem, 32))
	})
}

// popFramePointerSandboxed pops a 32-bit frame pointer into rbp, rebased on
// the sandbox base. rcx is clobbered.
func (m *Machine) popFramePointerSandboxed() {
	rcxVReg, ecxVReg := m.PhysicalRegister(rcx), m.PhysicalRegister(ecx)
	rbpVReg, ebpVReg := m.PhysicalRegister(rbp), m.PhysicalRegister(ebp)
	m.insert(m.allocateInstr().asPop64(rcxVReg))
	m.insert(m.allocateInstr().asShadowDef(ecxVReg, rcxVReg))
	m.withBundle(bundleOptionNone, func() {
		m.insert(m.allocateInstr().asMovRR(ecxVReg, ebpVReg, 32))
		m.insert(m.allocateInstr().asShadowDef(rbpVReg, ebpVReg))
		m.rebase(rbpVReg)
	})
}

// PushRegister saves r on the stack. r is a general purpose register of any
// width, saved as a whole, or a vector register, saved in a 16-byte slot.
// Like DecrementStackPointer, it adds the bytes pushed to the stack
// adjustment. EstablishFrame and TearDownFrame do not, since slots are then
// addressed from rbp.
func (m *Machine) PushRegister(r regalloc.RealReg) error {
	switch {
	case isXMM(r):
		m.adjustStackPointer(aluRmiROpcodeSub, 16)
		mem := m.NewMemoryOperand(m.PhysicalRegister(rsp), nil, 0, 0, nil)
		m.insert(m.allocateInstr().asXmmMovRM(sseOpcodeMovdqu, m.PhysicalRegister(r), mem))
		m.fn.AddStackAdjustment(16)
	case isGPR(r) && r != ah:
		if b := baseReg(r); b == rbp && m.Sandboxed() {
			m.pushFramePointerSandboxed()
		} else {
			m.insert(m.allocateInstr().asPush64(newOperandReg(m.PhysicalRegister(b))))
		}
		m.fn.AddStackAdjustment(8)
	default:
		return fmt.Errorf("%w: cannot push %s", ErrInvalidRegisterClass, RegisterName(r))
	}
	return nil
}

// PopRegister restores r saved by PushRegister.
func (m *Machine) PopRegister(r regalloc.RealReg) error {
	switch {
	case isXMM(r):
		mem := m.NewMemoryOperand(m.PhysicalRegister(rsp), nil, 0, 0, nil)
		m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovdqu, newOperandMem(mem), m.PhysicalRegister(r)))
		m.adjustStackPointer(aluRmiROpcodeAdd, 16)
		m.fn.AddStackAdjustment(-16)
	case isGPR(r) && r != ah:
		if b := baseReg(r); b == rbp && m.Sandboxed() {
			m.popFramePointerSandboxed()
		} else {
			m.insert(m.allocateInstr().asPop64(m.PhysicalRegister(b)))
		}
		m.fn.AddStackAdjustment(-8)
	default:
		return fmt.Errorf("%w: cannot pop %s", ErrInvalidRegisterClass, RegisterName(r))
	}
	return nil
}
