package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/ir"
	"github.com/sfilabs/x64lower/internal/logging"
)

// CallTarget is the callee of LowerCall: either a symbol, called directly,
// or a Variable holding a 32-bit or 64-bit code address.
type CallTarget struct {
	Symbol   string
	Variable *backend.Variable
}

// String implements fmt.Stringer.
func (t CallTarget) String() string {
	if t.Variable != nil {
		return "*" + t.Variable.String()
	}
	return t.Symbol
}

// LowerCall calls target and copies the returned value into result, which
// may be nil. Arguments are expected in place, see LowerArguments.
func (m *Machine) LowerCall(target CallTarget, result *backend.Variable) error {
	m.logger.Logf(logging.LogScopeCall, "call %s", target)
	switch {
	case target.Variable != nil:
		if err := checkCodeAddress(target.Variable); err != nil {
			return err
		}
		if m.Sandboxed() {
			m.lowerSandboxedTransfer(target.Variable, m.asm.NewLabel(), nil)
			break
		}
		t := target.Variable
		if t.Type() != ir.TypeI64 {
			t = m.zeroExtend(t)
		}
		m.insert(m.allocateInstr().asCallIndirect(newOperandReg(t)))
	case target.Symbol != "":
		f := m.asm.CreateFixup(asm.FixupKindPCRel32, target.Symbol)
		if m.Sandboxed() {
			// The return address is the end of the call.
			m.withBundle(bundleOptionAlignToEnd, func() {
				m.insert(m.allocateInstr().asCall(f))
			})
			break
		}
		m.insert(m.allocateInstr().asCall(f))
	default:
		return fmt.Errorf("%w: call without target", ErrInvalidAddressing)
	}

	if result == nil {
		return nil
	}
	return m.moveFromReturnRegister(result)
}

func checkReturnType(t ir.Type) error {
	if !t.IsInt() && !t.IsFloat() && !t.IsVector() {
		return fmt.Errorf("%w: no return register for type %s", ErrInvalidRegisterClass, t)
	}
	return nil
}

// LowerArguments moves args, in order, to where the calling convention
// passes them: the argument registers, then the outgoing argument area at the
// stack pointer. The area is reserved here when an argument does not fit in
// registers, and its size is returned for the caller to release with
// IncrementStackPointer once the call is lowered.
func (m *Machine) LowerArguments(args []*backend.Variable) (int32, error) {
	if m.target.SubTarget == SubTargetWin64 {
		return 0, fmt.Errorf("%w: argument passing on %s", ErrIncompleteImplementation, m.target.Name())
	}
	m.sig.Params = m.sig.Params[:0]
	for _, arg := range args {
		m.sig.Params = append(m.sig.Params, arg.Type())
	}
	m.abi.Init(&m.sig)

	size := int32(m.abi.AlignedArgStackSize())
	m.logger.Logf(logging.LogScopeCall, "%d arguments, %d bytes on the stack", len(args), size)
	if size > 0 {
		m.DecrementStackPointer(size)
	}
	for i := range m.abi.Args {
		a, arg := &m.abi.Args[i], args[i]
		switch {
		case a.Kind == backend.ABIArgKindStack:
			mem := m.NewMemoryOperand(m.PhysicalRegister(rsp), nil, 0, int32(a.Offset), nil)
			if err := m.LowerStore(arg, mem); err != nil {
				return 0, err
			}
		case a.Type.IsInt():
			m.moveInteger(arg, m.PhysicalRegister(gprView(a.Reg, bitsOf(arg))))
		default:
			m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovaps, newOperandReg(arg), m.PhysicalRegister(a.Reg)))
		}
	}
	return size, nil
}

// returnRegister returns the register holding a returned value of the type
// of v.
func (m *Machine) returnRegister(v *backend.Variable) *backend.Variable {
	_, _, resultInt, resultFloat := m.target.ArgsResultsRegs()
	if t := v.Type(); t.IsFloat() || t.IsVector() {
		return m.PhysicalRegister(resultFloat)
	}
	return m.PhysicalRegister(gprView(resultInt, bitsOf(v)))
}

// moveFromReturnRegister copies the value returned by a call into v.
func (m *Machine) moveFromReturnRegister(v *backend.Variable) error {
	typ := v.Type()
	if err := checkReturnType(typ); err != nil {
		return err
	}
	src := m.returnRegister(v)
	if typ.IsFloat() || typ.IsVector() {
		m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovaps, newOperandReg(src), v))
		return nil
	}
	m.moveInteger(src, v)
	return nil
}

// MoveReturnValueIntoRegister copies v into the return register of its type:
// xmm0 for floats and vectors, rax for integers. Pointers, which are 32-bit,
// are zero-extended to the whole of rax. It returns the register Variable.
func (m *Machine) MoveReturnValueIntoRegister(v *backend.Variable) (*backend.Variable, error) {
	typ := v.Type()
	if err := checkReturnType(typ); err != nil {
		return nil, err
	}
	dst := m.returnRegister(v)
	if typ.IsFloat() || typ.IsVector() {
		m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeMovaps, newOperandReg(v), dst))
		return dst, nil
	}
	m.moveInteger(v, dst)
	return dst, nil
}

// moveInteger copies src to dst, zero-extending values narrower than 64 bits
// into the whole register of dst.
func (m *Machine) moveInteger(src, dst *backend.Variable) {
	switch bitsOf(src) {
	case 64:
		m.insert(m.allocateInstr().asMovRR(src, dst, 64))
	case 32:
		m.insert(m.allocateInstr().asMovzxRmR(extModeLQ, newOperandReg(src), dst))
	case 16:
		m.insert(m.allocateInstr().asMovzxRmR(extModeWL, newOperandReg(src), dst))
	default:
		m.insert(m.allocateInstr().asMovzxRmR(extModeBL, newOperandReg(src), dst))
	}
}

// LowerReturn returns value, which may be nil, to the caller. When
// sandboxing, ret is replaced by popping the return address into rcx and a
// masked jump through ecx. The return register is kept alive up to the
// transfer.
func (m *Machine) LowerReturn(value *backend.Variable) error {
	var retReg *backend.Variable
	if value != nil {
		var err error
		if retReg, err = m.MoveReturnValueIntoRegister(value); err != nil {
			return err
		}
	}
	if !m.Sandboxed() {
		if retReg != nil {
			m.insert(m.allocateInstr().asKeepAlive(retReg))
		}
		m.insert(m.allocateInstr().asRet())
		return nil
	}
	rcxVReg, ecxVReg := m.PhysicalRegister(rcx), m.PhysicalRegister(ecx)
	m.insert(m.allocateInstr().asPop64(rcxVReg))
	m.insert(m.allocateInstr().asShadowDef(ecxVReg, rcxVReg))
	m.lowerSandboxedTransfer(ecxVReg, asm.LabelInvalid, retReg)
	return nil
}
