package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
)

type instruction struct {
	kind       instructionKind
	prev, next *instruction
	op1, op2   operand
	u1         uint64
	// bits is the operand size of integer instructions.
	bits  byte
	label asm.Label
}

// String implements fmt.Stringer.
func (i *instruction) String() string {
	switch i.kind {
	case ret:
		return "ret"
	case ud2:
		return "ud2"
	case imm:
		if i.bits == 64 {
			return fmt.Sprintf("movabsq $%d, %s", int64(i.u1), i.op2.format(64))
		}
		return fmt.Sprintf("movl $%d, %s", int32(i.u1), i.op2.format(32))
	case aluRmiR:
		return fmt.Sprintf("%s %s, %s", aluRmiROpcode(i.u1), i.op1.format(i.bits), i.op2.format(i.bits))
	case cmpRmiR:
		return fmt.Sprintf("cmp %s, %s", i.op1.format(i.bits), i.op2.format(i.bits))
	case movRR:
		return fmt.Sprintf("mov%s %s, %s", sizeSuffix(i.bits), i.op1.format(i.bits), i.op2.format(i.bits))
	case movzxRmR:
		from, to := extMode(i.u1).sizes()
		return fmt.Sprintf("movzx.%s %s, %s", extMode(i.u1), i.op1.format(from*8), i.op2.format(to*8))
	case mov64MR:
		return fmt.Sprintf("movq %s, %s", i.op1.format(64), i.op2.format(64))
	case movRM:
		return fmt.Sprintf("mov%s %s, %s", sizeSuffix(i.bits), i.op1.format(i.bits), i.op2.format(i.bits))
	case lea:
		return fmt.Sprintf("lea %s, %s", i.op1.format(i.bits), i.op2.format(i.bits))
	case push64:
		return fmt.Sprintf("pushq %s", i.op1.format(64))
	case pop64:
		return fmt.Sprintf("popq %s", i.op1.format(64))
	case call:
		return fmt.Sprintf("call %s", fixupTarget(i.op1.fixup))
	case callIndirect:
		return fmt.Sprintf("callq *%s", i.op1.format(64))
	case jmp:
		return fmt.Sprintf("jmp %s", i.label)
	case jmpIndirect:
		return fmt.Sprintf("jmp *%s", i.op1.format(64))
	case jmpIf:
		return fmt.Sprintf("j%s %s", cond(i.u1), i.label)
	case setcc:
		return fmt.Sprintf("set%s %s", cond(i.u1), i.op2.format(8))
	case xmmRmR, xmmUnaryRmR, xmmCmpRmR:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.u1), i.op1.format(128), i.op2.format(128))
	case xmmMovRM:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.u1), i.op1.format(128), i.op2.format(128))
	case xmmRmRImm:
		op, imm8 := sseOpcode(i.u1), byte(i.u1>>8)
		return fmt.Sprintf("%s $%d, %s, %s", op, imm8, i.op1.format(32), i.op2.format(128))
	case gprToXmm:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.u1), i.op1.format(i.bits), i.op2.format(128))
	case xmmToGpr:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.u1), i.op1.format(128), i.op2.format(i.bits))
	case xmmToGprImm:
		op, imm8 := sseOpcode(i.u1), byte(i.u1>>8)
		return fmt.Sprintf("%s $%d, %s, %s", op, imm8, i.op1.format(128), i.op2.format(32))
	case labelDef:
		return fmt.Sprintf("%s:", i.label)
	case bundleLock:
		if opt := bundleOption(i.u1); opt != bundleOptionNone {
			return fmt.Sprintf(".bundle_lock %s", opt)
		}
		return ".bundle_lock"
	case bundleUnlock:
		return ".bundle_unlock"
	case shadowDef:
		if i.op1.kind == 0 {
			return fmt.Sprintf(".shadowdef %s", i.op2.format(bitsOf(i.op2.v)))
		}
		return fmt.Sprintf(".shadowdef %s, %s", i.op1.format(bitsOf(i.op1.v)), i.op2.format(bitsOf(i.op2.v)))
	case keepAlive:
		return fmt.Sprintf(".keepalive %s", i.op1.format(bitsOf(i.op1.v)))
	default:
		panic(fmt.Sprintf("BUG: %v", i.kind))
	}
}

func sizeSuffix(bits byte) string {
	switch bits {
	case 8:
		return "b"
	case 16:
		return "w"
	case 32:
		return "l"
	case 64:
		return "q"
	default:
		panic(fmt.Sprintf("BUG: invalid operand size %d", bits))
	}
}

// isDirective returns true for instructions which emit no bytes.
func (i *instruction) isDirective() bool {
	switch i.kind {
	case labelDef, bundleLock, bundleUnlock, shadowDef, keepAlive:
		return true
	default:
		return false
	}
}

func resetInstruction(i *instruction) {
	*i = instruction{}
}

type instructionKind byte

const (
	// Integer arithmetic/bit-twiddling: (add sub and or xor) (32 64) (reg addr imm) reg
	aluRmiR instructionKind = iota + 1

	// Integer comparisons: cmp (b w l q) (reg addr imm) reg.
	cmpRmiR

	// Constant materialization: (imm32 imm64) reg.
	// Either: movl $imm32, %reg32 or movabsq $imm64, %reg64.
	imm

	// GPR to GPR move: mov (b w l q) reg reg.
	movRR

	// Zero-extended loads and moves: movz (bl bq wl wq lq) (reg addr) reg.
	// The lq variant is "movl" since writing a 32-bit register clears the upper half.
	movzxRmR

	// A plain 64-bit integer load, since movzxRmR can't represent that.
	mov64MR

	// Integer stores: mov (b w l q) reg addr.
	movRM

	// Loads the effective address of addr into dst: lea (l q) addr reg.
	lea

	// pushq (reg addr imm fixup)
	push64

	// popq reg
	pop64

	// Direct call: call simm32 resolved by a fixup.
	call

	// Indirect call: callq *(reg mem).
	callIndirect

	// Return.
	ret

	// Jump to a label: jmp simm32.
	jmp

	// Indirect jump: jmpq *(reg mem).
	jmpIndirect

	// One-way conditional branch: jcond cond label.
	jmpIf

	// Materializes the requested condition code in the destination reg.
	setcc

	// XMM (scalar or vector) binary op: dst = dst op src.
	xmmRmR

	// XMM (scalar or vector) unary op: mov between XMM registers or loads.
	xmmUnaryRmR

	// XMM stores: movss, movsd, movdqu.
	xmmMovRM

	// Float comparisons setting the flags: ucomis (s d).
	xmmCmpRmR

	// A binary XMM instruction with an 8-bit immediate: e.g. cmp (ps pd) imm (reg addr) reg, pinsrd.
	xmmRmRImm

	// Moves from a GPR or memory into an XMM: movd, movq.
	gprToXmm

	// Moves from an XMM into a GPR: movd, movq.
	xmmToGpr

	// Extracts a lane of an XMM into a GPR: pextrd.
	xmmToGprImm

	// An instruction that will always trigger the illegal instruction exception.
	ud2

	// labelDef binds a label to the current position.
	labelDef

	// bundleLock and bundleUnlock delimit a sequence which must not cross a
	// bundle boundary.
	bundleLock
	bundleUnlock

	// shadowDef tells the liveness analysis that op2 is defined by op1 (or
	// by nothing) here. It is how a value only reachable through a
	// differently sized view of its register is kept alive.
	shadowDef

	// keepAlive tells the liveness analysis that op1 is observed here.
	keepAlive
)

func (k instructionKind) String() string {
	switch k {
	case aluRmiR:
		return "aluRmiR"
	case cmpRmiR:
		return "cmpRmiR"
	case imm:
		return "imm"
	case movRR:
		return "movRR"
	case movzxRmR:
		return "movzxRmR"
	case mov64MR:
		return "mov64MR"
	case movRM:
		return "movRM"
	case lea:
		return "lea"
	case push64:
		return "push64"
	case pop64:
		return "pop64"
	case call:
		return "call"
	case callIndirect:
		return "callIndirect"
	case ret:
		return "ret"
	case jmp:
		return "jmp"
	case jmpIndirect:
		return "jmpIndirect"
	case jmpIf:
		return "jmpIf"
	case setcc:
		return "setcc"
	case xmmRmR:
		return "xmmRmR"
	case xmmUnaryRmR:
		return "xmmUnaryRmR"
	case xmmMovRM:
		return "xmmMovRM"
	case xmmCmpRmR:
		return "xmmCmpRmR"
	case xmmRmRImm:
		return "xmmRmRImm"
	case gprToXmm:
		return "gprToXmm"
	case xmmToGpr:
		return "xmmToGpr"
	case xmmToGprImm:
		return "xmmToGprImm"
	case ud2:
		return "ud2"
	case labelDef:
		return "labelDef"
	case bundleLock:
		return "bundleLock"
	case bundleUnlock:
		return "bundleUnlock"
	case shadowDef:
		return "shadowDef"
	case keepAlive:
		return "keepAlive"
	default:
		panic("BUG")
	}
}

type aluRmiROpcode byte

const (
	aluRmiROpcodeAdd aluRmiROpcode = iota + 1
	aluRmiROpcodeSub
	aluRmiROpcodeAnd
	aluRmiROpcodeOr
	aluRmiROpcodeXor
)

func (a aluRmiROpcode) String() string {
	switch a {
	case aluRmiROpcodeAdd:
		return "add"
	case aluRmiROpcodeSub:
		return "sub"
	case aluRmiROpcodeAnd:
		return "and"
	case aluRmiROpcodeOr:
		return "or"
	case aluRmiROpcodeXor:
		return "xor"
	default:
		panic("BUG")
	}
}

type sseOpcode byte

const (
	sseOpcodeAndps sseOpcode = iota + 1
	sseOpcodeAndpd
	sseOpcodeCmpps
	sseOpcodeCmppd
	sseOpcodeMovaps
	sseOpcodeMovd
	sseOpcodeMovdqu
	sseOpcodeMovq
	sseOpcodeMovss
	sseOpcodeMovsd
	sseOpcodeOrps
	sseOpcodeOrpd
	sseOpcodePcmpeqd
	sseOpcodePextrd
	sseOpcodePinsrd
	sseOpcodeUcomiss
	sseOpcodeUcomisd
	sseOpcodeXorps
	sseOpcodeXorpd
)

func (s sseOpcode) String() string {
	switch s {
	case sseOpcodeAndps:
		return "andps"
	case sseOpcodeAndpd:
		return "andpd"
	case sseOpcodeCmpps:
		return "cmpps"
	case sseOpcodeCmppd:
		return "cmppd"
	case sseOpcodeMovaps:
		return "movaps"
	case sseOpcodeMovd:
		return "movd"
	case sseOpcodeMovdqu:
		return "movdqu"
	case sseOpcodeMovq:
		return "movq"
	case sseOpcodeMovss:
		return "movss"
	case sseOpcodeMovsd:
		return "movsd"
	case sseOpcodeOrps:
		return "orps"
	case sseOpcodeOrpd:
		return "orpd"
	case sseOpcodePcmpeqd:
		return "pcmpeqd"
	case sseOpcodePextrd:
		return "pextrd"
	case sseOpcodePinsrd:
		return "pinsrd"
	case sseOpcodeUcomiss:
		return "ucomiss"
	case sseOpcodeUcomisd:
		return "ucomisd"
	case sseOpcodeXorps:
		return "xorps"
	case sseOpcodeXorpd:
		return "xorpd"
	default:
		panic("BUG")
	}
}

func (i *instruction) asRet() *instruction {
	i.kind = ret
	return i
}

func (i *instruction) asUD2() *instruction {
	i.kind = ud2
	return i
}

func (i *instruction) asImm(dst *backend.Variable, value uint64, _64 bool) *instruction {
	i.kind = imm
	i.op2 = newOperandReg(dst)
	i.u1 = value
	i.bits = 32
	if _64 {
		i.bits = 64
	}
	return i
}

func (i *instruction) asAluRmiR(op aluRmiROpcode, rm operand, rd *backend.Variable, bits byte) *instruction {
	if rm.kind != operandKindReg && rm.kind != operandKindMem && rm.kind != operandKindImm32 {
		panic("BUG")
	}
	if bits != 32 && bits != 64 {
		panic(fmt.Sprintf("BUG: %d-bit %s", bits, op))
	}
	i.kind = aluRmiR
	i.op1 = rm
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op)
	i.bits = bits
	return i
}

func (i *instruction) asCmpRmiR(rm operand, rd *backend.Variable, bits byte) *instruction {
	if rm.kind == operandKindImm32 && bits != 32 && bits != 64 {
		panic("BUG: cmp with an immediate must be 32 or 64-bit")
	}
	i.kind = cmpRmiR
	i.op1 = rm
	i.op2 = newOperandReg(rd)
	i.bits = bits
	return i
}

func (i *instruction) asMovRR(rm, rd *backend.Variable, bits byte) *instruction {
	i.kind = movRR
	i.op1 = newOperandReg(rm)
	i.op2 = newOperandReg(rd)
	i.bits = bits
	return i
}

func (i *instruction) asMovzxRmR(ext extMode, src operand, rd *backend.Variable) *instruction {
	if src.kind != operandKindReg && src.kind != operandKindMem {
		panic("BUG: invalid operand kind for movzx")
	}
	i.kind = movzxRmR
	i.op1 = src
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(ext)
	return i
}

func (i *instruction) asMov64MR(rm *MemoryOperand, rd *backend.Variable) *instruction {
	i.kind = mov64MR
	i.op1 = newOperandMem(rm)
	i.op2 = newOperandReg(rd)
	return i
}

func (i *instruction) asMovRM(rm *backend.Variable, rd *MemoryOperand, bits byte) *instruction {
	i.kind = movRM
	i.op1 = newOperandReg(rm)
	i.op2 = newOperandMem(rd)
	i.bits = bits
	return i
}

func (i *instruction) asLEA(m *MemoryOperand, rd *backend.Variable, bits byte) *instruction {
	i.kind = lea
	i.op1 = newOperandMem(m)
	i.op2 = newOperandReg(rd)
	i.bits = bits
	return i
}

func (i *instruction) asPush64(op operand) *instruction {
	i.kind = push64
	i.op1 = op
	return i
}

func (i *instruction) asPop64(rd *backend.Variable) *instruction {
	i.kind = pop64
	i.op1 = newOperandReg(rd)
	return i
}

func (i *instruction) asCall(target *asm.Fixup) *instruction {
	i.kind = call
	i.op1 = newOperandFixup(target)
	return i
}

func (i *instruction) asCallIndirect(op operand) *instruction {
	if op.kind != operandKindReg && op.kind != operandKindMem {
		panic("BUG: invalid operand kind for callq")
	}
	i.kind = callIndirect
	i.op1 = op
	return i
}

func (i *instruction) asJmp(l asm.Label) *instruction {
	i.kind = jmp
	i.label = l
	return i
}

func (i *instruction) asJmpIndirect(op operand) *instruction {
	if op.kind != operandKindReg && op.kind != operandKindMem {
		panic("BUG: invalid operand kind for jmp")
	}
	i.kind = jmpIndirect
	i.op1 = op
	return i
}

func (i *instruction) asJmpIf(c cond, l asm.Label) *instruction {
	i.kind = jmpIf
	i.u1 = uint64(c)
	i.label = l
	return i
}

func (i *instruction) asSetcc(c cond, rd *backend.Variable) *instruction {
	i.kind = setcc
	i.u1 = uint64(c)
	i.op2 = newOperandReg(rd)
	return i
}

func (i *instruction) asXmmRmR(op sseOpcode, rm operand, rd *backend.Variable) *instruction {
	if rm.kind != operandKindReg && rm.kind != operandKindMem {
		panic("BUG")
	}
	i.kind = xmmRmR
	i.op1 = rm
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op)
	return i
}

func (i *instruction) asXmmUnaryRmR(op sseOpcode, rm operand, rd *backend.Variable) *instruction {
	if rm.kind != operandKindReg && rm.kind != operandKindMem {
		panic("BUG")
	}
	i.kind = xmmUnaryRmR
	i.op1 = rm
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op)
	return i
}

func (i *instruction) asXmmMovRM(op sseOpcode, rm *backend.Variable, rd *MemoryOperand) *instruction {
	i.kind = xmmMovRM
	i.op1 = newOperandReg(rm)
	i.op2 = newOperandMem(rd)
	i.u1 = uint64(op)
	return i
}

// asXmmCmpRmR compares rd with rm, setting the flags as for rd - rm.
func (i *instruction) asXmmCmpRmR(op sseOpcode, rm operand, rd *backend.Variable) *instruction {
	if rm.kind != operandKindReg && rm.kind != operandKindMem {
		panic("BUG")
	}
	i.kind = xmmCmpRmR
	i.op1 = rm
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op)
	return i
}

func (i *instruction) asXmmRmRImm(op sseOpcode, imm8 byte, rm operand, rd *backend.Variable) *instruction {
	if rm.kind != operandKindReg && rm.kind != operandKindMem {
		panic("BUG")
	}
	i.kind = xmmRmRImm
	i.op1 = rm
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op) | uint64(imm8)<<8
	return i
}

func (i *instruction) asGprToXmm(op sseOpcode, rm operand, rd *backend.Variable, bits byte) *instruction {
	if rm.kind != operandKindReg && rm.kind != operandKindMem {
		panic("BUG")
	}
	i.kind = gprToXmm
	i.op1 = rm
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op)
	i.bits = bits
	return i
}

func (i *instruction) asXmmToGpr(op sseOpcode, rm, rd *backend.Variable, bits byte) *instruction {
	i.kind = xmmToGpr
	i.op1 = newOperandReg(rm)
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op)
	i.bits = bits
	return i
}

func (i *instruction) asXmmToGprImm(op sseOpcode, imm8 byte, rm, rd *backend.Variable) *instruction {
	i.kind = xmmToGprImm
	i.op1 = newOperandReg(rm)
	i.op2 = newOperandReg(rd)
	i.u1 = uint64(op) | uint64(imm8)<<8
	return i
}

func (i *instruction) asLabel(l asm.Label) *instruction {
	i.kind = labelDef
	i.label = l
	return i
}

func (i *instruction) asBundleLock(opt bundleOption) *instruction {
	i.kind = bundleLock
	i.u1 = uint64(opt)
	return i
}

func (i *instruction) asBundleUnlock() *instruction {
	i.kind = bundleUnlock
	return i
}

// asShadowDef records that dst is defined from src, which may be nil.
func (i *instruction) asShadowDef(dst, src *backend.Variable) *instruction {
	i.kind = shadowDef
	if src != nil {
		i.op1 = newOperandReg(src)
	}
	i.op2 = newOperandReg(dst)
	return i
}

func (i *instruction) asKeepAlive(v *backend.Variable) *instruction {
	i.kind = keepAlive
	i.op1 = newOperandReg(v)
	return i
}
