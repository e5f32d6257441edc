package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
)

// encode emits the machine code of i. Directives emit nothing.
func (i *instruction) encode(c *asm.Assembler) error {
	switch i.kind {
	case bundleLock, bundleUnlock, shadowDef, keepAlive:
	case labelDef:
		c.BindLabel(i.label)
	case ret:
		c.EmitByte(0xc3)
	case ud2:
		c.EmitByte(0x0f)
		c.EmitByte(0x0b)

	case imm:
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		con := i.u1
		if i.bits == 64 {
			if lower32willSignExtendTo64(con) {
				// Sign extend mov(imm32).
				encodeRegReg(c, legacyPrefixesNone, 0xc7, 1, 0, dst, rexInfo(0).setW())
				c.EmitUint32(uint32(con))
			} else {
				c.EmitByte(rexEncodingW | dst.rexBit())
				c.EmitByte(0xb8 | dst.encoding())
				c.EmitUint64(con)
			}
		} else {
			if dst.rexBit() > 0 {
				c.EmitByte(rexEncodingDefault | 0x1)
			}
			c.EmitByte(0xb8 | dst.encoding())
			c.EmitUint32(uint32(con))
		}

	case aluRmiR:
		rex := rexForBits(i.bits)
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		var opcR, opcM, subOpcImm uint32
		switch aluRmiROpcode(i.u1) {
		case aluRmiROpcodeAdd:
			opcR, opcM, subOpcImm = 0x01, 0x03, 0x0
		case aluRmiROpcodeSub:
			opcR, opcM, subOpcImm = 0x29, 0x2b, 0x5
		case aluRmiROpcodeAnd:
			opcR, opcM, subOpcImm = 0x21, 0x23, 0x4
		case aluRmiROpcodeOr:
			opcR, opcM, subOpcImm = 0x09, 0x0b, 0x1
		case aluRmiROpcodeXor:
			opcR, opcM, subOpcImm = 0x31, 0x33, 0x6
		default:
			panic("BUG: invalid aluRmiROpcode")
		}
		return encodeRmiR(c, legacyPrefixesNone, opcR, opcM, subOpcImm, i.op1, dst, rex)

	case cmpRmiR:
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		switch i.bits {
		case 8:
			return encodeByteRegRM(c, legacyPrefixesNone, 0x38, 0x3a, i.op1, i.op2.v)
		case 16:
			return encodeRmiR(c, legacyPrefixes0x66, 0x39, 0x3b, 0x7, i.op1, dst, rexInfo(0))
		default:
			return encodeRmiR(c, legacyPrefixesNone, 0x39, 0x3b, 0x7, i.op1, dst, rexForBits(i.bits))
		}

	case movRR:
		if i.bits == 8 {
			return encodeByteRegRM(c, legacyPrefixesNone, 0x88, 0x8a, i.op1, i.op2.v)
		}
		src, err := gprEncoding(i.op1.v)
		if err != nil {
			return err
		}
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		prefix := legacyPrefixesNone
		if i.bits == 16 {
			prefix = legacyPrefixes0x66
		}
		encodeRegReg(c, prefix, 0x89, 1, src, dst, rexForBits(i.bits))

	case movzxRmR:
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		switch extMode(i.u1) {
		case extModeBL:
			if i.op1.kind == operandKindReg {
				return encodeByteRM(c, 0x0fb6, 2, dst, i.op1.v)
			}
			return encodeRegRM(c, legacyPrefixesNone, 0x0fb6, 2, dst, i.op1, rexInfo(0), gprEncoding)
		case extModeWL:
			return encodeRegRM(c, legacyPrefixesNone, 0x0fb7, 2, dst, i.op1, rexInfo(0), gprEncoding)
		case extModeLQ:
			return encodeRegRM(c, legacyPrefixesNone, 0x8b, 1, dst, i.op1, rexInfo(0), gprEncoding)
		}

	case mov64MR:
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		return encodeRegRM(c, legacyPrefixesNone, 0x8b, 1, dst, i.op1, rexInfo(0).setW(), gprEncoding)

	case movRM:
		m, err := i.op2.mem.toMachineAddress()
		if err != nil {
			return err
		}
		if i.bits == 8 {
			src, rex, err := byteRegEncoding(i.op1.v)
			if err != nil {
				return err
			}
			if rex.forbidden() && m.needsREX() {
				return errAhWithREX
			}
			encodeRegMem(c, legacyPrefixesNone, 0x88, 1, src, m, rex)
			return nil
		}
		src, err := gprEncoding(i.op1.v)
		if err != nil {
			return err
		}
		prefix := legacyPrefixesNone
		if i.bits == 16 {
			prefix = legacyPrefixes0x66
		}
		encodeRegMem(c, prefix, 0x89, 1, src, m, rexForBits(i.bits))

	case lea:
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		return encodeRegRM(c, legacyPrefixesNone, 0x8d, 1, dst, i.op1, rexForBits(i.bits), gprEncoding)

	case push64:
		op := i.op1
		switch op.kind {
		case operandKindReg:
			dst, err := gprEncoding(op.v)
			if err != nil {
				return err
			}
			if dst.rexBit() > 0 {
				c.EmitByte(rexEncodingDefault | 0x1)
			}
			c.EmitByte(0x50 | dst.encoding())
		case operandKindMem:
			return encodeRegRM(c, legacyPrefixesNone, 0xff, 1, regEnc(6), op, rexInfo(0), gprEncoding)
		case operandKindImm32:
			c.EmitByte(0x68)
			c.EmitUint32(op.imm32)
		case operandKindFixup:
			c.EmitByte(0x68)
			c.EmitFixup(op.fixup, 0)
		}

	case pop64:
		dst, err := gprEncoding(i.op1.v)
		if err != nil {
			return err
		}
		if dst.rexBit() > 0 {
			c.EmitByte(rexEncodingDefault | 0x1)
		}
		c.EmitByte(0x58 | dst.encoding())

	case call:
		c.EmitByte(0xe8)
		// The field is relative to the end of the instruction.
		c.EmitFixup(i.op1.fixup, -4)

	case callIndirect:
		return encodeRegRM(c, legacyPrefixesNone, 0xff, 1, regEnc(2), i.op1, rexInfo(0), gprEncoding)

	case jmp:
		c.EmitByte(0xe9)
		c.EmitLabelRel32(i.label)

	case jmpIndirect:
		return encodeRegRM(c, legacyPrefixesNone, 0xff, 1, regEnc(4), i.op1, rexInfo(0), gprEncoding)

	case jmpIf:
		c.EmitByte(0x0f)
		c.EmitByte(0x80 | byte(cond(i.u1)))
		c.EmitLabelRel32(i.label)

	case setcc:
		return encodeByteRM(c, 0x0f90|uint32(cond(i.u1)), 2, regEnc(0), i.op2.v)

	case xmmRmR, xmmUnaryRmR, xmmCmpRmR:
		op := sseOpcode(i.u1)
		var prefix legacyPrefixes
		var opcode uint32
		switch op {
		case sseOpcodeAndps:
			prefix, opcode = legacyPrefixesNone, 0x0f54
		case sseOpcodeAndpd:
			prefix, opcode = legacyPrefixes0x66, 0x0f54
		case sseOpcodeOrps:
			prefix, opcode = legacyPrefixesNone, 0x0f56
		case sseOpcodeOrpd:
			prefix, opcode = legacyPrefixes0x66, 0x0f56
		case sseOpcodeXorps:
			prefix, opcode = legacyPrefixesNone, 0x0f57
		case sseOpcodeXorpd:
			prefix, opcode = legacyPrefixes0x66, 0x0f57
		case sseOpcodePcmpeqd:
			prefix, opcode = legacyPrefixes0x66, 0x0f76
		case sseOpcodeMovaps:
			prefix, opcode = legacyPrefixesNone, 0x0f28
		case sseOpcodeMovdqu:
			prefix, opcode = legacyPrefixes0xF3, 0x0f6f
		case sseOpcodeMovss:
			prefix, opcode = legacyPrefixes0xF3, 0x0f10
		case sseOpcodeMovsd:
			prefix, opcode = legacyPrefixes0xF2, 0x0f10
		case sseOpcodeUcomiss:
			prefix, opcode = legacyPrefixesNone, 0x0f2e
		case sseOpcodeUcomisd:
			prefix, opcode = legacyPrefixes0x66, 0x0f2e
		default:
			panic(fmt.Sprintf("Unsupported sseOpcode: %s", op))
		}
		dst, err := xmmEncoding(i.op2.v)
		if err != nil {
			return err
		}
		return encodeRegRM(c, prefix, opcode, 2, dst, i.op1, rexInfo(0), xmmEncoding)

	case xmmMovRM:
		op := sseOpcode(i.u1)
		var prefix legacyPrefixes
		var opcode uint32
		switch op {
		case sseOpcodeMovdqu:
			prefix, opcode = legacyPrefixes0xF3, 0x0f7f
		case sseOpcodeMovss:
			prefix, opcode = legacyPrefixes0xF3, 0x0f11
		case sseOpcodeMovsd:
			prefix, opcode = legacyPrefixes0xF2, 0x0f11
		default:
			panic(fmt.Sprintf("Unsupported sseOpcode: %s", op))
		}
		src, err := xmmEncoding(i.op1.v)
		if err != nil {
			return err
		}
		return encodeRegRM(c, prefix, opcode, 2, src, i.op2, rexInfo(0), xmmEncoding)

	case xmmRmRImm:
		op, imm8 := sseOpcode(i.u1), byte(i.u1>>8)
		dst, err := xmmEncoding(i.op2.v)
		if err != nil {
			return err
		}
		switch op {
		case sseOpcodeCmpps:
			err = encodeRegRM(c, legacyPrefixesNone, 0x0fc2, 2, dst, i.op1, rexInfo(0), xmmEncoding)
		case sseOpcodeCmppd:
			err = encodeRegRM(c, legacyPrefixes0x66, 0x0fc2, 2, dst, i.op1, rexInfo(0), xmmEncoding)
		case sseOpcodePinsrd:
			err = encodeRegRM(c, legacyPrefixes0x66, 0x0f3a22, 3, dst, i.op1, rexInfo(0), gprEncoding)
		default:
			panic(fmt.Sprintf("Unsupported sseOpcode: %s", op))
		}
		if err != nil {
			return err
		}
		c.EmitByte(imm8)

	case gprToXmm:
		op := sseOpcode(i.u1)
		if op != sseOpcodeMovd && op != sseOpcodeMovq {
			panic(fmt.Sprintf("Unsupported sseOpcode: %s", op))
		}
		dst, err := xmmEncoding(i.op2.v)
		if err != nil {
			return err
		}
		return encodeRegRM(c, legacyPrefixes0x66, 0x0f6e, 2, dst, i.op1, rexForBits(i.bits), gprEncoding)

	case xmmToGpr:
		op := sseOpcode(i.u1)
		if op != sseOpcodeMovd && op != sseOpcodeMovq {
			panic(fmt.Sprintf("Unsupported sseOpcode: %s", op))
		}
		src, err := xmmEncoding(i.op1.v)
		if err != nil {
			return err
		}
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		encodeRegReg(c, legacyPrefixes0x66, 0x0f7e, 2, src, dst, rexForBits(i.bits))

	case xmmToGprImm:
		if op := sseOpcode(i.u1); op != sseOpcodePextrd {
			panic(fmt.Sprintf("Unsupported sseOpcode: %s", op))
		}
		src, err := xmmEncoding(i.op1.v)
		if err != nil {
			return err
		}
		dst, err := gprEncoding(i.op2.v)
		if err != nil {
			return err
		}
		encodeRegReg(c, legacyPrefixes0x66, 0x0f3a16, 3, src, dst, rexInfo(0))
		c.EmitByte(byte(i.u1 >> 8))

	default:
		panic(fmt.Sprintf("BUG: cannot encode %v", i.kind))
	}
	return nil
}

var errAhWithREX = fmt.Errorf("%w: %%ah cannot be encoded with a REX prefix", ErrInvalidRegisterClass)

// gprEncoding returns the encoding of the general purpose register bound to v.
func gprEncoding(v *backend.Variable) (regEnc, error) {
	if !v.HasReg() {
		return 0, fmt.Errorf("%w: %s is not bound to a register", ErrInvalidRegisterClass, v)
	}
	r := v.Reg()
	if r == ah {
		return 0, fmt.Errorf("%w: %%ah is only a byte register", ErrInvalidRegisterClass)
	}
	if !isGPR(r) {
		return 0, fmt.Errorf("%w: %s is not a general purpose register", ErrInvalidRegisterClass, RegisterName(r))
	}
	enc, err := EncodedGPR(baseReg(r))
	return regEnc(enc), err
}

// xmmEncoding returns the encoding of the vector register bound to v.
func xmmEncoding(v *backend.Variable) (regEnc, error) {
	if !v.HasReg() {
		return 0, fmt.Errorf("%w: %s is not bound to a register", ErrInvalidRegisterClass, v)
	}
	enc, err := EncodedXMM(v.Reg())
	return regEnc(enc), err
}

// byteRegEncoding returns the encoding of the low byte view of the register
// bound to v, together with its REX requirement.
func byteRegEncoding(v *backend.Variable) (regEnc, rexInfo, error) {
	if !v.HasReg() {
		return 0, 0, fmt.Errorf("%w: %s is not bound to a register", ErrInvalidRegisterClass, v)
	}
	r := v.Reg()
	if r != ah {
		if !isGPR(r) {
			return 0, 0, fmt.Errorf("%w: %s is not a general purpose register", ErrInvalidRegisterClass, RegisterName(r))
		}
		r = gprView(r, 8)
	}
	enc, err := EncodedByteRegister(r)
	if err != nil {
		return 0, 0, err
	}
	var rex rexInfo
	switch {
	case r == ah:
		rex = rex.never()
	case needsREXForByte(r):
		rex = rex.always()
	}
	return regEnc(enc), rex, nil
}

// encodeRmiR encodes the (reg addr imm) reg forms of an ALU instruction.
func encodeRmiR(c *asm.Assembler, prefix legacyPrefixes, opcR, opcM, subOpcImm uint32, op1 operand, dst regEnc, rex rexInfo) error {
	const opcodeNum = 1
	switch op1.kind {
	case operandKindReg:
		src, err := gprEncoding(op1.v)
		if err != nil {
			return err
		}
		encodeRegReg(c, prefix, opcR, opcodeNum, src, dst, rex)
	case operandKindMem:
		m, err := op1.mem.toMachineAddress()
		if err != nil {
			return err
		}
		encodeRegMem(c, prefix, opcM, opcodeNum, dst, m, rex)
	case operandKindImm32:
		imm8 := lower8willSignExtendTo32(op1.imm32)
		var opc uint32
		if imm8 {
			opc = 0x83
		} else {
			opc = 0x81
		}
		encodeRegReg(c, prefix, opc, opcodeNum, regEnc(subOpcImm), dst, rex)
		if imm8 {
			c.EmitByte(byte(op1.imm32))
		} else {
			c.EmitUint32(op1.imm32)
		}
	default:
		panic("BUG: invalid operand kind")
	}
	return nil
}

// encodeRegRM encodes an instruction with a ModRM reg field and a (reg addr)
// operand, whose register is encoded by rmEnc.
func encodeRegRM(
	c *asm.Assembler,
	prefix legacyPrefixes,
	opcodes, opcodeNum uint32,
	r regEnc,
	rm operand,
	rex rexInfo,
	rmEnc func(*backend.Variable) (regEnc, error),
) error {
	switch rm.kind {
	case operandKindReg:
		enc, err := rmEnc(rm.v)
		if err != nil {
			return err
		}
		encodeRegReg(c, prefix, opcodes, opcodeNum, r, enc, rex)
	case operandKindMem:
		m, err := rm.mem.toMachineAddress()
		if err != nil {
			return err
		}
		encodeRegMem(c, prefix, opcodes, opcodeNum, r, m, rex)
	default:
		panic("BUG: invalid operand kind")
	}
	return nil
}

// encodeByteRM encodes an instruction whose r/m operand is the byte view of
// the register bound to v.
func encodeByteRM(c *asm.Assembler, opcodes, opcodeNum uint32, r regEnc, v *backend.Variable) error {
	rm, rex, err := byteRegEncoding(v)
	if err != nil {
		return err
	}
	if rex.forbidden() && (r.rexBit() != 0 || rm.rexBit() != 0) {
		return errAhWithREX
	}
	encodeRegReg(c, legacyPrefixesNone, opcodes, opcodeNum, r, rm, rex)
	return nil
}

// encodeByteRegRM encodes the 8-bit forms "op src, dst" where opcR takes the
// source in the reg field and opcM takes the destination in the reg field.
func encodeByteRegRM(c *asm.Assembler, prefix legacyPrefixes, opcR, opcM uint32, src operand, dst *backend.Variable) error {
	d, drex, err := byteRegEncoding(dst)
	if err != nil {
		return err
	}
	switch src.kind {
	case operandKindReg:
		s, srex, err := byteRegEncoding(src.v)
		if err != nil {
			return err
		}
		rex := drex | srex
		if rex.forbidden() && (rex.required() || s.rexBit() != 0 || d.rexBit() != 0) {
			return errAhWithREX
		}
		encodeRegReg(c, prefix, opcR, 1, s, d, rex)
	case operandKindMem:
		m, err := src.mem.toMachineAddress()
		if err != nil {
			return err
		}
		if drex.forbidden() && (m.needsREX() || d.rexBit() != 0) {
			return errAhWithREX
		}
		encodeRegMem(c, prefix, opcM, 1, d, m, drex)
	default:
		panic("BUG: invalid operand kind")
	}
	return nil
}

func rexForBits(bits byte) rexInfo {
	if bits == 64 {
		return rexInfo(0).setW()
	}
	return rexInfo(0)
}

func emitOpcodes(c *asm.Assembler, opcodes uint32, opcodeNum uint32) {
	for opcodeNum > 0 {
		opcodeNum--
		c.EmitByte(byte((opcodes >> (opcodeNum << 3)) & 0xff))
	}
}

func encodeRegReg(
	c *asm.Assembler,
	legPrefixes legacyPrefixes,
	opcodes uint32,
	opcodeNum uint32,
	r regEnc,
	rm regEnc,
	rex rexInfo,
) {
	legPrefixes.encode(c)
	rex.encode(c, r, rm)
	emitOpcodes(c, opcodes, opcodeNum)
	c.EmitByte(encodeModRM(3, r.encoding(), rm.encoding()))
}

func encodeModRM(mod byte, reg byte, rm byte) byte {
	return mod<<6 | reg<<3 | rm
}

func encodeSIB(shift byte, encIndex byte, encBase byte) byte {
	return shift<<6 | encIndex<<3 | encBase
}

// needsREX returns true if encoding m requires a REX prefix.
func (m *amode) needsREX() bool {
	switch m.kind {
	case amodeImmReg:
		return regEnc(regTable[m.base].enc).rexBit() != 0
	case amodeRegRegShift:
		return regEnc(regTable[m.base].enc).rexBit() != 0 || regEnc(regTable[m.index].enc).rexBit() != 0
	case amodeIndexShift:
		return regEnc(regTable[m.index].enc).rexBit() != 0
	default:
		return false
	}
}

// emitDisp32 emits the 32-bit displacement of m, relocated if m has a fixup.
func emitDisp32(c *asm.Assembler, m *amode) {
	if m.fixup != nil {
		c.EmitFixup(m.fixup, int64(m.disp))
	} else {
		c.EmitUint32(uint32(m.disp))
	}
}

func encodeRegMem(
	c *asm.Assembler, legPrefixes legacyPrefixes, opcodes uint32, opcodeNum uint32, r regEnc, m amode, rex rexInfo,
) {
	legPrefixes.encode(c)

	const (
		modNoDisplacement    = 0b00
		modShortDisplacement = 0b01
		modLongDisplacement  = 0b10

		useSBI = 4 // the encoding of rsp or r12 register.
		noBase = 5 // the SIB base encoding meaning disp32 without base when mod == 0.
		noIndex = 4 // the SIB index encoding meaning no index.
	)

	switch m.kind {
	case amodeImmReg:
		baseEnc := regEnc(regTable[m.base].enc)

		rex.encode(c, r, baseEnc)
		emitOpcodes(c, opcodes, opcodeNum)

		// SIB byte is the last byte of the memory encoding before the displacement
		const sibByte = 0x24 // == encodeSIB(0, 4, 4)

		// rbp or r13 can't be used as base without displacement: mod 00 with rm 101 means RIP-relative.
		immZero, rbpOrR13 := m.disp == 0 && m.fixup == nil, baseEnc.encoding() == noBase
		short := m.fixup == nil && lower8willSignExtendTo32(uint32(m.disp))
		rspOrR12 := baseEnc.encoding() == useSBI

		if immZero && !rbpOrR13 {
			c.EmitByte(encodeModRM(modNoDisplacement, r.encoding(), baseEnc.encoding()))
			if rspOrR12 {
				c.EmitByte(sibByte)
			}
		} else if short { // Note: this includes the case where m.disp == 0 && base is rbp or r13.
			c.EmitByte(encodeModRM(modShortDisplacement, r.encoding(), baseEnc.encoding()))
			if rspOrR12 {
				c.EmitByte(sibByte)
			}
			c.EmitByte(byte(m.disp))
		} else {
			c.EmitByte(encodeModRM(modLongDisplacement, r.encoding(), baseEnc.encoding()))
			if rspOrR12 {
				c.EmitByte(sibByte)
			}
			emitDisp32(c, &m)
		}

	case amodeRegRegShift:
		baseEnc := regEnc(regTable[m.base].enc)
		indexEnc := regEnc(regTable[m.index].enc)

		rex.encodeForIndex(c, r, indexEnc, baseEnc)
		emitOpcodes(c, opcodes, opcodeNum)

		immZero, rbpOrR13 := m.disp == 0 && m.fixup == nil, baseEnc.encoding() == noBase
		if immZero && !rbpOrR13 {
			c.EmitByte(encodeModRM(modNoDisplacement, r.encoding(), useSBI))
			c.EmitByte(encodeSIB(m.shift, indexEnc.encoding(), baseEnc.encoding()))
		} else if m.fixup == nil && lower8willSignExtendTo32(uint32(m.disp)) {
			c.EmitByte(encodeModRM(modShortDisplacement, r.encoding(), useSBI))
			c.EmitByte(encodeSIB(m.shift, indexEnc.encoding(), baseEnc.encoding()))
			c.EmitByte(byte(m.disp))
		} else {
			c.EmitByte(encodeModRM(modLongDisplacement, r.encoding(), useSBI))
			c.EmitByte(encodeSIB(m.shift, indexEnc.encoding(), baseEnc.encoding()))
			emitDisp32(c, &m)
		}

	case amodeIndexShift:
		indexEnc := regEnc(regTable[m.index].enc)

		rex.encodeForIndex(c, r, indexEnc, 0)
		emitOpcodes(c, opcodes, opcodeNum)

		c.EmitByte(encodeModRM(modNoDisplacement, r.encoding(), useSBI))
		c.EmitByte(encodeSIB(m.shift, indexEnc.encoding(), noBase))
		emitDisp32(c, &m)

	case amodeAbsolute:
		rex.encode(c, r, 0)
		emitOpcodes(c, opcodes, opcodeNum)

		// Without SIB, mod 00 with rm 101 would be RIP-relative.
		c.EmitByte(encodeModRM(modNoDisplacement, r.encoding(), useSBI))
		c.EmitByte(encodeSIB(0, noIndex, noBase))
		emitDisp32(c, &m)

	default:
		panic("BUG: invalid amode kind")
	}
}

const (
	rexEncodingDefault byte = 0x40
	rexEncodingW            = rexEncodingDefault | 0x08
)

// rexInfo is a bit set to indicate:
//
//	0x01: W bit must be set.
//	0x02: REX prefix must be emitted.
//	0x04: REX prefix must not be emitted.
type rexInfo byte

func (ri rexInfo) setW() rexInfo {
	return ri | 0x01
}

func (ri rexInfo) always() rexInfo {
	return ri | 0x02
}

func (ri rexInfo) never() rexInfo {
	return ri | 0x04
}

func (ri rexInfo) required() bool {
	return ri&0x03 != 0
}

func (ri rexInfo) forbidden() bool {
	return ri&0x04 != 0
}

func (ri rexInfo) encode(c *asm.Assembler, encR regEnc, encRM regEnc) {
	ri.encodeForIndex(c, encR, 0, encRM)
}

func (ri rexInfo) encodeForIndex(c *asm.Assembler, encR regEnc, encIndex regEnc, encBase regEnc) {
	var w byte = 0
	if ri&0x01 != 0 {
		w = 0x01
	}
	r := encR.rexBit()
	x := encIndex.rexBit()
	b := encBase.rexBit()
	rex := rexEncodingDefault | w<<3 | r<<2 | x<<1 | b
	if rex != rexEncodingDefault || ri&0x02 != 0 {
		c.EmitByte(rex)
	}
}

type regEnc byte

func (r regEnc) rexBit() byte {
	return byte(r) >> 3
}

func (r regEnc) encoding() byte {
	return byte(r) & 0x07
}

type legacyPrefixes byte

const (
	legacyPrefixesNone legacyPrefixes = iota
	legacyPrefixes0x66
	legacyPrefixes0xF2
	legacyPrefixes0xF3
)

func (p legacyPrefixes) encode(c *asm.Assembler) {
	switch p {
	case legacyPrefixesNone:
	case legacyPrefixes0x66:
		c.EmitByte(0x66)
	case legacyPrefixes0xF2:
		c.EmitByte(0xf2)
	case legacyPrefixes0xF3:
		c.EmitByte(0xf3)
	default:
		panic("BUG: invalid legacy prefix")
	}
}

func lower32willSignExtendTo64(x uint64) bool {
	xs := int64(x)
	return xs == int64(uint64(int32(xs)))
}

func lower8willSignExtendTo32(x uint32) bool {
	xs := int32(x)
	return xs == ((xs << 24) >> 24)
}
