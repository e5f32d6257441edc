package amd64

import (
	"fmt"
	"strings"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
)

// Every architectural view of a register is a distinct RealReg: rax, eax, ax
// and al are four registers aliasing the same storage.
const (
	// 64-bit general purpose registers, in hardware encoding order.
	rax = regalloc.RealRegInvalid + 1 + iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15

	// 32-bit views.
	eax
	ecx
	edx
	ebx
	esp
	ebp
	esi
	edi
	r8d
	r9d
	r10d
	r11d
	r12d
	r13d
	r14d
	r15d

	// 16-bit views.
	ax
	cx
	dx
	bx
	sp
	bp
	si
	di
	r8w
	r9w
	r10w
	r11w
	r12w
	r13w
	r14w
	r15w

	// 8-bit views of the low byte.
	al
	cl
	dl
	bl
	spl
	bpl
	sil
	dil
	r8b
	r9b
	r10b
	r11b
	r12b
	r13b
	r14b
	r15b

	// ah is the only high-byte register modeled.
	ah

	xmm0
	xmm1
	xmm2
	xmm3
	xmm4
	xmm5
	xmm6
	xmm7
	xmm8
	xmm9
	xmm10
	xmm11
	xmm12
	xmm13
	xmm14
	xmm15

	numRegs
)

const numGPRBases = 16

// regFlags are the role and capability flags of a register.
type regFlags uint16

const (
	// flagScratch is set on caller-saved registers.
	flagScratch regFlags = 1 << iota
	// flagPreserved is set on callee-saved registers.
	flagPreserved
	flagStackPtr
	flagFramePtr
	// flagSandboxReserved is set on registers which are never allocatable
	// when sandboxing.
	flagSandboxReserved
	// flagIs64To8 is set on 64-bit registers whose low byte can be the
	// result of a truncation to 8 bits.
	flagIs64To8
	flagIs32To8
	flagIs16To8
	// flagTrunc8Rcvr is set on 8-bit registers which can receive a
	// truncation.
	flagTrunc8Rcvr
	// flagAhRcvr is set on 8-bit registers which can be used together with
	// ah in one instruction, i.e. are encodable without a REX prefix.
	flagAhRcvr
)

// regEntry describes one physical register.
type regEntry struct {
	name string
	// enc is the 4-bit hardware encoding. The high bit goes to a REX prefix.
	enc   byte
	base  regalloc.RealReg
	class RegClass
	flags regFlags
}

func (e *regEntry) has(f regFlags) bool {
	return e.flags&f != 0
}

var gprBaseNames = [numGPRBases][4]string{
	{"rax", "eax", "ax", "al"},
	{"rcx", "ecx", "cx", "cl"},
	{"rdx", "edx", "dx", "dl"},
	{"rbx", "ebx", "bx", "bl"},
	{"rsp", "esp", "sp", "spl"},
	{"rbp", "ebp", "bp", "bpl"},
	{"rsi", "esi", "si", "sil"},
	{"rdi", "edi", "di", "dil"},
	{"r8", "r8d", "r8w", "r8b"},
	{"r9", "r9d", "r9w", "r9b"},
	{"r10", "r10d", "r10w", "r10b"},
	{"r11", "r11d", "r11w", "r11b"},
	{"r12", "r12d", "r12w", "r12b"},
	{"r13", "r13d", "r13w", "r13b"},
	{"r14", "r14d", "r14w", "r14b"},
	{"r15", "r15d", "r15w", "r15b"},
}

// gprBaseFlags are the role flags of each base register, inherited by its
// views.
var gprBaseFlags = [numGPRBases]regFlags{
	flagScratch,                                        // rax
	flagScratch,                                        // rcx
	flagScratch,                                        // rdx
	flagPreserved,                                      // rbx
	flagStackPtr | flagSandboxReserved,                 // rsp
	flagPreserved | flagFramePtr | flagSandboxReserved, // rbp
	flagScratch,                                        // rsi
	flagScratch,                                        // rdi
	flagScratch,                                        // r8
	flagScratch,                                        // r9
	flagScratch,                                        // r10
	flagScratch,                                        // r11
	flagPreserved,                                      // r12
	flagPreserved,                                      // r13
	flagPreserved,                                      // r14
	flagPreserved | flagSandboxReserved,                // r15
}

// regTable is the register catalog indexed by RealReg.
var regTable = buildRegTable()

func buildRegTable() (t [numRegs]regEntry) {
	t[regalloc.RealRegInvalid] = regEntry{name: "invalid", class: classInvalid}
	firsts := [4]regalloc.RealReg{rax, eax, ax, al}
	classes := [4]RegClass{classI64, classI32, classI16, classI8}
	for i := 0; i < numGPRBases; i++ {
		base := rax + regalloc.RealReg(i)
		bf := gprBaseFlags[i]
		truncatable := base != rsp && base != rbp
		for w, first := range firsts {
			r := first + regalloc.RealReg(i)
			f := bf
			if truncatable {
				switch classes[w] {
				case classI64:
					f |= flagIs64To8
				case classI32:
					f |= flagIs32To8
				case classI16:
					f |= flagIs16To8
				case classI8:
					f |= flagTrunc8Rcvr
					if i < 4 {
						f |= flagAhRcvr
					}
				}
			}
			t[r] = regEntry{name: gprBaseNames[i][w], enc: byte(i), base: base, class: classes[w], flags: f}
		}
	}
	// ah shares the encoding slot of spl: without a REX prefix, 4 in a byte
	// operand means ah.
	t[ah] = regEntry{name: "ah", enc: 4, base: rax, class: classI8, flags: gprBaseFlags[0]}
	for i := 0; i < 16; i++ {
		r := xmm0 + regalloc.RealReg(i)
		t[r] = regEntry{name: fmt.Sprintf("xmm%d", i), enc: byte(i), base: r, class: classXMM, flags: flagScratch}
	}
	return
}

// validReg returns true if r names a physical register.
func validReg(r regalloc.RealReg) bool {
	return r > regalloc.RealRegInvalid && r < numRegs
}

// RegisterName returns the name of r for diagnostics.
func RegisterName(r regalloc.RealReg) string {
	if !validReg(r) {
		return fmt.Sprintf("<invalid=%d>", r)
	}
	return regTable[r].name
}

// EncodedGPR returns the 4-bit encoding of a 64-, 32- or 16-bit general
// purpose register.
func EncodedGPR(r regalloc.RealReg) (byte, error) {
	if !validReg(r) {
		return 0, fmt.Errorf("%w: %d is not a register", ErrInvalidRegisterClass, r)
	}
	switch e := &regTable[r]; e.class {
	case classI64, classI32, classI16:
		return e.enc, nil
	default:
		return 0, fmt.Errorf("%w: %s is not a general purpose register", ErrInvalidRegisterClass, e.name)
	}
}

// EncodedXMM returns the 4-bit encoding of a vector register.
func EncodedXMM(r regalloc.RealReg) (byte, error) {
	if !validReg(r) || regTable[r].class != classXMM {
		return 0, fmt.Errorf("%w: %s is not a vector register", ErrInvalidRegisterClass, RegisterName(r))
	}
	return regTable[r].enc, nil
}

// EncodedByteRegister returns the 4-bit encoding of an 8-bit register. ah is
// encoded as 4, which only means ah in an instruction without REX prefix.
func EncodedByteRegister(r regalloc.RealReg) (byte, error) {
	if !validReg(r) || regTable[r].class != classI8 {
		return 0, fmt.Errorf("%w: %s is not a byte register", ErrInvalidRegisterClass, RegisterName(r))
	}
	return regTable[r].enc, nil
}

// baseReg returns the 64-bit (or vector) register that r is a view of.
func baseReg(r regalloc.RealReg) regalloc.RealReg {
	return regTable[r].base
}

// gprView returns the view of the general purpose register r with the given
// size in bits. ah has no view other than itself.
func gprView(r regalloc.RealReg, bits byte) regalloc.RealReg {
	if r == ah {
		if bits != 8 {
			panic("BUG: ah has no wider view")
		}
		return ah
	}
	e := &regTable[r]
	if e.class == classXMM {
		return r
	}
	i := regalloc.RealReg(e.enc)
	switch bits {
	case 64:
		return rax + i
	case 32:
		return eax + i
	case 16:
		return ax + i
	case 8:
		return al + i
	default:
		panic(fmt.Sprintf("BUG: invalid register size %d", bits))
	}
}

// isGPR returns true if r is any view of a general purpose register.
func isGPR(r regalloc.RealReg) bool {
	return validReg(r) && regTable[r].class != classXMM
}

// isXMM returns true if r is a vector register.
func isXMM(r regalloc.RealReg) bool {
	return validReg(r) && regTable[r].class == classXMM
}

// needsREXForByte returns true if r as a byte operand requires a REX prefix,
// i.e. it is spl, bpl, sil or dil (encodings 4 to 7 would otherwise mean
// ah, ch, dh, bh).
func needsREXForByte(r regalloc.RealReg) bool {
	return r >= spl && r <= dil
}

var regFlagNames = [...]string{
	"scratch", "preserved", "sp", "fp", "sandbox",
	"is64to8", "is32to8", "is16to8", "trunc8", "ahrcvr",
}

// String implements fmt.Stringer.
func (f regFlags) String() string {
	var names []string
	for i, name := range regFlagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}
