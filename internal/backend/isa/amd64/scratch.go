package amd64

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
)

// scratchGPRs and scratchXMMs are handed out by BindScratchRegisters. rax and
// rcx are left out since the return sequences use them.
var (
	scratchGPRs = [...]regalloc.RealReg{r11, r10, r9, r8, rdi, rsi, rdx}
	scratchXMMs = [...]regalloc.RealReg{xmm8, xmm9, xmm10, xmm11, xmm12, xmm13, xmm14, xmm15}
)

// BindScratchRegisters binds every variable of fn which has no register to a
// distinct scratch register. It stands in for register allocation in tools
// and tests lowering short sequences, whose temporaries all fit.
func BindScratchRegisters(fn *backend.Function) error {
	var gpr, xmm int
	for i := 0; i < fn.NumVariables(); i++ {
		v := fn.Variable(regalloc.VRegIDNonReservedBegin + regalloc.VRegID(i))
		if v.HasReg() {
			continue
		}
		t := v.Type()
		switch {
		case t.IsFloat() || t.IsVector():
			if xmm == len(scratchXMMs) {
				return fmt.Errorf("%w: out of scratch vector registers for %s", ErrInvalidRegisterClass, v)
			}
			v.SetReg(scratchXMMs[xmm])
			xmm++
		default:
			if gpr == len(scratchGPRs) {
				return fmt.Errorf("%w: out of scratch registers for %s", ErrInvalidRegisterClass, v)
			}
			v.SetReg(gprView(scratchGPRs[gpr], bitsOf(v)))
			gpr++
		}
	}
	return nil
}
