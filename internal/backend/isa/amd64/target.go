package amd64

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
)

// SubTarget selects the calling convention of the target.
type SubTarget byte

const (
	// SubTargetSysV is the System V AMD64 ABI.
	SubTargetSysV SubTarget = iota
	// SubTargetWin64 is the Microsoft x64 calling convention.
	SubTargetWin64
	numSubTargets
)

// String implements fmt.Stringer.
func (s SubTarget) String() string {
	switch s {
	case SubTargetSysV:
		return "sysv"
	case SubTargetWin64:
		return "win64"
	default:
		return fmt.Sprintf("<unknown=%d>", s)
	}
}

// ParseSubTarget parses the result of SubTarget.String.
func ParseSubTarget(s string) (SubTarget, error) {
	for st := SubTarget(0); st < numSubTargets; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown sub-target %q", ErrConfigurationFatal, s)
}

// InstructionSet is the set of vector extensions the generated code may use.
type InstructionSet byte

const (
	// InstructionSetDefault selects the best set supported by the host.
	InstructionSetDefault InstructionSet = iota
	InstructionSetSSE2
	InstructionSetSSE41
	InstructionSetAVX
	InstructionSetAVX2
	// InstructionSetAVX512 is recognized but not implemented.
	InstructionSetAVX512
	numInstructionSets
)

// String implements fmt.Stringer.
func (i InstructionSet) String() string {
	switch i {
	case InstructionSetDefault:
		return "default"
	case InstructionSetSSE2:
		return "sse2"
	case InstructionSetSSE41:
		return "sse4.1"
	case InstructionSetAVX:
		return "avx"
	case InstructionSetAVX2:
		return "avx2"
	case InstructionSetAVX512:
		return "avx512"
	default:
		return fmt.Sprintf("<unknown=%d>", i)
	}
}

// ParseInstructionSet parses the result of InstructionSet.String.
func ParseInstructionSet(s string) (InstructionSet, error) {
	s = strings.ToLower(s)
	for i := InstructionSet(0); i < numInstructionSets; i++ {
		if i.String() == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown instruction set %q", ErrConfigurationFatal, s)
}

// DetectInstructionSet returns the best implemented instruction set of the host.
func DetectInstructionSet() InstructionSet {
	switch {
	case cpu.X86.HasAVX2:
		return InstructionSetAVX2
	case cpu.X86.HasAVX:
		return InstructionSetAVX
	case cpu.X86.HasSSE41:
		return InstructionSetSSE41
	default:
		return InstructionSetSSE2
	}
}

// hasSSE41 returns true if the instructions of SSE4.1 may be used.
func (i InstructionSet) hasSSE41() bool {
	return i >= InstructionSetSSE41
}

const (
	// StackAlignment is the alignment of the stack pointer at call sites.
	StackAlignment = 16
	// sandboxBase holds the base address of the sandbox window.
	sandboxBase = r15
)

// TargetDescriptor is the immutable description of one sub-target: its
// register catalog with roles, the derived register classes and the
// condition tables. Descriptors are built by StaticInit and shared by all
// function compilations.
type TargetDescriptor struct {
	SubTarget SubTarget

	regs    [numRegs]regEntry
	classes classPartition

	argInts, argFloats []regalloc.RealReg
}

// Name returns the name of the target.
func (d *TargetDescriptor) Name() string {
	return "x86-64/" + d.SubTarget.String()
}

// SandboxBase returns the register holding the base of the sandbox window.
func (d *TargetDescriptor) SandboxBase() regalloc.RealReg {
	return sandboxBase
}

// ArgsResultsRegs implements backend.FunctionABIRegInfo.
func (d *TargetDescriptor) ArgsResultsRegs() (argInts, argFloats []regalloc.RealReg, resultInt, resultFloat regalloc.RealReg) {
	return d.argInts, d.argFloats, rax, xmm0
}

func newTargetDescriptor(st SubTarget) *TargetDescriptor {
	d := &TargetDescriptor{SubTarget: st, regs: regTable}
	switch st {
	case SubTargetSysV:
		d.argInts = []regalloc.RealReg{rdi, rsi, rdx, rcx, r8, r9}
		d.argFloats = []regalloc.RealReg{xmm0, xmm1, xmm2, xmm3, xmm4, xmm5, xmm6, xmm7}
	case SubTargetWin64:
		d.argInts = []regalloc.RealReg{rcx, rdx, r8, r9}
		d.argFloats = []regalloc.RealReg{xmm0, xmm1, xmm2, xmm3}
		// rsi, rdi and xmm6-xmm15 are callee-saved.
		for _, b := range []regalloc.RealReg{rsi, rdi} {
			for _, bits := range [4]byte{64, 32, 16, 8} {
				e := &d.regs[gprView(b, bits)]
				e.flags = e.flags&^flagScratch | flagPreserved
			}
		}
		for r := xmm6; r <= xmm15; r++ {
			d.regs[r].flags = flagPreserved
		}
	}
	d.classes = buildClassPartition(&d.regs)
	return d
}

var (
	staticInitOnce sync.Once
	staticTargets  *targets
	staticInitErr  error
)

// targets is the process-wide state built by StaticInit.
type targets struct {
	descriptors [numSubTargets]*TargetDescriptor
}

type targetsKey struct{}

// StaticInit builds the target descriptors and validates the condition
// tables. The work happens once per process; later calls return the same
// result. The returned context carries the descriptors and must be passed to
// CreateTargetLowering.
func StaticInit(ctx context.Context) (context.Context, error) {
	staticInitOnce.Do(func() {
		if err := checkConditionTables(&fcmpTable, &icmp32Table, &icmp64Table); err != nil {
			staticInitErr = err
			return
		}
		t := &targets{}
		for st := SubTarget(0); st < numSubTargets; st++ {
			t.descriptors[st] = newTargetDescriptor(st)
		}
		staticTargets = t
	})
	if staticInitErr != nil {
		return ctx, staticInitErr
	}
	return context.WithValue(ctx, targetsKey{}, staticTargets), nil
}

// TargetDescriptorFromContext returns the descriptor of the sub-target from a
// context returned by StaticInit.
func TargetDescriptorFromContext(ctx context.Context, st SubTarget) (*TargetDescriptor, error) {
	t, _ := ctx.Value(targetsKey{}).(*targets)
	if t == nil {
		return nil, fmt.Errorf("%w: StaticInit has not been called", ErrConfigurationFatal)
	}
	if st >= numSubTargets {
		return nil, fmt.Errorf("%w: unknown sub-target %s", ErrConfigurationFatal, st)
	}
	return t.descriptors[st], nil
}
