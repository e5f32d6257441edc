package amd64

import (
	"context"
	"fmt"
	"strings"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
	"github.com/sfilabs/x64lower/internal/logging"
)

// Config selects the variant of the lowering.
type Config struct {
	Sandbox   backend.SandboxMode
	SubTarget SubTarget
	// InstructionSet is detected from the host when InstructionSetDefault.
	InstructionSet InstructionSet
}

const (
	// minSandboxBundleAlignLog2 is the smallest bundle holding the longest
	// sandboxed sequence.
	minSandboxBundleAlignLog2 = 5
	maxBundleAlignLog2        = 12
)

// Machine lowers the primitives of one function into x86-64 instructions.
// It is created by CreateTargetLowering, owned by a single function
// compilation and reusable after Reset.
type Machine struct {
	target *TargetDescriptor
	fn     backend.FunctionContext
	asm    *asm.Assembler
	cfg    Config
	logger *logging.Logger

	instrPool backend.Pool[instruction]
	amodePool backend.Pool[MemoryOperand]

	rootInstr, tail *instruction
	inBundle        bool

	// abi and sig are reused by LowerArguments.
	abi *backend.FunctionABI[*TargetDescriptor]
	sig backend.Signature

	// physRegs caches a bound Variable per physical register.
	physRegs [numRegs]*backend.Variable
}

// CreateTargetLowering returns a Machine lowering into fn. Labels and
// fixups are created by a, which also receives the encoded function. ctx
// must be derived from StaticInit and may carry a logging.Logger.
func CreateTargetLowering(ctx context.Context, fn backend.FunctionContext, a *asm.Assembler, cfg Config) (*Machine, error) {
	target, err := TargetDescriptorFromContext(ctx, cfg.SubTarget)
	if err != nil {
		return nil, err
	}

	switch cfg.Sandbox {
	case backend.SandboxNone:
	case backend.SandboxBundledSFI:
		if cfg.SubTarget == SubTargetWin64 {
			return nil, fmt.Errorf("%w: sandboxing is not supported on %s", ErrConfigurationFatal, target.Name())
		}
		if l := fn.BundleAlignLog2(); l < minSandboxBundleAlignLog2 || l > maxBundleAlignLog2 {
			return nil, fmt.Errorf("%w: bundle size 1<<%d out of range [1<<%d, 1<<%d]",
				ErrConfigurationFatal, l, minSandboxBundleAlignLog2, maxBundleAlignLog2)
		}
	default:
		return nil, fmt.Errorf("%w: sandbox mode %s is not implemented", ErrConfigurationFatal, cfg.Sandbox)
	}

	switch cfg.InstructionSet {
	case InstructionSetDefault:
		cfg.InstructionSet = DetectInstructionSet()
	case InstructionSetAVX512:
		return nil, fmt.Errorf("%w: instruction set %s", ErrIncompleteImplementation, cfg.InstructionSet)
	default:
		if cfg.InstructionSet >= numInstructionSets {
			return nil, fmt.Errorf("%w: unknown instruction set %s", ErrConfigurationFatal, cfg.InstructionSet)
		}
	}

	return &Machine{
		target:    target,
		fn:        fn,
		asm:       a,
		cfg:       cfg,
		logger:    logging.LoggerFromContext(ctx),
		instrPool: backend.NewPool[instruction](),
		amodePool: backend.NewPool[MemoryOperand](),
		abi:       backend.NewFunctionABI(target),
	}, nil
}

// Reset clears the lowered instructions so that the Machine can lower
// another function into fn.
func (m *Machine) Reset(fn backend.FunctionContext) {
	m.fn = fn
	m.instrPool.Reset()
	m.amodePool.Reset()
	m.rootInstr, m.tail = nil, nil
	m.inBundle = false
	m.physRegs = [numRegs]*backend.Variable{}
}

// Target returns the descriptor of the target.
func (m *Machine) Target() *TargetDescriptor { return m.target }

// InstructionSet returns the instruction set the Machine lowers for.
func (m *Machine) InstructionSet() InstructionSet { return m.cfg.InstructionSet }

// Sandboxed returns true if the Machine emits sandboxed code.
func (m *Machine) Sandboxed() bool { return m.cfg.Sandbox == backend.SandboxBundledSFI }

// PhysicalRegister returns a Variable bound to r. The same Variable is
// returned for r until Reset.
func (m *Machine) PhysicalRegister(r regalloc.RealReg) *backend.Variable {
	if !validReg(r) {
		panic(fmt.Sprintf("BUG: invalid register %d", r))
	}
	if v := m.physRegs[r]; v != nil {
		return v
	}
	var typ ir.Type
	switch regTable[r].class {
	case classI64:
		typ = ir.TypeI64
	case classI32:
		typ = ir.TypeI32
	case classI16:
		typ = ir.TypeI16
	case classI8:
		typ = ir.TypeI8
	default:
		typ = ir.TypeV4F32
	}
	v := m.fn.AllocateVariable(typ)
	v.SetReg(r)
	m.physRegs[r] = v
	return v
}

// NewMemoryOperand returns the operand disp(base, index, 1<<shift). base,
// index and fixup may be nil.
func (m *Machine) NewMemoryOperand(base, index *backend.Variable, shift byte, disp int32, fixup *asm.Fixup) *MemoryOperand {
	if shift > 3 {
		panic(fmt.Sprintf("BUG: invalid shift %d", shift))
	}
	o := m.amodePool.Allocate()
	*o = MemoryOperand{base: base, index: index, shift: shift, disp: disp, fixup: fixup}
	return o
}

// NewLabel returns a new label to be bound by InsertLabel.
func (m *Machine) NewLabel() asm.Label {
	return m.asm.NewLabel()
}

// InsertLabel binds l to the next instruction.
func (m *Machine) InsertLabel(l asm.Label) {
	m.insert(m.allocateInstr().asLabel(l))
}

// LowerJump branches unconditionally to l, which is bound in the same
// function. Direct branches stay inside the validated code and need no
// sandboxing.
func (m *Machine) LowerJump(l asm.Label) {
	m.insert(m.allocateInstr().asJmp(l))
}

// InsertUD2 inserts a trapping instruction.
func (m *Machine) InsertUD2() {
	m.insert(m.allocateInstr().asUD2())
}

func (m *Machine) allocateInstr() *instruction {
	return m.instrPool.Allocate()
}

func (m *Machine) insert(i *instruction) {
	if m.tail == nil {
		m.rootInstr = i
	} else {
		m.tail.next = i
		i.prev = m.tail
	}
	m.tail = i
}

// Format returns the lowered function in AT&T syntax, one instruction per
// line.
func (m *Machine) Format() string {
	var lines []string
	for cur := m.rootInstr; cur != nil; cur = cur.next {
		switch cur.kind {
		case labelDef:
			lines = append(lines, cur.String())
		default:
			lines = append(lines, "\t"+cur.String())
		}
	}
	return "\n" + strings.Join(lines, "\n") + "\n"
}

// Encode emits the lowered function into the Assembler given to
// CreateTargetLowering. Every Variable must be bound to a register.
func (m *Machine) Encode() error {
	c := m.asm
	var b bundleState
	for cur := m.rootInstr; cur != nil; cur = cur.next {
		switch cur.kind {
		case bundleLock:
			if b.lock != nil {
				panic("BUG: nested bundle")
			}
			b = bundleState{lock: cur, mark: c.Mark(), start: c.CurrentOffset()}
		case bundleUnlock:
			if b.lock == nil {
				panic("BUG: bundle_unlock without bundle_lock")
			}
			if err := m.closeBundle(&b, cur); err != nil {
				return err
			}
			b.lock = nil
		default:
			if err := cur.encode(c); err != nil {
				return fmt.Errorf("%s: %w", cur, err)
			}
		}
	}
	if b.lock != nil {
		panic("BUG: unterminated bundle")
	}
	if m.logger.IsEnabled(logging.LogScopeEncode) {
		m.logger.Logf(logging.LogScopeEncode, "%s: %d bytes, %d fixups", c.Symbol(), c.Len(), len(c.Fixups()))
	}
	return nil
}
