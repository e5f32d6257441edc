// Package backend contains the target-independent pieces of the lowering:
// the per-function arena of variables, the function context consumed by the
// target lowerings and the calling convention helpers.
package backend

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
)

// SandboxMode selects the software fault isolation discipline applied by the
// target lowering.
type SandboxMode byte

const (
	// SandboxNone emits unconstrained code.
	SandboxNone SandboxMode = iota
	// SandboxBundledSFI confines memory accesses and indirect control transfers
	// to a 4GiB window based at a reserved register, with bundle-aligned
	// indirect branch targets.
	SandboxBundledSFI
	// SandboxPositionIndependentNoBundles is reserved and not implemented.
	SandboxPositionIndependentNoBundles
)

// String implements fmt.Stringer.
func (m SandboxMode) String() string {
	switch m {
	case SandboxNone:
		return "none"
	case SandboxBundledSFI:
		return "bundled-sfi"
	case SandboxPositionIndependentNoBundles:
		return "pic-no-bundles"
	default:
		return fmt.Sprintf("<unknown=%d>", m)
	}
}

// ParseSandboxMode parses the result of SandboxMode.String.
func ParseSandboxMode(s string) (SandboxMode, error) {
	for _, m := range []SandboxMode{SandboxNone, SandboxBundledSFI, SandboxPositionIndependentNoBundles} {
		if m.String() == s {
			return m, nil
		}
	}
	return SandboxNone, fmt.Errorf("unknown sandbox mode %q", s)
}

// DefaultBundleAlignLog2 is the log2 of the default bundle size, 32 bytes.
const DefaultBundleAlignLog2 = 5

// FunctionContext gives the target lowering access to the function being
// compiled. It is implemented by *Function.
type FunctionContext interface {
	// Name returns the symbol of the function.
	Name() string
	// AllocateVariable returns a new variable of type typ without register
	// or stack slot. It is bound by register allocation.
	AllocateVariable(typ ir.Type) *Variable
	// BundleAlignLog2 returns log2 of the bundle size in bytes.
	BundleAlignLog2() byte
	// StackAdjustment returns the number of bytes pushed onto the stack
	// since the frame was set up.
	StackAdjustment() int32
	// AddStackAdjustment records that the stack pointer moved down by delta.
	AddStackAdjustment(delta int32)
	// UsesFramePointer returns true if the frame pointer is set up.
	UsesFramePointer() bool
	// SetUsesFramePointer records whether the frame pointer is set up.
	SetUsesFramePointer(bool)
}

// Function is the arena of one function compilation. Variables allocated from
// it die with it.
type Function struct {
	name             string
	bundleAlignLog2  byte
	variables        Pool[Variable]
	stackAdjustment  int32
	usesFramePointer bool
}

var _ FunctionContext = (*Function)(nil)

// NewFunction returns a new Function.
func NewFunction(name string, bundleAlignLog2 byte) *Function {
	f := &Function{variables: NewPool[Variable]()}
	f.Reset(name, bundleAlignLog2)
	return f
}

// Reset recycles the arena for another function.
func (f *Function) Reset(name string, bundleAlignLog2 byte) {
	f.name = name
	f.bundleAlignLog2 = bundleAlignLog2
	f.variables.Reset()
	f.stackAdjustment = 0
	f.usesFramePointer = false
}

// Name implements FunctionContext.Name.
func (f *Function) Name() string { return f.name }

// AllocateVariable implements FunctionContext.AllocateVariable.
func (f *Function) AllocateVariable(typ ir.Type) *Variable {
	if !typ.Valid() {
		panic(fmt.Sprintf("BUG: variable of invalid type %d", typ))
	}
	v := f.variables.Allocate()
	v.id = regalloc.VRegIDNonReservedBegin + regalloc.VRegID(f.variables.Allocated()-1)
	v.typ = typ
	return v
}

// Variable returns the variable with the given id.
func (f *Function) Variable(id regalloc.VRegID) *Variable {
	return f.variables.View(int(id - regalloc.VRegIDNonReservedBegin))
}

// NumVariables returns the number of allocated variables.
func (f *Function) NumVariables() int {
	return f.variables.Allocated()
}

// BundleAlignLog2 implements FunctionContext.BundleAlignLog2.
func (f *Function) BundleAlignLog2() byte { return f.bundleAlignLog2 }

// StackAdjustment implements FunctionContext.StackAdjustment.
func (f *Function) StackAdjustment() int32 { return f.stackAdjustment }

// AddStackAdjustment implements FunctionContext.AddStackAdjustment.
func (f *Function) AddStackAdjustment(delta int32) { f.stackAdjustment += delta }

// UsesFramePointer implements FunctionContext.UsesFramePointer.
func (f *Function) UsesFramePointer() bool { return f.usesFramePointer }

// SetUsesFramePointer implements FunctionContext.SetUsesFramePointer.
func (f *Function) SetUsesFramePointer(b bool) { f.usesFramePointer = b }
