package backend

import (
	"fmt"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
)

// FunctionABIRegInfo is implemented by targets to provide the registers of
// their calling convention.
type FunctionABIRegInfo interface {
	// ArgsResultsRegs returns the registers used for passing parameters and
	// returning results.
	ArgsResultsRegs() (argInts, argFloats []regalloc.RealReg, resultInt, resultFloat regalloc.RealReg)
}

type (
	// Signature is the type of a function: its parameters and optional result.
	Signature struct {
		Params []ir.Type
		// Result is ir.TypeInvalid for functions returning nothing.
		Result ir.Type
	}

	// FunctionABI is the location of each argument and of the result of a
	// call for a Signature.
	FunctionABI[R FunctionABIRegInfo] struct {
		r R

		Args []ABIArg
		Ret  ABIArg
		// ArgStackSize is the size of the outgoing argument area, not aligned.
		ArgStackSize int64
	}

	// ABIArg represents either argument or return value's location.
	ABIArg struct {
		// Index is the index of the argument.
		Index int
		// Kind is the kind of the argument.
		Kind ABIArgKind
		// Reg is valid if Kind == ABIArgKindReg.
		// This is the 64-bit or vector base register, regardless of Type.
		Reg regalloc.RealReg
		// Offset is valid if Kind == ABIArgKindStack.
		// This is the offset from the stack pointer at the call.
		Offset int64
		// Type is the type of the argument.
		Type ir.Type
	}

	// ABIArgKind is the kind of ABI argument.
	ABIArgKind byte
)

const (
	// ABIArgKindNone is the Kind of the result of functions without result.
	ABIArgKindNone ABIArgKind = iota
	// ABIArgKindReg represents an argument passed in a register.
	ABIArgKindReg
	// ABIArgKindStack represents an argument passed in the stack.
	ABIArgKindStack
)

// String implements fmt.Stringer.
func (a *ABIArg) String() string {
	return fmt.Sprintf("args[%d]: %s", a.Index, a.Kind)
}

// String implements fmt.Stringer.
func (a ABIArgKind) String() string {
	switch a {
	case ABIArgKindNone:
		return "none"
	case ABIArgKindReg:
		return "reg"
	case ABIArgKindStack:
		return "stack"
	default:
		panic("BUG")
	}
}

// NewFunctionABI returns a FunctionABI using the registers of r.
func NewFunctionABI[R FunctionABIRegInfo](r R) *FunctionABI[R] {
	return &FunctionABI[R]{r: r}
}

// Init initializes the locations for the given signature.
func (a *FunctionABI[R]) Init(sig *Signature) {
	argInts, argFloats, resultInt, resultFloat := a.r.ArgsResultsRegs()

	if argsNum := len(sig.Params); cap(a.Args) < argsNum {
		a.Args = make([]ABIArg, argsNum)
	}
	a.Args = a.Args[:len(sig.Params)]
	a.ArgStackSize = a.setABIArgs(a.Args, sig.Params, argInts, argFloats)

	a.Ret = ABIArg{Type: sig.Result}
	switch {
	case sig.Result == ir.TypeInvalid:
	case sig.Result.IsInt():
		a.Ret.Kind, a.Ret.Reg = ABIArgKindReg, resultInt
	default:
		a.Ret.Kind, a.Ret.Reg = ABIArgKindReg, resultFloat
	}
}

// setABIArgs sets the ABI arguments in the given slice. This assumes that len(s) >= len(types).
func (a *FunctionABI[R]) setABIArgs(s []ABIArg, types []ir.Type, ints, floats []regalloc.RealReg) (stackSize int64) {
	il, fl := len(ints), len(floats)

	var stackOffset int64
	intParamIndex, floatParamIndex := 0, 0
	for i, typ := range types {
		arg := &s[i]
		arg.Index = i
		arg.Type = typ
		arg.Reg = regalloc.RealRegInvalid
		if typ.IsInt() {
			if intParamIndex >= il {
				arg.Kind = ABIArgKindStack
				const slotSize = 8 // Align 8 bytes.
				arg.Offset = stackOffset
				stackOffset += slotSize
			} else {
				arg.Kind = ABIArgKindReg
				arg.Reg = ints[intParamIndex]
				intParamIndex++
			}
		} else {
			if floatParamIndex >= fl {
				arg.Kind = ABIArgKindStack
				slotSize := int64(8) // Align at least 8 bytes.
				if typ.Bits() == 128 {
					slotSize = 16
					stackOffset = (stackOffset + 15) &^ 15
				}
				arg.Offset = stackOffset
				stackOffset += slotSize
			} else {
				arg.Kind = ABIArgKindReg
				arg.Reg = floats[floatParamIndex]
				floatParamIndex++
			}
		}
	}
	return stackOffset
}

// AlignedArgStackSize returns ArgStackSize rounded up to 16 bytes.
func (a *FunctionABI[R]) AlignedArgStackSize() int64 {
	return (a.ArgStackSize + 15) &^ 15
}
