package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
)

const (
	x0 = regalloc.RealRegInvalid + 1 + iota
	x1
	x2
	v0
	v1
	rx
	rv
)

type mockRegInfo struct{}

func (mockRegInfo) ArgsResultsRegs() (argInts, argFloats []regalloc.RealReg, resultInt, resultFloat regalloc.RealReg) {
	return []regalloc.RealReg{x0, x1, x2}, []regalloc.RealReg{v0, v1}, rx, rv
}

func TestFunctionABI_Init(t *testing.T) {
	for _, tc := range []struct {
		name          string
		sig           *Signature
		expArgs       []ABIArg
		expRet        ABIArg
		expStackSize  int64
		expAlignedArg int64
	}{
		{
			name:   "empty",
			sig:    &Signature{},
			expRet: ABIArg{Kind: ABIArgKindNone},
		},
		{
			name: "regs",
			sig:  &Signature{Params: []ir.Type{ir.TypeI32, ir.TypeF64, ir.TypeI64}, Result: ir.TypeI32},
			expArgs: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: x0, Type: ir.TypeI32},
				{Index: 1, Kind: ABIArgKindReg, Reg: v0, Type: ir.TypeF64},
				{Index: 2, Kind: ABIArgKindReg, Reg: x1, Type: ir.TypeI64},
			},
			expRet: ABIArg{Kind: ABIArgKindReg, Reg: rx, Type: ir.TypeI32},
		},
		{
			name: "stack",
			sig: &Signature{
				Params: []ir.Type{ir.TypeI32, ir.TypeI32, ir.TypeI32, ir.TypeI64, ir.TypeF32, ir.TypeF32, ir.TypeV4F32},
				Result: ir.TypeF32,
			},
			expArgs: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: x0, Type: ir.TypeI32},
				{Index: 1, Kind: ABIArgKindReg, Reg: x1, Type: ir.TypeI32},
				{Index: 2, Kind: ABIArgKindReg, Reg: x2, Type: ir.TypeI32},
				{Index: 3, Kind: ABIArgKindStack, Offset: 0, Type: ir.TypeI64},
				{Index: 4, Kind: ABIArgKindReg, Reg: v0, Type: ir.TypeF32},
				{Index: 5, Kind: ABIArgKindReg, Reg: v1, Type: ir.TypeF32},
				{Index: 6, Kind: ABIArgKindStack, Offset: 16, Type: ir.TypeV4F32},
			},
			expRet:        ABIArg{Kind: ABIArgKindReg, Reg: rv, Type: ir.TypeF32},
			expStackSize:  32,
			expAlignedArg: 32,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			abi := NewFunctionABI(mockRegInfo{})
			abi.Init(tc.sig)
			if len(tc.expArgs) == 0 {
				require.Equal(t, 0, len(abi.Args))
			} else {
				require.Equal(t, tc.expArgs, abi.Args)
			}
			require.Equal(t, tc.expRet, abi.Ret)
			require.Equal(t, tc.expStackSize, abi.ArgStackSize)
			require.Equal(t, tc.expAlignedArg, abi.AlignedArgStackSize())
		})
	}
}

func TestFunction_AllocateVariable(t *testing.T) {
	f := NewFunction("f", DefaultBundleAlignLog2)
	require.Equal(t, "f", f.Name())
	require.Equal(t, byte(5), f.BundleAlignLog2())

	a := f.AllocateVariable(ir.TypeI32)
	b := f.AllocateVariable(ir.TypeF64)
	require.NotEqual(t, a.ID(), b.ID())
	require.Equal(t, regalloc.VRegIDNonReservedBegin, a.ID())
	require.Equal(t, b, f.Variable(b.ID()))
	require.Equal(t, 2, f.NumVariables())
	require.Panics(t, func() { f.AllocateVariable(ir.TypeInvalid) })

	require.False(t, a.HasReg())
	a.SetReg(3)
	require.True(t, a.HasReg())
	require.Equal(t, regalloc.RealReg(3), a.VReg().RealReg())
	require.Equal(t, regalloc.RegTypeFloat, b.VReg().RegType())

	f.AddStackAdjustment(16)
	f.SetUsesFramePointer(true)
	f.Reset("g", 4)
	require.Equal(t, 0, f.NumVariables())
	require.Equal(t, int32(0), f.StackAdjustment())
	require.False(t, f.UsesFramePointer())
	require.Equal(t, byte(4), f.BundleAlignLog2())
}

func TestVariable_Remat(t *testing.T) {
	f := NewFunction("f", DefaultBundleAlignLog2)
	v := f.AllocateVariable(ir.TypeI32)
	require.False(t, v.IsRematerializable())
	v.SetRematerializable(5, 24)
	require.True(t, v.IsRematerializable())
	base, off := v.Remat()
	require.Equal(t, regalloc.RealReg(5), base)
	require.Equal(t, int32(24), off)
}

func TestVariableSplit(t *testing.T) {
	f := NewFunction("f", DefaultBundleAlignLog2)
	d := f.AllocateVariable(ir.TypeF64)

	_, err := NewVariableSplit(d, SplitLo)
	require.Error(t, err)

	d.SetStackOffset(-16)
	lo, err := NewVariableSplit(d, SplitLo)
	require.NoError(t, err)
	hi, err := NewVariableSplit(d, SplitHi)
	require.NoError(t, err)
	require.Equal(t, int32(-16), lo.Offset())
	require.Equal(t, int32(-12), hi.Offset())

	s := f.AllocateVariable(ir.TypeF32)
	s.SetStackOffset(8)
	_, err = NewVariableSplit(s, SplitHi)
	require.Error(t, err)
}

func TestSandboxMode(t *testing.T) {
	for _, m := range []SandboxMode{SandboxNone, SandboxBundledSFI, SandboxPositionIndependentNoBundles} {
		parsed, err := ParseSandboxMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, parsed)
	}
	_, err := ParseSandboxMode("nacl")
	require.EqualError(t, err, `unknown sandbox mode "nacl"`)
}

func TestPool(t *testing.T) {
	p := NewPool[int]()
	for i := 0; i < 3*poolPageSize; i++ {
		*p.Allocate() = i
	}
	require.Equal(t, 3*poolPageSize, p.Allocated())
	require.Equal(t, poolPageSize+1, *p.View(poolPageSize + 1))
	p.Reset()
	require.Equal(t, 0, p.Allocated())
	require.Equal(t, 0, *p.Allocate())
}
