package amd64

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sfilabs/x64lower/internal/asm"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/ir"
	"github.com/sfilabs/x64lower/internal/logging"
)

// newSetup returns a Machine lowering a fresh function with 32-byte bundles.
func newSetup(t *testing.T, mode backend.SandboxMode) (*backend.Function, *asm.Assembler, *Machine) {
	return newSetupWithConfig(t, Config{Sandbox: mode, InstructionSet: InstructionSetSSE41})
}

func newSetupWithConfig(t *testing.T, cfg Config) (*backend.Function, *asm.Assembler, *Machine) {
	ctx, err := StaticInit(context.Background())
	require.NoError(t, err)
	fn := backend.NewFunction("f", backend.DefaultBundleAlignLog2)
	a := asm.NewAssembler("f")
	m, err := CreateTargetLowering(ctx, fn, a, cfg)
	require.NoError(t, err)
	return fn, a, m
}

// encodeHex binds the temporaries of fn, encodes m and returns the code.
func encodeHex(t *testing.T, fn *backend.Function, a *asm.Assembler, m *Machine) string {
	require.NoError(t, BindScratchRegisters(fn))
	require.NoError(t, m.Encode())
	require.NoError(t, a.Finalize())
	return hex.EncodeToString(a.Bytes())
}

func TestCreateTargetLowering(t *testing.T) {
	initialized, err := StaticInit(context.Background())
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		ctx    context.Context
		log2   byte
		cfg    Config
		expErr error
	}{
		{
			name: "unsandboxed",
			ctx:  initialized,
			log2: backend.DefaultBundleAlignLog2,
			cfg:  Config{InstructionSet: InstructionSetSSE2},
		},
		{
			name: "sandboxed",
			ctx:  initialized,
			log2: backend.DefaultBundleAlignLog2,
			cfg:  Config{Sandbox: backend.SandboxBundledSFI, InstructionSet: InstructionSetAVX2},
		},
		{
			name: "unsandboxed ignores the bundle size",
			ctx:  initialized,
			log2: 2,
			cfg:  Config{InstructionSet: InstructionSetSSE2},
		},
		{
			name:   "no StaticInit",
			ctx:    context.Background(),
			log2:   backend.DefaultBundleAlignLog2,
			expErr: ErrConfigurationFatal,
		},
		{
			name:   "sandboxed win64",
			ctx:    initialized,
			log2:   backend.DefaultBundleAlignLog2,
			cfg:    Config{Sandbox: backend.SandboxBundledSFI, SubTarget: SubTargetWin64},
			expErr: ErrConfigurationFatal,
		},
		{
			name:   "bundle too small",
			ctx:    initialized,
			log2:   4,
			cfg:    Config{Sandbox: backend.SandboxBundledSFI},
			expErr: ErrConfigurationFatal,
		},
		{
			name:   "bundle too large",
			ctx:    initialized,
			log2:   13,
			cfg:    Config{Sandbox: backend.SandboxBundledSFI},
			expErr: ErrConfigurationFatal,
		},
		{
			name:   "pic",
			ctx:    initialized,
			log2:   backend.DefaultBundleAlignLog2,
			cfg:    Config{Sandbox: backend.SandboxPositionIndependentNoBundles},
			expErr: ErrConfigurationFatal,
		},
		{
			name:   "avx512",
			ctx:    initialized,
			log2:   backend.DefaultBundleAlignLog2,
			cfg:    Config{InstructionSet: InstructionSetAVX512},
			expErr: ErrIncompleteImplementation,
		},
		{
			name:   "unknown instruction set",
			ctx:    initialized,
			log2:   backend.DefaultBundleAlignLog2,
			cfg:    Config{InstructionSet: numInstructionSets},
			expErr: ErrConfigurationFatal,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fn := backend.NewFunction("f", tc.log2)
			m, err := CreateTargetLowering(tc.ctx, fn, asm.NewAssembler("f"), tc.cfg)
			if tc.expErr != nil {
				require.ErrorIs(t, err, tc.expErr)
				require.Nil(t, m)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.cfg.Sandbox == backend.SandboxBundledSFI, m.Sandboxed())
			require.Equal(t, tc.cfg.InstructionSet, m.InstructionSet())
			require.Equal(t, "x86-64/sysv", m.Target().Name())
		})
	}
}

func TestCreateTargetLowering_detectsInstructionSet(t *testing.T) {
	_, _, m := newSetupWithConfig(t, Config{})
	require.Equal(t, DetectInstructionSet(), m.InstructionSet())
	require.NotEqual(t, InstructionSetDefault, m.InstructionSet())
}

func TestMachine_PhysicalRegister(t *testing.T) {
	_, _, m := newSetup(t, backend.SandboxNone)
	for _, tc := range []struct {
		r   regalloc.RealReg
		typ ir.Type
	}{
		{r: rax, typ: ir.TypeI64},
		{r: esp, typ: ir.TypeI32},
		{r: r9w, typ: ir.TypeI16},
		{r: sil, typ: ir.TypeI8},
		{r: ah, typ: ir.TypeI8},
		{r: xmm3, typ: ir.TypeV4F32},
	} {
		v := m.PhysicalRegister(tc.r)
		require.Equal(t, tc.typ, v.Type(), RegisterName(tc.r))
		require.Equal(t, tc.r, v.Reg())
		require.Same(t, v, m.PhysicalRegister(tc.r))
	}
	require.Panics(t, func() { m.PhysicalRegister(numRegs) })
}

func TestMachine_NewMemoryOperand(t *testing.T) {
	_, _, m := newSetup(t, backend.SandboxNone)
	base, index := m.PhysicalRegister(rax), m.PhysicalRegister(rcx)
	o := m.NewMemoryOperand(base, index, 3, -8, nil)
	require.Same(t, base, o.Base())
	require.Same(t, index, o.Index())
	require.Equal(t, byte(3), o.Shift())
	require.Equal(t, int32(-8), o.Disp())
	require.Nil(t, o.Fixup())
	require.False(t, o.Rebased())
	require.Equal(t, "-8(%rax,%rcx,8)", o.String())
	require.Panics(t, func() { m.NewMemoryOperand(base, index, 4, 0, nil) })
}

func TestMachine_Reset(t *testing.T) {
	fn, _, m := newSetup(t, backend.SandboxNone)
	m.IncrementStackPointer(16)
	require.Equal(t, "\n\tadd $16, %rsp\n", m.Format())

	fn.Reset("g", backend.DefaultBundleAlignLog2)
	m.Reset(fn)
	require.Equal(t, "\n\n", m.Format())
	m.InsertUD2()
	require.Equal(t, "\n\tud2\n", m.Format())
}

func TestMachine_Encode_unboundVariable(t *testing.T) {
	fn, _, m := newSetup(t, backend.SandboxNone)
	v := fn.AllocateVariable(ir.TypeI64)
	require.NoError(t, m.LowerIndirectJump(v))
	require.Equal(t, "\n\tjmp *%v128?\n", m.Format())
	err := m.Encode()
	require.ErrorIs(t, err, ErrInvalidRegisterClass)
	require.Contains(t, err.Error(), "jmp *%v128?")
}

func TestMachine_Logging(t *testing.T) {
	var buf bytes.Buffer
	ctx, err := StaticInit(context.Background())
	require.NoError(t, err)
	ctx = logging.WithLogger(ctx, logging.NewLogger(&buf, logging.LogScopeFrame|logging.LogScopeEncode))

	fn := backend.NewFunction("f", backend.DefaultBundleAlignLog2)
	a := asm.NewAssembler("f")
	m, err := CreateTargetLowering(ctx, fn, a, Config{InstructionSet: InstructionSetSSE2})
	require.NoError(t, err)
	m.DecrementStackPointer(8)
	require.NoError(t, m.Encode())
	require.Equal(t, "[frame] decrement sp by 8\n[encode] f: 4 bytes, 0 fixups\n", buf.String())
}

func TestMachine_LowerJump(t *testing.T) {
	// Direct branches are emitted as is when sandboxing.
	fn, a, m := newSetup(t, backend.SandboxBundledSFI)
	l := m.NewLabel()
	m.InsertLabel(l)
	m.LowerJump(l)
	require.Equal(t, "\nL1:\n\tjmp L1\n", m.Format())
	require.Equal(t, "e9fbffffff", encodeHex(t, fn, a, m))
}
