package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
)

func TestMachine_adjustStackPointer(t *testing.T) {
	for _, tc := range []struct {
		name          string
		mode          backend.SandboxMode
		setup         func(m *Machine)
		exp           string
		expHex        string
		expAdjustment int32
	}{
		{
			name:  "increment",
			setup: func(m *Machine) { m.IncrementStackPointer(32) },
			exp: `
	add $32, %rsp
`,
			expHex:        "4883c420",
			expAdjustment: -32,
		},
		{
			name:  "decrement",
			setup: func(m *Machine) { m.DecrementStackPointer(16) },
			exp: `
	sub $16, %rsp
`,
			expHex:        "4883ec10",
			expAdjustment: 16,
		},
		{
			name:  "increment sandboxed",
			mode:  backend.SandboxBundledSFI,
			setup: func(m *Machine) { m.IncrementStackPointer(32) },
			exp: `
	.bundle_lock
	.shadowdef %rsp, %esp
	add $32, %esp
	.shadowdef %esp, %rsp
	add %r15, %rsp
	.bundle_unlock
`,
			expHex:        "83c420" + "4c01fc",
			expAdjustment: -32,
		},
		{
			name:  "decrement sandboxed",
			mode:  backend.SandboxBundledSFI,
			setup: func(m *Machine) { m.DecrementStackPointer(4096) },
			exp: `
	.bundle_lock
	.shadowdef %rsp, %esp
	sub $4096, %esp
	.shadowdef %esp, %rsp
	add %r15, %rsp
	.bundle_unlock
`,
			expHex:        "81ec00100000" + "4c01fc",
			expAdjustment: 4096,
		},
		{
			name: "balanced",
			setup: func(m *Machine) {
				m.DecrementStackPointer(24)
				m.IncrementStackPointer(24)
			},
			exp: `
	sub $24, %rsp
	add $24, %rsp
`,
			expHex: "4883ec18" + "4883c418",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fn, a, m := newSetup(t, tc.mode)
			tc.setup(m)
			require.Equal(t, tc.exp, m.Format())
			require.Equal(t, tc.expHex, encodeHex(t, fn, a, m))
			require.Equal(t, tc.expAdjustment, fn.StackAdjustment())
		})
	}
}

func TestMachine_EstablishFrame(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mode   backend.SandboxMode
		exp    string
		expHex string
	}{
		{
			name: "plain",
			exp: `
	pushq %rbp
	movq %rsp, %rbp
	.keepalive %rbp
`,
			expHex: "55" + "4889e5",
		},
		{
			name: "sandboxed",
			mode: backend.SandboxBundledSFI,
			exp: `
	.bundle_lock
	pushq $0
	movl %ebp, (%rsp)
	.bundle_unlock
	.bundle_lock
	.shadowdef %rsp, %esp
	movl %esp, %ebp
	.shadowdef %ebp, %rbp
	add %r15, %rbp
	.bundle_unlock
	.keepalive %rbp
`,
			expHex: "6800000000" + "892c24" + "89e5" + "4c01fd",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fn, a, m := newSetup(t, tc.mode)
			require.False(t, fn.UsesFramePointer())
			m.EstablishFrame()
			require.True(t, fn.UsesFramePointer())
			require.Equal(t, tc.exp, m.Format())
			require.Equal(t, tc.expHex, encodeHex(t, fn, a, m))
		})
	}
}

func TestMachine_TearDownFrame(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mode   backend.SandboxMode
		exp    string
		expHex string
	}{
		{
			name: "plain",
			exp: `
	.keepalive %rsp
	movq %rbp, %rsp
	popq %rbp
`,
			expHex: "4889ec" + "5d",
		},
		{
			name: "sandboxed",
			mode: backend.SandboxBundledSFI,
			exp: `
	.keepalive %rsp
	.bundle_lock
	.shadowdef %rbp, %ebp
	movl %ebp, %esp
	.shadowdef %esp, %rsp
	add %r15, %rsp
	.bundle_unlock
	popq %rcx
	.shadowdef %rcx, %ecx
	.bundle_lock
	movl %ecx, %ebp
	.shadowdef %ebp, %rbp
	add %r15, %rbp
	.bundle_unlock
`,
			expHex: "89ec" + "4c01fc" + "59" + "89cd" + "4c01fd",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fn, a, m := newSetup(t, tc.mode)
			m.TearDownFrame()
			require.Equal(t, tc.exp, m.Format())
			require.Equal(t, tc.expHex, encodeHex(t, fn, a, m))
		})
	}
}

func TestMachine_PushPopRegister(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mode   backend.SandboxMode
		r      regalloc.RealReg
		exp    string
		expHex string
	}{
		{
			name: "64-bit",
			r:    rbx,
			exp: `
	pushq %rbx
	popq %rbx
`,
			expHex: "53" + "5b",
		},
		{
			name: "narrow view",
			r:    r12b,
			exp: `
	pushq %r12
	popq %r12
`,
			expHex: "4154" + "415c",
		},
		{
			name: "frame pointer sandboxed",
			mode: backend.SandboxBundledSFI,
			r:    rbp,
			exp: `
	.bundle_lock
	pushq $0
	movl %ebp, (%rsp)
	.bundle_unlock
	popq %rcx
	.shadowdef %rcx, %ecx
	.bundle_lock
	movl %ecx, %ebp
	.shadowdef %ebp, %rbp
	add %r15, %rbp
	.bundle_unlock
`,
			expHex: "6800000000" + "892c24" + "59" + "89cd" + "4c01fd",
		},
		{
			name: "vector",
			r:    xmm6,
			exp: `
	sub $16, %rsp
	movdqu %xmm6, (%rsp)
	movdqu (%rsp), %xmm6
	add $16, %rsp
`,
			expHex: "4883ec10" + "f30f7f3424" + "f30f6f3424" + "4883c410",
		},
		{
			name: "vector sandboxed",
			mode: backend.SandboxBundledSFI,
			r:    xmm6,
			exp: `
	.bundle_lock
	.shadowdef %rsp, %esp
	sub $16, %esp
	.shadowdef %esp, %rsp
	add %r15, %rsp
	.bundle_unlock
	movdqu %xmm6, (%rsp)
	movdqu (%rsp), %xmm6
	.bundle_lock
	.shadowdef %rsp, %esp
	add $16, %esp
	.shadowdef %esp, %rsp
	add %r15, %rsp
	.bundle_unlock
`,
			expHex: "83ec10" + "4c01fc" + "f30f7f3424" + "f30f6f3424" + "83c410" + "4c01fc",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fn, a, m := newSetup(t, tc.mode)
			require.NoError(t, m.PushRegister(tc.r))
			if isXMM(tc.r) {
				require.Equal(t, int32(16), fn.StackAdjustment())
			} else {
				require.Equal(t, int32(8), fn.StackAdjustment())
			}
			require.NoError(t, m.PopRegister(tc.r))
			require.Equal(t, tc.exp, m.Format())
			require.Equal(t, tc.expHex, encodeHex(t, fn, a, m))
			require.Equal(t, int32(0), fn.StackAdjustment())
		})
	}

	_, _, m := newSetup(t, backend.SandboxNone)
	require.ErrorIs(t, m.PushRegister(ah), ErrInvalidRegisterClass)
	require.ErrorIs(t, m.PopRegister(regalloc.RealRegInvalid), ErrInvalidRegisterClass)
}
