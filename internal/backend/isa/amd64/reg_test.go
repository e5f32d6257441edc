package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sfilabs/x64lower/internal/backend/regalloc"
)

func TestRegisterName(t *testing.T) {
	for _, tc := range []struct {
		r   regalloc.RealReg
		exp string
	}{
		{r: rax, exp: "rax"},
		{r: r15d, exp: "r15d"},
		{r: r9w, exp: "r9w"},
		{r: sil, exp: "sil"},
		{r: ah, exp: "ah"},
		{r: xmm15, exp: "xmm15"},
		{r: regalloc.RealRegInvalid, exp: "<invalid=0>"},
		{r: numRegs, exp: "<invalid=82>"},
	} {
		require.Equal(t, tc.exp, RegisterName(tc.r))
	}
}

func TestEncodedGPR(t *testing.T) {
	for _, tc := range []struct {
		r   regalloc.RealReg
		exp byte
	}{
		{r: rax, exp: 0},
		{r: rsp, exp: 4},
		{r: r15, exp: 15},
		{r: r12d, exp: 12},
		{r: r9w, exp: 9},
		{r: edi, exp: 7},
	} {
		actual, err := EncodedGPR(tc.r)
		require.NoError(t, err)
		require.Equal(t, tc.exp, actual, RegisterName(tc.r))
	}
	for _, r := range []regalloc.RealReg{al, ah, xmm0, regalloc.RealRegInvalid, numRegs} {
		_, err := EncodedGPR(r)
		require.ErrorIs(t, err, ErrInvalidRegisterClass, RegisterName(r))
	}
}

func TestEncodedXMM(t *testing.T) {
	actual, err := EncodedXMM(xmm13)
	require.NoError(t, err)
	require.Equal(t, byte(13), actual)

	for _, r := range []regalloc.RealReg{rax, al, regalloc.RealRegInvalid} {
		_, err := EncodedXMM(r)
		require.ErrorIs(t, err, ErrInvalidRegisterClass)
	}
}

func TestEncodedByteRegister(t *testing.T) {
	for _, tc := range []struct {
		r   regalloc.RealReg
		exp byte
	}{
		{r: al, exp: 0},
		{r: bl, exp: 3},
		{r: spl, exp: 4},
		{r: ah, exp: 4},
		{r: r11b, exp: 11},
	} {
		actual, err := EncodedByteRegister(tc.r)
		require.NoError(t, err)
		require.Equal(t, tc.exp, actual, RegisterName(tc.r))
	}
	for _, r := range []regalloc.RealReg{eax, ax, xmm1, numRegs} {
		_, err := EncodedByteRegister(r)
		require.ErrorIs(t, err, ErrInvalidRegisterClass)
	}
}

func TestGprView(t *testing.T) {
	for _, tc := range []struct {
		r    regalloc.RealReg
		bits byte
		exp  regalloc.RealReg
	}{
		{r: rax, bits: 8, exp: al},
		{r: al, bits: 64, exp: rax},
		{r: r11, bits: 32, exp: r11d},
		{r: r11d, bits: 16, exp: r11w},
		{r: spl, bits: 32, exp: esp},
		{r: ah, bits: 8, exp: ah},
		{r: xmm2, bits: 32, exp: xmm2},
	} {
		require.Equal(t, tc.exp, gprView(tc.r, tc.bits), "%s/%d", RegisterName(tc.r), tc.bits)
	}
	require.Panics(t, func() { gprView(ah, 32) })
	require.Panics(t, func() { gprView(rax, 12) })
}

func TestBaseReg(t *testing.T) {
	require.Equal(t, r11, baseReg(r11b))
	require.Equal(t, rbp, baseReg(ebp))
	require.Equal(t, rax, baseReg(ah))
	require.Equal(t, xmm3, baseReg(xmm3))
}

func TestRegisterKinds(t *testing.T) {
	require.True(t, isGPR(rax))
	require.True(t, isGPR(ah))
	require.False(t, isGPR(xmm0))
	require.False(t, isGPR(regalloc.RealRegInvalid))
	require.True(t, isXMM(xmm15))
	require.False(t, isXMM(r15))
	require.False(t, isXMM(numRegs))

	for _, r := range []regalloc.RealReg{spl, bpl, sil, dil} {
		require.True(t, needsREXForByte(r), RegisterName(r))
	}
	for _, r := range []regalloc.RealReg{al, bl, ah, r8b, r15b} {
		require.False(t, needsREXForByte(r), RegisterName(r))
	}
}

func TestRegTable(t *testing.T) {
	for r := rax; r < numRegs; r++ {
		e := &regTable[r]
		require.NotEqual(t, classInvalid, e.class, RegisterName(r))
		require.Equal(t, baseReg(r), baseReg(baseReg(r)))
		if isXMM(r) {
			continue
		}
		// Views inherit the roles of their base register.
		const roles = flagScratch | flagPreserved | flagStackPtr | flagFramePtr | flagSandboxReserved
		require.Equal(t, regTable[baseReg(r)].flags&roles, e.flags&roles, RegisterName(r))
	}
	require.True(t, regTable[r15].has(flagSandboxReserved))
	require.True(t, regTable[r15b].has(flagSandboxReserved))
	require.False(t, regTable[r14].has(flagSandboxReserved))
}

func TestRegFlags_String(t *testing.T) {
	require.Equal(t, "-", regFlags(0).String())
	require.Equal(t, "preserved|fp|sandbox", regTable[rbp].flags.String())
	require.Equal(t, "scratch|trunc8|ahrcvr", regTable[cl].flags.String())
}
