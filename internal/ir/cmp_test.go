package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFloatCmpCond_Evaluate(t *testing.T) {
	nan := math.NaN()
	for _, tc := range []struct {
		cond FloatCmpCond
		x, y float64
		exp  bool
	}{
		{cond: FloatCmpCondOrderedEqual, x: 0, y: math.Copysign(0, -1), exp: true},
		{cond: FloatCmpCondOrderedEqual, x: nan, y: nan, exp: false},
		{cond: FloatCmpCondUnorderedEqual, x: nan, y: 1, exp: true},
		{cond: FloatCmpCondOrderedNotEqual, x: nan, y: 1, exp: false},
		{cond: FloatCmpCondUnorderedNotEqual, x: nan, y: 1, exp: true},
		{cond: FloatCmpCondOrderedLessThan, x: -1, y: 1, exp: true},
		{cond: FloatCmpCondUnorderedGreaterThan, x: -1, y: 1, exp: false},
		{cond: FloatCmpCondOrdered, x: 1, y: nan, exp: false},
		{cond: FloatCmpCondUnordered, x: 1, y: nan, exp: true},
		{cond: FloatCmpCondTrue, x: nan, y: nan, exp: true},
		{cond: FloatCmpCondFalse, x: 1, y: 1, exp: false},
	} {
		tc := tc
		t.Run(tc.cond.String(), func(t *testing.T) {
			require.Equal(t, tc.exp, tc.cond.Evaluate(tc.x, tc.y))
		})
	}
}

func TestIntegerCmpCond_String(t *testing.T) {
	seen := map[string]bool{}
	for c := IntegerCmpCond(0); c < IntegerCmpCondNum; c++ {
		s := c.String()
		require.False(t, seen[s], s)
		seen[s] = true
	}
	require.Panics(t, func() { _ = IntegerCmpCondNum.String() })
}

func TestType_Bits(t *testing.T) {
	require.Equal(t, byte(8), TypeI1.Bits())
	require.Equal(t, byte(32), TypeI32.Bits())
	require.Equal(t, byte(64), TypeF64.Bits())
	require.Equal(t, byte(16), TypeV4F32.Size())
	require.True(t, TypeI64.IsInt())
	require.False(t, TypeF32.IsInt())
	require.True(t, TypeV4I32.IsVector())
	require.False(t, TypeInvalid.Valid())
}
