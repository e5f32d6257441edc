package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtMode(t *testing.T) {
	for _, tc := range []struct {
		e        extMode
		exp      string
		from, to byte
	}{
		{e: extModeBL, exp: "bl", from: 1, to: 4},
		{e: extModeWL, exp: "wl", from: 2, to: 4},
		{e: extModeLQ, exp: "lq", from: 4, to: 8},
	} {
		require.Equal(t, tc.exp, tc.e.String())
		from, to := tc.e.sizes()
		require.Equal(t, tc.from, from)
		require.Equal(t, tc.to, to)
	}
	require.Panics(t, func() { _ = extMode(3).String() })
	require.Panics(t, func() { extMode(3).sizes() })
}
