package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgInfoRoundTrip(t *testing.T) {
	cases := []struct {
		label uint64
		count uint8
	}{
		{0, 0},
		{1, 1},
		{42, 7},
		{msginfoLabelMask, msginfoCountMask},
		{1 << 51, 3},
	}

	for _, c := range cases {
		m := NewMsgInfo(c.label, c.count)
		assert.Equal(t, c.label, m.Label())
		assert.Equal(t, c.count, m.Count())
	}
}

func TestMsgInfoPanicsOnOverflow(t *testing.T) {
	require.Panics(t, func() { NewMsgInfo(msginfoLabelMask+1, 0) })
	require.Panics(t, func() { NewMsgInfo(0, msginfoCountMask+1) })
}

func TestMsgInfoReservedBitsAlwaysZero(t *testing.T) {
	m := NewMsgInfo(msginfoLabelMask, msginfoCountMask)
	reserved := (uint64(m) >> msginfoCountBits) & ((1 << msginfoReservedBits) - 1)
	assert.Zero(t, reserved)
}
