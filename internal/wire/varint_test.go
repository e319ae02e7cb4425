package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestU53RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 1 << 20, MaxU53}
	for _, v := range values {
		buf := AppendU53(nil, v)
		got, err := ReadU53(bufio.NewReader(bytes.NewReader(buf)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestU53RejectsOverflow(t *testing.T) {
	buf := AppendU62(nil, MaxU53+1)
	_, err := ReadU53(bufio.NewReader(bytes.NewReader(buf)))
	require.ErrorIs(t, err, ErrU53Overflow)
}

func TestU53PanicsOnOverflow(t *testing.T) {
	require.Panics(t, func() {
		AppendU53(nil, MaxU53+1)
	})
}

func TestVarintMinimalLength(t *testing.T) {
	cases := map[uint64]int{
		0:          1,
		63:         1,
		64:         2,
		16383:      2,
		16384:      4,
		1<<30 - 1:  4,
		1 << 30:    8,
	}
	for v, wantLen := range cases {
		require.Equal(t, wantLen, LenU62(v), "value %d", v)
		require.Len(t, AppendU62(nil, v), wantLen)
	}
}
