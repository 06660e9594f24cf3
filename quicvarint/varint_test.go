package quicvarint

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintParsing(t *testing.T) {
	// parsing example values from the QUIC draft
	for _, tc := range []struct {
		data     []byte
		expected uint64
	}{
		{[]byte{0b00011001}, 25},
		{[]byte{0b01111011, 0xbd}, 15293},
		{[]byte{0b10011101, 0x7f, 0x3e, 0x7d}, 494878333},
		{[]byte{0b11000010, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 151288809941952652},
	} {
		val, err := Read(bytes.NewReader(tc.data))
		require.NoError(t, err)
		require.Equal(t, tc.expected, val)

		val, n, err := Parse(tc.data)
		require.NoError(t, err)
		require.Equal(t, tc.expected, val)
		require.Equal(t, len(tc.data), n)
	}
}

func TestVarintParsingErrors(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, io.EOF)
	// 8-byte encoding, but only 7 bytes present
	_, _, err = Parse([]byte{0b11000010, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestVarintWriting(t *testing.T) {
	for _, tc := range []struct {
		value    uint64
		expected []byte
	}{
		{25, []byte{0b00011001}},
		{15293, []byte{0b01111011, 0xbd}},
		{494878333, []byte{0b10011101, 0x7f, 0x3e, 0x7d}},
		{151288809941952652, []byte{0b11000010, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}},
	} {
		b := &bytes.Buffer{}
		Write(b, tc.value)
		require.Equal(t, tc.expected, b.Bytes())
		require.Equal(t, tc.expected, Append(nil, tc.value))
		require.Equal(t, len(tc.expected), Len(tc.value))
	}
}

func TestVarintRoundtripBoundaries(t *testing.T) {
	for _, val := range []uint64{0, maxVarInt1, maxVarInt1 + 1, maxVarInt2, maxVarInt2 + 1, maxVarInt4, maxVarInt4 + 1, maxVarInt8} {
		b := &bytes.Buffer{}
		Write(b, val)
		parsed, err := Read(b)
		require.NoError(t, err)
		require.Equal(t, val, parsed)
	}
}

func TestVarintWritingTooLargeValues(t *testing.T) {
	require.Panics(t, func() { Write(&bytes.Buffer{}, maxVarInt8+1) })
	require.Panics(t, func() { Len(maxVarInt8 + 1) })
}
