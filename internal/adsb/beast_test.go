package adsb

import (
	"bytes"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestBeastRoundTrip(t *testing.T) {
	long := mustHex(t, "8d40621d58c382d690c8ac2863a7")
	short := mustHex(t, "5d4ca1b21a2b3c")

	var stream bytes.Buffer
	stream.Write(EncodeBeast(BeastModeLong, 0x1a0000001a1a, 0x1a, long))
	stream.Write(EncodeBeast(BeastModeAC, 7, 3, []byte{0x12, 0x34}))
	stream.Write(EncodeBeast(BeastModeShort, 42, 200, short))

	r := NewBeastReader(&stream)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, BeastModeLong, f.Type)
	assert.Equal(t, int64(0x1a0000001a1a), f.Timestamp)
	assert.Equal(t, byte(0x1a), f.Signal)
	assert.Equal(t, long, f.Data)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, BeastModeAC, f.Type)
	assert.Len(t, f.Data, 2)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, BeastModeShort, f.Type)
	assert.Equal(t, int64(42), f.Timestamp)
	assert.Equal(t, short, f.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, r.Resyncs)
}

func TestBeastResync(t *testing.T) {
	good := EncodeBeast(BeastModeShort, 1000, 10, mustHex(t, "5d4ca1b2000000"))

	tests := []struct {
		name    string
		prefix  []byte
		resyncs int
	}{
		{"leading garbage", []byte{0x00, 0xff, 0x33}, 0},
		{"unknown type", []byte{0x1a, 0x39, 0x01}, 1},
		{"truncated frame", []byte{0x1a, '3', 0x00, 0x00, 0x01}, 1},
		{"escaped byte between frames", []byte{0x1a, 0x1a}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := append(append([]byte(nil), tt.prefix...), good...)
			r := NewBeastReader(bytes.NewReader(stream))

			f, err := r.Next()
			require.NoError(t, err)
			assert.Equal(t, BeastModeShort, f.Type)
			assert.Equal(t, int64(1000), f.Timestamp)
			assert.Equal(t, tt.resyncs, r.Resyncs)
		})
	}
}

func TestBeastShortRead(t *testing.T) {
	frame := EncodeBeast(BeastModeLong, 1, 1, make([]byte, 14))
	r := NewBeastReader(bytes.NewReader(frame[:10]))

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
