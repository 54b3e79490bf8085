package bitcask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeader_RoundTrips(t *testing.T) {
	t.Parallel()

	h := recordHeader{
		checksum:  0xDEADBEEF,
		timestamp: 1234567890123,
		keySize:   5,
		valueSize: 10,
	}

	var buf [headerSize]byte
	encodeHeader(buf[:], h)

	got := decodeHeader(buf[:])
	assert.Equal(t, h, got)
}

func TestEncodeHeader_FieldOffsetsLittleEndian(t *testing.T) {
	t.Parallel()

	h := recordHeader{checksum: 1, timestamp: 2, keySize: 3, valueSize: 4}
	var buf [headerSize]byte
	encodeHeader(buf[:], h)

	require.Equal(t, byte(1), buf[0], "checksum low byte at offset 0")
	require.Equal(t, byte(2), buf[4], "timestamp low byte at offset 4")
	require.Equal(t, byte(3), buf[12], "key_size low byte at offset 12")
	require.Equal(t, byte(4), buf[16], "value_size low byte at offset 16")
}

func TestRecordLen(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(20+5+10), recordLen(5, 10))
	assert.Equal(t, int64(20), recordLen(0, 0))
}

func TestIsTombstone(t *testing.T) {
	t.Parallel()
	assert.True(t, recordHeader{valueSize: 0}.isTombstone())
	assert.False(t, recordHeader{valueSize: 1}.isTombstone())
}
