package bitcask

import "encoding/binary"

// headerSize is the fixed 20-byte record header: 4-byte checksum, 8-byte
// timestamp, 4-byte key_size, 4-byte value_size (spec.md §3, §6).
const headerSize = 20

// recordHeader is the decoded form of a record's fixed header. No field
// is validated here beyond width — size-bound and checksum checks belong
// to callers (spec.md §4.1).
type recordHeader struct {
	checksum  uint32
	timestamp uint64
	keySize   uint32
	valueSize uint32
}

// encodeHeader writes h into buf[:headerSize] little-endian, in field
// order: checksum, timestamp, key_size, value_size.
func encodeHeader(buf []byte, h recordHeader) {
	_ = buf[headerSize-1] // bounds check hint
	binary.LittleEndian.PutUint32(buf[0:4], h.checksum)
	binary.LittleEndian.PutUint64(buf[4:12], h.timestamp)
	binary.LittleEndian.PutUint32(buf[12:16], h.keySize)
	binary.LittleEndian.PutUint32(buf[16:20], h.valueSize)
}

// decodeHeader reads a recordHeader out of buf[:headerSize].
func decodeHeader(buf []byte) recordHeader {
	_ = buf[headerSize-1]
	return recordHeader{
		checksum:  binary.LittleEndian.Uint32(buf[0:4]),
		timestamp: binary.LittleEndian.Uint64(buf[4:12]),
		keySize:   binary.LittleEndian.Uint32(buf[12:16]),
		valueSize: binary.LittleEndian.Uint32(buf[16:20]),
	}
}

// recordLen returns the total on-disk length of a record with the given
// key and value sizes: header plus payload.
func recordLen(keySize, valueSize uint32) int64 {
	return int64(headerSize) + int64(keySize) + int64(valueSize)
}

// isTombstone reports whether a header describes a delete marker
// (value_size == 0, per spec.md §3).
func (h recordHeader) isTombstone() bool {
	return h.valueSize == 0
}
