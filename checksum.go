package bitcask

import (
	"hash/crc32"
	"io"
)

// crcTable is the standard reflected CRC-32 table (polynomial 0xEDB88320,
// init/final XOR 0xFFFFFFFF) — the same table original_source/src/crc.c
// builds by hand; hash/crc32.IEEE is that polynomial, so crc32.MakeTable
// gives byte-for-byte the same table without hand-rolling it.
var crcTable = crc32.MakeTable(crc32.IEEE)

// recordChecksum computes the CRC-32 covering header[4:20] || key || value,
// i.e. everything in a record after the checksum field itself (spec.md
// §4.2, §6).
func recordChecksum(headerTail, key, value []byte) uint32 {
	c := crc32.New(crcTable)
	c.Write(headerTail)
	c.Write(key)
	c.Write(value)
	return c.Sum32()
}

// scratchSize bounds the buffer used to stream value bytes off disk
// during checksum validation, per spec.md §4.2 ("streams up to 4 KiB at
// a time").
const scratchSize = 4096

// validateChecksum recomputes the CRC over headerTail || key || (value
// bytes read from r at valuePos..valuePos+valueSize) and reports whether
// it matches expected. It streams the value in scratchSize chunks rather
// than allocating the whole value, mirroring crc32_validate in
// original_source/src/crc.c.
func validateChecksum(expected uint32, headerTail, key []byte, r io.ReaderAt, valuePos int64, valueSize uint32) (bool, error) {
	c := crc32.New(crcTable)
	c.Write(headerTail)
	c.Write(key)

	var scratch [scratchSize]byte
	remaining := int64(valueSize)
	pos := valuePos
	for remaining > 0 {
		want := int64(scratchSize)
		if remaining < want {
			want = remaining
		}
		if err := readExact(r, scratch[:want], pos); err != nil {
			return false, err
		}
		c.Write(scratch[:want])
		remaining -= want
		pos += want
	}

	return c.Sum32() == expected, nil
}
