package bitcask

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// hardSegmentCap is the absolute per-segment size ceiling from spec.md
// §3/§6 (256 MiB), independent of any caller-configured options.segmentCap
// (which may only ever be smaller, never larger — see options.validate).
const hardSegmentCap = 256 << 20

func segmentFileName(id uint32) string      { return fmt.Sprintf("%010d.data", id) }
func hintFileName(id uint32) string         { return fmt.Sprintf("%010d.hint", id) }
func mergeSegmentFileName(id uint32) string { return fmt.Sprintf("%010d.data.merge", id) }
func mergeHintFileName(id uint32) string    { return fmt.Sprintf("%010d.hint.merge", id) }

func segmentPath(dir string, id uint32) string { return filepath.Join(dir, segmentFileName(id)) }
func hintPath(dir string, id uint32) string    { return filepath.Join(dir, hintFileName(id)) }

// parseSegmentID parses a "<digits>.data" filename into its id. Per
// spec.md §6, width is unconstrained on read (up to 10 digits, value
// within uint32 range) even though we always write 10-digit zero-padded
// names ourselves.
func parseSegmentID(name string) (uint32, bool) {
	base, ok := splitSuffix(name, ".data")
	if !ok {
		return 0, false
	}
	return parseSegmentDigits(base)
}

func parseHintID(name string) (uint32, bool) {
	base, ok := splitSuffix(name, ".hint")
	if !ok {
		return 0, false
	}
	return parseSegmentDigits(base)
}

func splitSuffix(name, suffix string) (string, bool) {
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return "", false
	}
	return name[:len(name)-len(suffix)], true
}

func parseSegmentDigits(s string) (uint32, bool) {
	if s == "" || len(s) > 10 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// segment is an append-only data file identified by a strictly-monotone
// 32-bit id. At most one segment per store is writable at a time (the
// active segment); the rest are sealed and read-only (spec.md §3).
type segment struct {
	id          uint32
	file        *os.File
	readWrite   bool
	writeOffset int64 // logical size; advances only after a successful write
}

// openSegment opens (creating in read-write mode if missing) the data
// file for id and derives its logical size from a stat, per
// original_source/src/datafile.c's datafile_open.
func openSegment(dir string, id uint32, readWrite bool) (*segment, error) {
	path := segmentPath(dir, id)

	flags := os.O_RDONLY
	if readWrite {
		flags = os.O_RDWR | os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat segment %q: %w", path, err)
	}
	if info.Size() > hardSegmentCap {
		_ = f.Close()
		return nil, fmt.Errorf("segment %d size %d exceeds cap: %w", id, info.Size(), ErrCorrupt)
	}

	return &segment{id: id, file: f, readWrite: readWrite, writeOffset: info.Size()}, nil
}

// size is the segment's current logical length in bytes.
func (s *segment) size() int64 { return s.writeOffset }

// fits reports whether a record of the given key/value sizes can be
// appended without exceeding the hard 256 MiB segment cap — the
// "pre-check" spec.md §4.4 calls for, performed by the controller before
// ever calling append.
func (s *segment) fits(keySize, valueSize uint32) bool {
	return s.writeOffset+recordLen(keySize, valueSize) <= hardSegmentCap
}

// append encodes and writes one record, returning the location of its
// value bytes for the key directory. The checksum covers header[4:] ||
// key || value (spec.md §4.1, §4.2).
func (s *segment) append(ts uint64, key, value []byte) (valuePos int64, valueSize uint32, err error) {
	if !s.readWrite {
		return 0, 0, ErrReadOnly
	}
	if len(key) == 0 {
		return 0, 0, ErrEmptyKey
	}

	var header [headerSize]byte
	encodeHeader(header[:], recordHeader{
		checksum:  0,
		timestamp: ts,
		keySize:   uint32(len(key)),
		valueSize: uint32(len(value)),
	})
	crc := recordChecksum(header[4:], key, value)
	binary.LittleEndian.PutUint32(header[0:4], crc)

	off := s.writeOffset
	if err := writeGathered(s.file, off, header[:], key, value); err != nil {
		return 0, 0, fmt.Errorf("append to segment %d: %w", s.id, err)
	}

	s.writeOffset += recordLen(uint32(len(key)), uint32(len(value)))
	valuePos = off + headerSize + int64(len(key))
	return valuePos, uint32(len(value)), nil
}

// readValue fetches size bytes from the segment at pos, returning a
// fresh, caller-owned buffer.
func (s *segment) readValue(pos int64, size uint32) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if err := readExact(s.file, buf, pos); err != nil {
		return nil, fmt.Errorf("read value at %d in segment %d: %w", pos, s.id, err)
	}
	return buf, nil
}

// copyRange streams length bytes starting at srcOff in s to the end of
// dst, scratchSize bytes at a time, advancing dst's write offset. Used by
// merge to move a still-live record into the new segment series without
// buffering the whole record in memory (spec.md §4.4, §4.7).
func (s *segment) copyRange(srcOff, length int64, dst *segment) error {
	if !dst.readWrite {
		return ErrReadOnly
	}

	var buf [scratchSize]byte
	remaining := length
	src := srcOff
	dstOff := dst.writeOffset
	for remaining > 0 {
		want := int64(scratchSize)
		if remaining < want {
			want = remaining
		}
		if err := readExact(s.file, buf[:want], src); err != nil {
			return fmt.Errorf("copy-range read from segment %d: %w", s.id, err)
		}
		if err := writeExact(dst.file, buf[:want], dstOff); err != nil {
			return fmt.Errorf("copy-range write to segment %d: %w", dst.id, err)
		}
		src += want
		dstOff += want
		remaining -= want
	}
	dst.writeOffset += length
	return nil
}

// sync fsyncs the backing descriptor.
func (s *segment) sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d: %w", s.id, err)
	}
	return nil
}

// close closes the descriptor. Safe to call more than once.
func (s *segment) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close segment %d: %w", s.id, err)
	}
	return nil
}

// seal syncs and closes the active write handle, then reopens the same
// file read-only — the "sealed (closed and reopened read-only)"
// transition spec.md §3's lifecycle describes for a segment that can no
// longer fit the next record.
func (s *segment) seal(dir string) error {
	if err := s.sync(); err != nil {
		return err
	}
	if err := s.close(); err != nil {
		return err
	}
	f, err := os.OpenFile(segmentPath(dir, s.id), os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen sealed segment %d: %w", s.id, err)
	}
	s.file = f
	s.readWrite = false
	return nil
}

// scannedRecord is a single live-at-scan-time record surfaced while
// replaying a segment without a hint.
type scannedRecord struct {
	key          []byte
	valuePos     int64
	valueSize    uint32
	timestamp    uint64
	recordOffset int64
}

// scanSegment replays f record-by-record, validating each CRC and
// rejecting headers whose sizes violate the configured caps. It tolerates
// exactly one kind of damage — a partially-written record at the very
// tail of the file, the signature of a crash mid-append — by stopping
// there and reporting validEnd as the truncation point; any other
// short read or checksum mismatch is fatal, per spec.md §4.7 step 6
// ("On any validation failure or short read, fail open... do not
// silently truncate"). Grounded on the teacher's core/segment.go
// recordScanner and original_source/src/io_util.c's read semantics.
func scanSegment(f *os.File, maxKeySize, maxValueSize uint32) (records []scannedRecord, validEnd int64, err error) {
	const maxInt64 = 1<<63 - 1
	sr := io.NewSectionReader(f, 0, maxInt64)
	reader := bufio.NewReader(sr)

	var pos int64
	for {
		var hdrBuf [headerSize]byte
		if _, err := io.ReadFull(reader, hdrBuf[:]); err != nil {
			if err == io.EOF {
				return records, pos, nil
			}
			if err == io.ErrUnexpectedEOF {
				// Partial header at the tail: the write that would have
				// completed it never got acknowledged. Tolerate it.
				return records, pos, nil
			}
			return nil, 0, fmt.Errorf("read header at %d: %w", pos, err)
		}

		hdr := decodeHeader(hdrBuf[:])
		if hdr.keySize == 0 || hdr.keySize > maxKeySize || hdr.valueSize > maxValueSize {
			return nil, 0, fmt.Errorf("record at %d: %w", pos, ErrCorrupt)
		}

		payload := make([]byte, hdr.keySize+hdr.valueSize)
		if _, err := io.ReadFull(reader, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// Partial key or value at the tail: same crash-tolerant case.
				return records, pos, nil
			}
			return nil, 0, fmt.Errorf("read payload at %d: %w", pos, err)
		}

		key := payload[:hdr.keySize]
		value := payload[hdr.keySize:]
		if recordChecksum(hdrBuf[4:], key, value) != hdr.checksum {
			return nil, 0, fmt.Errorf("record at %d: %w", pos, ErrChecksumMismatch)
		}

		records = append(records, scannedRecord{
			key:          append([]byte(nil), key...),
			valuePos:     pos + headerSize + int64(hdr.keySize),
			valueSize:    hdr.valueSize,
			timestamp:    hdr.timestamp,
			recordOffset: pos,
		})

		pos += recordLen(hdr.keySize, hdr.valueSize)
	}
}
