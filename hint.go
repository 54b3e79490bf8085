package bitcask

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// hintRowHeader is the fixed 16-byte prefix of a hint row (timestamp,
// key_size, value_size); value_pos follows as its own 4-byte field ahead
// of the key bytes (spec.md §4.5, §6).
const hintRowHeader = 16

// hintFile is the `<id>.hint` (or `<id>.hint.merge`) sidecar: a compact,
// value-free mirror of a sealed segment's live records, used purely to
// shortcut recovery (spec.md §3, §4.5).
type hintFile struct {
	id          uint32
	file        *os.File
	writeOffset int64
}

func createHint(dir string, id uint32) (*hintFile, error) {
	return openHintForAppend(hintPath(dir, id), id)
}

func createMergeHint(dir string, id uint32) (*hintFile, error) {
	path := filepath.Join(dir, mergeHintFileName(id))
	return openHintForAppend(path, id)
}

func openHintForAppend(path string, id uint32) (*hintFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open hint %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat hint %q: %w", path, err)
	}
	return &hintFile{id: id, file: f, writeOffset: info.Size()}, nil
}

// append writes one row: timestamp(8) key_size(4) value_size(4)
// value_pos(4) key(key_size), little-endian, no per-row checksum (spec.md
// §4.5, §9 — the source record was CRC-checked when merge rescanned it,
// and the hint is fsync'd together with its segment in finalizePair).
func (h *hintFile) append(ts uint64, keySize, valueSize uint32, valuePos uint32, key []byte) error {
	row := make([]byte, hintRowHeader+4+len(key))
	binary.LittleEndian.PutUint64(row[0:8], ts)
	binary.LittleEndian.PutUint32(row[8:12], keySize)
	binary.LittleEndian.PutUint32(row[12:16], valueSize)
	binary.LittleEndian.PutUint32(row[16:20], valuePos)
	copy(row[20:], key)

	if err := writeExact(h.file, row, h.writeOffset); err != nil {
		return fmt.Errorf("append hint row to %d.hint: %w", h.id, err)
	}
	h.writeOffset += int64(len(row))
	return nil
}

func (h *hintFile) sync() error {
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("sync hint %d: %w", h.id, err)
	}
	return nil
}

func (h *hintFile) close() error {
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	if err != nil {
		return fmt.Errorf("close hint %d: %w", h.id, err)
	}
	return nil
}

// hintRow is one decoded row of a hint sidecar.
type hintRow struct {
	timestamp uint64
	keySize   uint32
	valueSize uint32
	valuePos  uint32
	key       []byte
}

// scanHint reads every row of a hint file in order, rejecting any row
// whose key_size exceeds maxKeySize — the store's configured cap, matching
// the bound scanSegment enforces on the data path rather than the package
// default. Any short read — a truncated row at EOF, a key shorter than its
// declared key_size — is returned as an error rather than tolerated:
// unlike a data segment, a hint's only reason to exist is to stand in for
// a full segment scan, so a damaged hint earns no special tail tolerance;
// the caller falls back to scanning the segment itself instead (spec.md
// §9, DESIGN.md).
func scanHint(f *os.File, maxKeySize uint32) ([]hintRow, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek hint: %w", err)
	}
	reader := bufio.NewReader(f)

	var rows []hintRow
	for {
		var prefix [hintRowHeader + 4]byte
		_, err := io.ReadFull(reader, prefix[:])
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read hint row header: %w", err)
		}

		keySize := binary.LittleEndian.Uint32(prefix[8:12])
		valueSize := binary.LittleEndian.Uint32(prefix[12:16])
		valuePos := binary.LittleEndian.Uint32(prefix[16:20])
		if keySize == 0 || keySize > maxKeySize {
			return nil, fmt.Errorf("hint row key_size %d: %w", keySize, ErrCorrupt)
		}

		key := make([]byte, keySize)
		if _, err := io.ReadFull(reader, key); err != nil {
			return nil, fmt.Errorf("read hint row key: %w", err)
		}

		rows = append(rows, hintRow{
			timestamp: binary.LittleEndian.Uint64(prefix[0:8]),
			keySize:   keySize,
			valueSize: valueSize,
			valuePos:  valuePos,
			key:       key,
		})
	}
}
