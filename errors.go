package bitcask

import "errors"

// Sentinel errors identifying the taxonomy members a caller can match on
// with errors.Is. Every fallible operation wraps one of these with
// fmt.Errorf("...: %w", err) so context (segment id, offset, key length)
// survives alongside a stable, comparable error value.
var (
	// ErrKeyNotFound is returned by Get when no live record exists for key.
	ErrKeyNotFound = errors.New("bitcask: key not found")

	// ErrKeyTooLarge is returned when a key exceeds the configured cap.
	ErrKeyTooLarge = errors.New("bitcask: key too large")

	// ErrEmptyKey is returned for a zero-length key, which the wire
	// format cannot represent (key_size 0 is reserved for no meaning;
	// value_size 0 is the tombstone marker, not key_size).
	ErrEmptyKey = errors.New("bitcask: key must not be empty")

	// ErrValueTooLarge is returned when a value exceeds the configured cap.
	ErrValueTooLarge = errors.New("bitcask: value too large")

	// ErrReadOnly is returned by any mutating call on a store opened
	// without WithReadWrite.
	ErrReadOnly = errors.New("bitcask: store is read-only")

	// ErrClosed is returned by any call on a store after Close.
	ErrClosed = errors.New("bitcask: store is closed")

	// ErrCorrupt wraps a structural problem: a record or hint row whose
	// size fields are out of range, a segment file larger than the
	// segment cap, or a keydir entry whose segment or stored header no
	// longer matches it (Get, Verify). A record cut short at a segment's
	// tail is tolerated by recovery rather than reported as corrupt.
	ErrCorrupt = errors.New("bitcask: corrupt record")

	// ErrChecksumMismatch wraps a CRC-32 mismatch found during recovery
	// or explicit validation.
	ErrChecksumMismatch = errors.New("bitcask: checksum mismatch")

	// ErrNoSegments is returned by Open in read-only mode against an
	// empty or nonexistent directory, and by Merge when there are no
	// inactive segments to compact.
	ErrNoSegments = errors.New("bitcask: no segments")

	// ErrInvalidOption is returned by Open when the resolved option set
	// is internally contradictory (e.g. sync-on-put without read-write).
	ErrInvalidOption = errors.New("bitcask: invalid option")

	// ErrSegmentOverflow is returned when a single record cannot fit in
	// an empty segment under the configured segment cap — rotation can
	// never make room for it.
	ErrSegmentOverflow = errors.New("bitcask: record exceeds segment capacity")
)
