package bitcask

import (
	"time"

	"go.uber.org/zap"
)

// Default caps and thresholds, per spec: 256 MiB segments, 1 MiB keys,
// 10 MiB values.
const (
	DefaultSegmentCap   = 256 << 20
	DefaultMaxKeySize   = 1 << 20
	DefaultMaxValueSize = 10 << 20
)

// options holds the resolved configuration for a Store. It is built by
// applying a caller's Option values over sane, read-only-by-default
// defaults — the same functional-options shape the teacher uses
// (Option func(*DB)), generalized to the full set spec.md §6 and §9 call
// for.
type options struct {
	readWrite    bool
	syncOnPut    bool
	segmentCap   int64
	maxKeySize   uint32
	maxValueSize uint32
	log          *zap.SugaredLogger
	now          func() uint64
}

// Option configures a Store at Open time.
type Option func(*options)

// WithReadWrite opens the store for mutation (Put, Delete, Merge). The
// default is read-only, which disallows any append and additionally
// disallows creating the data directory if it does not already exist.
func WithReadWrite() Option {
	return func(o *options) { o.readWrite = true }
}

// WithSyncOnPut fsyncs the active segment at the end of every Put. This
// buys durability for every write at the cost of a sync call per write;
// without it, a crash between Put returning and the next explicit Sync
// (or Close) can lose the most recent writes, though it can never
// surface a partially-written record (spec.md §5).
func WithSyncOnPut() Option {
	return func(o *options) { o.syncOnPut = true }
}

// WithSegmentCap overrides the default 256 MiB soft cap on segment file
// size. Mainly useful in tests driving rotation without writing hundreds
// of megabytes.
func WithSegmentCap(n int64) Option {
	return func(o *options) { o.segmentCap = n }
}

// WithMaxKeySize overrides the default 1 MiB key size cap.
func WithMaxKeySize(n uint32) Option {
	return func(o *options) { o.maxKeySize = n }
}

// WithMaxValueSize overrides the default 10 MiB value size cap.
func WithMaxValueSize(n uint32) Option {
	return func(o *options) { o.maxValueSize = n }
}

// WithLogger attaches a structured logger. The default is a no-op logger
// so the library stays silent unless a host process opts in.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithNowFunc overrides the monotonic timestamp source used to order
// records. It exists mainly as a test seam: the default wraps
// time.Now().UnixNano() in a ratchet that refuses to go backwards or
// repeat, so two Puts issued within the same nanosecond still order
// correctly (spec.md P3 requires call-order to match timestamp order
// within one process).
func WithNowFunc(f func() uint64) Option {
	return func(o *options) {
		if f != nil {
			o.now = f
		}
	}
}

func defaultOptions() *options {
	return &options{
		readWrite:    false,
		syncOnPut:    false,
		segmentCap:   DefaultSegmentCap,
		maxKeySize:   DefaultMaxKeySize,
		maxValueSize: DefaultMaxValueSize,
		log:          zap.NewNop().Sugar(),
		now:          monotonicNanos(),
	}
}

func (o *options) validate() error {
	if o.segmentCap <= 0 || o.segmentCap > DefaultSegmentCap {
		return ErrInvalidOption
	}
	if o.maxKeySize == 0 || o.maxKeySize > DefaultMaxKeySize {
		return ErrInvalidOption
	}
	if o.maxValueSize > DefaultMaxValueSize {
		return ErrInvalidOption
	}
	if o.syncOnPut && !o.readWrite {
		return ErrInvalidOption
	}
	return nil
}

// monotonicNanos returns a closure producing strictly increasing
// nanosecond timestamps, ratcheting past time.Now() when the wall clock
// doesn't advance between two calls (common under the nanosecond
// resolution many platforms actually deliver).
func monotonicNanos() func() uint64 {
	var last uint64
	return func() uint64 {
		n := uint64(time.Now().UnixNano())
		if n <= last {
			n = last + 1
		}
		last = n
		return n
	}
}
