// Package bitcask implements an embedded, single-writer, log-structured
// key/value store in the bitcask tradition: keys live entirely in memory
// in an open-addressed hash table pointing at byte offsets in a directory
// of append-only segment files, values are read back with a single
// positional read, and space is reclaimed offline via Merge.
//
// The store is meant to be linked into a host process, not run as a
// service: there is no network listener, no CLI, and no background
// goroutines started implicitly. Calls on one Store are serialized by an
// internal lock; see Store's doc comment for the concurrency contract.
package bitcask
