package bitcask

import (
	"fmt"
	"os"
	"path/filepath"
)

// Merge compacts every inactive segment into a fresh, contiguous run of
// segments holding only live records, then atomically swaps them in for
// the old ones. It is the most intricate routine in the store — modeled
// here, per spec.md §9, as a pipeline of (read record, decide live, copy
// to output, emit hint) with a finalize step that either renames every
// artifact into place or unwinds all of them.
func (s *Store) Merge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.opts.readWrite {
		return ErrReadOnly
	}
	if len(s.order) == 0 {
		return ErrNoSegments
	}

	m := &mergeRun{store: s}
	if err := m.run(); err != nil {
		m.unwind()
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// mergeRun holds the state of one compaction pass: the new segment/hint
// pair being written, the ids it has produced so far, and the source
// list it's consuming.
type mergeRun struct {
	store      *Store
	outSeg     *segment
	outHint    *hintFile
	producedID []uint32 // ids finalized (closed, not yet renamed) this run
}

func (m *mergeRun) run() error {
	s := m.store
	startID := s.nextID

	if err := m.openNextPair(startID); err != nil {
		return err
	}

	for _, srcID := range s.order {
		src := s.byID[srcID]
		if err := m.compactSegment(src); err != nil {
			return err
		}
	}

	if m.outSeg.size() == 0 {
		if err := m.discardEmptyPair(); err != nil {
			return err
		}
	} else {
		if err := m.finalizePair(); err != nil {
			return err
		}
	}

	return m.commit(startID)
}

func (m *mergeRun) openNextPair(id uint32) error {
	seg, err := openMergeSegment(m.store.dir, id)
	if err != nil {
		return fmt.Errorf("open merge segment %d: %w", id, err)
	}
	hint, err := createMergeHint(m.store.dir, id)
	if err != nil {
		_ = seg.close()
		return fmt.Errorf("open merge hint %d: %w", id, err)
	}
	m.outSeg = seg
	m.outHint = hint
	return nil
}

// compactSegment walks every record in src in file order, copying the
// ones that are still the live version per the current key directory
// (spec.md §4.7 step 2: directory entry exists, its segment id and
// value position match this record exactly, and value_size > 0 —
// tombstones never survive a merge).
func (m *mergeRun) compactSegment(src *segment) error {
	records, _, err := scanSegment(src.file, m.store.opts.maxKeySize, m.store.opts.maxValueSize)
	if err != nil {
		return fmt.Errorf("rescan segment %d: %w", src.id, err)
	}

	for _, rec := range records {
		cur, ok := m.store.kd.get(rec.key)
		if !ok || cur.segmentID != src.id || cur.valuePos != rec.valuePos || cur.valueSize == 0 {
			continue
		}

		if !m.outSeg.fits(uint32(len(rec.key)), rec.valueSize) {
			if err := m.finalizePair(); err != nil {
				return err
			}
			if err := m.openNextPair(m.nextOutID()); err != nil {
				return err
			}
		}

		headerLen := int64(headerSize) + int64(len(rec.key))
		dstValuePos := m.outSeg.writeOffset + headerLen
		if err := src.copyRange(rec.recordOffset, recordLen(uint32(len(rec.key)), rec.valueSize), m.outSeg); err != nil {
			return fmt.Errorf("copy record for %q: %w", rec.key, err)
		}
		if err := m.outHint.append(rec.timestamp, uint32(len(rec.key)), rec.valueSize, uint32(dstValuePos), rec.key); err != nil {
			return fmt.Errorf("emit hint for %q: %w", rec.key, err)
		}
	}
	return nil
}

// nextOutID is only ever called right after finalizePair, so producedID
// is guaranteed non-empty.
func (m *mergeRun) nextOutID() uint32 {
	return m.producedID[len(m.producedID)-1] + 1
}

// finalizePair syncs and closes the current output pair as complete and
// records its id as produced.
func (m *mergeRun) finalizePair() error {
	if err := m.outSeg.sync(); err != nil {
		return err
	}
	if err := m.outSeg.close(); err != nil {
		return err
	}
	if err := m.outHint.sync(); err != nil {
		return err
	}
	if err := m.outHint.close(); err != nil {
		return err
	}
	m.producedID = append(m.producedID, m.outSeg.id)
	return nil
}

// discardEmptyPair removes a trailing merge pair that ended up empty —
// every record it could have held was superseded before the pass
// finished (spec.md §4.7 step 4).
func (m *mergeRun) discardEmptyPair() error {
	id := m.outSeg.id
	if err := m.outSeg.close(); err != nil {
		return err
	}
	if err := m.outHint.close(); err != nil {
		return err
	}
	if err := os.Remove(mergeSegmentPath(m.store.dir, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(mergeHintPath(m.store.dir, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// commit renames every produced `.merge` artifact into place (data
// before hint, within each id, per spec.md §4.7 step 5), then unlinks
// the superseded segments and hints and rebuilds the key directory from
// the new inactive list plus the still-active segment.
func (m *mergeRun) commit(startID uint32) error {
	s := m.store

	for _, id := range m.producedID {
		if err := os.Rename(mergeSegmentPath(s.dir, id), segmentPath(s.dir, id)); err != nil {
			return fmt.Errorf("finalize segment %d: %w", id, err)
		}
		if err := os.Rename(mergeHintPath(s.dir, id), hintPath(s.dir, id)); err != nil {
			return fmt.Errorf("finalize hint %d: %w", id, err)
		}
	}

	oldIDs := s.order
	for _, id := range oldIDs {
		seg := s.byID[id]
		if err := seg.close(); err != nil {
			return fmt.Errorf("close old segment %d: %w", id, err)
		}
		delete(s.byID, id)
		if err := os.Remove(segmentPath(s.dir, id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unlink old segment %d: %w", id, err)
		}
		if err := os.Remove(hintPath(s.dir, id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unlink old hint %d: %w", id, err)
		}
	}

	s.order = nil
	for _, id := range m.producedID {
		seg, err := openSegment(s.dir, id, false)
		if err != nil {
			return fmt.Errorf("reopen merged segment %d: %w", id, err)
		}
		s.byID[id] = seg
		s.order = append(s.order, id)
	}

	if len(m.producedID) > 0 {
		s.nextID = m.producedID[len(m.producedID)-1] + 1
	} else {
		s.nextID = startID
	}

	s.kd.free()
	s.kd = newKeydir()
	for _, id := range s.order {
		if err := s.loadFromHint(id); err != nil {
			return fmt.Errorf("rebuild keydir from merged segment %d: %w", id, err)
		}
	}
	if s.active != nil {
		if err := s.loadFromScan(s.active); err != nil {
			return fmt.Errorf("rebuild keydir from active segment: %w", err)
		}
	}

	s.opts.log.Infow("merge complete", "producedSegments", len(m.producedID), "reclaimed", len(oldIDs))
	return nil
}

// unwind removes every `.merge` artifact this run produced so far. For a
// failure before commit starts renaming, that leaves the store's on-disk
// state as it was before Merge was called (spec.md §4.7). Files commit
// already renamed into place, and old segments it already unlinked, are
// not restored.
func (m *mergeRun) unwind() {
	if m.outSeg != nil {
		_ = m.outSeg.close()
		_ = os.Remove(mergeSegmentPath(m.store.dir, m.outSeg.id))
	}
	if m.outHint != nil {
		_ = m.outHint.close()
		_ = os.Remove(mergeHintPath(m.store.dir, m.outHint.id))
	}
	for _, id := range m.producedID {
		_ = os.Remove(mergeSegmentPath(m.store.dir, id))
		_ = os.Remove(mergeHintPath(m.store.dir, id))
	}
}

func mergeSegmentPath(dir string, id uint32) string {
	return filepath.Join(dir, mergeSegmentFileName(id))
}

func mergeHintPath(dir string, id uint32) string {
	return filepath.Join(dir, mergeHintFileName(id))
}

// openMergeSegment opens (creating) `<id>.data.merge` read-write,
// mirroring openSegment but against the transient merge filename.
func openMergeSegment(dir string, id uint32) (*segment, error) {
	path := mergeSegmentPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open merge segment %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat merge segment %q: %w", path, err)
	}
	return &segment{id: id, file: f, readWrite: true, writeOffset: info.Size()}, nil
}
