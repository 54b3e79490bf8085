package bitcask

// slotState tags a keydir slot's occupancy, replacing the "key pointer is
// null ⇒ slot is free" convention the original C source leans on with an
// explicit variant, per spec.md §9's re-architecture guidance.
type slotState uint8

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

// keydirValue is the location and metadata of a live record: which
// segment holds it, where its value bytes start, how long they are, and
// when it was written (spec.md §3 "Key directory entry").
type keydirValue struct {
	segmentID uint32
	valuePos  int64
	valueSize uint32
	timestamp uint64
}

type keydirSlot struct {
	state slotState
	key   []byte
	value keydirValue
}

// keydir is an open-addressed hash table from key bytes to keydirValue,
// linear-probed, 3/4 max load factor, grown to max(8, 2×capacity).
// Ported line-for-line in spirit from original_source/src/keydir.c.
type keydir struct {
	slots []keydirSlot
	count int // slots ever taken from EMPTY, not live-key count — see put/delete
}

func newKeydir() *keydir {
	return &keydir{}
}

// fnv1a hashes key bytes with the 32-bit FNV-1a basis/prime spec.md §4.6
// specifies (2166136261, 16777619).
func fnv1a(key []byte) uint32 {
	const (
		basis uint32 = 2166136261
		prime uint32 = 16777619
	)
	h := basis
	for _, b := range key {
		h ^= uint32(b)
		h *= prime
	}
	return h
}

func sameKey(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// findSlot probes slots for key, returning the slot it belongs in: an
// existing occupied slot with a matching key, the first tombstone seen
// along the way (remembered so a later empty slot doesn't stop the
// search early), or the first empty slot if neither is found first.
func findSlot(slots []keydirSlot, key []byte) int {
	cap := len(slots)
	idx := int(fnv1a(key)) % cap
	if idx < 0 {
		idx += cap
	}

	tombstone := -1
	for {
		slot := &slots[idx]
		switch slot.state {
		case slotEmpty:
			if tombstone != -1 {
				return tombstone
			}
			return idx
		case slotTombstone:
			if tombstone == -1 {
				tombstone = idx
			}
		case slotOccupied:
			if sameKey(slot.key, key) {
				return idx
			}
		}
		idx = (idx + 1) % cap
	}
}

func (kd *keydir) grow(newCap int) {
	old := kd.slots
	kd.slots = make([]keydirSlot, newCap)
	kd.count = 0
	for _, s := range old {
		if s.state != slotOccupied {
			continue
		}
		idx := findSlot(kd.slots, s.key)
		kd.slots[idx] = keydirSlot{state: slotOccupied, key: s.key, value: s.value}
		kd.count++
	}
}

// put inserts or overwrites the entry for key. Growth happens before the
// probe so the load factor check always sees the table it's about to
// insert into (spec.md §4.6).
func (kd *keydir) put(key []byte, value keydirValue) {
	if len(kd.slots) == 0 || (kd.count+1)*4 > len(kd.slots)*3 {
		newCap := 8
		if len(kd.slots)*2 > newCap {
			newCap = len(kd.slots) * 2
		}
		kd.grow(newCap)
	}

	idx := findSlot(kd.slots, key)
	slot := &kd.slots[idx]
	if slot.state == slotEmpty {
		kd.count++
	}
	if slot.state != slotOccupied {
		owned := append([]byte(nil), key...)
		slot.key = owned
	}
	slot.state = slotOccupied
	slot.value = value
}

// get returns the live value for key, if any. Tombstones are transparent
// to the probe.
func (kd *keydir) get(key []byte) (keydirValue, bool) {
	if len(kd.slots) == 0 {
		return keydirValue{}, false
	}
	idx := findSlot(kd.slots, key)
	slot := &kd.slots[idx]
	if slot.state != slotOccupied {
		return keydirValue{}, false
	}
	return slot.value, true
}

// delete marks key's slot as a tombstone if occupied. count is
// deliberately not decremented — a later put reusing this same tombstone
// slot will not re-increment it either, so count only ever reflects
// EMPTY→OCCUPIED transitions, never tombstone churn (spec.md §4.6, §9;
// original_source/src/keydir.c's keydir_delete never touches count, and
// its keydir_put only increments on the ENTRY_EMPTY case).
func (kd *keydir) delete(key []byte) bool {
	if len(kd.slots) == 0 {
		return false
	}
	idx := findSlot(kd.slots, key)
	slot := &kd.slots[idx]
	if slot.state != slotOccupied {
		return false
	}
	slot.key = nil
	slot.state = slotTombstone
	return true
}

// free releases the slot array. Safe on an already-empty keydir.
func (kd *keydir) free() {
	kd.slots = nil
	kd.count = 0
}

// len reports the number of slots ever taken from EMPTY, not the live key
// count — callers that want live keys should range the table and filter
// by slotOccupied.
func (kd *keydir) len() int { return kd.count }
