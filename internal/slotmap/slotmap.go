// Package slotmap gives vectors their identity: it maps arena slots to chunk
// ids and keeps the reverse index so lookups by chunk id are O(1).
package slotmap

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Entry is one slot to chunk id association.
type Entry struct {
	Slot    int
	ChunkID string
}

// SlotMap is the persisted slot -> chunk id table plus its reverse index and
// a bitmap of live slots. Each mutation rewrites the table atomically before
// it returns; a map with no path is ephemeral.
//
// A chunk id has at most one live slot once it goes through Put. Tables
// loaded from disk may still carry older duplicates; those stay in the
// forward table, the reverse index points at the highest slot, and Stale
// lists the rest.
type SlotMap struct {
	mu      sync.RWMutex
	path    string
	forward map[int]string
	reverse map[string]int
	stale   map[string][]int
	live    *roaring.Bitmap
}

// New returns an empty in-memory slot map.
func New() *SlotMap {
	return &SlotMap{
		forward: make(map[int]string),
		reverse: make(map[string]int),
		stale:   make(map[string][]int),
		live:    roaring.New(),
	}
}

// Open loads the table at path. A missing file yields an empty map bound to path.
func Open(path string) (*SlotMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m := New()
			m.path = path
			return m, nil
		}
		return nil, fmt.Errorf("failed to read slot map: %w", err)
	}
	if len(data) == 0 {
		m := New()
		m.path = path
		return m, nil
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	m.path = path
	return m, nil
}

// Decode parses a table of the form {"0": "doc_0", "1": "doc_1"}.
func Decode(data []byte) (*SlotMap, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := New()
	for key, id := range raw {
		slot, err := strconv.Atoi(key)
		if err != nil || slot < 0 {
			return nil, fmt.Errorf("invalid slot key %q", key)
		}
		m.forward[slot] = id
		m.live.Add(uint32(slot))
		prev, ok := m.reverse[id]
		switch {
		case !ok:
			m.reverse[id] = slot
		case slot > prev:
			m.reverse[id] = slot
			m.stale[id] = append(m.stale[id], prev)
		default:
			m.stale[id] = append(m.stale[id], slot)
		}
	}
	for id := range m.stale {
		sort.Ints(m.stale[id])
	}
	return m, nil
}

// Path returns the backing file, or "" for an ephemeral map.
func (m *SlotMap) Path() string {
	return m.path
}

// Len returns the number of forward entries.
func (m *SlotMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.forward)
}

// Resolve returns the chunk id at slot.
func (m *SlotMap) Resolve(slot int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.forward[slot]
	return id, ok
}

// FindSlotFor returns the live slot of id.
func (m *SlotMap) FindSlotFor(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.reverse[id]
	return slot, ok
}

// Put maps slot to id and persists. If id already had a slot, that mapping
// is removed in the same write and its slot is returned as previous.
func (m *SlotMap) Put(slot int, id string) (previous int, replaced bool, err error) {
	err = m.Batch(func(b *Batch) error {
		previous, replaced, err = b.Put(slot, id)
		return err
	})
	return previous, replaced, err
}

// RemoveBySlot drops the mapping at slot and persists. It reports the id
// that was mapped there, if any.
func (m *SlotMap) RemoveBySlot(slot int) (id string, removed bool, err error) {
	err = m.Batch(func(b *Batch) error {
		id, removed = b.RemoveBySlot(slot)
		return nil
	})
	return id, removed, err
}

// RemoveID drops every slot mapped to id and persists. It returns the
// removed slots.
func (m *SlotMap) RemoveID(id string) (slots []int, err error) {
	err = m.Batch(func(b *Batch) error {
		slots = b.RemoveID(id)
		return nil
	})
	return slots, err
}

// Batch applies several mutations with a single persisted write. If fn or
// the write fails the map is left unchanged.
func (m *SlotMap) Batch(fn func(b *Batch) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := &Batch{
		forward: cloneForward(m.forward),
		reverse: cloneReverse(m.reverse),
		stale:   cloneStale(m.stale),
		live:    m.live.Clone(),
	}
	if err := fn(b); err != nil {
		return err
	}
	if !b.dirty {
		return nil
	}
	if m.path != "" {
		err := utils.WriteFileAtomic(m.path, 0644, func(w io.Writer) error {
			return encode(w, b.forward)
		})
		if err != nil {
			return errs.Persistence("write slot map", m.path, err)
		}
	}
	m.forward, m.reverse, m.stale, m.live = b.forward, b.reverse, b.stale, b.live
	return nil
}

// Entries returns every forward entry ordered by slot.
func (m *SlotMap) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.forward))
	for slot, id := range m.forward {
		out = append(out, Entry{Slot: slot, ChunkID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Stale returns forward entries whose id has a newer slot, ordered by slot.
func (m *SlotMap) Stale() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for id, slots := range m.stale {
		for _, slot := range slots {
			out = append(out, Entry{Slot: slot, ChunkID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Live returns a copy of the live-slot bitmap.
func (m *SlotMap) Live() *roaring.Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live.Clone()
}

// Tombstones returns the slots in [0, count) that have no mapping.
func (m *SlotMap) Tombstones(count int) *roaring.Bitmap {
	all := roaring.New()
	if count <= 0 {
		return all
	}
	all.AddRange(0, uint64(count))
	m.mu.RLock()
	all.AndNot(m.live)
	m.mu.RUnlock()
	return all
}

// WriteTo writes the table as JSON.
func (m *SlotMap) WriteTo(w io.Writer) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cw := &countingWriter{w: w}
	err := encode(cw, m.forward)
	return cw.n, err
}

// Batch stages mutations for SlotMap.Batch.
type Batch struct {
	forward map[int]string
	reverse map[string]int
	stale   map[string][]int
	live    *roaring.Bitmap
	dirty   bool
}

// Put maps slot to id. Any slot id held before, stale duplicates included,
// loses its mapping; the newest of those is returned as previous.
func (b *Batch) Put(slot int, id string) (previous int, replaced bool, err error) {
	if slot < 0 {
		return 0, false, errs.Invalid("slot must be non-negative, got %d", slot)
	}
	if id == "" {
		return 0, false, errs.Invalid("chunk id must not be empty")
	}
	if existing, ok := b.forward[slot]; ok {
		if existing == id && b.reverse[id] == slot && len(b.stale[id]) == 0 {
			return 0, false, nil
		}
		if existing != id {
			return 0, false, fmt.Errorf("slot %d already mapped to %q", slot, existing)
		}
	}
	if old, ok := b.reverse[id]; ok && old != slot {
		previous, replaced = old, true
	}
	b.RemoveID(id)
	b.forward[slot] = id
	b.reverse[id] = slot
	b.live.Add(uint32(slot))
	b.dirty = true
	return previous, replaced, nil
}

// RemoveBySlot drops the mapping at slot. If the slot was the live slot of
// an id with stale duplicates, the newest duplicate becomes live.
func (b *Batch) RemoveBySlot(slot int) (string, bool) {
	id, ok := b.forward[slot]
	if !ok {
		return "", false
	}
	b.unmap(slot)
	if b.reverse[id] == slot {
		delete(b.reverse, id)
		if dups := b.stale[id]; len(dups) > 0 {
			b.reverse[id] = dups[len(dups)-1]
			b.setStale(id, dups[:len(dups)-1])
		}
	} else {
		b.setStale(id, without(b.stale[id], slot))
	}
	return id, true
}

// RemoveID drops every slot mapped to id.
func (b *Batch) RemoveID(id string) []int {
	var removed []int
	if slot, ok := b.reverse[id]; ok {
		b.unmap(slot)
		delete(b.reverse, id)
		removed = append(removed, slot)
	}
	for _, slot := range b.stale[id] {
		b.unmap(slot)
		removed = append(removed, slot)
	}
	delete(b.stale, id)
	sort.Ints(removed)
	return removed
}

// Resolve looks up slot in the staged state.
func (b *Batch) Resolve(slot int) (string, bool) {
	id, ok := b.forward[slot]
	return id, ok
}

// FindSlotFor looks up id in the staged state.
func (b *Batch) FindSlotFor(id string) (int, bool) {
	slot, ok := b.reverse[id]
	return slot, ok
}

func (b *Batch) unmap(slot int) {
	delete(b.forward, slot)
	b.live.Remove(uint32(slot))
	b.dirty = true
}

func (b *Batch) setStale(id string, slots []int) {
	if len(slots) == 0 {
		delete(b.stale, id)
		return
	}
	b.stale[id] = slots
}

func without(slots []int, slot int) []int {
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		if s != slot {
			out = append(out, s)
		}
	}
	return out
}

func encode(w io.Writer, forward map[int]string) error {
	raw := make(map[string]string, len(forward))
	for slot, id := range forward {
		raw[strconv.Itoa(slot)] = id
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}

func cloneForward(in map[int]string) map[int]string {
	out := make(map[int]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneReverse(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStale(in map[string][]int) map[string][]int {
	out := make(map[string][]int, len(in))
	for k, v := range in {
		out[k] = append([]int(nil), v...)
	}
	return out
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
