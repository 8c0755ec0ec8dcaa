// Package index binds the vector arena to the slot map. The Manager owns the
// dimension lock, deduplicated search, update/delete through the slot map,
// and the health, verify and reconcile checks.
package index

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/slotmap"
	"github.com/hyperjump/kioku/internal/vector"
)

// File names inside a bundle directory.
const (
	VectorsFile = "index.vec"
	MappingFile = "index.mapping.json"
)

// DefaultOverfetch is the candidate multiplier applied to k in Search.
const DefaultOverfetch = 3

// Hit is one search result: a chunk id, the slot it was found at, and the
// raw squared L2 distance.
type Hit struct {
	ChunkID  string
	Slot     int
	Distance float32
}

// Records is the view of a record store that health, verify and reconcile need.
type Records interface {
	Has(id string) bool
	IDs() []string
	Count() int
}

// Manager orchestrates one arena and one slot map.
type Manager struct {
	mu        sync.RWMutex
	dir       string
	arena     *vector.Arena
	slots     *slotmap.SlotMap
	overfetch int
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOverfetch sets the candidate multiplier used by Search.
func WithOverfetch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.overfetch = n
		}
	}
}

// Open loads (or starts) the persisted index in dir.
func Open(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	arena, err := vector.Open(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, err
	}
	slots, err := slotmap.Open(filepath.Join(dir, MappingFile))
	if err != nil {
		_ = arena.Close()
		return nil, err
	}
	m := newManager(arena, slots, opts)
	m.dir = dir
	return m, nil
}

// NewEphemeral wraps an in-memory arena and slot map. Nothing is persisted.
func NewEphemeral(arena *vector.Arena, slots *slotmap.SlotMap, opts ...Option) *Manager {
	if arena == nil {
		arena = vector.NewArena()
	}
	if slots == nil {
		slots = slotmap.New()
	}
	return newManager(arena, slots, opts)
}

func newManager(arena *vector.Arena, slots *slotmap.SlotMap, opts []Option) *Manager {
	m := &Manager{
		arena:     arena,
		slots:     slots,
		overfetch: DefaultOverfetch,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the bundle directory, or "" for an ephemeral manager.
func (m *Manager) Dir() string {
	return m.dir
}

// Dimension returns the bound dimension, 0 when unbound.
func (m *Manager) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena.Dimension()
}

// Len returns the number of stored vectors, tombstones included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena.Len()
}

// MappingCount returns the number of slot map entries.
func (m *Manager) MappingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots.Len()
}

// FindSlot returns the live slot of id.
func (m *Manager) FindSlot(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots.FindSlotFor(id)
}

// Resolve returns the chunk id mapped at slot.
func (m *Manager) Resolve(slot int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots.Resolve(slot)
}

// CheckDimension reports whether vectors of length dim can be added.
func (m *Manager) CheckDimension(dim int) error {
	m.mu.RLock()
	bound := m.arena.Dimension()
	m.mu.RUnlock()
	if dim <= 0 {
		return errs.Invalid("vector dimension must be positive, got %d", dim)
	}
	if bound != 0 && bound != dim {
		return &errs.DimensionMismatchError{Expected: bound, Actual: dim}
	}
	return nil
}

// AddVector appends vec and maps its new slot to id. If id already had a
// live slot, that mapping is dropped in the same write so id keeps exactly
// one slot.
func (m *Manager) AddVector(vec []float32, id string) (int, error) {
	if id == "" {
		return 0, errs.Invalid("chunk id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(vec, id)
}

func (m *Manager) addLocked(vec []float32, id string) (int, error) {
	slot, err := m.arena.Append(vec)
	if err != nil {
		return 0, err
	}
	prev, replaced, err := m.slots.Put(slot, id)
	if err != nil {
		m.logger.Warn("vector appended but mapping not persisted; slot left as tombstone",
			zap.Int("slot", slot), zap.String("chunk_id", id), zap.Error(err))
		return 0, err
	}
	if replaced {
		m.logger.Debug("superseded slot", zap.String("chunk_id", id), zap.Int("old_slot", prev), zap.Int("slot", slot))
	}
	return slot, nil
}

// ReplaceVectors appends vecs and, in one slot map write, drops every mapping
// of remove and maps ids to the new slots. If any step fails no mapping
// changes; rows appended before the failure stay as tombstones.
func (m *Manager) ReplaceVectors(remove, ids []string, vecs [][]float32) ([]int, error) {
	if len(ids) != len(vecs) {
		return nil, fmt.Errorf("replace vectors: %d ids for %d vectors", len(ids), len(vecs))
	}
	for _, id := range ids {
		if id == "" {
			return nil, errs.Invalid("chunk id must not be empty")
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := make([]int, len(vecs))
	for i, v := range vecs {
		slot, err := m.arena.Append(v)
		if err != nil {
			if i > 0 {
				m.logger.Warn("replace aborted; appended rows left as tombstones", zap.Int("rows", i), zap.Error(err))
			}
			return nil, err
		}
		slots[i] = slot
	}
	err := m.slots.Batch(func(b *slotmap.Batch) error {
		for _, id := range remove {
			b.RemoveID(id)
		}
		for i, id := range ids {
			if _, _, err := b.Put(slots[i], id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("mapping not persisted; appended rows left as tombstones", zap.Int("rows", len(slots)), zap.Error(err))
		return nil, err
	}
	return slots, nil
}

// Search returns up to k distinct chunk ids nearest to query. It fetches
// min(overfetch*k, count) candidates, skips slots without a mapping, and
// keeps only the nearest slot per chunk id.
func (m *Manager) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, errs.Invalid("k must be positive, got %d", k)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.arena.Len()
	if count == 0 {
		return nil, errs.ErrEmptyIndex
	}
	limit := count
	if k < count {
		limit = min(k*m.overfetch, count)
	}
	candidates, err := m.arena.KNN(query, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, k)
	seen := make(map[string]struct{}, k)
	for _, c := range candidates {
		id, ok := m.slots.Resolve(c.Slot)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		hits = append(hits, Hit{ChunkID: id, Slot: c.Slot, Distance: c.Distance})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// UpdateVector appends vec as the new vector of id and drops the old slot's
// mapping. The old vector stays in the arena as a tombstone.
func (m *Manager) UpdateVector(id string, vec []float32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots.FindSlotFor(id); !ok {
		return 0, errs.NotFound("chunk", id)
	}
	return m.addLocked(vec, id)
}

// DeleteVector drops every mapping of id. It reports whether anything was
// mapped; deleting an unknown id is not an error.
func (m *Manager) DeleteVector(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed, err := m.slots.RemoveID(id)
	if err != nil {
		return false, err
	}
	if len(removed) > 0 {
		m.logger.Debug("deleted mapping", zap.String("chunk_id", id), zap.Ints("slots", removed))
	}
	return len(removed) > 0, nil
}

// WriteVectors writes the arena in its persisted form.
func (m *Manager) WriteVectors(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.arena.WriteTo(w)
	return err
}

// WriteMapping writes the slot map table.
func (m *Manager) WriteMapping(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.slots.WriteTo(w)
	return err
}

// Reset discards every vector and mapping and unbinds the dimension.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dir == "" {
		m.arena = vector.NewArena()
		m.slots = slotmap.New()
		return nil
	}
	_ = m.arena.Close()
	for _, name := range []string{VectorsFile, MappingFile} {
		path := filepath.Join(m.dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errs.Persistence("remove", path, err)
		}
	}
	arena, err := vector.Open(filepath.Join(m.dir, VectorsFile))
	if err != nil {
		return err
	}
	slots, err := slotmap.Open(filepath.Join(m.dir, MappingFile))
	if err != nil {
		return err
	}
	m.arena, m.slots = arena, slots
	m.logger.Info("index reset", zap.String("dir", m.dir))
	return nil
}

// Close releases the arena's file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.Close()
}
