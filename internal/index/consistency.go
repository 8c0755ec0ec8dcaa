package index

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/slotmap"
	"github.com/hyperjump/kioku/internal/vector"
)

// DefaultReattachTolerance is the largest squared L2 distance at which a
// re-embedded record is accepted as the owner of a tombstoned vector.
const DefaultReattachTolerance = 1e-4

// EmbedFunc re-embeds the records with the given ids, in order.
type EmbedFunc func(ctx context.Context, ids []string) ([][]float32, error)

// ReconcileOptions configures Reconcile.
type ReconcileOptions struct {
	Records Records
	// Embed, when set, lets reconcile prove which tombstoned vector belongs
	// to a record that lost its mapping by re-embedding the record text.
	Embed EmbedFunc
	// Reappend appends a fresh vector for records that still have no
	// vector after reattachment. Requires Embed.
	Reappend  bool
	Tolerance float32
}

// Health is the cardinality pre-check. Live vectors (stored vectors minus
// tombstones), mappings and records must all agree for Consistent to hold;
// with no tombstones that is exactly vector_count == mapping_count ==
// record_count.
func (m *Manager) Health(recordCount int) models.Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthLocked(recordCount)
}

func (m *Manager) healthLocked(recordCount int) models.Health {
	count := m.arena.Len()
	mappings := m.slots.Len()
	tombstones := int(m.slots.Tombstones(count).GetCardinality())
	live := count - tombstones
	return models.Health{
		VectorCount:  count,
		MappingCount: mappings,
		RecordCount:  recordCount,
		Tombstones:   tombstones,
		Dimension:    m.arena.Dimension(),
		Consistent:   live == mappings && mappings == recordCount,
	}
}

// Verify checks per-id agreement between the slot map and records on top
// of the cardinality check.
func (m *Manager) Verify(records Records) models.VerifyReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.arena.Len()
	report := models.VerifyReport{Health: m.healthLocked(records.Count())}

	for _, id := range records.IDs() {
		if _, ok := m.slots.FindSlotFor(id); !ok {
			report.RecordsWithoutMapping = append(report.RecordsWithoutMapping, id)
		}
	}
	dangling := make(map[string]struct{})
	for _, e := range m.slots.Entries() {
		if e.Slot >= count {
			report.OutOfRangeSlots = append(report.OutOfRangeSlots, e.Slot)
		}
		if !records.Has(e.ChunkID) {
			dangling[e.ChunkID] = struct{}{}
		}
	}
	report.MappingsWithoutRecord = sortedKeys(dangling)
	dups := make(map[string]struct{})
	for _, e := range m.slots.Stale() {
		dups[e.ChunkID] = struct{}{}
	}
	report.DuplicateMappings = sortedKeys(dups)

	report.OK = report.Consistent &&
		len(report.RecordsWithoutMapping) == 0 &&
		len(report.MappingsWithoutRecord) == 0 &&
		len(report.DuplicateMappings) == 0 &&
		len(report.OutOfRangeSlots) == 0
	return report
}

// Reconcile repairs drift between the slot map and the records. It never
// infers identity from ordering: a vector is only re-attached to a record
// when re-embedding that record reproduces the stored vector. Mappings are
// dropped when their slot is past the arena end, when a newer slot holds
// the same id, or when the id has no record. Records whose vector cannot be
// proven are listed as unattributable unless Reappend is set.
func (m *Manager) Reconcile(ctx context.Context, opts ReconcileOptions) (*models.ReconcileReport, error) {
	if opts.Records == nil {
		return nil, errs.Invalid("reconcile needs a record store")
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultReattachTolerance
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	report := &models.ReconcileReport{}
	count := m.arena.Len()
	entries := m.slots.Entries()
	stale := m.slots.Stale()

	err := m.slots.Batch(func(b *slotmap.Batch) error {
		for _, e := range entries {
			if e.Slot >= count {
				if _, ok := b.RemoveBySlot(e.Slot); ok {
					report.DroppedOutOfRange = append(report.DroppedOutOfRange, e.Slot)
				}
			}
		}
		for _, e := range stale {
			id, ok := b.Resolve(e.Slot)
			if !ok {
				continue
			}
			if live, _ := b.FindSlotFor(id); live != e.Slot {
				b.RemoveBySlot(e.Slot)
				report.DroppedDuplicates = append(report.DroppedDuplicates, e.Slot)
			}
		}
		seen := make(map[string]struct{})
		for _, e := range entries {
			if _, done := seen[e.ChunkID]; done || opts.Records.Has(e.ChunkID) {
				continue
			}
			seen[e.ChunkID] = struct{}{}
			if len(b.RemoveID(e.ChunkID)) > 0 {
				report.DroppedDangling = append(report.DroppedDangling, e.ChunkID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range opts.Records.IDs() {
		if _, ok := m.slots.FindSlotFor(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && opts.Embed != nil {
		missing, err = m.reattachLocked(ctx, missing, opts, report)
		if err != nil {
			return nil, err
		}
	}
	report.Unattributable = missing

	report.Repaired = len(report.DroppedOutOfRange) + len(report.DroppedDuplicates) +
		len(report.DroppedDangling) + len(report.Reattached) + len(report.Reappended)
	report.Health = m.healthLocked(opts.Records.Count())
	report.Tombstones = report.Health.Tombstones

	m.logger.Info("reconciled index",
		zap.Int("repaired", report.Repaired),
		zap.Int("unattributable", len(report.Unattributable)),
		zap.Int("tombstones", report.Tombstones))
	return report, nil
}

// reattachLocked re-embeds missing records and maps each to the closest
// tombstoned vector within tolerance. It returns the ids still missing.
func (m *Manager) reattachLocked(ctx context.Context, missing []string, opts ReconcileOptions, report *models.ReconcileReport) ([]string, error) {
	vecs, err := opts.Embed(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to re-embed records: %w", err)
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("re-embed returned %d vectors for %d records", len(vecs), len(missing))
	}
	dim := m.arena.Dimension()
	for _, v := range vecs {
		if dim != 0 && len(v) != dim {
			return nil, &errs.DimensionMismatchError{Expected: dim, Actual: len(v)}
		}
	}

	tombstones := m.slots.Tombstones(m.arena.Len()).ToArray()
	stored := make(map[int][]float32, len(tombstones))
	for _, t := range tombstones {
		v, err := m.arena.Vector(int(t))
		if err != nil {
			return nil, err
		}
		stored[int(t)] = v
	}

	claims := make(map[int]string)
	var still []string
	for i, id := range missing {
		best, bestDist := -1, opts.Tolerance
		for _, t := range tombstones {
			slot := int(t)
			if _, taken := claims[slot]; taken {
				continue
			}
			if d := vector.SquaredL2(vecs[i], stored[slot]); d <= bestDist {
				best, bestDist = slot, d
			}
		}
		if best < 0 {
			still = append(still, id)
			continue
		}
		claims[best] = id
	}

	if len(claims) > 0 {
		err := m.slots.Batch(func(b *slotmap.Batch) error {
			for slot, id := range claims {
				if _, _, err := b.Put(slot, id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		owners := make(map[string]struct{}, len(claims))
		for _, id := range claims {
			owners[id] = struct{}{}
		}
		for _, id := range missing {
			if _, ok := owners[id]; ok {
				report.Reattached = append(report.Reattached, id)
			}
		}
	}

	if !opts.Reappend {
		return still, nil
	}
	index := make(map[string]int, len(missing))
	for i, id := range missing {
		index[id] = i
	}
	for _, id := range still {
		if _, err := m.addLocked(vecs[index[id]], id); err != nil {
			return nil, err
		}
		report.Reappended = append(report.Reappended, id)
	}
	return nil, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
