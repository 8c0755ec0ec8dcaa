package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// RecordsFile is the record table's file name inside a store directory.
const RecordsFile = "metadata.json"

// RecordTable is a RecordStore kept in memory and persisted as one JSON
// object (metadata.json). Each mutation rewrites the file through a temp
// file and rename. A table with no path is ephemeral.
type RecordTable struct {
	mu      sync.RWMutex
	path    string
	records map[string]models.ChunkRecord
}

// NewRecordTable returns an empty ephemeral table.
func NewRecordTable() *RecordTable {
	return &RecordTable{records: make(map[string]models.ChunkRecord)}
}

// OpenRecordTable loads the table at path, or starts an empty one bound to path.
func OpenRecordTable(path string) (*RecordTable, error) {
	t := NewRecordTable()
	t.path = path
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if len(data) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(data, &t.records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if t.records == nil {
		t.records = make(map[string]models.ChunkRecord)
	}
	return t, nil
}

// DecodeRecordTable parses a metadata.json table into an ephemeral table.
func DecodeRecordTable(data []byte) (*RecordTable, error) {
	t := NewRecordTable()
	if err := json.Unmarshal(data, &t.records); err != nil {
		return nil, err
	}
	if t.records == nil {
		t.records = make(map[string]models.ChunkRecord)
	}
	return t, nil
}

// Path returns the backing file, or "" for an ephemeral table.
func (t *RecordTable) Path() string {
	return t.path
}

// Put stores rec under id.
func (t *RecordTable) Put(id string, rec models.ChunkRecord) error {
	return t.PutMany(map[string]models.ChunkRecord{id: rec})
}

// PutMany stores all recs with one write.
func (t *RecordTable) PutMany(recs map[string]models.ChunkRecord) error {
	if len(recs) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.clone()
	for id, rec := range recs {
		if id == "" {
			return errs.Invalid("chunk id must not be empty")
		}
		next[id] = rec
	}
	return t.commit(next)
}

// Replace removes ids and stores recs with one write. An id in both keeps
// its record from recs.
func (t *RecordTable) Replace(remove []string, recs map[string]models.ChunkRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.clone()
	for _, id := range remove {
		delete(next, id)
	}
	for id, rec := range recs {
		if id == "" {
			return errs.Invalid("chunk id must not be empty")
		}
		next[id] = rec
	}
	return t.commit(next)
}

// Get returns the record for id, or an error matching errs.ErrNotFound.
func (t *RecordTable) Get(id string) (*models.ChunkRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok {
		return nil, errs.NotFound("chunk", id)
	}
	return &rec, nil
}

// Has reports whether id has a record.
func (t *RecordTable) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.records[id]
	return ok
}

// Remove deletes id. Removing an absent id is not an error.
func (t *RecordTable) Remove(id string) (bool, error) {
	n, err := t.RemoveMany([]string{id})
	return n > 0, err
}

// RemoveMany deletes ids with one write and returns how many existed.
func (t *RecordTable) RemoveMany(ids []string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.clone()
	removed := 0
	for _, id := range ids {
		if _, ok := next[id]; ok {
			delete(next, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := t.commit(next); err != nil {
		return 0, err
	}
	return removed, nil
}

// IDs returns every chunk id, sorted.
func (t *RecordTable) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedIDs()
}

// Count returns the number of records.
func (t *RecordTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Each visits records in id order until fn returns false.
func (t *RecordTable) Each(fn func(id string, rec models.ChunkRecord) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.sortedIDs() {
		if !fn(id, t.records[id]) {
			return
		}
	}
}

// WriteTo writes the table as JSON.
func (t *RecordTable) WriteTo(w io.Writer) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	data, err := marshalRecords(t.records)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Clear drops every record and removes the table's file.
func (t *RecordTable) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path != "" {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			return errs.Persistence("remove records", t.path, err)
		}
	}
	t.records = make(map[string]models.ChunkRecord)
	return nil
}

// Close is a no-op; every mutation is already on disk.
func (t *RecordTable) Close() error {
	return nil
}

func (t *RecordTable) commit(next map[string]models.ChunkRecord) error {
	if t.path != "" {
		err := utils.WriteFileAtomic(t.path, 0644, func(w io.Writer) error {
			data, err := marshalRecords(next)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		})
		if err != nil {
			return errs.Persistence("write records", t.path, err)
		}
	}
	t.records = next
	return nil
}

func (t *RecordTable) clone() map[string]models.ChunkRecord {
	out := make(map[string]models.ChunkRecord, len(t.records)+1)
	for k, v := range t.records {
		out[k] = v
	}
	return out
}

func (t *RecordTable) sortedIDs() []string {
	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func marshalRecords(records map[string]models.ChunkRecord) ([]byte, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	return append(data, '\n'), nil
}
