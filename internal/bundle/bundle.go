// Package bundle groups one vector index and one record table under a store
// id and a single embedding model, and keeps the catalogue of stores.
package bundle

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/archive"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/index"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// EmbedTexts embeds texts with the named model.
type EmbedTexts func(ctx context.Context, model string, texts []string) ([][]float32, error)

// Bundle is one store: {id, model, index, records}. Mutations go through
// Update, which holds the bundle's write lock; queries go through View.
type Bundle struct {
	id        string
	dir       string
	isDefault bool

	mu      sync.RWMutex
	model   string
	manager *index.Manager
	records storage.RecordStore
	catalog storage.Catalog
	logger  *zap.Logger
}

// Option configures a Bundle.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	catalog   storage.Catalog
	model     string
	overfetch int
	isDefault bool
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCatalog records model bindings in c.
func WithCatalog(c storage.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithModel sets the bound model. When empty the model is taken from the records.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithOverfetch sets the search candidate multiplier.
func WithOverfetch(n int) Option {
	return func(o *options) { o.overfetch = n }
}

// AsDefault marks the bundle as the default store.
func AsDefault() Option {
	return func(o *options) { o.isDefault = true }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), overfetch: index.DefaultOverfetch}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open loads the store persisted in dir.
func Open(id, dir string, opts ...Option) (*Bundle, error) {
	o := buildOptions(opts)
	manager, err := index.Open(dir, index.WithLogger(o.logger), index.WithOverfetch(o.overfetch))
	if err != nil {
		return nil, fmt.Errorf("failed to open index for store %s: %w", id, err)
	}
	records, err := storage.OpenRecordTable(filepath.Join(dir, storage.RecordsFile))
	if err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("failed to open records for store %s: %w", id, err)
	}
	return newBundle(id, dir, manager, records, o), nil
}

// FromContents wraps a parsed archive as an ephemeral bundle. Mutations stay
// in memory and nothing is catalogued.
func FromContents(id string, c *archive.Contents, opts ...Option) *Bundle {
	o := buildOptions(opts)
	o.catalog = nil
	if o.model == "" {
		o.model = c.Model()
	}
	manager := index.NewEphemeral(c.Arena, c.Slots, index.WithLogger(o.logger), index.WithOverfetch(o.overfetch))
	return newBundle(id, "", manager, c.Records, o)
}

func newBundle(id, dir string, manager *index.Manager, records storage.RecordStore, o options) *Bundle {
	b := &Bundle{
		id:        id,
		dir:       dir,
		isDefault: o.isDefault,
		model:     o.model,
		manager:   manager,
		records:   records,
		catalog:   o.catalog,
		logger:    o.logger.With(zap.String("store", id)),
	}
	if recorded := recordModel(records); recorded != "" && recorded != b.model {
		if b.model != "" {
			b.logger.Warn("catalogued model differs from recorded chunks; using the recorded model",
				zap.String("catalogued", b.model), zap.String("recorded", recorded))
		}
		b.model = recorded
	}
	return b
}

// recordModel returns the model of the first record in id order.
func recordModel(records storage.RecordStore) string {
	var model string
	records.Each(func(_ string, rec models.ChunkRecord) bool {
		model = rec.Model
		return model == ""
	})
	return model
}

// ID returns the store id.
func (b *Bundle) ID() string { return b.id }

// Dir returns the store directory, "" when ephemeral.
func (b *Bundle) Dir() string { return b.dir }

// IsDefault reports whether this is the default store.
func (b *Bundle) IsDefault() bool { return b.isDefault }

// Ephemeral reports whether the bundle lives only in memory.
func (b *Bundle) Ephemeral() bool { return b.dir == "" }

// Model returns the bound embedding model, "" when unbound.
func (b *Bundle) Model() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// Tx is the view of a bundle handed to View and Update callbacks.
type Tx struct {
	b        *Bundle
	writable bool
}

// Manager returns the bundle's index.
func (tx *Tx) Manager() *index.Manager { return tx.b.manager }

// Records returns the bundle's record table.
func (tx *Tx) Records() storage.RecordStore { return tx.b.records }

// Model returns the bound model.
func (tx *Tx) Model() string { return tx.b.model }

// StoreID returns the bundle's store id.
func (tx *Tx) StoreID() string { return tx.b.id }

// CheckModel returns *errs.ModelMismatchError when model differs from the
// model of the bundle's chunks. A bundle without chunks accepts any model.
func (tx *Tx) CheckModel(model string) error {
	if tx.b.records.Count() == 0 {
		return nil
	}
	bound := recordModel(tx.b.records)
	if bound == "" {
		bound = tx.b.model
	}
	if bound != "" && model != bound {
		return &errs.ModelMismatchError{Bound: bound, Requested: model}
	}
	return nil
}

// BindModel binds model to the bundle and records it in the catalogue. A
// bundle that holds chunks keeps its model.
func (tx *Tx) BindModel(ctx context.Context, model string) error {
	if !tx.writable {
		return fmt.Errorf("bind model: bundle %s is held read-only", tx.b.id)
	}
	if err := tx.CheckModel(model); err != nil {
		return err
	}
	if tx.b.model == model {
		return nil
	}
	if tx.b.catalog != nil {
		if err := tx.b.catalog.SetStoreModel(ctx, tx.b.id, model); err != nil {
			return fmt.Errorf("failed to record model for store %s: %w", tx.b.id, err)
		}
	}
	tx.b.model = model
	tx.b.logger.Info("store bound to model", zap.String("model", model))
	return nil
}

// View runs fn under the bundle's read lock.
func (b *Bundle) View(fn func(tx *Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fn(&Tx{b: b})
}

// Update runs fn under the bundle's write lock.
func (b *Bundle) Update(fn func(tx *Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(&Tx{b: b, writable: true})
}

// Health returns the cardinality check.
func (b *Bundle) Health() models.Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.manager.Health(b.records.Count())
	h.StoreID = b.id
	return h
}

// Verify returns the per-id agreement report.
func (b *Bundle) Verify() models.VerifyReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := b.manager.Verify(b.records)
	r.StoreID = b.id
	return r
}

// Reconcile repairs the slot map against the records. With embed set,
// records that lost their mapping are re-embedded with the bundle's model
// to find their tombstoned vector, and with reappend they get a fresh one
// when none matches.
func (b *Bundle) Reconcile(ctx context.Context, embed EmbedTexts, reappend bool) (*models.ReconcileReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := index.ReconcileOptions{Records: b.records, Reappend: reappend && embed != nil}
	if embed != nil && b.model != "" {
		model := b.model
		opts.Embed = func(ctx context.Context, ids []string) ([][]float32, error) {
			texts := make([]string, len(ids))
			for i, id := range ids {
				rec, err := b.records.Get(id)
				if err != nil {
					return nil, err
				}
				texts[i] = rec.Text
			}
			return embed(ctx, model, texts)
		}
	} else {
		opts.Reappend = false
	}
	report, err := b.manager.Reconcile(ctx, opts)
	if err != nil {
		return nil, err
	}
	report.StoreID = b.id
	report.Health.StoreID = b.id
	if report.Repaired > 0 {
		b.logger.Info("store reconciled",
			zap.Int("repaired", report.Repaired),
			zap.Int("reattached", len(report.Reattached)),
			zap.Int("unattributable", len(report.Unattributable)))
	}
	return report, nil
}

// Reset wipes the vectors, mapping and records and unbinds the model.
func (b *Bundle) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.manager.Reset(); err != nil {
		return err
	}
	if err := b.records.Clear(); err != nil {
		return err
	}
	if b.catalog != nil {
		if err := b.catalog.SetStoreModel(ctx, b.id, ""); err != nil {
			return fmt.Errorf("failed to unbind model for store %s: %w", b.id, err)
		}
	}
	b.model = ""
	b.logger.Info("store reset")
	return nil
}

// WriteVectors writes index.vec.
func (b *Bundle) WriteVectors(w io.Writer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.manager.WriteVectors(w)
}

// WriteMapping writes index.mapping.json.
func (b *Bundle) WriteMapping(w io.Writer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.manager.WriteMapping(w)
}

// WriteRecords writes metadata.json.
func (b *Bundle) WriteRecords(w io.Writer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := b.records.WriteTo(w)
	return err
}

// Close releases the bundle's files.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.manager.Close()
	if cerr := b.records.Close(); err == nil {
		err = cerr
	}
	return err
}
