package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/archive"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// maxParallelLoads bounds how many stores Load opens at once.
const maxParallelLoads = 4

var storeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Registry owns every open bundle and the catalogue that lists them. Each
// store lives in dataDir/<id>.
type Registry struct {
	dataDir    string
	catalog    storage.Catalog
	logger     *zap.Logger
	overfetch  int
	dimensions func(model string) (int, error)

	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger passed to every bundle.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSearchOverfetch sets the search candidate multiplier for every bundle.
func WithSearchOverfetch(n int) RegistryOption {
	return func(r *Registry) { r.overfetch = n }
}

// WithModelDimensions lets Import reject an archive whose vectors do not
// match the dimension of the model it is imported under.
func WithModelDimensions(fn func(model string) (int, error)) RegistryOption {
	return func(r *Registry) { r.dimensions = fn }
}

// NewRegistry returns an empty registry. Call Load to open catalogued stores.
func NewRegistry(dataDir string, catalog storage.Catalog, opts ...RegistryOption) *Registry {
	r := &Registry{
		dataDir: dataDir,
		catalog: catalog,
		logger:  zap.NewNop(),
		bundles: make(map[string]*Bundle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) bundleOptions(info *models.StoreInfo) []Option {
	opts := []Option{
		WithLogger(r.logger),
		WithCatalog(r.catalog),
		WithModel(info.Model),
	}
	if r.overfetch > 0 {
		opts = append(opts, WithOverfetch(r.overfetch))
	}
	if info.Default {
		opts = append(opts, AsDefault())
	}
	return opts
}

// Load opens every catalogued store, creating the default store on first run.
func (r *Registry) Load(ctx context.Context) error {
	if _, err := r.catalog.GetStore(ctx, config.DefaultStoreID); errors.Is(err, errs.ErrNotFound) {
		info := &models.StoreInfo{ID: config.DefaultStoreID, Dir: filepath.Join(r.dataDir, config.DefaultStoreID), Default: true}
		if err := r.catalog.CreateStore(ctx, info); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up default store: %w", err)
	}

	infos, err := r.catalog.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stores: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	var mu sync.Mutex
	loaded := make(map[string]*Bundle, len(infos))
	for _, info := range infos {
		g.Go(func() error {
			b, err := Open(info.ID, info.Dir, r.bundleOptions(info)...)
			if err != nil {
				return err
			}
			mu.Lock()
			loaded[info.ID] = b
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, b := range loaded {
			_ = b.Close()
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range loaded {
		if old, ok := r.bundles[id]; ok {
			_ = old.Close()
		}
		r.bundles[id] = b
	}
	r.logger.Info("stores loaded", zap.Int("count", len(loaded)))
	return nil
}

// Get returns the open store id. An empty id selects the default store.
func (r *Registry) Get(id string) (*Bundle, error) {
	if id == "" {
		id = config.DefaultStoreID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[id]
	if !ok {
		return nil, errs.NotFound("store", id)
	}
	return b, nil
}

// Default returns the default store.
func (r *Registry) Default() (*Bundle, error) {
	return r.Get(config.DefaultStoreID)
}

// Create registers a new empty store. An empty id generates a UUID.
func (r *Registry) Create(ctx context.Context, id, model string) (*Bundle, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !storeIDPattern.MatchString(id) {
		return nil, errs.Invalid("invalid store id %q", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bundles[id]; ok {
		return nil, errs.Invalid("store %q already exists", id)
	}
	info := &models.StoreInfo{ID: id, Model: model, Dir: filepath.Join(r.dataDir, id)}
	if err := r.catalog.CreateStore(ctx, info); err != nil {
		return nil, err
	}
	b, err := Open(id, info.Dir, r.bundleOptions(info)...)
	if err != nil {
		_ = r.catalog.DeleteStore(ctx, id)
		return nil, err
	}
	r.bundles[id] = b
	r.logger.Info("store created", zap.String("store", id), zap.String("model", model))
	return b, nil
}

// Import registers an archive as a new store under a generated UUID. An empty
// model takes the model named by the archive's records; any other model must
// match it.
func (r *Registry) Import(ctx context.Context, c *archive.Contents, model string) (*Bundle, error) {
	model, err := r.archiveModel(c, model)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(r.dataDir, id)
	if err := c.Unpack(dir); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info := &models.StoreInfo{ID: id, Model: model, Dir: dir}
	if err := r.catalog.CreateStore(ctx, info); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	b, err := Open(id, dir, r.bundleOptions(info)...)
	if err != nil {
		_ = r.catalog.DeleteStore(ctx, id)
		_ = os.RemoveAll(dir)
		return nil, err
	}
	r.bundles[id] = b
	r.logger.Info("store imported",
		zap.String("store", id),
		zap.String("model", model),
		zap.Int("vectors", c.Arena.Len()),
		zap.Int("records", c.Records.Count()))
	return b, nil
}

// Ephemeral wraps an archive as an in-memory bundle that is never catalogued.
func (r *Registry) Ephemeral(c *archive.Contents, model string) (*Bundle, error) {
	model, err := r.archiveModel(c, model)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithLogger(r.logger), WithModel(model)}
	if r.overfetch > 0 {
		opts = append(opts, WithOverfetch(r.overfetch))
	}
	return FromContents("ephemeral-"+uuid.NewString(), c, opts...), nil
}

// archiveModel resolves the model an archive is opened under and checks it
// against the archive's records and vector dimension.
func (r *Registry) archiveModel(c *archive.Contents, model string) (string, error) {
	recorded := c.Model()
	switch {
	case model == "":
		model = recorded
	case recorded != "" && model != recorded:
		return "", &errs.ModelMismatchError{Bound: recorded, Requested: model}
	}
	if err := r.checkDimension(model, c.Arena.Dimension()); err != nil {
		return "", err
	}
	return model, nil
}

func (r *Registry) checkDimension(model string, dim int) error {
	if r.dimensions == nil || model == "" || dim == 0 {
		return nil
	}
	want, err := r.dimensions(model)
	if err != nil {
		return err
	}
	if want != dim {
		return &errs.DimensionMismatchError{Expected: want, Actual: dim}
	}
	return nil
}

// List returns the catalogued stores.
func (r *Registry) List(ctx context.Context) ([]*models.StoreInfo, error) {
	return r.catalog.ListStores(ctx)
}

// Remove closes a store, deletes its directory and drops it from the
// catalogue. The default store cannot be removed; reset it instead.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if id == "" || id == config.DefaultStoreID {
		return errs.Invalid("the default store cannot be removed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bundles[id]
	if !ok {
		return errs.NotFound("store", id)
	}
	if err := b.Close(); err != nil {
		r.logger.Warn("close store before removal", zap.String("store", id), zap.Error(err))
	}
	delete(r.bundles, id)
	if err := os.RemoveAll(b.Dir()); err != nil {
		return errs.Persistence("remove store", b.Dir(), err)
	}
	if err := r.catalog.DeleteStore(ctx, id); err != nil {
		return err
	}
	r.logger.Info("store removed", zap.String("store", id))
	return nil
}

// Status summarises every open store.
func (r *Registry) Status(ctx context.Context) (*models.Status, error) {
	n, err := r.catalog.CountStores(ctx)
	if err != nil {
		return nil, err
	}
	st := &models.Status{Stores: int(n)}
	r.mu.RLock()
	for _, b := range r.bundles {
		h := b.Health()
		st.TotalChunks += h.RecordCount
		st.TotalVectors += h.VectorCount
	}
	r.mu.RUnlock()
	usage, err := storage.DiskUsageBytes(r.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to measure disk usage: %w", err)
	}
	st.DiskUsageBytes = usage
	return st, nil
}

// Close closes every open store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for id, b := range r.bundles {
		if err := b.Close(); err != nil && first == nil {
			first = fmt.Errorf("close store %s: %w", id, err)
		}
		delete(r.bundles, id)
	}
	return first
}
