package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

// FallbackSuffix marks the id of hash vectors standing in for an ONNX model
// whose file could not be loaded.
const FallbackSuffix = "+hash"

// Registry maps model ids to embedders. Embedders are created lazily on first use.
type Registry struct {
	cfg       config.EmbeddingConfig
	logger    *zap.Logger
	mu        sync.Mutex
	embedders map[string]Embedder
	backends  map[string]string
	fallbacks map[string]bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for backend fallbacks.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry returns a registry for the configured models.
func NewRegistry(cfg config.EmbeddingConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:       cfg,
		logger:    zap.NewNop(),
		embedders: make(map[string]Embedder),
		backends:  make(map[string]string),
		fallbacks: make(map[string]bool),
	}
	r.cfg.Models = append([]config.ModelConfig(nil), cfg.Models...)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default returns the default model id.
func (r *Registry) Default() string {
	return r.cfg.DefaultModel
}

// Register installs an embedder for id, replacing any existing one.
func (r *Registry) Register(id string, e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.embedders[id]; ok && old != e {
		_ = old.Close()
	}
	r.embedders[id] = e
	delete(r.fallbacks, id)
	if _, ok := r.backends[id]; !ok {
		r.backends[id] = "custom"
	}
	if _, ok := r.cfg.Model(id); !ok {
		r.cfg.Models = append(r.cfg.Models, config.ModelConfig{ID: id, Backend: "custom", Dimensions: e.Dimensions()})
	}
}

// Get returns the embedder for model, creating it if needed. An empty model
// selects the default. Unknown models are an invalid argument.
func (r *Registry) Get(model string) (Embedder, error) {
	if model == "" {
		model = r.cfg.DefaultModel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.embedders[model]; ok {
		return e, nil
	}
	if base, ok := strings.CutSuffix(model, FallbackSuffix); ok {
		mc, ok := r.cfg.Model(base)
		if !ok {
			return nil, errs.Invalid("unknown embedding model %q", model)
		}
		e := NewCachedEmbedder(NewHashEmbedder(mc.Dimensions), r.cfg.CacheSize)
		r.embedders[model] = e
		r.backends[model] = config.BackendHash
		return e, nil
	}
	mc, ok := r.cfg.Model(model)
	if !ok {
		return nil, errs.Invalid("unknown embedding model %q", model)
	}
	e, backend, err := r.build(mc)
	if err != nil {
		return nil, err
	}
	r.embedders[model] = e
	r.backends[model] = backend
	return e, nil
}

// Resolve returns the id that vectors embedded with model are recorded
// under: model itself, or model+FallbackSuffix when its ONNX file could not
// be loaded and hash vectors stand in for it.
func (r *Registry) Resolve(model string) (string, error) {
	if model == "" {
		model = r.cfg.DefaultModel
	}
	if _, err := r.Get(model); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallbacks[model] {
		return model + FallbackSuffix, nil
	}
	return model, nil
}

func (r *Registry) build(mc config.ModelConfig) (Embedder, string, error) {
	var inner Embedder
	backend := mc.Backend
	switch mc.Backend {
	case config.BackendHash:
		inner = NewHashEmbedder(mc.Dimensions)
	case config.BackendHTTP:
		e, err := NewHTTPEmbedder(mc, nil)
		if err != nil {
			return nil, "", err
		}
		inner = e
	case config.BackendONNX, "":
		e, err := NewONNXEmbedder(mc.ModelPath, mc.Dimensions, mc.MaxTokens)
		if err != nil {
			r.logger.Warn("ONNX model unavailable, using hash embeddings",
				zap.String("model", mc.ID),
				zap.String("recorded_as", mc.ID+FallbackSuffix),
				zap.String("path", mc.ModelPath),
				zap.Error(err))
			inner = NewHashEmbedder(mc.Dimensions)
			backend = config.BackendHash
			r.fallbacks[mc.ID] = true
		} else {
			inner = e
		}
	default:
		return nil, "", fmt.Errorf("model %s: unknown backend %q", mc.ID, mc.Backend)
	}
	return NewCachedEmbedder(inner, r.cfg.CacheSize), backend, nil
}

// Embed embeds texts with model.
func (r *Registry) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	e, err := r.Get(model)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

// Dimensions returns the configured dimension of model without loading it.
func (r *Registry) Dimensions(model string) (int, error) {
	if model == "" {
		model = r.cfg.DefaultModel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.embedders[model]; ok {
		return e.Dimensions(), nil
	}
	mc, ok := r.cfg.Model(strings.TrimSuffix(model, FallbackSuffix))
	if !ok {
		return 0, errs.Invalid("unknown embedding model %q", model)
	}
	return mc.Dimensions, nil
}

// Models lists the configured models sorted by id.
func (r *Registry) Models() []models.ModelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ModelInfo, 0, len(r.cfg.Models))
	for _, mc := range r.cfg.Models {
		backend := mc.Backend
		if b, ok := r.backends[mc.ID]; ok {
			backend = b
		}
		out = append(out, models.ModelInfo{
			ID:         mc.ID,
			Dimensions: mc.Dimensions,
			Backend:    backend,
			Default:    mc.ID == r.cfg.DefaultModel,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close closes every loaded embedder.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for id, e := range r.embedders {
		if err := e.Close(); err != nil && first == nil {
			first = fmt.Errorf("close embedder %s: %w", id, err)
		}
		delete(r.embedders, id)
	}
	return first
}
