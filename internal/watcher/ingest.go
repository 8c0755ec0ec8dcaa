package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/bundle"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
)

// BundleHandler ingests watched files into one store. A file's document
// name is its base name, so re-ingesting a changed file replaces its chunks.
type BundleHandler struct {
	indexer *indexer.Indexer
	bundles *bundle.Registry
	store   string
	logger  *zap.Logger
}

// NewBundleHandler returns a handler writing into store ("" for the default).
func NewBundleHandler(idx *indexer.Indexer, bundles *bundle.Registry, store string, logger *zap.Logger) *BundleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleHandler{indexer: idx, bundles: bundles, store: store, logger: logger}
}

// Ingest reads path and ingests it.
func (h *BundleHandler) Ingest(ctx context.Context, path string) error {
	b, err := h.bundles.Get(h.store)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	res, err := h.indexer.Ingest(ctx, b, models.IngestRequest{Filename: path, Content: content})
	if err != nil {
		return err
	}
	h.logger.Info("ingested dropped file", zap.String("path", path), zap.String("store", b.ID()), zap.Int("chunks", len(res.ChunkIDs)))
	return nil
}

// Remove deletes every chunk of the file's document.
func (h *BundleHandler) Remove(ctx context.Context, path string) error {
	b, err := h.bundles.Get(h.store)
	if err != nil {
		return err
	}
	n, err := h.indexer.DeleteDocument(ctx, b, filepath.Base(path))
	if err != nil {
		return err
	}
	h.logger.Info("dropped removed file", zap.String("path", path), zap.String("store", b.ID()), zap.Int("chunks", n))
	return nil
}
