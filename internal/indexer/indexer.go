// Package indexer turns documents into chunks, embeds them, and writes them
// into a bundle: records first, then one vector per chunk.
package indexer

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/bundle"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Embedder embeds texts with a named model.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	// Resolve returns the id that vectors from model are recorded under.
	Resolve(model string) (string, error)
	Default() string
}

// Indexer ingests documents and edits chunks of a bundle.
type Indexer struct {
	embedder  Embedder
	extractor *extract.Extractor
	defaults  config.IngestConfig
	tracer    trace.Tracer
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// NewIndexer creates an indexer. defaults fills chunking parameters a
// request leaves unset.
func NewIndexer(embedder Embedder, extractor *extract.Extractor, defaults config.IngestConfig, opts ...IndexerOption) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		embedder:  embedder,
		extractor: extractor,
		defaults:  defaults,
		tracer:    otel.Tracer("github.com/hyperjump/kioku/internal/indexer"),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// EmbedTexts embeds texts the same way ingest does. It matches
// bundle.EmbedTexts so reconcile re-embeds records identically.
func (idx *Indexer) EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error) {
	in := make([]string, len(texts))
	for i, t := range texts {
		in[i] = Preprocess(t)
	}
	vecs, err := idx.embedder.Embed(ctx, model, in)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// resolveModel picks the request model, else the bundle's, else the default,
// and returns the id its vectors are recorded under.
func (idx *Indexer) resolveModel(b *bundle.Bundle, requested string) (string, error) {
	model := requested
	if model == "" {
		model = b.Model()
	}
	if model == "" {
		model = idx.embedder.Default()
	}
	return idx.embedder.Resolve(model)
}

func (idx *Indexer) checkModel(b *bundle.Bundle, model string) error {
	return b.View(func(tx *bundle.Tx) error { return tx.CheckModel(model) })
}

func (idx *Indexer) chunker(req models.IngestRequest) (*Chunker, error) {
	method, size, overlap := req.ChunkingMethod, req.ChunkSize, req.ChunkOverlap
	if method == "" {
		method = idx.defaults.ChunkingMethod
	}
	if size == 0 {
		size = idx.defaults.ChunkSize
	}
	if overlap == 0 && req.ChunkSize == 0 {
		overlap = idx.defaults.ChunkOverlap
	}
	return NewChunker(method, size, overlap)
}

// Ingest extracts, chunks and embeds req's document and adds every chunk to
// b under ids {document}_{sequence}. A model other than the bundle's fails
// with *errs.ModelMismatchError and a vector of the wrong length with
// *errs.DimensionMismatchError; in both cases nothing is written. Ingesting
// a document name that already has chunks replaces them.
func (idx *Indexer) Ingest(ctx context.Context, b *bundle.Bundle, req models.IngestRequest) (_ *models.IngestResult, err error) {
	document := filepath.Base(strings.TrimSpace(req.Filename))
	if document == "" || document == "." || document == string(filepath.Separator) {
		return nil, errs.Invalid("filename is required")
	}
	model, err := idx.resolveModel(b, req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := idx.tracer.Start(ctx, "indexer.Ingest", trace.WithAttributes(
		attribute.String("kioku.store", b.ID()),
		attribute.String("kioku.document", document),
		attribute.String("kioku.model", model),
	))
	defer func() { utils.EndSpan(span, err) }()

	if err := idx.checkModel(b, model); err != nil {
		return nil, err
	}
	chunker, err := idx.chunker(req)
	if err != nil {
		return nil, err
	}
	pages, err := idx.extractor.ExtractPages(req.Content, filepath.Ext(document))
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", document, err)
	}
	chunks := chunker.Chunk(pages)
	if len(chunks) == 0 {
		return nil, errs.Invalid("document %s contains no text", document)
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := idx.EmbedTexts(ctx, model, texts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("kioku.chunks", len(chunks)))

	ids := make([]string, len(chunks))
	recs := make(map[string]models.ChunkRecord, len(chunks))
	for i, ch := range chunks {
		ids[i] = fmt.Sprintf("%s_%d", document, i)
		recs[ids[i]] = models.ChunkRecord{
			Text:           ch.Text,
			Document:       document,
			Page:           ch.Page,
			StartIndex:     ch.StartIndex,
			Model:          model,
			ChunkingMethod: chunker.Method(),
		}
	}

	err = b.Update(func(tx *bundle.Tx) error {
		if err := tx.CheckModel(model); err != nil {
			return err
		}
		for _, v := range vecs {
			if err := tx.Manager().CheckDimension(len(v)); err != nil {
				return err
			}
		}
		old := documentChunks(tx.Records(), document)
		if err := tx.BindModel(ctx, model); err != nil {
			return err
		}
		if err := tx.Records().Replace(chunkIDs(old), recs); err != nil {
			return err
		}
		if _, err := tx.Manager().ReplaceVectors(chunkIDs(old), ids, vecs); err != nil {
			return idx.rollback(tx, ids, old, err)
		}
		if len(old) > 0 {
			idx.logger.Info("replaced document", zap.String("store", b.ID()), zap.String("document", document), zap.Int("old_chunks", len(old)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	idx.logger.Info("document ingested",
		zap.String("store", b.ID()),
		zap.String("document", document),
		zap.String("model", model),
		zap.String("chunking", chunker.Method()),
		zap.Int("chunks", len(ids)))
	return &models.IngestResult{StoreID: b.ID(), Document: document, Model: model, ChunkIDs: ids}, nil
}

// rollback puts back the records ids held before a write whose mapping step
// failed. Such a failure leaves the slot map untouched.
func (idx *Indexer) rollback(tx *bundle.Tx, ids []string, previous map[string]models.ChunkRecord, cause error) error {
	idx.logger.Warn("write failed, restoring records", zap.String("store", tx.StoreID()), zap.Error(cause))
	if err := tx.Records().Replace(ids, previous); err != nil {
		return fmt.Errorf("%w (rollback: %v)", cause, err)
	}
	return cause
}

// UpdateChunk replaces the text of chunk id, re-embeds it with the chunk's
// model, and moves its mapping to the new vector.
func (idx *Indexer) UpdateChunk(ctx context.Context, b *bundle.Bundle, id, newText string) (_ *models.ChunkRecord, err error) {
	if strings.TrimSpace(newText) == "" {
		return nil, errs.Invalid("new_text must not be empty")
	}
	ctx, span := idx.tracer.Start(ctx, "indexer.UpdateChunk", trace.WithAttributes(
		attribute.String("kioku.store", b.ID()),
		attribute.String("kioku.chunk", id),
	))
	defer func() { utils.EndSpan(span, err) }()

	var rec models.ChunkRecord
	err = b.View(func(tx *bundle.Tx) error {
		r, err := tx.Records().Get(id)
		if err != nil {
			return err
		}
		if _, ok := tx.Manager().FindSlot(id); !ok {
			return errs.NotFound("chunk", id)
		}
		rec = *r
		return nil
	})
	if err != nil {
		return nil, err
	}
	model := rec.Model
	if model == "" {
		if model, err = idx.resolveModel(b, ""); err != nil {
			return nil, err
		}
	}
	vecs, err := idx.EmbedTexts(ctx, model, []string{newText})
	if err != nil {
		return nil, err
	}

	rec.Text = newText
	rec.Model = model
	err = b.Update(func(tx *bundle.Tx) error {
		if !tx.Records().Has(id) {
			return errs.NotFound("chunk", id)
		}
		if err := tx.Manager().CheckDimension(len(vecs[0])); err != nil {
			return err
		}
		if _, ok := tx.Manager().FindSlot(id); !ok {
			return errs.NotFound("chunk", id)
		}
		if err := tx.Records().Put(id, rec); err != nil {
			return err
		}
		_, err := tx.Manager().UpdateVector(id, vecs[0])
		return err
	})
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("chunk updated", zap.String("store", b.ID()), zap.String("chunk_id", id))
	return &rec, nil
}

// DeleteChunk removes the record and mapping of id. Deleting an absent id
// succeeds and reports false.
func (idx *Indexer) DeleteChunk(ctx context.Context, b *bundle.Bundle, id string) (bool, error) {
	var removed bool
	err := b.Update(func(tx *bundle.Tx) error {
		hadRecord, err := tx.Records().Remove(id)
		if err != nil {
			return err
		}
		hadMapping, err := tx.Manager().DeleteVector(id)
		if err != nil {
			return err
		}
		removed = hadRecord || hadMapping
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		idx.logger.Debug("chunk deleted", zap.String("store", b.ID()), zap.String("chunk_id", id))
	}
	return removed, nil
}

// AddChunk embeds and adds a single chunk outside any document ingest. Its id
// is {document}_{slot} and its chunking method is models.ChunkingManual.
func (idx *Indexer) AddChunk(ctx context.Context, b *bundle.Bundle, req models.AddChunkRequest) (_ string, err error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", errs.Invalid("text must not be empty")
	}
	if strings.TrimSpace(req.Document) == "" {
		return "", errs.Invalid("document is required")
	}
	model, err := idx.resolveModel(b, req.Model)
	if err != nil {
		return "", err
	}

	ctx, span := idx.tracer.Start(ctx, "indexer.AddChunk", trace.WithAttributes(
		attribute.String("kioku.store", b.ID()),
		attribute.String("kioku.document", req.Document),
	))
	defer func() { utils.EndSpan(span, err) }()

	if err := idx.checkModel(b, model); err != nil {
		return "", err
	}
	vecs, err := idx.EmbedTexts(ctx, model, []string{req.Text})
	if err != nil {
		return "", err
	}

	var id string
	err = b.Update(func(tx *bundle.Tx) error {
		if err := tx.CheckModel(model); err != nil {
			return err
		}
		if err := tx.Manager().CheckDimension(len(vecs[0])); err != nil {
			return err
		}
		if err := tx.BindModel(ctx, model); err != nil {
			return err
		}
		id = fmt.Sprintf("%s_%d", req.Document, tx.Manager().Len())
		rec := models.ChunkRecord{
			Text:           req.Text,
			Document:       req.Document,
			Page:           req.Page,
			StartIndex:     req.StartIndex,
			Model:          model,
			ChunkingMethod: models.ChunkingManual,
		}
		previous := make(map[string]models.ChunkRecord, 1)
		if prev, err := tx.Records().Get(id); err == nil {
			previous[id] = *prev
		}
		if err := tx.Records().Put(id, rec); err != nil {
			return err
		}
		if _, err := tx.Manager().AddVector(vecs[0], id); err != nil {
			return idx.rollback(tx, []string{id}, previous, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteDocument removes every chunk of document and returns how many there were.
func (idx *Indexer) DeleteDocument(ctx context.Context, b *bundle.Bundle, document string) (int, error) {
	var n int
	err := b.Update(func(tx *bundle.Tx) error {
		var err error
		n, err = idx.deleteDocumentLocked(tx, document)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		idx.logger.Info("document deleted", zap.String("store", b.ID()), zap.String("document", document), zap.Int("chunks", n))
	}
	return n, nil
}

func (idx *Indexer) deleteDocumentLocked(tx *bundle.Tx, document string) (int, error) {
	ids := chunkIDs(documentChunks(tx.Records(), document))
	if len(ids) == 0 {
		return 0, nil
	}
	for _, id := range ids {
		if _, err := tx.Manager().DeleteVector(id); err != nil {
			return 0, err
		}
	}
	return tx.Records().RemoveMany(ids)
}

// documentChunks returns the records of every chunk of document.
func documentChunks(records storage.RecordStore, document string) map[string]models.ChunkRecord {
	out := make(map[string]models.ChunkRecord)
	records.Each(func(id string, rec models.ChunkRecord) bool {
		if rec.Document == document {
			out[id] = rec
		}
		return true
	})
	return out
}

func chunkIDs(recs map[string]models.ChunkRecord) []string {
	return slices.Sorted(maps.Keys(recs))
}
