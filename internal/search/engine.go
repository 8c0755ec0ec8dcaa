// Package search answers nearest-neighbour queries against a bundle.
package search

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/bundle"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/index"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Engine embeds a query with the bundle's model, searches its vectors and
// attaches the chunk records to the hits.
type Engine struct {
	embed        bundle.EmbedTexts
	defaultModel string
	config       config.SearchConfig
	tracer       trace.Tracer
	logger       *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine. defaultModel embeds queries against
// bundles that have no bound model.
func NewEngine(embed bundle.EmbedTexts, defaultModel string, cfg config.SearchConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		embed:        embed,
		defaultModel: defaultModel,
		config:       cfg,
		tracer:       otel.Tracer("github.com/hyperjump/kioku/internal/search"),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns up to req.K distinct chunks nearest to req.Query, closest
// first. An empty bundle fails with errs.ErrEmptyIndex. Hits whose record
// has gone missing are skipped.
func (e *Engine) Query(ctx context.Context, b *bundle.Bundle, req *models.QueryRequest) (_ *models.QueryResponse, err error) {
	start := time.Now()
	if err := req.Validate(e.config.DefaultK, e.config.MaxK); err != nil {
		return nil, err
	}
	model := b.Model()
	if model == "" {
		model = e.defaultModel
	}

	ctx, span := e.tracer.Start(ctx, "search.Query", trace.WithAttributes(
		attribute.String("kioku.store", b.ID()),
		attribute.String("kioku.model", model),
		attribute.Int("kioku.k", req.K),
	))
	defer func() { utils.EndSpan(span, err) }()

	if b.Health().VectorCount == 0 {
		return nil, errs.ErrEmptyIndex
	}
	vecs, err := e.embed(ctx, model, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}

	resp := &models.QueryResponse{
		StoreID: b.ID(),
		Query:   req.Query,
		Model:   model,
		Results: []*models.QueryResult{},
	}
	err = b.View(func(tx *bundle.Tx) error {
		hits, err := tx.Manager().Search(vecs[0], req.K)
		if err != nil {
			return err
		}
		resp.Results = e.enrich(tx, hits)
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Int("kioku.results", len(resp.Results)))
	return resp, nil
}

func (e *Engine) enrich(tx *bundle.Tx, hits []index.Hit) []*models.QueryResult {
	results := make([]*models.QueryResult, 0, len(hits))
	for _, h := range hits {
		rec, err := tx.Records().Get(h.ChunkID)
		if err != nil {
			e.logger.Warn("search hit has no record",
				zap.String("store", tx.StoreID()),
				zap.String("chunk_id", h.ChunkID),
				zap.Int("slot", h.Slot))
			continue
		}
		results = append(results, &models.QueryResult{
			ChunkID:        h.ChunkID,
			Distance:       h.Distance,
			Text:           rec.Text,
			Document:       rec.Document,
			Page:           rec.Page,
			StartIndex:     rec.StartIndex,
			Model:          rec.Model,
			ChunkingMethod: rec.ChunkingMethod,
		})
	}
	return results
}
