// Package storage holds the per-bundle record table, the SQLite catalogue of
// stores, and disk usage helpers.
package storage

import (
	"context"
	"io"

	"github.com/hyperjump/kioku/internal/models"
)

// RecordStore maps chunk ids to their records. Every mutation is durable
// before it returns.
type RecordStore interface {
	Put(id string, rec models.ChunkRecord) error
	PutMany(recs map[string]models.ChunkRecord) error
	Get(id string) (*models.ChunkRecord, error)
	Remove(id string) (bool, error)
	RemoveMany(ids []string) (int, error)
	Replace(remove []string, recs map[string]models.ChunkRecord) error
	Has(id string) bool
	IDs() []string
	Count() int
	// Each visits records in id order until fn returns false.
	Each(fn func(id string, rec models.ChunkRecord) bool)
	WriteTo(w io.Writer) (int64, error)
	// Clear drops every record and removes the backing file.
	Clear() error
	Close() error
}

// Catalog persists which stores exist, where they live, and their model.
type Catalog interface {
	CreateStore(ctx context.Context, info *models.StoreInfo) error
	GetStore(ctx context.Context, id string) (*models.StoreInfo, error)
	ListStores(ctx context.Context) ([]*models.StoreInfo, error)
	SetStoreModel(ctx context.Context, id, model string) error
	DeleteStore(ctx context.Context, id string) error
	CountStores(ctx context.Context) (int64, error)
	Close() error
}
