package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates the catalogue database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL DEFAULT '',
		dir TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_stores_created_at ON stores(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateStore inserts a store row.
func (c *SQLiteCatalog) CreateStore(ctx context.Context, info *models.StoreInfo) error {
	now := time.Now().UTC()
	info.CreatedAt = now
	info.UpdatedAt = now

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO stores (id, model, dir, is_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.Model, info.Dir, boolToInt(info.Default), info.CreatedAt, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create store %s: %w", info.ID, err)
	}
	return nil
}

// GetStore returns a store by id.
func (c *SQLiteCatalog) GetStore(ctx context.Context, id string) (*models.StoreInfo, error) {
	var info models.StoreInfo
	var isDefault int

	err := c.db.QueryRowContext(ctx,
		`SELECT id, model, dir, is_default, created_at, updated_at
		 FROM stores WHERE id = ?`, id,
	).Scan(&info.ID, &info.Model, &info.Dir, &isDefault, &info.CreatedAt, &info.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, errs.NotFound("store", id)
	}
	if err != nil {
		return nil, err
	}
	info.Default = isDefault != 0
	return &info, nil
}

// ListStores returns every store, default first, then oldest first.
func (c *SQLiteCatalog) ListStores(ctx context.Context) ([]*models.StoreInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, model, dir, is_default, created_at, updated_at
		 FROM stores ORDER BY is_default DESC, created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []*models.StoreInfo
	for rows.Next() {
		var info models.StoreInfo
		var isDefault int
		if err := rows.Scan(&info.ID, &info.Model, &info.Dir, &isDefault, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, err
		}
		info.Default = isDefault != 0
		stores = append(stores, &info)
	}
	return stores, rows.Err()
}

// SetStoreModel records the embedding model a store is bound to. An empty
// model unbinds it.
func (c *SQLiteCatalog) SetStoreModel(ctx context.Context, id, model string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE stores SET model = ?, updated_at = ? WHERE id = ?`,
		model, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("store", id)
	}
	return nil
}

// DeleteStore removes a store row. Deleting an absent store is not an error.
func (c *SQLiteCatalog) DeleteStore(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM stores WHERE id = ?`, id)
	return err
}

// CountStores returns the number of stores.
func (c *SQLiteCatalog) CountStores(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores`).Scan(&n)
	return n, err
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
