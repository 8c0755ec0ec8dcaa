// Package models defines the data structures shared by the store, ingest,
// query and transport layers.
package models

import "time"

// ChunkingManual marks chunks added directly instead of cut from a document.
const ChunkingManual = "manual_addition"

// ChunkRecord is the record kept for every chunk id. The JSON names match the
// metadata.json table inside exported archives.
type ChunkRecord struct {
	Text           string `json:"text"`
	Document       string `json:"document"`
	Page           int    `json:"page"`
	StartIndex     int    `json:"start_index"`
	Model          string `json:"model"`
	ChunkingMethod string `json:"chunking_method"`
}

// Page is the text of one page (or slide, or sheet) of an extracted document.
// Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// ChunkInput is one chunk produced by the chunker, before embedding.
type ChunkInput struct {
	Text       string
	Page       int
	StartIndex int
}

// IngestRequest describes a document to chunk, embed and add to a store.
type IngestRequest struct {
	Filename       string `json:"filename"`
	Content        []byte `json:"-"`
	Model          string `json:"model"`
	ChunkingMethod string `json:"chunking_method"`
	ChunkSize      int    `json:"chunk_size,omitempty"`
	ChunkOverlap   int    `json:"chunk_overlap,omitempty"`
}

// IngestResult lists the chunk ids created by an ingest.
type IngestResult struct {
	StoreID  string   `json:"store_id"`
	Document string   `json:"document"`
	Model    string   `json:"model"`
	ChunkIDs []string `json:"chunk_ids"`
}

// UpdateChunkRequest replaces a chunk's text.
type UpdateChunkRequest struct {
	NewText string `json:"new_text"`
}

// AddChunkRequest adds one chunk by hand.
type AddChunkRequest struct {
	Text       string `json:"text"`
	Document   string `json:"document"`
	Page       int    `json:"page"`
	StartIndex int    `json:"start_index"`
	Model      string `json:"model,omitempty"`
}

// StoreInfo describes a catalogued store.
type StoreInfo struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Dir       string    `json:"dir"`
	Default   bool      `json:"default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
