package models

// QueryResult is one enriched hit. Distance is the raw squared L2 distance;
// smaller is closer.
type QueryResult struct {
	ChunkID        string  `json:"chunk_id"`
	Distance       float32 `json:"distance"`
	Text           string  `json:"text"`
	Document       string  `json:"document"`
	Page           int     `json:"page"`
	StartIndex     int     `json:"start_index"`
	Model          string  `json:"model"`
	ChunkingMethod string  `json:"chunking_method"`
}

// QueryResponse is the response for a query.
type QueryResponse struct {
	StoreID   string         `json:"store_id"`
	Query     string         `json:"query"`
	Model     string         `json:"model"`
	Results   []*QueryResult `json:"results"`
	QueryTime int64          `json:"query_time_ms"`
}

// Health is the cheap cardinality check for one store. Tombstones are vectors
// with no live mapping; they count toward VectorCount but not toward the
// comparison behind Consistent.
type Health struct {
	StoreID      string `json:"store_id"`
	VectorCount  int    `json:"vector_count"`
	MappingCount int    `json:"mapping_count"`
	RecordCount  int    `json:"record_count"`
	Tombstones   int    `json:"tombstones"`
	Dimension    int    `json:"dimension"`
	Consistent   bool   `json:"consistent"`
}

// VerifyReport is the per-id agreement check between slot map and records.
type VerifyReport struct {
	Health
	RecordsWithoutMapping []string `json:"records_without_mapping"`
	MappingsWithoutRecord []string `json:"mappings_without_record"`
	DuplicateMappings     []string `json:"duplicate_mappings"`
	OutOfRangeSlots       []int    `json:"out_of_range_slots"`
	OK                    bool     `json:"ok"`
}

// ReconcileReport lists what a reconcile changed and what it could not fix.
// Repaired counts mapping changes.
type ReconcileReport struct {
	StoreID           string   `json:"store_id"`
	Repaired          int      `json:"repaired"`
	DroppedOutOfRange []int    `json:"dropped_out_of_range"`
	DroppedDuplicates []int    `json:"dropped_duplicates"`
	DroppedDangling   []string `json:"dropped_dangling"`
	Reattached        []string `json:"reattached"`
	Reappended        []string `json:"reappended"`
	Unattributable    []string `json:"unattributable"`
	Tombstones        int      `json:"tombstones"`
	Health            Health   `json:"health"`
}

// Status summarizes every store.
type Status struct {
	Stores         int   `json:"stores"`
	TotalChunks    int   `json:"total_chunks"`
	TotalVectors   int   `json:"total_vectors"`
	DiskUsageBytes int64 `json:"disk_usage_bytes"`
}

// ModelInfo describes an embedding model the server can use.
type ModelInfo struct {
	ID         string `json:"id"`
	Dimensions int    `json:"dimensions"`
	Backend    string `json:"backend"`
	Default    bool   `json:"default"`
}

// ChunkingMethodInfo describes a chunking method.
type ChunkingMethodInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
