package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/blobstore"
	"github.com/hyperjump/kioku/internal/bundle"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
)

const thirtyChars = "aaaaaaaaaabbbbbbbbbbcccccccccc"

type testEnv struct {
	srv   *Server
	h     http.Handler
	blobs *blobstore.LocalStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cat, err := storage.NewSQLiteCatalog(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewRegistry(config.EmbeddingConfig{
		DefaultModel: "hash-4",
		Models: []config.ModelConfig{
			{ID: "hash-4", Backend: config.BackendHash, Dimensions: 4},
			{ID: "hash-8", Backend: config.BackendHash, Dimensions: 8},
		},
	})
	reg := bundle.NewRegistry(filepath.Join(dir, "stores"), cat, bundle.WithModelDimensions(emb.Dimensions))
	if err := reg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		reg.Close()
		cat.Close()
		emb.Close()
	})
	idx := indexer.NewIndexer(emb, extract.NewExtractor(), config.IngestConfig{ChunkingMethod: indexer.MethodFixedSize, ChunkSize: 10})
	engine := search.NewEngine(idx.EmbedTexts, emb.Default(), config.SearchConfig{DefaultK: 5, MaxK: 50})
	blobs := blobstore.NewLocalStore(filepath.Join(dir, "published"))
	srv := NewServer(reg, idx, engine, emb, &config.ServerConfig{Port: 8080, MaxUploadMB: 1}, zap.NewNop(), WithBlobStore(blobs))
	return &testEnv{srv: srv, h: srv.Handler(), blobs: blobs}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, body)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, r)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	return e.do(t, method, path, body, "application/json")
}

func (e *testEnv) upload(t *testing.T, path, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return e.do(t, http.MethodPost, path, &buf, mw.FormDataContentType())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	var out map[string]string
	decode(t, w, &out)
	if out["kind"] != kind || out["error"] == "" {
		t.Errorf("error body = %v, want kind %s", out, kind)
	}
}

func (e *testEnv) health(t *testing.T, store string) models.Health {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/v1/stores/"+store+"/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var h models.Health
	decode(t, w, &h)
	return h
}

func TestIngestQueryDelete(t *testing.T) {
	e := newTestEnv(t)

	w := e.upload(t, "/api/v1/stores/default/documents", "doc.txt", []byte(thirtyChars), map[string]string{"chunk_size": "10"})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d: %s", w.Code, w.Body.String())
	}
	var res models.IngestResult
	decode(t, w, &res)
	if len(res.ChunkIDs) != 3 || res.StoreID != "default" {
		t.Fatalf("ingest result = %+v", res)
	}

	h := e.health(t, "default")
	if h.VectorCount != 3 || h.MappingCount != 3 || h.RecordCount != 3 || !h.Consistent {
		t.Errorf("health after ingest = %+v", h)
	}

	w = e.doJSON(t, http.MethodPost, "/api/v1/stores/default/query", models.QueryRequest{Query: "bbbbbbbbbb", K: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", w.Code, w.Body.String())
	}
	var qr models.QueryResponse
	decode(t, w, &qr)
	if len(qr.Results) != 1 || qr.Results[0].ChunkID != "doc.txt_1" {
		t.Errorf("query results = %+v", qr.Results)
	}

	w = e.do(t, http.MethodDelete, "/api/v1/stores/default/chunks/doc.txt_1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	h = e.health(t, "default")
	if h.VectorCount != 3 || h.MappingCount != 2 || h.RecordCount != 2 || !h.Consistent {
		t.Errorf("health after delete = %+v", h)
	}

	w = e.do(t, http.MethodDelete, "/api/v1/stores/default/documents/doc.txt", nil, "")
	var del map[string]interface{}
	decode(t, w, &del)
	if del["deleted"] != float64(2) {
		t.Errorf("delete document = %v", del)
	}
}

func TestIngestModelMismatch(t *testing.T) {
	e := newTestEnv(t)
	e.upload(t, "/api/v1/stores/default/documents", "doc.txt", []byte(thirtyChars), nil)

	w := e.upload(t, "/api/v1/stores/default/documents", "other.txt", []byte(thirtyChars), map[string]string{"model": "hash-8"})
	expectError(t, w, http.StatusConflict, "model_mismatch")
	if h := e.health(t, "default"); h.RecordCount != 3 {
		t.Errorf("records after mismatch = %d, want 3", h.RecordCount)
	}
}

func TestErrorResponses(t *testing.T) {
	e := newTestEnv(t)

	expectError(t, e.doJSON(t, http.MethodPost, "/api/v1/stores/default/query", models.QueryRequest{Query: "x"}), http.StatusConflict, "empty_index")
	expectError(t, e.doJSON(t, http.MethodPost, "/api/v1/stores/nope/query", models.QueryRequest{Query: "x"}), http.StatusNotFound, "not_found")
	expectError(t, e.doJSON(t, http.MethodPut, "/api/v1/stores/default/chunks/missing_0", models.UpdateChunkRequest{NewText: "x"}), http.StatusNotFound, "not_found")
	expectError(t, e.upload(t, "/api/v1/stores", "bad.zip", []byte("not a zip"), nil), http.StatusBadRequest, "malformed_archive")
	expectError(t, e.do(t, http.MethodPost, "/api/v1/stores/default/query", bytes.NewReader([]byte("{")), "application/json"), http.StatusBadRequest, "invalid_argument")
	expectError(t, e.do(t, http.MethodDelete, "/api/v1/stores/default", nil, ""), http.StatusBadRequest, "invalid_argument")

	big := bytes.Repeat([]byte("a"), 2<<20)
	w := e.upload(t, "/api/v1/stores/default/documents", "big.txt", big, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload status = %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&errs.DimensionMismatchError{Expected: 4, Actual: 8}, http.StatusBadRequest},
		{&errs.ModelMismatchError{Bound: "a", Requested: "b"}, http.StatusConflict},
		{errs.NotFound("chunk", "x"), http.StatusNotFound},
		{errs.ErrEmptyIndex, http.StatusConflict},
		{&errs.MalformedArchiveError{Missing: []string{"index.vec"}}, http.StatusBadRequest},
		{errs.Persistence("write", "/tmp/x", io.ErrShortWrite), http.StatusInternalServerError},
		{errs.Invalid("bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", errs.ErrNotFound), http.StatusNotFound},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestExportImportAndArchiveQuery(t *testing.T) {
	e := newTestEnv(t)
	e.upload(t, "/api/v1/stores/default/documents", "doc.txt", []byte(thirtyChars), nil)

	w := e.do(t, http.MethodGet, "/api/v1/stores/default/export", nil, "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("export status = %d type = %s", w.Code, w.Header().Get("Content-Type"))
	}
	zipData := w.Body.Bytes()

	w = e.upload(t, "/api/v1/stores", "default.zip", zipData, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("import status = %d: %s", w.Code, w.Body.String())
	}
	var info models.StoreInfo
	decode(t, w, &info)
	if len(info.ID) != 36 || info.Model != "hash-4" {
		t.Errorf("imported store = %+v", info)
	}
	if h := e.health(t, info.ID); h.RecordCount != 3 || !h.Consistent {
		t.Errorf("imported health = %+v", h)
	}

	w = e.upload(t, "/api/v1/archives/query", "default.zip", zipData, map[string]string{"query": "cccccccccc", "k": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("archive query status = %d: %s", w.Code, w.Body.String())
	}
	var qr models.QueryResponse
	decode(t, w, &qr)
	if len(qr.Results) != 1 || qr.Results[0].ChunkID != "doc.txt_2" {
		t.Errorf("archive query results = %+v", qr.Results)
	}

	w = e.do(t, http.MethodGet, "/api/v1/stores", nil, "")
	var list struct {
		Stores []models.StoreInfo `json:"stores"`
	}
	decode(t, w, &list)
	if len(list.Stores) != 2 {
		t.Errorf("stores = %+v, want default and the import only", list.Stores)
	}
}

func TestPublish(t *testing.T) {
	e := newTestEnv(t)
	e.upload(t, "/api/v1/stores/default/documents", "doc.txt", []byte(thirtyChars), nil)

	w := e.do(t, http.MethodPost, "/api/v1/stores/default/publish", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("publish status = %d: %s", w.Code, w.Body.String())
	}
	names, err := e.blobs.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "default.zip" {
		t.Errorf("published blobs = %v", names)
	}
}

func TestCreateStoreVerifyReconcileReset(t *testing.T) {
	e := newTestEnv(t)

	w := e.doJSON(t, http.MethodPost, "/api/v1/stores", createStoreRequest{ID: "notes", Model: "hash-8"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	w = e.doJSON(t, http.MethodPost, "/api/v1/stores/notes/chunks", models.AddChunkRequest{Text: "remember the milk", Document: "todo"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add chunk status = %d: %s", w.Code, w.Body.String())
	}
	var added map[string]string
	decode(t, w, &added)
	if added["chunk_id"] != "todo_0" {
		t.Errorf("chunk id = %s", added["chunk_id"])
	}

	w = e.do(t, http.MethodGet, "/api/v1/stores/notes/verify", nil, "")
	var report models.VerifyReport
	decode(t, w, &report)
	if !report.OK || report.RecordCount != 1 {
		t.Errorf("verify = %+v", report)
	}

	w = e.doJSON(t, http.MethodPost, "/api/v1/stores/notes/reconcile", map[string]bool{"reembed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d: %s", w.Code, w.Body.String())
	}
	var rr models.ReconcileReport
	decode(t, w, &rr)
	if rr.Repaired != 0 || !rr.Health.Consistent {
		t.Errorf("reconcile = %+v", rr)
	}

	w = e.do(t, http.MethodPost, "/api/v1/stores/notes/reset", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	if h := e.health(t, "notes"); h.VectorCount != 0 || h.RecordCount != 0 || h.Dimension != 0 {
		t.Errorf("health after reset = %+v", h)
	}

	if w := e.do(t, http.MethodDelete, "/api/v1/stores/notes", nil, ""); w.Code != http.StatusOK {
		t.Errorf("delete store status = %d", w.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/models", nil, "")
	var ms struct {
		Models []models.ModelInfo `json:"models"`
	}
	decode(t, w, &ms)
	if len(ms.Models) != 2 || ms.Models[0].ID != "hash-4" || !ms.Models[0].Default {
		t.Errorf("models = %+v", ms.Models)
	}

	w = e.do(t, http.MethodGet, "/api/v1/chunking-methods", nil, "")
	var cm struct {
		Methods []models.ChunkingMethodInfo `json:"methods"`
	}
	decode(t, w, &cm)
	if len(cm.Methods) != 4 {
		t.Errorf("methods = %+v", cm.Methods)
	}

	w = e.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK || w.Header().Get(requestIDHeader) == "" {
		t.Errorf("health status = %d, request id = %q", w.Code, w.Header().Get(requestIDHeader))
	}
	w = e.do(t, http.MethodGet, "/api/v1/status", nil, "")
	var st models.Status
	decode(t, w, &st)
	if st.Stores != 1 {
		t.Errorf("status = %+v", st)
	}
}
