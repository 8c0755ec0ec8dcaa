package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/archive"
	"github.com/hyperjump/kioku/internal/bundle"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
)

const multipartMemory = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	b, err := s.bundles.Default()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	h := b.Health()
	status := "ok"
	if !h.Consistent {
		status = "inconsistent"
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": status, "default": h})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.bundles.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": s.catalog.Models()})
}

func (s *Server) handleChunkingMethods(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"methods": indexer.Methods()})
}

// bundle resolves the {store} path segment.
func (s *Server) bundle(w http.ResponseWriter, r *http.Request) (*bundle.Bundle, bool) {
	b, err := s.bundles.Get(chi.URLParam(r, "store"))
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	return b, true
}

func storeInfo(b *bundle.Bundle) models.StoreInfo {
	return models.StoreInfo{ID: b.ID(), Model: b.Model(), Dir: b.Dir(), Default: b.IsDefault()}
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	list, err := s.bundles.List(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"stores": list})
}

type createStoreRequest struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

// handleCreateStore imports an uploaded archive (multipart "file") or, for a
// JSON body, creates an empty store.
func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	if isMultipart(r) {
		data, _, ok := s.readUpload(w, r)
		if !ok {
			return
		}
		c, err := archive.ReadBytes(data)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		b, err := s.bundles.Import(r.Context(), c, r.FormValue("model"))
		if err != nil {
			s.logger.Error("import failed", zap.Error(err))
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, storeInfo(b))
		return
	}
	var req createStoreRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", errs.Kind(errs.ErrInvalidArgument))
		return
	}
	b, err := s.bundles.Create(r.Context(), req.ID, req.Model)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, storeInfo(b))
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "store")
	if err := s.bundles.Remove(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"store_id": id, "status": "deleted"})
}

func (s *Server) handleStoreHealth(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, b.Health())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, b.Verify())
}

type reconcileRequest struct {
	Reembed bool `json:"reembed"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var req reconcileRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", errs.Kind(errs.ErrInvalidArgument))
		return
	}
	report, err := b.Reconcile(r.Context(), s.indexer.EmbedTexts, req.Reembed)
	if err != nil {
		s.logger.Error("reconcile failed", zap.String("store", b.ID()), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	if err := b.Reset(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, b.Health())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := archive.Export(&buf, b, s.archive); err != nil {
		s.logger.Error("export failed", zap.String("store", b.ID()), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": b.ID() + ".zip"}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type publishRequest struct {
	Name string `json:"name"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		s.respondError(w, http.StatusNotImplemented, "remote store not configured", "internal")
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", errs.Kind(errs.ErrInvalidArgument))
		return
	}
	if req.Name == "" {
		req.Name = b.ID() + ".zip"
	}
	var buf bytes.Buffer
	if err := archive.Export(&buf, b, s.archive); err != nil {
		s.respondErr(w, err)
		return
	}
	size := int64(buf.Len())
	if err := s.blobs.Put(r.Context(), req.Name, &buf, size); err != nil {
		s.logger.Error("publish failed", zap.String("store", b.ID()), zap.String("name", req.Name), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"store_id": b.ID(), "name": req.Name, "size": size})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", errs.Kind(errs.ErrInvalidArgument))
		return
	}
	s.logger.Debug("query request", zap.String("store", b.ID()), zap.String("query", req.Query), zap.Int("k", req.K))
	resp, err := s.engine.Query(r.Context(), b, &req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleArchiveQuery queries an uploaded archive without registering it.
func (s *Server) handleArchiveQuery(w http.ResponseWriter, r *http.Request) {
	data, _, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	req := models.QueryRequest{Query: r.FormValue("query")}
	if k := r.FormValue("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "k must be an integer", errs.Kind(errs.ErrInvalidArgument))
			return
		}
		req.K = n
	}
	c, err := archive.ReadBytes(data)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	b, err := s.bundles.Ephemeral(c, r.FormValue("model"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	defer b.Close()
	resp, err := s.engine.Query(r.Context(), b, &req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	req := models.IngestRequest{
		Filename:       filename,
		Content:        data,
		Model:          r.FormValue("model"),
		ChunkingMethod: r.FormValue("chunking_method"),
	}
	for field, dst := range map[string]*int{"chunk_size": &req.ChunkSize, "chunk_overlap": &req.ChunkOverlap} {
		v := r.FormValue(field)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, field+" must be an integer", errs.Kind(errs.ErrInvalidArgument))
			return
		}
		*dst = n
	}
	s.logger.Debug("ingest request", zap.String("store", b.ID()), zap.String("filename", filename), zap.Int("bytes", len(data)))
	res, err := s.indexer.Ingest(r.Context(), b, req)
	if err != nil {
		s.logger.Warn("ingest failed", zap.String("store", b.ID()), zap.String("filename", filename), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	document := chi.URLParam(r, "document")
	n, err := s.indexer.DeleteDocument(r.Context(), b, document)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document": document, "deleted": n})
}

func (s *Server) handleAddChunk(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var req models.AddChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", errs.Kind(errs.ErrInvalidArgument))
		return
	}
	id, err := s.indexer.AddChunk(r.Context(), b, req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"chunk_id": id})
}

func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var req models.UpdateChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", errs.Kind(errs.ErrInvalidArgument))
		return
	}
	rec, err := s.indexer.UpdateChunk(r.Context(), b, chi.URLParam(r, "chunk"), req.NewText)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "chunk")
	removed, err := s.indexer.DeleteChunk(r.Context(), b, id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"chunk_id": id, "deleted": removed})
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// readUpload returns the multipart "file" part and its filename.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	if s.config != nil && s.config.MaxUploadMB > 0 {
		limit := int64(s.config.MaxUploadMB) << 20
		if r.ContentLength > limit {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", limit), errs.Kind(errs.ErrInvalidArgument))
			return nil, "", false
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), errs.Kind(errs.ErrInvalidArgument))
			return nil, "", false
		}
		s.respondError(w, http.StatusBadRequest, "expected multipart form with a file field", errs.Kind(errs.ErrInvalidArgument))
		return nil, "", false
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required", errs.Kind(errs.ErrInvalidArgument))
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload", errs.Kind(errs.ErrInvalidArgument))
		return nil, "", false
	}
	return data, hdr.Filename, true
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrDimensionMismatch),
		errors.Is(err, errs.ErrMalformedArchive),
		errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrModelMismatch), errors.Is(err, errs.ErrEmptyIndex):
		return http.StatusConflict
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error(), errs.Kind(err))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message, kind string) {
	s.respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}
