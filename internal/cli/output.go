// Package cli renders kioku results for the terminal and talks to a running
// kioku server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

const snippetLen = 200

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResponse writes query results closest first.
func WriteQueryResponse(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (store %s, model %s)\n\n", len(resp.Results), resp.QueryTime, resp.StoreID, resp.Model)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d %s | distance %.4f\n", i+1, r.ChunkID, r.Distance)
		fmt.Fprintf(w, "Document: %s (page %d, offset %d)\n", r.Document, r.Page, r.StartIndex)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Text, snippetLen))
	}
	return nil
}

// WriteHealth writes the cardinality check.
func WriteHealth(w io.Writer, h models.Health, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, h)
	}
	fmt.Fprintf(w, "store:          %s\n", h.StoreID)
	fmt.Fprintf(w, "vectors:        %d\n", h.VectorCount)
	fmt.Fprintf(w, "mappings:       %d\n", h.MappingCount)
	fmt.Fprintf(w, "records:        %d\n", h.RecordCount)
	fmt.Fprintf(w, "tombstones:     %d\n", h.Tombstones)
	fmt.Fprintf(w, "dimension:      %d\n", h.Dimension)
	fmt.Fprintf(w, "consistent:     %t\n", h.Consistent)
	return nil
}

// WriteVerify writes the per-id agreement report.
func WriteVerify(w io.Writer, r models.VerifyReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	if err := WriteHealth(w, r.Health, format); err != nil {
		return err
	}
	writeList(w, "records without mapping", r.RecordsWithoutMapping)
	writeList(w, "mappings without record", r.MappingsWithoutRecord)
	writeList(w, "duplicate mappings", r.DuplicateMappings)
	if len(r.OutOfRangeSlots) > 0 {
		fmt.Fprintf(w, "out-of-range slots: %v\n", r.OutOfRangeSlots)
	}
	fmt.Fprintf(w, "ok:             %t\n", r.OK)
	return nil
}

// WriteReconcile writes what reconcile changed.
func WriteReconcile(w io.Writer, r *models.ReconcileReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "repaired:       %d\n", r.Repaired)
	if len(r.DroppedOutOfRange) > 0 {
		fmt.Fprintf(w, "dropped out-of-range slots: %v\n", r.DroppedOutOfRange)
	}
	if len(r.DroppedDuplicates) > 0 {
		fmt.Fprintf(w, "dropped duplicate slots: %v\n", r.DroppedDuplicates)
	}
	writeList(w, "dropped dangling", r.DroppedDangling)
	writeList(w, "reattached", r.Reattached)
	writeList(w, "reappended", r.Reappended)
	writeList(w, "unattributable", r.Unattributable)
	fmt.Fprintln(w)
	return WriteHealth(w, r.Health, format)
}

func writeList(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d): %s\n", label, len(ids), strings.Join(ids, ", "))
}

// WriteStores writes the store catalogue.
func WriteStores(w io.Writer, stores []*models.StoreInfo, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stores)
	}
	for _, s := range stores {
		marker := " "
		if s.Default {
			marker = "*"
		}
		model := s.Model
		if model == "" {
			model = "(unbound)"
		}
		fmt.Fprintf(w, "%s %-36s  %s\n", marker, s.ID, model)
	}
	return nil
}

// WriteStatus writes the status summary.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "stores:             %d\n", st.Stores)
	fmt.Fprintf(w, "chunks:             %d   # records across all stores\n", st.TotalChunks)
	fmt.Fprintf(w, "vectors:            %d   # including tombstones\n", st.TotalVectors)
	fmt.Fprintf(w, "disk_usage_bytes:   %d\n", st.DiskUsageBytes)
	return nil
}

// WriteModels writes the embedding model catalogue.
func WriteModels(w io.Writer, ms []models.ModelInfo, methods []models.ChunkingMethodInfo, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"models": ms, "chunking_methods": methods})
	}
	fmt.Fprintln(w, "# embedding models")
	for _, m := range ms {
		marker := " "
		if m.Default {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-28s %4d  %s\n", marker, m.ID, m.Dimensions, m.Backend)
	}
	fmt.Fprintln(w, "\n# chunking methods")
	for _, c := range methods {
		fmt.Fprintf(w, "  %-20s %s\n", c.ID, c.Description)
	}
	return nil
}
