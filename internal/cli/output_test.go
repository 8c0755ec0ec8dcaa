package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func sampleResponse() *models.QueryResponse {
	return &models.QueryResponse{
		StoreID:   "default",
		Query:     "test query",
		Model:     "all-MiniLM-L6-v2",
		QueryTime: 42,
		Results: []*models.QueryResult{
			{ChunkID: "doc.txt_0", Distance: 0.125, Text: strings.Repeat("x", 300), Document: "doc.txt", Page: 1},
			{ChunkID: "doc.txt_4", Distance: 0.5, Text: "short", Document: "doc.txt", Page: 2, StartIndex: 80},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteQueryResponse_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResponse(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.QueryResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "test query" || len(decoded.Results) != 2 || decoded.Results[1].StartIndex != 80 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteQueryResponse_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResponse(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 results in 42ms", "#1 doc.txt_0 | distance 0.1250", "page 2, offset 80", strings.Repeat("x", 200) + "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 201)) {
		t.Error("long text not truncated")
	}
}

func TestWriteHealthAndVerify(t *testing.T) {
	var buf bytes.Buffer
	r := models.VerifyReport{
		Health:                models.Health{StoreID: "s", VectorCount: 3, MappingCount: 2, RecordCount: 3},
		RecordsWithoutMapping: []string{"doc_1"},
	}
	if err := WriteVerify(&buf, r, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"vectors:        3", "consistent:     false", "records without mapping (1): doc_1", "ok:             false"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "duplicate") {
		t.Error("empty lists should be omitted")
	}
}

func TestWriteStores(t *testing.T) {
	var buf bytes.Buffer
	stores := []*models.StoreInfo{
		{ID: "default", Default: true},
		{ID: "research", Model: "all-mpnet-base-v2"},
	}
	if err := WriteStores(&buf, stores, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "* default") || !strings.Contains(lines[0], "(unbound)") {
		t.Errorf("stores output:\n%s", buf.String())
	}
	if !strings.Contains(lines[1], "all-mpnet-base-v2") {
		t.Errorf("model missing: %s", lines[1])
	}
}

func TestWriteReconcile_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := &models.ReconcileReport{StoreID: "s", Repaired: 1, Reattached: []string{"a_0"}}
	if err := WriteReconcile(&buf, r, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"reattached": [`) {
		t.Errorf("json output:\n%s", buf.String())
	}
}
