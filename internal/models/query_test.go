package models

import (
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *QueryRequest
		wantErr bool
		wantK   int
	}{
		{"empty query", &QueryRequest{Query: ""}, true, 0},
		{"blank query", &QueryRequest{Query: "   "}, true, 0},
		{"sets default k", &QueryRequest{Query: "x"}, false, 5},
		{"keeps k", &QueryRequest{Query: "x", K: 3}, false, 3},
		{"caps k", &QueryRequest{Query: "x", K: 500}, false, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(5, 100)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
		})
	}
}

func TestQueryRequest_ValidateTrims(t *testing.T) {
	q := &QueryRequest{Query: "  hello  "}
	if err := q.Validate(0, 0); err != nil {
		t.Fatal(err)
	}
	if q.Query != "hello" {
		t.Errorf("Query = %q", q.Query)
	}
	if q.K != 1 {
		t.Errorf("K = %d, want 1 when no default is configured", q.K)
	}
}
