package cli

import "testing"

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "query", 5},
		{"query", "", 5},
		{"query", "query", 0},
		{"qurey", "query", 1},
		{"qery", "query", 1},
		{"querys", "query", 1},
		{"kitten", "sitting", 3},
		{"café", "cafe", 1},
		{"ab", "ba", 1},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := editDistance(tt.b, tt.a); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d (reversed)", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestSuggest(t *testing.T) {
	commands := []string{"ingest", "query", "update", "delete", "reset", "reconcile"}
	tests := []struct {
		input string
		want  string
	}{
		{"qurey", "query"},
		{"ingets", "ingest"},
		{"delet", "delete"},
		{"reconcil", "reconcile"},
		{"serve", ""},
		{"xyz", ""},
	}
	for _, tt := range tests {
		if got := Suggest(tt.input, commands); got != tt.want {
			t.Errorf("Suggest(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
