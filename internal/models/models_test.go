package models

import "testing"

func TestRetrievalQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   RetrievalQuery
		wantErr bool
		wantK   int
	}{
		{"empty query", RetrievalQuery{}, true, 0},
		{"default k", RetrievalQuery{Query: "x"}, false, 5},
		{"caps k", RetrievalQuery{Query: "x", K: 500}, false, 50},
		{"keeps k", RetrievalQuery{Query: "x", K: 3}, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			err := q.Validate(5, 50)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && q.K != tt.wantK {
				t.Errorf("K = %d, want %d", q.K, tt.wantK)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range []string{"system", "user", "assistant"} {
		if _, err := ParseRole(r); err != nil {
			t.Errorf("ParseRole(%q) error: %v", r, err)
		}
	}
	if _, err := ParseRole("tool"); err == nil {
		t.Error("expected error for unknown role")
	}
}
