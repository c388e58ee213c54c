package infra

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantMarker string
		wantBody   string
		wantErr    bool
	}{
		{
			name:       "valid",
			query:      "--sql 0f0557a2-1731-4fc6-8cbe-8540b1d2b6df\nselect 1;",
			wantMarker: "0f0557a2-1731-4fc6-8cbe-8540b1d2b6df",
			wantBody:   "select 1;",
		},
		{
			name:       "leading whitespace",
			query:      "\n  --sql 0f0557a2-1731-4fc6-8cbe-8540b1d2b6df\nselect 1;\n",
			wantMarker: "0f0557a2-1731-4fc6-8cbe-8540b1d2b6df",
			wantBody:   "select 1;",
		},
		{name: "missing marker", query: "select 1;", wantErr: true},
		{name: "bad uuid", query: "--sql nope\nselect 1;", wantErr: true},
		{name: "empty", query: "   ", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			marker, body, err := extractMarker(tc.query)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got marker %q", marker)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractMarker error: %v", err)
			}
			if marker != tc.wantMarker {
				t.Fatalf("marker = %q, want %q", marker, tc.wantMarker)
			}
			if body != tc.wantBody {
				t.Fatalf("body = %q, want %q", body, tc.wantBody)
			}
		})
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("load: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped ErrNoRows not detected")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatal("unrelated error reported as no rows")
	}
}
