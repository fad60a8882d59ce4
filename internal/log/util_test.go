package log

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, []string{}},
		{"pairs", []any{"plate", "KA-01", "count", 3, "merged", true}, []string{"plate", "count", "merged"}},
		{"time and duration", []any{"at", time.Now(), "took", time.Second}, []string{"at", "took"}},
		{"bare error", []any{errors.New("boom")}, []string{"error"}},
		{"zap field passthrough", []any{"plate", "KA-01", zap.String("x", "y"), "n", 42}, []string{"plate", "x", "n"}},
		{"dangling value", []any{"key1", "val1", "key2"}, []string{"key1", "extra"}},
		{"non-string key", []any{123, "value"}, []string{"123"}},
		{"stringer", []any{"ip", net.IPv4(10, 0, 0, 1)}, []string{"ip"}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d", len(fields), len(tt.wantKeys))
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telematicsd.log")
	opts := NewOptions()
	opts.Format = "json"
	opts.Name = "telematicsd"
	opts.OutputPaths = []string{path}

	logger := NewLogger(opts).WithName("ingest").WithValues("plate", "KA-01")
	logger.Debug("hidden at info level")
	logger.Info("batch saved", "points", 2)
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("expected a single JSON entry, got %q: %v", raw, err)
	}
	if entry["message"] != "batch saved" || entry["logger"] != "telematicsd.ingest" {
		t.Errorf("entry = %v", entry)
	}
	if entry["plate"] != "KA-01" || entry["points"] != float64(2) {
		t.Errorf("fields missing: %v", entry)
	}
}

func TestOptionsValidate(t *testing.T) {
	o := NewOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("default options invalid: %v", errs)
	}
	o.Format = "xml"
	if errs := o.Validate(); len(errs) != 1 {
		t.Fatalf("expected one error for bad format, got %v", errs)
	}
}
