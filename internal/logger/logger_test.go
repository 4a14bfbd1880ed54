package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"INFO", false},
		{"", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		if _, err := parseLevel(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smpp.log")
	l, err := New(Options{Level: "debug", Format: "json", Output: "file", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("Session bound", "session_id", "abc")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestWithFieldsCarriesContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Wrap(zap.New(core))

	l.WithFields(map[string]interface{}{"session_id": "s1"}).Warn("Unmatched response dropped", "seq", 9)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["session_id"] != "s1" {
		t.Errorf("session_id = %v", ctx["session_id"])
	}
	if ctx["seq"] != int64(9) {
		t.Errorf("seq = %v (%T)", ctx["seq"], ctx["seq"])
	}
}
