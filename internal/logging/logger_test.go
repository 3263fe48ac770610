package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildToFile builds the logger with its output redirected to a file and returns the decoded
// entries written by emit.
func buildToFile(t *testing.T, development bool, service string, emit func(write func(msg string))) []map[string]any {
	t.Helper()

	path := filepath.Join(t.TempDir(), "log.jsonl")
	cfg := newConfig(development, service)
	cfg.Encoding = "json"
	cfg.OutputPaths = []string{path}
	logger, err := cfg.Build()
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	emit(func(msg string) { logger.Info(msg) })
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log output: %v", err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestEntriesCarryServiceName(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		entries := buildToFile(t, development, "catalog-import", func(write func(string)) {
			write("import queued")
		})
		if len(entries) != 1 {
			t.Fatalf("development=%v: got %d entries, want 1", development, len(entries))
		}
		if got := entries[0]["service"]; got != "catalog-import" {
			t.Fatalf("development=%v: service = %v, want catalog-import", development, got)
		}
		if _, ok := entries[0]["ts"]; !ok {
			t.Fatalf("development=%v: entry %v has no ts key", development, entries[0])
		}
	}
}

func TestEmptyServiceAddsNoField(t *testing.T) {
	t.Parallel()

	entries := buildToFile(t, false, "", func(write func(string)) { write("ready") })
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if _, ok := entries[0]["service"]; ok {
		t.Fatalf("entry %v should not carry a service field", entries[0])
	}
}

func TestProductionKeepsBurstyEntries(t *testing.T) {
	t.Parallel()

	const n = 250
	entries := buildToFile(t, false, "catalog-api", func(write func(string)) {
		for range n {
			write("delivery retry")
		}
	})
	if len(entries) != n {
		t.Fatalf("got %d entries, want all %d without sampling", len(entries), n)
	}
}

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development, "catalog-api")
		if err != nil {
			t.Fatalf("New(%v) error = %v", development, err)
		}
		if logger == nil {
			t.Fatalf("New(%v) returned nil logger", development)
		}
	}
}
