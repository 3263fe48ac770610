package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverPrefersExplicitPath(t *testing.T) {
	t.Parallel()

	got, err := Discover("/tmp/custom.yaml", t.TempDir())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got != "/tmp/custom.yaml" {
		t.Fatalf("Discover() = %q, want explicit path", got)
	}
}

func TestDiscoverSearchesDirectoriesInOrder(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	first := t.TempDir()
	second := t.TempDir()
	for _, dir := range []string{first, second} {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9000\n"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}

	got, err := Discover("", empty, first, second)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if want := filepath.Join(first, "config.yaml"); got != want {
		t.Fatalf("Discover() = %q, want %q", got, want)
	}
}

func TestDiscoverWithoutFileReturnsEmpty(t *testing.T) {
	t.Parallel()

	got, err := Discover("", t.TempDir())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got != "" {
		t.Fatalf("Discover() = %q, want empty", got)
	}
}
