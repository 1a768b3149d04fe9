package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp-servers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadServerSeeds(t *testing.T) {
	path := writeSeedFile(t, `
servers:
  - server_id: srv1
    name: weather
    base_url: http://srv1.test/sse
    transport: SSE
  - server_id: srv2
    base_url: http://srv2.test/mcp
    api_key: sk-abc
    transport: STREAMABLE_HTTP
`)

	seeds, err := LoadServerSeeds(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds) != 2 {
		t.Fatalf("seeds = %d, want 2", len(seeds))
	}
	if seeds[0].ServerID != "srv1" || seeds[0].Transport != "SSE" {
		t.Fatalf("seed[0] = %+v", seeds[0])
	}
	if seeds[1].APIKey != "sk-abc" || seeds[1].Transport != "STREAMABLE_HTTP" {
		t.Fatalf("seed[1] = %+v", seeds[1])
	}
}

func TestLoadServerSeeds_MissingFileIsNotAnError(t *testing.T) {
	seeds, err := LoadServerSeeds(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if seeds != nil {
		t.Fatalf("seeds = %v, want nil", seeds)
	}
}

func TestLoadServerSeeds_RejectsIncompleteEntries(t *testing.T) {
	path := writeSeedFile(t, "servers:\n  - name: incomplete\n")
	if _, err := LoadServerSeeds(path); err == nil {
		t.Fatal("expected error for seed without server_id/base_url")
	}
}
