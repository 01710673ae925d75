package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/chunkfs-test")
	if d.Root() != "/tmp/chunkfs-test" {
		t.Errorf("expected root /tmp/chunkfs-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Root() == "" {
		t.Fatal("expected non-empty root")
	}
	if filepath.Base(d.Root()) != "chunkfs" {
		t.Errorf("expected root to end with 'chunkfs', got %s", d.Root())
	}
}

func TestRaftDir(t *testing.T) {
	d := New("/data")
	if got := d.RaftDir(); got != "/data/raft" {
		t.Errorf("got %s", got)
	}
}

func TestMetadataDBPath(t *testing.T) {
	d := New("/data")
	if got := d.MetadataDBPath(); got != "/data/metadata.db" {
		t.Errorf("got %s", got)
	}
}

func TestClusterTLSPath(t *testing.T) {
	d := New("/data")
	if got := d.ClusterTLSPath(); got != "/data/cluster-tls.json" {
		t.Errorf("got %s", got)
	}
}

func TestChunksDir(t *testing.T) {
	d := New("/data")
	if got := d.ChunksDir(); got != "/data/chunks" {
		t.Errorf("got %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "chunkfs")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}
