// Package home manages the chunkfs per-node data directory layout.
//
// Paths this package names:
//
//	<root>/
//	  raft/              (RaftDir)
//	  metadata.db        (MetadataDBPath)
//	  cluster-tls.json    (ClusterTLSPath)
//	  chunks/             (ChunksDir)
//	    <shard>/<chunk_id>
//
// cmd/chunkfs uses only Root: a metadata node keeps its Raft log and stable
// store (raft.db, bbolt-backed) and its snapshots directly under <root>.
// None of the four paths above is opened there: the metadata keyspace is
// held in memory and rebuilt from the Raft log and snapshots, the cluster
// mTLS file comes from --cluster-tls-file, and a storage node keeps its
// chunks under --data-dir.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a chunkfs node data directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/chunkfs
//   - macOS:   ~/Library/Application Support/chunkfs
//   - Windows: %APPDATA%/chunkfs
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "chunkfs")}, nil
}

// Root returns the node data directory path.
func (d Dir) Root() string {
	return d.root
}

// RaftDir returns the path <root>/raft.
func (d Dir) RaftDir() string {
	return filepath.Join(d.root, "raft")
}

// MetadataDBPath returns the path <root>/metadata.db.
func (d Dir) MetadataDBPath() string {
	return filepath.Join(d.root, "metadata.db")
}

// ClusterTLSPath returns the path to the persisted cluster mTLS material.
func (d Dir) ClusterTLSPath() string {
	return filepath.Join(d.root, "cluster-tls.json")
}

// ChunksDir returns the directory holding sharded chunk files for a storage
// node's Local storage.Backend.
func (d Dir) ChunksDir() string {
	return filepath.Join(d.root, "chunks")
}

// EnsureExists creates the data directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create data directory %s: %w", d.root, err)
	}
	return nil
}
