package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// chunkMeta is the local index's per-chunk record, rebuildable from disk
// at any time by rehashing the stored bytes.
type chunkMeta struct {
	Size      int64
	Checksum  string // hex sha256
	CreatedAt time.Time
}

// localIndex is a storage node's in-memory cache of what it believes it
// holds: chunk id -> {size, checksum, created_at}, plus the running used-
// bytes counter. Per spec.md §5, mutation is guarded by a single mutex;
// reads through it are short and non-blocking.
type localIndex struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]chunkMeta
	used   int64
}

func newLocalIndex() *localIndex {
	return &localIndex{chunks: make(map[uuid.UUID]chunkMeta)}
}

func (idx *localIndex) put(id uuid.UUID, meta chunkMeta) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.chunks[id]; ok {
		idx.used -= old.Size
	}
	idx.chunks[id] = meta
	idx.used += meta.Size
}

func (idx *localIndex) remove(id uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.chunks[id]; ok {
		idx.used -= old.Size
		delete(idx.chunks, id)
	}
}

func (idx *localIndex) get(id uuid.UUID) (chunkMeta, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.chunks[id]
	return m, ok
}

func (idx *localIndex) list() []uuid.UUID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(idx.chunks))
	for id := range idx.chunks {
		out = append(out, id)
	}
	return out
}

func (idx *localIndex) stats() (count int, used int64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks), idx.used
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// rebuildIndex implements spec.md §4.4 "Startup scan": it walks the
// backend's chunk listing, rehashing every chunk to populate size,
// checksum, and created_at, since a storage node's local index is a cache
// rebuildable from disk rather than a source of truth in its own right.
// The backend's own startup scan (NewLocalBackend) already deletes stray
// "*.tmp" files, so List here only ever sees complete chunks.
func rebuildIndex(ctx context.Context, backend Backend, idx *localIndex) error {
	ids, err := backend.List(ctx)
	if err != nil {
		return fmt.Errorf("list chunks for startup scan: %w", err)
	}
	now := time.Now().UTC()
	for _, id := range ids {
		data, err := backend.Read(ctx, id)
		if err != nil {
			continue
		}
		idx.put(id, chunkMeta{Size: int64(len(data)), Checksum: sha256Hex(data), CreatedAt: now})
	}
	return nil
}
