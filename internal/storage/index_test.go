package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestLocalIndexPutTracksUsedBytes(t *testing.T) {
	idx := newLocalIndex()
	a := uuid.New()
	b := uuid.New()

	idx.put(a, chunkMeta{Size: 100})
	idx.put(b, chunkMeta{Size: 50})

	count, used := idx.stats()
	if count != 2 || used != 150 {
		t.Fatalf("expected count=2 used=150, got count=%d used=%d", count, used)
	}
}

func TestLocalIndexPutReplacesSizeAccounting(t *testing.T) {
	idx := newLocalIndex()
	id := uuid.New()

	idx.put(id, chunkMeta{Size: 100})
	idx.put(id, chunkMeta{Size: 30})

	count, used := idx.stats()
	if count != 1 || used != 30 {
		t.Fatalf("expected count=1 used=30 after overwrite, got count=%d used=%d", count, used)
	}
}

func TestLocalIndexRemove(t *testing.T) {
	idx := newLocalIndex()
	id := uuid.New()
	idx.put(id, chunkMeta{Size: 40})

	idx.remove(id)

	if _, ok := idx.get(id); ok {
		t.Fatal("expected chunk to be gone after remove")
	}
	count, used := idx.stats()
	if count != 0 || used != 0 {
		t.Fatalf("expected empty index after remove, got count=%d used=%d", count, used)
	}
}

func TestLocalIndexRemoveUnknownIsNoop(t *testing.T) {
	idx := newLocalIndex()
	idx.put(uuid.New(), chunkMeta{Size: 10})
	idx.remove(uuid.New())

	count, used := idx.stats()
	if count != 1 || used != 10 {
		t.Fatalf("expected unrelated remove to be a no-op, got count=%d used=%d", count, used)
	}
}

func TestLocalIndexList(t *testing.T) {
	idx := newLocalIndex()
	a, b := uuid.New(), uuid.New()
	idx.put(a, chunkMeta{Size: 1})
	idx.put(b, chunkMeta{Size: 1})

	ids := idx.list()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
}

func TestSha256Hex(t *testing.T) {
	got := sha256Hex([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

type fakeBackend struct {
	data map[uuid.UUID][]byte
}

func (f *fakeBackend) Write(ctx context.Context, chunkID uuid.UUID, data []byte) error {
	f.data[chunkID] = data
	return nil
}

func (f *fakeBackend) Read(ctx context.Context, chunkID uuid.UUID) ([]byte, error) {
	return f.data[chunkID], nil
}

func (f *fakeBackend) Delete(ctx context.Context, chunkID uuid.UUID) error {
	delete(f.data, chunkID)
	return nil
}

func (f *fakeBackend) List(ctx context.Context) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(f.data))
	for id := range f.data {
		out = append(out, id)
	}
	return out, nil
}

func TestRebuildIndexRehashesEveryChunk(t *testing.T) {
	id := uuid.New()
	backend := &fakeBackend{data: map[uuid.UUID][]byte{id: []byte("hello")}}
	idx := newLocalIndex()

	if err := rebuildIndex(context.Background(), backend, idx); err != nil {
		t.Fatalf("rebuildIndex: %v", err)
	}

	meta, ok := idx.get(id)
	if !ok {
		t.Fatal("expected chunk to be indexed after rebuild")
	}
	if meta.Size != 5 {
		t.Fatalf("expected size 5, got %d", meta.Size)
	}
	want := sha256Hex([]byte("hello"))
	if meta.Checksum != want {
		t.Fatalf("expected checksum %s, got %s", want, meta.Checksum)
	}
}
