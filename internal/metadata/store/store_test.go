package store

import (
	"testing"

	"chunkfs/internal/metadata"

	"github.com/google/uuid"
)

func TestAllocateInodeIDStartsAtTwoAndIncrements(t *testing.T) {
	s := New()
	if got := s.AllocateInodeID(); got != 2 {
		t.Fatalf("expected first allocated id to be 2, got %d", got)
	}
	if got := s.AllocateInodeID(); got != 3 {
		t.Fatalf("expected second allocated id to be 3, got %d", got)
	}
}

func TestInodeRoundTrip(t *testing.T) {
	s := New()
	in := metadata.Inode{ID: 5, Name: "foo"}
	s.PutInode(in)

	got, ok := s.GetInode(5)
	if !ok || got.Name != "foo" {
		t.Fatalf("expected to find inode 5 named foo, got %+v ok=%v", got, ok)
	}

	s.DeleteInode(5)
	if _, ok := s.GetInode(5); ok {
		t.Fatal("expected inode 5 to be gone after delete")
	}
}

func TestChildrenAndListChildrenOrdering(t *testing.T) {
	s := New()
	s.PutChild(1, "charlie", 10)
	s.PutChild(1, "alpha", 11)
	s.PutChild(1, "bravo", 12)
	s.PutChild(2, "other-parent", 99)

	entries := s.ListChildren(1)
	if len(entries) != 3 {
		t.Fatalf("expected 3 children of parent 1, got %d", len(entries))
	}
	names := []string{entries[0].Name, entries[1].Name, entries[2].Name}
	want := []string{"alpha", "bravo", "charlie"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected sorted names %v, got %v", want, names)
		}
	}

	childID, ok := s.GetChild(1, "alpha")
	if !ok || childID != 11 {
		t.Fatalf("expected alpha -> 11, got %d ok=%v", childID, ok)
	}

	s.RemoveChild(1, "alpha")
	if _, ok := s.GetChild(1, "alpha"); ok {
		t.Fatal("expected alpha to be removed")
	}
}

func TestChunksByInodeVersionAndID(t *testing.T) {
	s := New()
	chunkID := uuid.New()
	c := metadata.Chunk{ChunkID: chunkID, InodeID: 1, Version: 1, Index: 0}
	s.PutChunk(c)

	got, ok := s.GetChunk(1, 1, 0)
	if !ok || got.ChunkID != chunkID {
		t.Fatalf("expected to find chunk by coordinate, got %+v ok=%v", got, ok)
	}

	byID, ok := s.GetChunkByID(chunkID)
	if !ok || byID.InodeID != 1 {
		t.Fatalf("expected to find chunk by id, got %+v ok=%v", byID, ok)
	}

	s.DeleteChunk(1, 1, 0)
	if _, ok := s.GetChunkByID(chunkID); ok {
		t.Fatal("expected chunk-by-id index to be cleared on delete")
	}
}

func TestListChunksOrdersByIndex(t *testing.T) {
	s := New()
	s.PutChunk(metadata.Chunk{ChunkID: uuid.New(), InodeID: 1, Version: 1, Index: 2})
	s.PutChunk(metadata.Chunk{ChunkID: uuid.New(), InodeID: 1, Version: 1, Index: 0})
	s.PutChunk(metadata.Chunk{ChunkID: uuid.New(), InodeID: 1, Version: 1, Index: 1})
	s.PutChunk(metadata.Chunk{ChunkID: uuid.New(), InodeID: 1, Version: 2, Index: 0})

	chunks := s.ListChunks(1, 1)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for version 1, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("expected chunks sorted by index, got %+v", chunks)
		}
	}
}

func TestChunkRefCounting(t *testing.T) {
	s := New()
	id := uuid.New()

	if got := s.IncrChunkRef(id); got != 1 {
		t.Fatalf("expected first incr to return 1, got %d", got)
	}
	if got := s.IncrChunkRef(id); got != 2 {
		t.Fatalf("expected second incr to return 2, got %d", got)
	}
	if got := s.DecrChunkRef(id); got != 1 {
		t.Fatalf("expected decr to return 1, got %d", got)
	}
	if got := s.DecrChunkRef(id); got != 0 {
		t.Fatalf("expected decr to zero to return 0, got %d", got)
	}
	if _, ok := s.GetChunkRef(id); ok {
		t.Fatal("expected chunk ref entry to be removed once count reaches zero")
	}
}

func TestDecrChunkRefUnknownIsNoop(t *testing.T) {
	s := New()
	if got := s.DecrChunkRef(uuid.New()); got != 0 {
		t.Fatalf("expected 0 for unknown chunk ref, got %d", got)
	}
}

func TestUploadSessionRoundTrip(t *testing.T) {
	s := New()
	id := uuid.New()
	s.PutUploadSession(metadata.UploadSession{UploadID: id, Name: "f"})

	got, ok := s.GetUploadSession(id)
	if !ok || got.Name != "f" {
		t.Fatalf("expected to find upload session, got %+v ok=%v", got, ok)
	}

	s.DeleteUploadSession(id)
	if _, ok := s.GetUploadSession(id); ok {
		t.Fatal("expected upload session to be gone after delete")
	}
}

func TestServerRegistryListIsSorted(t *testing.T) {
	s := New()
	s.PutServer(metadata.ServerInfo{ServerID: "z"})
	s.PutServer(metadata.ServerInfo{ServerID: "a"})
	s.PutServer(metadata.ServerInfo{ServerID: "m"})

	servers := s.ListServers()
	if len(servers) != 3 || servers[0].ServerID != "a" || servers[2].ServerID != "z" {
		t.Fatalf("expected servers sorted by id, got %+v", servers)
	}
}

func TestSubtreeGCQueueIsIdempotent(t *testing.T) {
	s := New()
	s.EnqueueSubtreeGC(metadata.SubtreeGCEntry{InodeID: 1})
	s.EnqueueSubtreeGC(metadata.SubtreeGCEntry{InodeID: 1})

	if got := len(s.ListSubtreeGC()); got != 1 {
		t.Fatalf("expected enqueueing twice to be idempotent, got %d entries", got)
	}

	s.DequeueSubtreeGC(1)
	if got := len(s.ListSubtreeGC()); got != 0 {
		t.Fatalf("expected queue empty after dequeue, got %d", got)
	}
}

func TestPhysDeleteQueue(t *testing.T) {
	s := New()
	id := uuid.New()
	s.EnqueuePhysDelete(metadata.PhysDeleteEntry{ChunkID: id})

	if got := len(s.ListPhysDelete()); got != 1 {
		t.Fatalf("expected 1 queued entry, got %d", got)
	}

	s.DequeuePhysDelete(id)
	if got := len(s.ListPhysDelete()); got != 0 {
		t.Fatalf("expected queue empty after dequeue, got %d", got)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	s.AllocateInodeID()
	s.AllocateInodeID()
	s.PutInode(metadata.Inode{ID: 3, Name: "root-child"})
	s.PutChild(1, "root-child", 3)
	chunkID := uuid.New()
	s.PutChunk(metadata.Chunk{ChunkID: chunkID, InodeID: 3, Version: 1, Index: 0})
	s.PutChunkRef(metadata.ChunkRef{ChunkID: chunkID, Count: 2})
	s.PutServer(metadata.ServerInfo{ServerID: "s1"})
	uploadID := uuid.New()
	s.PutUploadSession(metadata.UploadSession{UploadID: uploadID})
	s.EnqueueSubtreeGC(metadata.SubtreeGCEntry{InodeID: 3})
	s.EnqueuePhysDelete(metadata.PhysDeleteEntry{ChunkID: chunkID})

	snap := s.Snap()

	restored := New()
	restored.Restore(snap)

	if got := restored.AllocateInodeID(); got != 4 {
		t.Fatalf("expected restored next_inode_id counter to resume at 4, got %d", got)
	}
	if in, ok := restored.GetInode(3); !ok || in.Name != "root-child" {
		t.Fatalf("expected restored inode, got %+v ok=%v", in, ok)
	}
	if childID, ok := restored.GetChild(1, "root-child"); !ok || childID != 3 {
		t.Fatalf("expected restored child edge, got %d ok=%v", childID, ok)
	}
	if _, ok := restored.GetChunkByID(chunkID); !ok {
		t.Fatal("expected restored chunk-by-id index to be rebuilt")
	}
	if ref, ok := restored.GetChunkRef(chunkID); !ok || ref.Count != 2 {
		t.Fatalf("expected restored chunk ref count 2, got %+v ok=%v", ref, ok)
	}
	if _, ok := restored.GetServer("s1"); !ok {
		t.Fatal("expected restored server registry entry")
	}
	if _, ok := restored.GetUploadSession(uploadID); !ok {
		t.Fatal("expected restored upload session")
	}
	if got := len(restored.ListSubtreeGC()); got != 1 {
		t.Fatalf("expected restored subtree GC queue of 1, got %d", got)
	}
	if got := len(restored.ListPhysDelete()); got != 1 {
		t.Fatalf("expected restored phys-delete queue of 1, got %d", got)
	}
}
