// Package store holds the in-memory read model applied by the Raft FSM.
// The keyspace mirrors the reference implementation's KV scheme verbatim
// (inode:{id}, children:{parent_id}:{name}, chunk:{inode_id}:{version}:{index},
// chunk_ref:{chunk_id}, server:{server_id}, upload:{upload_id}, plus a
// next_inode_id counter seeded at 2 since 1 is the root), kept as Go maps
// guarded by a single RWMutex rather than the teacher's per-entity-type map
// set, since every command here mutates exactly one logical bucket at a
// time.
package store

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"chunkfs/internal/metadata"

	"github.com/google/uuid"
)

func childKey(parentID uint64, name string) string {
	return fmt.Sprintf("%d:%s", parentID, name)
}

func chunkKey(inodeID uint64, version, index int) string {
	return fmt.Sprintf("%d:%d:%d", inodeID, version, index)
}

// Store is the in-memory metadata read model.
type Store struct {
	mu sync.RWMutex

	inodes      map[uint64]metadata.Inode
	children    map[string]uint64 // childKey(parent, name) -> child inode id
	chunks      map[string]metadata.Chunk
	chunkRefs   map[uuid.UUID]metadata.ChunkRef
	servers     map[string]metadata.ServerInfo
	uploads     map[uuid.UUID]metadata.UploadSession
	subtreeGC   map[uint64]metadata.SubtreeGCEntry
	physDelete  map[uuid.UUID]metadata.PhysDeleteEntry
	chunksByID  map[uuid.UUID]string // ChunkID -> chunkKey, for repair/scrub/orphan-scan lookups
	nextInodeID uint64
}

// New creates an empty Store with the root directory's inode id reserved;
// next_inode_id starts at 2.
func New() *Store {
	return &Store{
		inodes:      make(map[uint64]metadata.Inode),
		children:    make(map[string]uint64),
		chunks:      make(map[string]metadata.Chunk),
		chunkRefs:   make(map[uuid.UUID]metadata.ChunkRef),
		servers:     make(map[string]metadata.ServerInfo),
		uploads:     make(map[uuid.UUID]metadata.UploadSession),
		subtreeGC:   make(map[uint64]metadata.SubtreeGCEntry),
		physDelete:  make(map[uuid.UUID]metadata.PhysDeleteEntry),
		chunksByID:  make(map[uuid.UUID]string),
		nextInodeID: 2,
	}
}

// AllocateInodeID returns the next free inode id and advances the counter.
// The leader calls it directly, outside the Raft log; PutInode, which every
// replica applies for each CREATE_INODE, raises the counter past every id it
// stores, so a replica that becomes leader continues after the highest
// committed inode id.
func (s *Store) AllocateInodeID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextInodeID
	s.nextInodeID++
	return id
}

// Inodes

func (s *Store) PutInode(inode metadata.Inode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inodes[inode.ID] = inode
	if inode.ID >= s.nextInodeID {
		s.nextInodeID = inode.ID + 1
	}
}

func (s *Store) GetInode(id uint64) (metadata.Inode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.inodes[id]
	return in, ok
}

func (s *Store) DeleteInode(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inodes, id)
}

// Directory edges

func (s *Store) PutChild(parentID uint64, name string, childID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[childKey(parentID, name)] = childID
}

func (s *Store) GetChild(parentID uint64, name string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.children[childKey(parentID, name)]
	return id, ok
}

func (s *Store) RemoveChild(parentID uint64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children, childKey(parentID, name))
}

// ListChildren returns the (name, childID) pairs of a directory's direct
// children, sorted by name for stable listing output.
func (s *Store) ListChildren(parentID uint64) []metadata.DirEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strconv.FormatUint(parentID, 10) + ":"
	var entries []metadata.DirEntry
	for k, childID := range s.children {
		name, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		entries = append(entries, metadata.DirEntry{ParentID: parentID, Name: name, ChildID: childID})
	}
	slices.SortFunc(entries, func(a, b metadata.DirEntry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return entries
}

// Chunks

func (s *Store) PutChunk(chunk metadata.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chunkKey(chunk.InodeID, chunk.Version, chunk.Index)
	s.chunks[key] = chunk
	s.chunksByID[chunk.ChunkID] = key
}

func (s *Store) GetChunk(inodeID uint64, version, index int) (metadata.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[chunkKey(inodeID, version, index)]
	return c, ok
}

// GetChunkByID looks up a chunk row by its chunk id rather than its
// (inode, version, index) coordinate, used by the scrub-report and
// under-replication repair paths which only know the chunk id.
func (s *Store) GetChunkByID(chunkID uuid.UUID) (metadata.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.chunksByID[chunkID]
	if !ok {
		return metadata.Chunk{}, false
	}
	c, ok := s.chunks[key]
	return c, ok
}

// ListAllChunks returns every chunk row in the store, across all inodes and
// versions. Used by the orphan scan and the under-replication repair loop.
func (s *Store) ListAllChunks() []metadata.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metadata.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out
}

func (s *Store) DeleteChunk(inodeID uint64, version, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chunkKey(inodeID, version, index)
	if c, ok := s.chunks[key]; ok {
		delete(s.chunksByID, c.ChunkID)
	}
	delete(s.chunks, key)
}

// ListChunks returns every chunk of a specific (inode, version) in index order.
func (s *Store) ListChunks(inodeID uint64, version int) []metadata.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []metadata.Chunk
	for _, c := range s.chunks {
		if c.InodeID == inodeID && c.Version == version {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b metadata.Chunk) int { return a.Index - b.Index })
	return out
}

// Chunk reference counts

func (s *Store) PutChunkRef(ref metadata.ChunkRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkRefs[ref.ChunkID] = ref
}

func (s *Store) GetChunkRef(chunkID uuid.UUID) (metadata.ChunkRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.chunkRefs[chunkID]
	return r, ok
}

func (s *Store) DeleteChunkRef(chunkID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunkRefs, chunkID)
}

// IncrChunkRef increments a chunk's reference count, creating the entry at
// count 1 if it does not yet exist.
func (s *Store) IncrChunkRef(chunkID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.chunkRefs[chunkID]
	r.ChunkID = chunkID
	r.Count++
	s.chunkRefs[chunkID] = r
	return r.Count
}

// DecrChunkRef decrements a chunk's reference count and returns the new
// value. Callers queue the chunk for grace-period physical deletion once
// this reaches zero.
func (s *Store) DecrChunkRef(chunkID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.chunkRefs[chunkID]
	if !ok {
		return 0
	}
	r.Count--
	if r.Count <= 0 {
		delete(s.chunkRefs, chunkID)
		return 0
	}
	s.chunkRefs[chunkID] = r
	return r.Count
}

// Upload sessions

func (s *Store) PutUploadSession(session metadata.UploadSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[session.UploadID] = session
}

func (s *Store) GetUploadSession(id uuid.UUID) (metadata.UploadSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	return u, ok
}

func (s *Store) DeleteUploadSession(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, id)
}

// Storage-node registry

func (s *Store) PutServer(info metadata.ServerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[info.ServerID] = info
}

func (s *Store) GetServer(serverID string) (metadata.ServerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[serverID]
	return srv, ok
}

// ListServers returns every registered storage node, sorted by server id.
func (s *Store) ListServers() []metadata.ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metadata.ServerInfo, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	slices.SortFunc(out, func(a, b metadata.ServerInfo) int {
		switch {
		case a.ServerID < b.ServerID:
			return -1
		case a.ServerID > b.ServerID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Subtree GC queue

// EnqueueSubtreeGC adds an inode to the subtree-GC queue, or is a no-op if
// already queued (idempotent with respect to log replay).
func (s *Store) EnqueueSubtreeGC(entry metadata.SubtreeGCEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subtreeGC[entry.InodeID]; ok {
		return
	}
	s.subtreeGC[entry.InodeID] = entry
}

// DequeueSubtreeGC removes an inode from the subtree-GC queue.
func (s *Store) DequeueSubtreeGC(inodeID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subtreeGC, inodeID)
}

// ListSubtreeGC returns every inode currently queued for subtree GC.
func (s *Store) ListSubtreeGC() []metadata.SubtreeGCEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metadata.SubtreeGCEntry, 0, len(s.subtreeGC))
	for _, e := range s.subtreeGC {
		out = append(out, e)
	}
	return out
}

// Physical chunk deletion queue

// EnqueuePhysDelete queues a chunk for deletion from its holding servers
// once DeleteAfter has passed.
func (s *Store) EnqueuePhysDelete(entry metadata.PhysDeleteEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.physDelete[entry.ChunkID] = entry
}

// DequeuePhysDelete removes a chunk from the physical-deletion queue.
func (s *Store) DequeuePhysDelete(chunkID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.physDelete, chunkID)
}

// ListPhysDelete returns every chunk currently queued for physical deletion.
func (s *Store) ListPhysDelete() []metadata.PhysDeleteEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metadata.PhysDeleteEntry, 0, len(s.physDelete))
	for _, e := range s.physDelete {
		out = append(out, e)
	}
	return out
}

// Snapshot is the serializable form of the entire Store, used by the Raft
// FSM's Snapshot/Restore machinery.
type Snapshot struct {
	Inodes      []metadata.Inode
	Children    []metadata.DirEntry
	Chunks      []metadata.Chunk
	ChunkRefs   []metadata.ChunkRef
	Servers     []metadata.ServerInfo
	Uploads     []metadata.UploadSession
	SubtreeGC   []metadata.SubtreeGCEntry
	PhysDelete  []metadata.PhysDeleteEntry
	NextInodeID uint64
}

// Snap captures a point-in-time copy of the store for serialization.
func (s *Store) Snap() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{NextInodeID: s.nextInodeID}
	for _, in := range s.inodes {
		snap.Inodes = append(snap.Inodes, in)
	}
	for k, childID := range s.children {
		idPart, name, _ := strings.Cut(k, ":")
		parentID, _ := strconv.ParseUint(idPart, 10, 64)
		snap.Children = append(snap.Children, metadata.DirEntry{ParentID: parentID, Name: name, ChildID: childID})
	}
	for _, c := range s.chunks {
		snap.Chunks = append(snap.Chunks, c)
	}
	for _, r := range s.chunkRefs {
		snap.ChunkRefs = append(snap.ChunkRefs, r)
	}
	for _, srv := range s.servers {
		snap.Servers = append(snap.Servers, srv)
	}
	for _, u := range s.uploads {
		snap.Uploads = append(snap.Uploads, u)
	}
	for _, e := range s.subtreeGC {
		snap.SubtreeGC = append(snap.SubtreeGC, e)
	}
	for _, e := range s.physDelete {
		snap.PhysDelete = append(snap.PhysDelete, e)
	}
	return snap
}

// Restore replaces the store's contents with a previously captured Snapshot.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inodes = make(map[uint64]metadata.Inode, len(snap.Inodes))
	for _, in := range snap.Inodes {
		s.inodes[in.ID] = in
	}

	s.children = make(map[string]uint64, len(snap.Children))
	for _, e := range snap.Children {
		s.children[childKey(e.ParentID, e.Name)] = e.ChildID
	}

	s.chunks = make(map[string]metadata.Chunk, len(snap.Chunks))
	s.chunksByID = make(map[uuid.UUID]string, len(snap.Chunks))
	for _, c := range snap.Chunks {
		key := chunkKey(c.InodeID, c.Version, c.Index)
		s.chunks[key] = c
		s.chunksByID[c.ChunkID] = key
	}

	s.chunkRefs = make(map[uuid.UUID]metadata.ChunkRef, len(snap.ChunkRefs))
	for _, r := range snap.ChunkRefs {
		s.chunkRefs[r.ChunkID] = r
	}

	s.servers = make(map[string]metadata.ServerInfo, len(snap.Servers))
	for _, srv := range snap.Servers {
		s.servers[srv.ServerID] = srv
	}

	s.uploads = make(map[uuid.UUID]metadata.UploadSession, len(snap.Uploads))
	for _, u := range snap.Uploads {
		s.uploads[u.UploadID] = u
	}

	s.subtreeGC = make(map[uint64]metadata.SubtreeGCEntry, len(snap.SubtreeGC))
	for _, e := range snap.SubtreeGC {
		s.subtreeGC[e.InodeID] = e
	}

	s.physDelete = make(map[uuid.UUID]metadata.PhysDeleteEntry, len(snap.PhysDelete))
	for _, e := range snap.PhysDelete {
		s.physDelete[e.ChunkID] = e
	}

	s.nextInodeID = snap.NextInodeID
}
