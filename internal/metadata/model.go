// Package metadata implements the Raft-replicated metadata plane: the
// inode/directory/chunk namespace, upload session lifecycle, storage-node
// registry, chunk placement, and the garbage-collection pipeline that keeps
// chunk reference counts and physical storage in sync with the namespace.
package metadata

import (
	"time"

	"github.com/google/uuid"
)

// InodeType distinguishes files from directories.
type InodeType string

const (
	InodeFile InodeType = "file"
	InodeDir  InodeType = "directory"
)

// InodeStatus is an inode's lifecycle state. Uploading inodes are invisible
// to list_directory/resolve_path; deleted inodes are tombstoned in place
// until the garbage collector physically removes their chunks.
type InodeStatus string

const (
	InodeUploading InodeStatus = "UPLOADING"
	InodeActive    InodeStatus = "ACTIVE"
	InodeDeleted   InodeStatus = "DELETED"
)

// ServerStatus describes a storage node's last known health.
type ServerStatus string

const (
	ServerHealthy  ServerStatus = "HEALTHY"
	ServerOffline  ServerStatus = "OFFLINE"
	ServerDraining ServerStatus = "DRAINING"
)

// UploadStatus describes the lifecycle state of an upload session.
type UploadStatus string

const (
	UploadPending   UploadStatus = "PENDING"
	UploadCommitted UploadStatus = "COMMITTED"
	UploadAborted   UploadStatus = "ABORTED"
)

// RootInodeID is the fixed inode id of the filesystem root directory.
const RootInodeID uint64 = 1

// Inode is a single file or directory entry in the namespace.
type Inode struct {
	ID         uint64
	ParentID   uint64
	Name       string
	Type       InodeType
	Status     InodeStatus
	Size       int64 // file inodes only; total bytes across all chunks
	Version    int   // incremented on each successful commit_upload
	Owner      string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// DirEntry is a single (parent, name) -> child edge in the namespace.
type DirEntry struct {
	ParentID uint64
	Name     string
	ChildID  uint64
}

// Chunk records the storage-node placement of one 64MiB chunk of a file at
// a specific (inode, version, index) coordinate.
type Chunk struct {
	ChunkID  uuid.UUID
	InodeID  uint64
	Version  int
	Index    int
	Size     int64
	Checksum string // hex sha256
	Servers  []string
}

// ChunkRef tracks how many live (inode, version) tuples reference a chunk
// id, so it can be queued for deletion once the count reaches zero.
type ChunkRef struct {
	ChunkID uuid.UUID
	Count   int
}

// ChunkAllocation is the placement decision handed back to a client for one
// chunk of an in-progress upload: the chunk id to write under, and the
// ordered list of storage servers to write it to (primary first).
type ChunkAllocation struct {
	ChunkID uuid.UUID
	Index   int
	Servers []string
}

// UploadSession tracks an in-progress init_upload/upload_chunk/commit_upload
// sequence.
type UploadSession struct {
	UploadID  uuid.UUID
	InodeID   uint64
	ParentID  uint64
	Name      string
	Version   int
	Size      int64
	Chunks    []ChunkAllocation
	Status    UploadStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PhysDeleteEntry is a dereferenced chunk awaiting physical deletion from
// its holding servers once the grace period elapses.
type PhysDeleteEntry struct {
	ChunkID     uuid.UUID
	Servers     []string
	DeleteAfter time.Time
}

// SubtreeGCEntry is a deleted directory (or file) inode whose children and
// chunk teardown have not yet been fully processed by the garbage collector.
type SubtreeGCEntry struct {
	InodeID    uint64
	EnqueuedAt time.Time
}

// ServerInfo is a storage node's registry entry.
type ServerInfo struct {
	ServerID     string
	Address      string
	Zone         string
	Capacity     int64
	Used         int64
	ChunkCount   int
	Status       ServerStatus
	LastSeen     time.Time
	RegisteredAt time.Time
}

// Available returns the server's remaining byte capacity.
func (s ServerInfo) Available() int64 {
	return s.Capacity - s.Used
}

// FileInfo is the client-facing summary returned by stat/list_directory.
type FileInfo struct {
	Name       string
	Type       InodeType
	Size       int64
	Owner      string
	Version    int
	CreatedAt  time.Time
	ModifiedAt time.Time
}
