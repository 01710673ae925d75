// Package chunkerr defines the sentinel error taxonomy shared by the
// metadata plane and the storage-node agent. Callers compare against these
// values with errors.Is; RPC layers translate them to status codes at the
// edge.
package chunkerr

import "errors"

var (
	// NotFound means the requested inode, upload session, or chunk does not exist.
	NotFound = errors.New("not found")

	// AlreadyExists means a directory entry with the same parent and name
	// already exists.
	AlreadyExists = errors.New("already exists")

	// NotADirectory means an operation that requires a directory inode was
	// given a file inode.
	NotADirectory = errors.New("not a directory")

	// NotAFile means an operation that requires a file inode was given a
	// directory inode.
	NotAFile = errors.New("not a file")

	// DirectoryNotEmpty means a directory delete was attempted on a
	// directory that still has children.
	DirectoryNotEmpty = errors.New("directory not empty")

	// ParentNotFound means the parent path component of an operation does
	// not resolve to an existing directory.
	ParentNotFound = errors.New("parent not found")

	// UploadNotFound means the referenced upload session id is unknown.
	UploadNotFound = errors.New("upload not found")

	// InvalidUpload means an upload session was committed or continued in a
	// way that violates its own state (wrong chunk count, wrong order,
	// already committed, already aborted).
	InvalidUpload = errors.New("invalid upload")

	// ChecksumMismatch means the SHA-256 of received chunk bytes did not
	// match the checksum declared for that chunk.
	ChecksumMismatch = errors.New("checksum mismatch")

	// ChunkNotFound means a storage node has no local copy of the
	// requested chunk.
	ChunkNotFound = errors.New("chunk not found")

	// ChunkCorrupted means a storage node's local copy of a chunk failed
	// its checksum verification on read or during a scrub pass.
	ChunkCorrupted = errors.New("chunk corrupted")

	// ReplicationUnderfilled means fewer than REPLICATION_FACTOR healthy
	// storage nodes could be allocated for a chunk.
	ReplicationUnderfilled = errors.New("replication underfilled")

	// StorageUnavailable means a storage node could not be reached or
	// returned a transport-level failure.
	StorageUnavailable = errors.New("storage unavailable")

	// Timeout means an operation exceeded its deadline (election,
	// read_index wait, RPC round trip).
	Timeout = errors.New("timeout")
)

// NotLeaderError means the contacted metadata node is not the Raft leader.
// LeaderHint carries the leader's address when known, so the caller can
// retry against it directly.
type NotLeaderError struct {
	LeaderHint string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderHint == "" {
		return "not leader: no known leader"
	}
	return "not leader: leader is at " + e.LeaderHint
}

// Is lets errors.Is(err, chunkerr.ErrNotLeader) match any *NotLeaderError,
// regardless of its LeaderHint.
func (e *NotLeaderError) Is(target error) bool {
	_, ok := target.(*NotLeaderError)
	return ok
}

// ErrNotLeader is a zero-value *NotLeaderError usable as an errors.Is target.
var ErrNotLeader = &NotLeaderError{}
