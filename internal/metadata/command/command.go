// Package command defines the msgpack-encoded command envelope submitted
// to Raft via raft.Apply(). A command is a single namespace or registry
// mutation; fsm.FSM.Apply deserializes and dispatches it to the
// in-memory store, exactly as the teacher's own config command package does
// for its own ConfigCommand, except msgpack-tagged Go structs stand in for
// the protobuf oneof this exercise cannot regenerate.
package command

import (
	"fmt"
	"time"

	"chunkfs/internal/metadata"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Type discriminates the mutation carried by a Command.
type Type string

const (
	TypeCreateInode         Type = "create_inode"
	TypeDeleteInode         Type = "delete_inode"
	TypeBumpInodeVersion    Type = "bump_inode_version"
	TypeAddChild            Type = "add_child"
	TypeRemoveChild         Type = "remove_child"
	TypePutChunk            Type = "put_chunk"
	TypeDeleteChunk         Type = "delete_chunk"
	TypePutChunkRef         Type = "put_chunk_ref"
	TypeDeleteChunkRef      Type = "delete_chunk_ref"
	TypePutUploadSession    Type = "put_upload_session"
	TypeDeleteUploadSession Type = "delete_upload_session"
	TypePutServer           Type = "put_server"
	TypeEnqueueSubtreeGC    Type = "enqueue_subtree_gc"
	TypeDequeueSubtreeGC    Type = "dequeue_subtree_gc"
	TypeEnqueuePhysDelete   Type = "enqueue_phys_delete"
	TypeDequeuePhysDelete   Type = "dequeue_phys_delete"
)

// Command is the single polymorphic envelope applied through Raft. Only the
// fields relevant to Type are populated, mirroring the original reference
// implementation's single Command dataclass rather than a Go-idiomatic
// tagged union, since every field round-trips through msgpack either way.
type Command struct {
	Type Type

	Inode    *metadata.Inode
	InodeID  uint64
	ParentID uint64
	Name     string
	ChildID  uint64
	Version  int
	Index    int

	Chunk    *metadata.Chunk
	ChunkID  uuid.UUID
	ChunkRef *metadata.ChunkRef

	Upload   *metadata.UploadSession
	UploadID uuid.UUID

	Server *metadata.ServerInfo

	// GCInodeID carries the root inode id of a delete_recursive subtree (or
	// a single deleted file) into the garbage collector's subtree queue, in
	// the same Raft transaction that removed it from the namespace.
	GCInodeID    uint64
	GCEnqueuedAt time.Time

	// PhysDelete carries a physically-deferred chunk deletion into the
	// grace-period queue, keyed by ChunkID.
	PhysDelete *metadata.PhysDeleteEntry
}

// Marshal serializes a Command for the Raft log.
func Marshal(cmd *Command) ([]byte, error) {
	data, err := msgpack.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a Command from Raft log bytes.
func Unmarshal(data []byte) (*Command, error) {
	var cmd Command
	if err := msgpack.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}
	return &cmd, nil
}

func NewCreateInode(inode metadata.Inode) *Command {
	return &Command{Type: TypeCreateInode, Inode: &inode}
}

func NewDeleteInode(id uint64) *Command {
	return &Command{Type: TypeDeleteInode, InodeID: id}
}

func NewBumpInodeVersion(id uint64, version int, size int64, modifiedAt time.Time) *Command {
	return &Command{
		Type: TypeBumpInodeVersion, InodeID: id, Version: version,
		Inode: &metadata.Inode{ID: id, Version: version, Size: size, ModifiedAt: modifiedAt},
	}
}

func NewAddChild(parentID uint64, name string, childID uint64) *Command {
	return &Command{Type: TypeAddChild, ParentID: parentID, Name: name, ChildID: childID}
}

func NewRemoveChild(parentID uint64, name string) *Command {
	return &Command{Type: TypeRemoveChild, ParentID: parentID, Name: name}
}

func NewPutChunk(chunk metadata.Chunk) *Command {
	return &Command{Type: TypePutChunk, Chunk: &chunk}
}

func NewDeleteChunk(inodeID uint64, version, index int) *Command {
	return &Command{Type: TypeDeleteChunk, InodeID: inodeID, Version: version, Index: index}
}

func NewPutChunkRef(ref metadata.ChunkRef) *Command {
	return &Command{Type: TypePutChunkRef, ChunkRef: &ref}
}

func NewDeleteChunkRef(chunkID uuid.UUID) *Command {
	return &Command{Type: TypeDeleteChunkRef, ChunkID: chunkID}
}

func NewPutUploadSession(session metadata.UploadSession) *Command {
	return &Command{Type: TypePutUploadSession, Upload: &session}
}

func NewDeleteUploadSession(id uuid.UUID) *Command {
	return &Command{Type: TypeDeleteUploadSession, UploadID: id}
}

func NewPutServer(info metadata.ServerInfo) *Command {
	return &Command{Type: TypePutServer, Server: &info}
}

// NewEnqueueSubtreeGC hands a deleted subtree's root inode id to the
// asynchronous garbage collector, in the same Raft transaction that
// detached it from the namespace.
func NewEnqueueSubtreeGC(inodeID uint64, enqueuedAt time.Time) *Command {
	return &Command{Type: TypeEnqueueSubtreeGC, GCInodeID: inodeID, GCEnqueuedAt: enqueuedAt}
}

// NewDequeueSubtreeGC removes an inode id from the subtree-GC queue once its
// children have been fully processed.
func NewDequeueSubtreeGC(inodeID uint64) *Command {
	return &Command{Type: TypeDequeueSubtreeGC, GCInodeID: inodeID}
}

// NewEnqueuePhysDelete queues a dereferenced chunk for physical deletion
// from its holding servers once the grace period elapses.
func NewEnqueuePhysDelete(chunkID uuid.UUID, servers []string, deleteAfter time.Time) *Command {
	return &Command{Type: TypeEnqueuePhysDelete, PhysDelete: &metadata.PhysDeleteEntry{
		ChunkID: chunkID, Servers: servers, DeleteAfter: deleteAfter,
	}}
}

// NewDequeuePhysDelete removes a chunk id from the physical-deletion queue
// once delete RPCs have been issued to its servers.
func NewDequeuePhysDelete(chunkID uuid.UUID) *Command {
	return &Command{Type: TypeDequeuePhysDelete, ChunkID: chunkID}
}
