// Package fsm bridges Raft's replicated log with the in-memory metadata
// store: it decodes each committed log entry into a command.Command and
// dispatches it by type, and it implements the Snapshot/Restore machinery
// Raft uses for log compaction and follower catch-up.
package fsm

import (
	"fmt"
	"io"

	"chunkfs/internal/metadata"
	"chunkfs/internal/metadata/command"
	"chunkfs/internal/metadata/store"

	"github.com/hashicorp/raft"
	"github.com/vmihailenco/msgpack/v5"
)

// FSM implements raft.FSM by dispatching deserialized commands to an
// in-memory metadata store.
type FSM struct {
	store *store.Store
}

var _ raft.FSM = (*FSM)(nil)

// New creates a new FSM with a fresh metadata store.
func New() *FSM {
	return &FSM{store: store.New()}
}

// Store returns the underlying store for serving reads.
func (f *FSM) Store() *store.Store {
	return f.store
}

// Apply deserializes a committed Raft log entry and dispatches it to the
// store. Returns nil on success, or an error on failure; either way the
// return value is handed back through raft.ApplyFuture.Response().
func (f *FSM) Apply(l *raft.Log) any {
	cmd, err := command.Unmarshal(l.Data)
	if err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	switch cmd.Type {
	case command.TypeCreateInode:
		f.store.PutInode(*cmd.Inode)
		return nil

	case command.TypeDeleteInode:
		f.store.DeleteInode(cmd.InodeID)
		return nil

	case command.TypeBumpInodeVersion:
		in, ok := f.store.GetInode(cmd.InodeID)
		if !ok {
			return fmt.Errorf("bump version: inode %d not found", cmd.InodeID)
		}
		in.Version = cmd.Version
		in.Size = cmd.Inode.Size
		in.ModifiedAt = cmd.Inode.ModifiedAt
		f.store.PutInode(in)
		return nil

	case command.TypeAddChild:
		f.store.PutChild(cmd.ParentID, cmd.Name, cmd.ChildID)
		return nil

	case command.TypeRemoveChild:
		f.store.RemoveChild(cmd.ParentID, cmd.Name)
		return nil

	case command.TypePutChunk:
		f.store.PutChunk(*cmd.Chunk)
		return nil

	case command.TypeDeleteChunk:
		f.store.DeleteChunk(cmd.InodeID, cmd.Version, cmd.Index)
		return nil

	case command.TypePutChunkRef:
		f.store.PutChunkRef(*cmd.ChunkRef)
		return nil

	case command.TypeDeleteChunkRef:
		f.store.DeleteChunkRef(cmd.ChunkID)
		return nil

	case command.TypePutUploadSession:
		f.store.PutUploadSession(*cmd.Upload)
		return nil

	case command.TypeDeleteUploadSession:
		f.store.DeleteUploadSession(cmd.UploadID)
		return nil

	case command.TypePutServer:
		f.store.PutServer(*cmd.Server)
		return nil

	case command.TypeEnqueueSubtreeGC:
		f.store.EnqueueSubtreeGC(metadata.SubtreeGCEntry{InodeID: cmd.GCInodeID, EnqueuedAt: cmd.GCEnqueuedAt})
		return nil

	case command.TypeDequeueSubtreeGC:
		f.store.DequeueSubtreeGC(cmd.GCInodeID)
		return nil

	case command.TypeEnqueuePhysDelete:
		f.store.EnqueuePhysDelete(*cmd.PhysDelete)
		return nil

	case command.TypeDequeuePhysDelete:
		f.store.DequeuePhysDelete(cmd.ChunkID)
		return nil

	default:
		return fmt.Errorf("unknown command type: %q", cmd.Type)
	}
}

// Snapshot captures the current metadata state for Raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	snap := f.store.Snap()
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the FSM's state with a snapshot. Raft guarantees this is
// never called concurrently with Apply or Snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}

	newStore := store.New()
	newStore.Restore(snap)
	f.store = newStore
	return nil
}

// fsmSnapshot holds serialized snapshot data pending Persist.
type fsmSnapshot struct {
	data []byte
}

var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)

// Persist writes the snapshot data to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		_ = sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op; there is no held resource to free.
func (s *fsmSnapshot) Release() {}
