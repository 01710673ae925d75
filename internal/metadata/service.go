// Service implements the client-facing metadata RPCs of spec.md §6 on top
// of a Node: path resolution, namespace mutation, upload session lifecycle,
// and chunk-server placement. Every mutation is proposed through the Raft
// log; create, delete, init_upload and the abort of a new file hold a
// per-parent-directory lock while they do so. Every read is pegged to a
// read_index() barrier before touching the in-memory store.
package metadata

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chunkfs/internal/chunkerr"
	"chunkfs/internal/logging"
	"chunkfs/internal/metadata/command"

	"github.com/google/uuid"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	ReplicationFactor int           // 0 means use the package default (3)
	UploadSessionTTL  time.Duration // 0 means use the package default (24h)
	Logger            *slog.Logger
}

// Service is the metadata plane's client-facing operation surface.
type Service struct {
	node   *Node
	cfg    ServiceConfig
	locks  *parentLocks
	logger *slog.Logger
}

// NewService wraps a Raft Node with the namespace/upload/placement
// operations of spec.md §4.2-4.3.
func NewService(node *Node, cfg ServiceConfig) *Service {
	if cfg.ReplicationFactor == 0 {
		cfg.ReplicationFactor = ReplicationFactor
	}
	if cfg.UploadSessionTTL == 0 {
		cfg.UploadSessionTTL = UploadSessionTTL
	}
	return &Service{
		node:   node,
		cfg:    cfg,
		locks:  newParentLocks(),
		logger: logging.Default(cfg.Logger).With("component", "metadata.service"),
	}
}

// splitPath breaks a "/"-separated absolute path into its non-empty
// segments. "/" itself yields zero segments (the root).
func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func splitParent(path string) (parentSegs []string, name string) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, ""
	}
	return segs[:len(segs)-1], segs[len(segs)-1]
}

// resolveInode walks the directory edges from root for the given path
// segments, returning the terminal inode. Only ACTIVE inodes are visible;
// an UPLOADING or DELETED inode along the path (or at the terminus) is
// treated as not-found per spec.md §4.2 "Path resolution".
func (s *Service) resolveInode(segs []string) (Inode, error) {
	cur := RootInodeID
	in, ok := s.node.Store().GetInode(RootInodeID)
	if !ok {
		return Inode{}, fmt.Errorf("resolve path: %w (root inode missing)", chunkerr.NotFound)
	}
	for _, seg := range segs {
		childID, ok := s.node.Store().GetChild(cur, seg)
		if !ok {
			return Inode{}, chunkerr.NotFound
		}
		child, ok := s.node.Store().GetInode(childID)
		if !ok || child.Status != InodeActive {
			return Inode{}, chunkerr.NotFound
		}
		in = child
		cur = childID
	}
	return in, nil
}

// ResolvePath resolves an absolute path to its inode through the
// linearizable read barrier.
func (s *Service) ResolvePath(path string) (Inode, error) {
	if err := s.node.ReadIndex(); err != nil {
		return Inode{}, err
	}
	return s.resolveInode(splitPath(path))
}

// CreateDirectory creates a new empty directory at path. The parent must
// already exist as an ACTIVE directory, and path must not already exist.
func (s *Service) CreateDirectory(path, owner string) (Inode, error) {
	parentSegs, name := splitParent(path)
	if name == "" {
		return Inode{}, fmt.Errorf("create directory: %w (empty path)", chunkerr.InvalidUpload)
	}

	parent, err := s.ResolvePath("/" + strings.Join(parentSegs, "/"))
	if err != nil {
		if errors.Is(err, chunkerr.NotFound) {
			return Inode{}, chunkerr.ParentNotFound
		}
		return Inode{}, err
	}
	if parent.Type != InodeDir {
		return Inode{}, chunkerr.NotADirectory
	}

	unlock := s.locks.Lock(parent.ID)
	defer unlock()

	if _, ok := s.node.Store().GetChild(parent.ID, name); ok {
		return Inode{}, chunkerr.AlreadyExists
	}

	id := s.node.Store().AllocateInodeID()
	now := time.Now().UTC()
	in := Inode{
		ID: id, ParentID: parent.ID, Name: name, Type: InodeDir, Status: InodeActive,
		Owner: owner, CreatedAt: now, ModifiedAt: now, Version: 1,
	}
	if _, err := s.node.Propose(command.NewCreateInode(in)); err != nil {
		return Inode{}, err
	}
	if _, err := s.node.Propose(command.NewAddChild(parent.ID, name, id)); err != nil {
		return Inode{}, err
	}
	return in, nil
}

// ListDirectory enumerates a directory's ACTIVE children, sorted by name.
func (s *Service) ListDirectory(path string) ([]FileInfo, error) {
	dir, err := s.ResolvePath(path)
	if err != nil {
		if path == "/" {
			dir = Inode{ID: RootInodeID, Type: InodeDir, Status: InodeActive}
		} else {
			return nil, err
		}
	}
	if dir.Type != InodeDir {
		return nil, chunkerr.NotADirectory
	}

	entries := s.node.Store().ListChildren(dir.ID)
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		child, ok := s.node.Store().GetInode(e.ChildID)
		if !ok || child.Status != InodeActive {
			continue
		}
		out = append(out, FileInfo{
			Name: child.Name, Type: child.Type, Size: child.Size, Owner: child.Owner,
			Version: child.Version, CreatedAt: child.CreatedAt, ModifiedAt: child.ModifiedAt,
		})
	}
	return out, nil
}

// Delete removes a single non-directory-with-children inode: a file, or an
// empty directory. File chunk teardown is handed to the garbage collector
// asynchronously via the subtree-GC queue.
func (s *Service) Delete(path string) error {
	parentSegs, name := splitParent(path)
	if name == "" {
		return chunkerr.NotFound
	}
	parentPath := "/" + strings.Join(parentSegs, "/")
	parent, err := s.ResolvePath(parentPath)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(parent.ID)
	defer unlock()

	childID, ok := s.node.Store().GetChild(parent.ID, name)
	if !ok {
		return chunkerr.NotFound
	}
	target, ok := s.node.Store().GetInode(childID)
	if !ok || target.Status != InodeActive {
		return chunkerr.NotFound
	}
	if target.Type == InodeDir && len(s.node.Store().ListChildren(target.ID)) > 0 {
		return chunkerr.DirectoryNotEmpty
	}

	target.Status = InodeDeleted
	target.ModifiedAt = time.Now().UTC()
	if _, err := s.node.Propose(command.NewCreateInode(target)); err != nil {
		return err
	}
	if _, err := s.node.Propose(command.NewRemoveChild(parent.ID, name)); err != nil {
		return err
	}
	if target.Type == InodeFile {
		if _, err := s.node.Propose(command.NewEnqueueSubtreeGC(target.ID, time.Now().UTC())); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecursive detaches an entire subtree from the namespace in O(1) and
// hands it to the garbage collector's asynchronous subtree walk. It returns
// as soon as the root of the subtree is tombstoned and detached.
func (s *Service) DeleteRecursive(path string) error {
	parentSegs, name := splitParent(path)
	if name == "" {
		return chunkerr.NotFound
	}
	parentPath := "/" + strings.Join(parentSegs, "/")
	parent, err := s.ResolvePath(parentPath)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(parent.ID)
	defer unlock()

	childID, ok := s.node.Store().GetChild(parent.ID, name)
	if !ok {
		return chunkerr.NotFound
	}
	target, ok := s.node.Store().GetInode(childID)
	if !ok || target.Status != InodeActive {
		return chunkerr.NotFound
	}

	target.Status = InodeDeleted
	target.ModifiedAt = time.Now().UTC()
	if _, err := s.node.Propose(command.NewCreateInode(target)); err != nil {
		return err
	}
	if _, err := s.node.Propose(command.NewRemoveChild(parent.ID, name)); err != nil {
		return err
	}
	if _, err := s.node.Propose(command.NewEnqueueSubtreeGC(target.ID, time.Now().UTC())); err != nil {
		return err
	}
	return nil
}

// chunkCount returns the number of chunks a file of the given size is split
// into: ceil(size/CHUNK_SIZE), or 1 for a zero-byte file.
func chunkCount(size int64) int {
	if size <= 0 {
		return 1
	}
	n := size / ChunkSize
	if size%ChunkSize != 0 {
		n++
	}
	return int(n)
}

func chunkSizeAt(index, n int, total int64) int64 {
	if index < n-1 {
		return ChunkSize
	}
	return total - int64(index)*ChunkSize
}

// InitUpload begins a new file write (fresh or overwrite): it resolves the
// parent, decides the target inode and version, allocates a chunk id and a
// placement for every chunk index, and persists a PENDING UploadSession.
func (s *Service) InitUpload(path string, size int64, owner string) (UploadSession, error) {
	if size < 0 {
		return UploadSession{}, fmt.Errorf("init upload: %w (negative size)", chunkerr.InvalidUpload)
	}
	parentSegs, name := splitParent(path)
	if name == "" {
		return UploadSession{}, fmt.Errorf("init upload: %w (empty path)", chunkerr.InvalidUpload)
	}
	parentPath := "/" + strings.Join(parentSegs, "/")
	parent, err := s.ResolvePath(parentPath)
	if err != nil {
		if errors.Is(err, chunkerr.NotFound) {
			return UploadSession{}, chunkerr.ParentNotFound
		}
		return UploadSession{}, err
	}
	if parent.Type != InodeDir {
		return UploadSession{}, chunkerr.NotADirectory
	}

	unlock := s.locks.Lock(parent.ID)
	defer unlock()

	now := time.Now().UTC()
	var inodeID uint64
	var version int

	if existingID, ok := s.node.Store().GetChild(parent.ID, name); ok {
		existing, ok := s.node.Store().GetInode(existingID)
		if !ok || existing.Status != InodeActive {
			return UploadSession{}, chunkerr.NotFound
		}
		if existing.Type != InodeFile {
			return UploadSession{}, chunkerr.NotAFile
		}
		inodeID = existing.ID
		version = existing.Version + 1
	} else {
		inodeID = s.node.Store().AllocateInodeID()
		version = 1
	}

	uploading := Inode{
		ID: inodeID, ParentID: parent.ID, Name: name, Type: InodeFile, Status: InodeUploading,
		Size: size, Version: version, Owner: owner, CreatedAt: now, ModifiedAt: now,
	}
	if _, err := s.node.Propose(command.NewCreateInode(uploading)); err != nil {
		return UploadSession{}, err
	}
	if version == 1 {
		if _, err := s.node.Propose(command.NewAddChild(parent.ID, name, inodeID)); err != nil {
			return UploadSession{}, err
		}
	}

	n := chunkCount(size)
	allocations := make([]ChunkAllocation, n)
	servers := s.node.Store().ListServers()
	for i := range n {
		id, err := uuid.NewRandom()
		if err != nil {
			return UploadSession{}, fmt.Errorf("mint chunk id: %w", err)
		}
		allocations[i] = ChunkAllocation{
			ChunkID: id, Index: i, Servers: selectPlacementServers(servers, s.cfg.ReplicationFactor),
		}
	}

	sessionID, err := uuid.NewRandom()
	if err != nil {
		return UploadSession{}, fmt.Errorf("mint upload id: %w", err)
	}
	session := UploadSession{
		UploadID: sessionID, InodeID: inodeID, ParentID: parent.ID, Name: name, Version: version,
		Size: size, Chunks: allocations, Status: UploadPending,
		CreatedAt: now, ExpiresAt: now.Add(s.cfg.UploadSessionTTL),
	}
	if _, err := s.node.Propose(command.NewPutUploadSession(session)); err != nil {
		return UploadSession{}, err
	}
	return session, nil
}

func sessionExpired(session UploadSession, now time.Time) bool {
	return now.After(session.ExpiresAt)
}

// GetUploadSession returns a session's current state, treating an expired
// PENDING session as already aborted per spec.md §3 invariant (c).
func (s *Service) GetUploadSession(uploadID uuid.UUID) (UploadSession, error) {
	if err := s.node.ReadIndex(); err != nil {
		return UploadSession{}, err
	}
	session, ok := s.node.Store().GetUploadSession(uploadID)
	if !ok {
		return UploadSession{}, chunkerr.UploadNotFound
	}
	if session.Status == UploadPending && sessionExpired(session, time.Now().UTC()) {
		session.Status = UploadAborted
	}
	return session, nil
}

// CommitUpload finalizes an upload: it verifies the supplied per-chunk
// checksums against the session's allocation, writes one PUT_CHUNK row per
// chunk, bumps the target inode to ACTIVE with the new size/version, and
// removes the session.
func (s *Service) CommitUpload(uploadID uuid.UUID, checksums []string) error {
	session, ok := s.node.Store().GetUploadSession(uploadID)
	if !ok {
		return chunkerr.UploadNotFound
	}
	if session.Status != UploadPending {
		return fmt.Errorf("commit upload: %w (session is %s)", chunkerr.InvalidUpload, session.Status)
	}
	if sessionExpired(session, time.Now().UTC()) {
		return fmt.Errorf("commit upload: %w (session expired)", chunkerr.InvalidUpload)
	}
	if len(checksums) != len(session.Chunks) {
		return fmt.Errorf("commit upload: %w (got %d checksums, want %d)", chunkerr.InvalidUpload, len(checksums), len(session.Chunks))
	}

	n := len(session.Chunks)
	for i, alloc := range session.Chunks {
		size := chunkSizeAt(i, n, session.Size)
		chunk := Chunk{
			ChunkID: alloc.ChunkID, InodeID: session.InodeID, Version: session.Version,
			Index: i, Size: size, Checksum: checksums[i], Servers: alloc.Servers,
		}
		if _, err := s.node.Propose(command.NewPutChunk(chunk)); err != nil {
			return err
		}
		if _, err := s.node.Propose(command.NewPutChunkRef(ChunkRef{ChunkID: alloc.ChunkID, Count: 1})); err != nil {
			return err
		}
	}

	in, ok := s.node.Store().GetInode(session.InodeID)
	if !ok {
		return fmt.Errorf("commit upload: %w (target inode missing)", chunkerr.InvalidUpload)
	}
	in.Status = InodeActive
	in.Size = session.Size
	in.Version = session.Version
	in.ModifiedAt = time.Now().UTC()
	if _, err := s.node.Propose(command.NewCreateInode(in)); err != nil {
		return err
	}

	_, err := s.node.Propose(command.NewDeleteUploadSession(uploadID))
	return err
}

// AbortUpload discards an in-progress upload. A session for a brand-new
// file (version 1) tears down the UPLOADING inode and its parent edge;
// a session overwriting an existing file returns the inode to its previous
// ACTIVE version and size (its timestamps keep the values InitUpload set),
// leaving that version's chunks untouched. Chunks already written by the aborted session become
// orphans cleaned up by the orphan scan, per spec.md §9.
func (s *Service) AbortUpload(uploadID uuid.UUID) error {
	session, ok := s.node.Store().GetUploadSession(uploadID)
	if !ok {
		// No-op on an unknown session id, per spec.md §8 idempotence.
		return nil
	}

	if session.Version == 1 {
		unlock := s.locks.Lock(session.ParentID)
		defer unlock()

		if _, err := s.node.Propose(command.NewRemoveChild(session.ParentID, session.Name)); err != nil {
			return err
		}
		if _, err := s.node.Propose(command.NewDeleteInode(session.InodeID)); err != nil {
			return err
		}
	} else if in, ok := s.node.Store().GetInode(session.InodeID); ok && in.Status == InodeUploading && in.Version == session.Version {
		in.Status = InodeActive
		in.Version = session.Version - 1
		in.Size = 0
		for _, c := range s.node.Store().ListChunks(in.ID, in.Version) {
			in.Size += c.Size
		}
		if _, err := s.node.Propose(command.NewCreateInode(in)); err != nil {
			return err
		}
	}

	_, err := s.node.Propose(command.NewDeleteUploadSession(uploadID))
	return err
}

// GetFileMetadata returns an inode and its ordered chunk list for the given
// version (0 means the inode's current version).
func (s *Service) GetFileMetadata(path string, version int) (Inode, []Chunk, error) {
	in, err := s.ResolvePath(path)
	if err != nil {
		return Inode{}, nil, err
	}
	if in.Type != InodeFile {
		return Inode{}, nil, chunkerr.NotAFile
	}
	if version == 0 {
		version = in.Version
	}
	chunks := s.node.Store().ListChunks(in.ID, version)
	return in, chunks, nil
}

// GetServer returns a storage node's registry entry.
func (s *Service) GetServer(serverID string) (ServerInfo, error) {
	if err := s.node.ReadIndex(); err != nil {
		return ServerInfo{}, err
	}
	srv, ok := s.node.Store().GetServer(serverID)
	if !ok {
		return ServerInfo{}, chunkerr.NotFound
	}
	return srv, nil
}

// Heartbeat records a storage node's latest self-report and reclassifies it
// HEALTHY (this package's name for spec.md's ONLINE; see ServerStatus); a
// DRAINING server stays DRAINING.
func (s *Service) Heartbeat(serverID, address string, capacity, used int64, chunkCount int, zone string) error {
	existing, _ := s.node.Store().GetServer(serverID)
	now := time.Now().UTC()
	info := ServerInfo{
		ServerID: serverID, Address: address, Capacity: capacity, Used: used,
		ChunkCount: chunkCount, Zone: zone, Status: ServerHealthy, LastSeen: now,
	}
	if existing.Status == ServerDraining {
		info.Status = ServerDraining
	}
	if existing.RegisteredAt.IsZero() {
		info.RegisteredAt = now
	} else {
		info.RegisteredAt = existing.RegisteredAt
	}
	_, err := s.node.Propose(command.NewPutServer(info))
	return err
}

// SweepOfflineServers reclassifies any server whose last heartbeat is older
// than timeout as OFFLINE. Intended to be called periodically by a
// scheduled job on the leader.
func (s *Service) SweepOfflineServers(timeout time.Duration) error {
	if !s.node.IsLeader() {
		return nil
	}
	now := time.Now().UTC()
	for _, srv := range s.node.Store().ListServers() {
		if srv.Status == ServerOffline {
			continue
		}
		if now.Sub(srv.LastSeen) <= timeout {
			continue
		}
		srv.Status = ServerOffline
		if _, err := s.node.Propose(command.NewPutServer(srv)); err != nil {
			return err
		}
	}
	return nil
}

// ReportChunkIssue records that a storage node no longer holds a healthy
// copy of a chunk (MISSING from a failed scrub read, or CORRUPTED from a
// checksum mismatch), removing it from the chunk's believed server set so
// the under-replication repair loop restores a replacement.
func (s *Service) ReportChunkIssue(serverID string, chunkID uuid.UUID) error {
	chunk, ok := s.node.Store().GetChunkByID(chunkID)
	if !ok {
		return nil
	}
	servers := make([]string, 0, len(chunk.Servers))
	for _, id := range chunk.Servers {
		if id != serverID {
			servers = append(servers, id)
		}
	}
	if len(servers) == len(chunk.Servers) {
		return nil
	}
	chunk.Servers = servers
	_, err := s.node.Propose(command.NewPutChunk(chunk))
	return err
}
