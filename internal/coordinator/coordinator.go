package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"chunkfs/internal/metadata"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config configures a Coordinator.
type Config struct {
	Metadata   *MetadataClient
	StorageDir string // directory for resume-state files; defaults to os.TempDir()
	MaxWorkers int    // bound on concurrent chunk transfers; defaults to 4
}

// Coordinator implements the client-side upload/download protocol of
// spec.md §4.3, grounded on the reference implementation's DFSClient
// (client/dfs_client.py). A single Coordinator is safe for concurrent use
// across distinct remote paths; concurrent calls racing the same path are
// not serialized here, matching the reference implementation.
type Coordinator struct {
	meta       *MetadataClient
	storageDir string
	maxWorkers int
	servers    *serverAddressCache
}

// New builds a Coordinator from cfg, applying defaults for unset fields.
func New(cfg Config) *Coordinator {
	dir := cfg.StorageDir
	if dir == "" {
		dir = os.TempDir()
	}
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Coordinator{meta: cfg.Metadata, storageDir: dir, maxWorkers: workers, servers: newServerAddressCache(cfg.Metadata)}
}

// serverAddressCache resolves a storage node's registry id (what
// ChunkAllocation.Servers / Chunk.Servers actually carry, per spec.md §6)
// to its advertised data-channel address, memoizing each lookup against the
// metadata control channel's GetServer RPC. Mirrors how the metadata-side
// GC and repair loops resolve ids via Store().GetServer before dialing a
// storage node (internal/metadata/gc.go).
type serverAddressCache struct {
	meta *MetadataClient
	mu   sync.Mutex
	addr map[string]string
}

func newServerAddressCache(meta *MetadataClient) *serverAddressCache {
	return &serverAddressCache{meta: meta, addr: make(map[string]string)}
}

func (c *serverAddressCache) resolve(ctx context.Context, serverID string) (string, error) {
	c.mu.Lock()
	addr, ok := c.addr[serverID]
	c.mu.Unlock()
	if ok {
		return addr, nil
	}

	srv, err := c.meta.GetServer(ctx, serverID)
	if err != nil {
		return "", fmt.Errorf("resolve server %s: %w", serverID, err)
	}

	c.mu.Lock()
	c.addr[serverID] = srv.Address
	c.mu.Unlock()
	return srv.Address, nil
}

func (c *serverAddressCache) resolveAll(ctx context.Context, serverIDs []string) ([]string, error) {
	addrs := make([]string, len(serverIDs))
	for i, id := range serverIDs {
		addr, err := c.resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}

// CreateDirectory, ListDirectory, Delete, DeleteRecursive, ResolvePath, and
// GetServer pass straight through to the underlying MetadataClient: they
// need no coordinator-side state, but are exposed here so callers (like
// chunkfsctl) depend on a single Coordinator type for the whole
// client-facing surface, mirroring DFSClient's single-object API.
func (c *Coordinator) CreateDirectory(ctx context.Context, path string) (metadata.Inode, error) {
	return c.meta.CreateDirectory(ctx, path)
}

func (c *Coordinator) ListDirectory(ctx context.Context, path string) ([]metadata.FileInfo, error) {
	return c.meta.ListDirectory(ctx, path)
}

func (c *Coordinator) Delete(ctx context.Context, path string) error {
	return c.meta.Delete(ctx, path)
}

func (c *Coordinator) DeleteRecursive(ctx context.Context, path string) error {
	return c.meta.DeleteRecursive(ctx, path)
}

func (c *Coordinator) ResolvePath(ctx context.Context, path string) (metadata.Inode, error) {
	return c.meta.ResolvePath(ctx, path)
}

func (c *Coordinator) GetServer(ctx context.Context, serverID string) (metadata.ServerInfo, error) {
	return c.meta.GetServer(ctx, serverID)
}

// resumeState mirrors dfs_client.py's UploadState: enough to let a retried
// upload skip chunks it already durably wrote.
type resumeState struct {
	UploadID        uuid.UUID      `json:"upload_id"`
	RemotePath      string         `json:"remote_path"`
	CompletedChunks map[int]bool   `json:"completed_chunks"`
	Checksums       map[int]string `json:"checksums"`
}

func (c *Coordinator) stateFilePath(remotePath string) string {
	sum := sha256.Sum256([]byte(remotePath))
	return filepath.Join(c.storageDir, "chunkfs-upload-"+hex.EncodeToString(sum[:8])+".json")
}

func (c *Coordinator) loadState(remotePath string) (*resumeState, error) {
	data, err := os.ReadFile(c.stateFilePath(remotePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st resumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse resume state: %w", err)
	}
	return &st, nil
}

func (c *Coordinator) saveState(st *resumeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal resume state: %w", err)
	}
	return os.WriteFile(c.stateFilePath(st.RemotePath), data, 0o600)
}

func (c *Coordinator) clearState(remotePath string) {
	_ = os.Remove(c.stateFilePath(remotePath))
}

// UploadResumable uploads localPath to remotePath, persisting progress to a
// local state file after every chunk so a process that crashes mid-upload
// can resume from the last durably written chunk by calling
// UploadResumable again with the same remotePath.
func (c *Coordinator) UploadResumable(ctx context.Context, localPath, remotePath string) (metadata.Inode, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return metadata.Inode{}, fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return metadata.Inode{}, fmt.Errorf("stat local file: %w", err)
	}
	size := info.Size()

	st, err := c.loadState(remotePath)
	if err != nil {
		return metadata.Inode{}, err
	}

	var session metadata.UploadSession
	if st != nil {
		session, err = c.meta.GetUploadSession(ctx, st.UploadID)
		if err != nil || session.Status != metadata.UploadPending {
			// Stale or foreign state; start over.
			st = nil
		}
	}
	if st == nil {
		session, err = c.meta.InitUpload(ctx, remotePath, size)
		if err != nil {
			return metadata.Inode{}, fmt.Errorf("init upload: %w", err)
		}
		st = &resumeState{
			UploadID:        session.UploadID,
			RemotePath:      remotePath,
			CompletedChunks: map[int]bool{},
			Checksums:       map[int]string{},
		}
		if err := c.saveState(st); err != nil {
			return metadata.Inode{}, fmt.Errorf("persist resume state: %w", err)
		}
	}

	for _, alloc := range session.Chunks {
		if st.CompletedChunks[alloc.Index] {
			continue
		}
		buf := make([]byte, metadata.ChunkSize)
		if _, err := f.Seek(int64(alloc.Index)*metadata.ChunkSize, io.SeekStart); err != nil {
			return metadata.Inode{}, fmt.Errorf("seek chunk %d: %w", alloc.Index, err)
		}
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return metadata.Inode{}, fmt.Errorf("read chunk %d: %w", alloc.Index, err)
		}
		data := buf[:n]
		checksum := sha256Hex(data)

		if err := c.uploadChunk(ctx, alloc, data, checksum); err != nil {
			return metadata.Inode{}, fmt.Errorf("upload chunk %d: %w", alloc.Index, err)
		}

		st.CompletedChunks[alloc.Index] = true
		st.Checksums[alloc.Index] = checksum
		if err := c.saveState(st); err != nil {
			return metadata.Inode{}, fmt.Errorf("persist resume state after chunk %d: %w", alloc.Index, err)
		}
	}

	numChunks := len(session.Chunks)
	checksums := make([]string, numChunks)
	for i := 0; i < numChunks; i++ {
		checksums[i] = st.Checksums[i]
	}
	if err := c.meta.CommitUpload(ctx, session.UploadID, checksums); err != nil {
		return metadata.Inode{}, fmt.Errorf("commit upload: %w", err)
	}
	c.clearState(remotePath)

	return c.meta.ResolvePath(ctx, remotePath)
}

// UploadParallel is UploadResumable without durable resume checkpointing:
// every chunk of the file is uploaded concurrently, bounded by maxWorkers,
// which is faster but loses all progress on failure. It is the coordinator
// equivalent of dfs_client.py's put_parallel.
func (c *Coordinator) UploadParallel(ctx context.Context, localPath, remotePath string) (metadata.Inode, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return metadata.Inode{}, fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return metadata.Inode{}, fmt.Errorf("stat local file: %w", err)
	}
	size := info.Size()

	session, err := c.meta.InitUpload(ctx, remotePath, size)
	if err != nil {
		return metadata.Inode{}, fmt.Errorf("init upload: %w", err)
	}

	numChunks := len(session.Chunks)
	checksums := make([]string, numChunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)
	for _, alloc := range session.Chunks {
		alloc := alloc
		g.Go(func() error {
			buf := make([]byte, metadata.ChunkSize)
			n, err := readChunkAt(localPath, alloc.Index, buf)
			if err != nil {
				return fmt.Errorf("read chunk %d: %w", alloc.Index, err)
			}
			data := buf[:n]
			checksum := sha256Hex(data)
			if err := c.uploadChunk(gctx, alloc, data, checksum); err != nil {
				return fmt.Errorf("upload chunk %d: %w", alloc.Index, err)
			}
			checksums[alloc.Index] = checksum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = c.meta.AbortUpload(ctx, session.UploadID)
		return metadata.Inode{}, err
	}

	if err := c.meta.CommitUpload(ctx, session.UploadID, checksums); err != nil {
		return metadata.Inode{}, fmt.Errorf("commit upload: %w", err)
	}
	return c.meta.ResolvePath(ctx, remotePath)
}

// readChunkAt opens localPath independently and reads the chunk at index,
// so concurrent goroutines in UploadParallel don't share a single *os.File
// cursor.
func readChunkAt(localPath string, index int, buf []byte) (int, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Seek(int64(index)*metadata.ChunkSize, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, err
	}
	return n, nil
}

// uploadChunk writes a single chunk to its primary replica, which chain-
// forwards to the remaining replicas, per spec.md §4.3. alloc.Servers holds
// storage-node registry ids, so each must be resolved to its advertised
// address before dialing.
func (c *Coordinator) uploadChunk(ctx context.Context, alloc metadata.ChunkAllocation, data []byte, checksum string) error {
	if len(alloc.Servers) == 0 {
		return fmt.Errorf("chunk %d has no assigned servers", alloc.Index)
	}
	addrs, err := c.servers.resolveAll(ctx, alloc.Servers)
	if err != nil {
		return err
	}
	return uploadChunkToPrimary(ctx, addrs[0], alloc.ChunkID, data, checksum, addrs[1:])
}

// DownloadParallel fetches a file's chunks concurrently (bounded by
// maxWorkers) and writes them to localPath in order, failing over across a
// chunk's replica list on error, matching dfs_client.py's get_parallel.
func (c *Coordinator) DownloadParallel(ctx context.Context, remotePath, localPath string, version int) error {
	_, chunks, err := c.meta.GetFileMetadata(ctx, remotePath, version)
	if err != nil {
		return fmt.Errorf("get file metadata: %w", err)
	}

	data := make([][]byte, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			bytes, err := c.downloadChunkWithFailover(gctx, chunk)
			if err != nil {
				return fmt.Errorf("download chunk %d: %w", chunk.Index, err)
			}
			data[i] = bytes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer out.Close()
	for _, b := range data {
		if _, err := out.Write(b); err != nil {
			return fmt.Errorf("write local file: %w", err)
		}
	}
	return nil
}

// downloadChunkWithFailover tries each of a chunk's replica servers in
// order, accepting the first whose SHA-256 matches the recorded checksum.
// chunk.Servers holds storage-node registry ids, resolved to addresses
// through the coordinator's serverAddressCache before dialing.
func (c *Coordinator) downloadChunkWithFailover(ctx context.Context, chunk metadata.Chunk) ([]byte, error) {
	var lastErr error
	for _, serverID := range chunk.Servers {
		addr, err := c.servers.resolve(ctx, serverID)
		if err != nil {
			lastErr = err
			continue
		}
		data, checksum, err := downloadChunkFrom(ctx, addr, chunk.ChunkID)
		if err != nil {
			lastErr = err
			continue
		}
		if checksum != chunk.Checksum || sha256Hex(data) != chunk.Checksum {
			lastErr = fmt.Errorf("checksum mismatch from %s", addr)
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("chunk %s has no replica servers", chunk.ChunkID)
	}
	return nil, lastErr
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
