package metadata

import (
	"context"
	"log/slog"
	"time"

	"chunkfs/internal/logging"
	"chunkfs/internal/metadata/command"

	"github.com/google/uuid"
)

// subtreeGCBatchSize bounds how many directory children a single
// ProcessSubtreeBatch pass tears down, so a foreground delete_recursive on
// a huge tree never blocks behind one giant synchronous walk.
const subtreeGCBatchSize = 1000

// StorageClient is the metadata plane's view of the storage-node data
// channel, used by the garbage collector to physically delete chunks and by
// the repair loop to pull a fresh replica between two storage nodes. The
// concrete HTTP implementation is HTTPStorageClient (storageclient.go);
// Collector and Repairer depend only on this interface.
type StorageClient interface {
	DeleteChunk(ctx context.Context, addr string, chunkID uuid.UUID) error
	ListChunks(ctx context.Context, addr string) ([]uuid.UUID, error)
	PullChunk(ctx context.Context, targetAddr, sourceAddr string, chunkID uuid.UUID) error
}

// Collector runs the three garbage-collection phases of spec.md §4.4 against
// a single metadata Service: lazy subtree deletion, grace-period physical
// chunk deletion, and the daily orphan scan. Grounded on the reference
// implementation's GarbageCollector (_process_deletions, _process_chunk_gc,
// _scan_orphans), adapted from three Python threads to three gocron-
// scheduled jobs driven by the same Collector instance.
type Collector struct {
	svc         *Service
	storage     StorageClient
	gracePeriod time.Duration
	logger      *slog.Logger
}

// NewCollector builds a Collector. gracePeriod of 0 uses the package
// default (GCGracePeriod).
func NewCollector(svc *Service, storage StorageClient, gracePeriod time.Duration, logger *slog.Logger) *Collector {
	if gracePeriod == 0 {
		gracePeriod = GCGracePeriod
	}
	return &Collector{
		svc: svc, storage: storage, gracePeriod: gracePeriod,
		logger: logging.Default(logger).With("component", "metadata.gc"),
	}
}

// ProcessSubtreeBatch processes one batch (subtreeGCBatchSize children) from
// each currently-queued subtree, walking directories breadth-first and
// tearing down files as it reaches them. Call this repeatedly (e.g. from a
// scheduled job): entries are processed back to back without pausing, and
// the per-entry batch cap is what bounds the work done in one call.
func (c *Collector) ProcessSubtreeBatch(ctx context.Context) error {
	if !c.svc.node.IsLeader() {
		return nil
	}
	for _, entry := range c.svc.node.Store().ListSubtreeGC() {
		if err := c.processSubtreeEntry(ctx, entry.InodeID); err != nil {
			c.logger.Error("subtree gc entry failed", "inode", entry.InodeID, "error", err)
		}
	}
	return nil
}

func (c *Collector) processSubtreeEntry(ctx context.Context, inodeID uint64) error {
	in, ok := c.svc.node.Store().GetInode(inodeID)
	if !ok {
		_, err := c.svc.node.Propose(command.NewDequeueSubtreeGC(inodeID))
		return err
	}

	if in.Type == InodeFile {
		if err := c.tearDownFile(in); err != nil {
			return err
		}
		if _, err := c.svc.node.Propose(command.NewDeleteInode(inodeID)); err != nil {
			return err
		}
		_, err := c.svc.node.Propose(command.NewDequeueSubtreeGC(inodeID))
		return err
	}

	children := c.svc.node.Store().ListChildren(inodeID)
	if len(children) > subtreeGCBatchSize {
		children = children[:subtreeGCBatchSize]
	}

	for _, e := range children {
		child, ok := c.svc.node.Store().GetInode(e.ChildID)
		if !ok {
			continue
		}
		if _, err := c.svc.node.Propose(command.NewRemoveChild(inodeID, e.Name)); err != nil {
			return err
		}
		if child.Type == InodeDir {
			if _, err := c.svc.node.Propose(command.NewEnqueueSubtreeGC(child.ID, time.Now().UTC())); err != nil {
				return err
			}
			continue
		}
		if err := c.tearDownFile(child); err != nil {
			return err
		}
		if _, err := c.svc.node.Propose(command.NewDeleteInode(child.ID)); err != nil {
			return err
		}
	}

	if len(c.svc.node.Store().ListChildren(inodeID)) == 0 {
		if _, err := c.svc.node.Propose(command.NewDeleteInode(inodeID)); err != nil {
			return err
		}
		_, err := c.svc.node.Propose(command.NewDequeueSubtreeGC(inodeID))
		return err
	}
	return nil
}

// tearDownFile decrements the reference count of every chunk across every
// version of a file inode and removes the chunk rows. A chunk whose
// refcount reaches zero is queued for physical deletion after
// c.gracePeriod, per spec.md §9 "Implementers must not shortcut this".
func (c *Collector) tearDownFile(in Inode) error {
	for v := 1; v <= in.Version; v++ {
		for _, chunk := range c.svc.node.Store().ListChunks(in.ID, v) {
			ref, ok := c.svc.node.Store().GetChunkRef(chunk.ChunkID)
			count := ref.Count - 1
			if !ok {
				count = 0
			}
			if count <= 0 {
				if _, err := c.svc.node.Propose(command.NewDeleteChunkRef(chunk.ChunkID)); err != nil {
					return err
				}
				deleteAfter := time.Now().UTC().Add(c.gracePeriod)
				if _, err := c.svc.node.Propose(command.NewEnqueuePhysDelete(chunk.ChunkID, chunk.Servers, deleteAfter)); err != nil {
					return err
				}
			} else {
				if _, err := c.svc.node.Propose(command.NewPutChunkRef(ChunkRef{ChunkID: chunk.ChunkID, Count: count})); err != nil {
					return err
				}
			}
			if _, err := c.svc.node.Propose(command.NewDeleteChunk(in.ID, v, chunk.Index)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessPhysicalDeletions moves every physical-deletion queue entry whose
// grace period has elapsed out of the queue and issues delete RPCs to each
// server believed to hold the chunk. A failed RPC is logged and left for
// the next orphan scan to clean up, per spec.md §4.4.
func (c *Collector) ProcessPhysicalDeletions(ctx context.Context) error {
	if !c.svc.node.IsLeader() {
		return nil
	}
	now := time.Now().UTC()
	for _, entry := range c.svc.node.Store().ListPhysDelete() {
		if now.Before(entry.DeleteAfter) {
			continue
		}
		for _, serverID := range entry.Servers {
			srv, ok := c.svc.node.Store().GetServer(serverID)
			if !ok {
				continue
			}
			if err := c.storage.DeleteChunk(ctx, srv.Address, entry.ChunkID); err != nil {
				c.logger.Warn("physical chunk delete failed", "chunk", entry.ChunkID, "server", serverID, "error", err)
			}
		}
		if _, err := c.svc.node.Propose(command.NewDequeuePhysDelete(entry.ChunkID)); err != nil {
			return err
		}
	}
	return nil
}

// ScanOrphans implements the daily backstop audit: it builds the set of
// chunk ids known to metadata, then for every ONLINE server deletes any
// chunk it holds that is not in that set. This tolerates lost delete RPCs
// and leftovers from aborted uploads (spec.md §9 open question).
func (c *Collector) ScanOrphans(ctx context.Context) error {
	if !c.svc.node.IsLeader() {
		return nil
	}
	known := make(map[uuid.UUID]struct{})
	for _, chunk := range c.svc.node.Store().ListAllChunks() {
		known[chunk.ChunkID] = struct{}{}
	}
	for _, pd := range c.svc.node.Store().ListPhysDelete() {
		known[pd.ChunkID] = struct{}{}
	}

	for _, srv := range c.svc.node.Store().ListServers() {
		if srv.Status != ServerHealthy {
			continue
		}
		chunkIDs, err := c.storage.ListChunks(ctx, srv.Address)
		if err != nil {
			c.logger.Warn("orphan scan: list chunks failed", "server", srv.ServerID, "error", err)
			continue
		}
		for _, id := range chunkIDs {
			if _, ok := known[id]; ok {
				continue
			}
			if err := c.storage.DeleteChunk(ctx, srv.Address, id); err != nil {
				c.logger.Warn("orphan scan: delete failed", "server", srv.ServerID, "chunk", id, "error", err)
			}
		}
	}
	return nil
}

// Repairer implements spec.md §4.4's under-replication repair loop: every
// tick it re-counts ONLINE holders of each chunk and, when below the
// configured replication factor, instructs a freshly chosen target server
// to pull the chunk from a healthy source.
type Repairer struct {
	svc               *Service
	storage           StorageClient
	replicationFactor int
	logger            *slog.Logger
}

// NewRepairer builds a Repairer. replicationFactor of 0 uses the package
// default (ReplicationFactor).
func NewRepairer(svc *Service, storage StorageClient, replicationFactor int, logger *slog.Logger) *Repairer {
	if replicationFactor == 0 {
		replicationFactor = ReplicationFactor
	}
	return &Repairer{
		svc: svc, storage: storage, replicationFactor: replicationFactor,
		logger: logging.Default(logger).With("component", "metadata.repair"),
	}
}

// Run performs a single repair pass over every chunk row.
func (r *Repairer) Run(ctx context.Context) error {
	if !r.svc.node.IsLeader() {
		return nil
	}
	online := make(map[string]ServerInfo)
	for _, srv := range r.svc.node.Store().ListServers() {
		if srv.Status == ServerHealthy {
			online[srv.ServerID] = srv
		}
	}
	if len(online) == 0 {
		return nil
	}

	for _, chunk := range r.svc.node.Store().ListAllChunks() {
		var healthy []string
		inSet := make(map[string]bool)
		for _, id := range chunk.Servers {
			inSet[id] = true
			if _, ok := online[id]; ok {
				healthy = append(healthy, id)
			}
		}
		if len(healthy) >= r.replicationFactor || len(healthy) == 0 {
			continue
		}

		var target string
		for id := range online {
			if !inSet[id] {
				target = id
				break
			}
		}
		if target == "" {
			continue
		}
		source := online[healthy[0]]
		targetSrv := online[target]

		if err := r.storage.PullChunk(ctx, targetSrv.Address, source.Address, chunk.ChunkID); err != nil {
			r.logger.Warn("repair pull failed", "chunk", chunk.ChunkID, "source", source.ServerID, "target", target, "error", err)
			continue
		}

		chunk.Servers = append(append([]string{}, chunk.Servers...), target)
		if _, err := r.svc.node.Propose(command.NewPutChunk(chunk)); err != nil {
			return err
		}
	}
	return nil
}
