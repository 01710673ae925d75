// Package storage implements the storage-node agent of spec.md §4.4: a
// local (or S3-backed) chunk store with atomic writes, a background scrub
// loop, periodic heartbeats to the metadata plane, and chain-replication
// forwarding for uploads.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chunkfs/internal/logging"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// scrubThrottle paces the scrub loop at one chunk per tick, per spec.md
// §4.4 "throttles (e.g. 100ms per chunk)".
const scrubThrottle = 100 * time.Millisecond

// scrubInterval is how often a full pass over the local chunk index
// repeats, per spec.md §4.4 "repeats fully every 24 hours".
const scrubInterval = 24 * time.Hour

// AgentConfig configures a storage-node Agent.
type AgentConfig struct {
	ServerID string
	Address  string // advertised address other nodes/clients reach this node at
	Zone     string
	Capacity int64

	Backend  Backend
	Metadata MetadataClient

	HeartbeatInterval time.Duration // 0 uses spec.md's HEARTBEAT_INTERVAL (10s)

	Logger *slog.Logger
}

// Agent is the storage-node process: it owns a Backend and the local
// index cached over it, and drives the heartbeat and scrub background
// loops described in spec.md §4.4, grounded on the reference
// implementation's ChunkServer (_heartbeat_loop, _scrub_loop,
// _scan_local_chunks), adapted from Python asyncio tasks to
// gocron-scheduled jobs.
type Agent struct {
	cfg     AgentConfig
	backend Backend
	index   *localIndex
	sched   gocron.Scheduler
	logger  *slog.Logger
}

// NewAgent constructs an Agent and performs the startup scan (spec.md
// §4.4: delete stray *.tmp files — already done by NewLocalBackend — then
// rehash every remaining chunk to rebuild the local index).
func NewAgent(ctx context.Context, cfg AgentConfig) (*Agent, error) {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	logger := logging.Default(cfg.Logger).With("component", "storage.agent", "server_id", cfg.ServerID)

	idx := newLocalIndex()
	if err := rebuildIndex(ctx, cfg.Backend, idx); err != nil {
		return nil, fmt.Errorf("rebuild local chunk index: %w", err)
	}
	count, used := idx.stats()
	logger.Info("startup scan complete", "chunks", count, "used_bytes", used)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Agent{cfg: cfg, backend: cfg.Backend, index: idx, sched: sched, logger: logger}, nil
}

// Start schedules the heartbeat and scrub background jobs and begins
// running them. It does not block. The heartbeat job is a gocron.CronJob
// with the seconds field enabled; the scrub job runs every scrubInterval
// via gocron.DurationJob, mirroring the teacher's own cronrotation.go
// scheduling shape rather than a hand-rolled ticker loop.
func (a *Agent) Start(ctx context.Context) error {
	heartbeatCron := fmt.Sprintf("*/%d * * * * *", int(a.cfg.HeartbeatInterval.Seconds()))
	if _, err := a.sched.NewJob(
		gocron.CronJob(heartbeatCron, true),
		gocron.NewTask(func() { a.heartbeatOnce(ctx) }),
		gocron.WithName(fmt.Sprintf("heartbeat-%s", a.cfg.ServerID)),
	); err != nil {
		return fmt.Errorf("schedule heartbeat job: %w", err)
	}

	if _, err := a.sched.NewJob(
		gocron.DurationJob(scrubInterval),
		gocron.NewTask(func() { a.scrubOnce(ctx) }),
		gocron.WithName(fmt.Sprintf("scrub-%s", a.cfg.ServerID)),
	); err != nil {
		return fmt.Errorf("schedule scrub job: %w", err)
	}

	a.sched.Start()
	a.heartbeatOnce(ctx)
	return nil
}

// Stop shuts the scheduler down, waiting for any in-flight job to finish.
func (a *Agent) Stop() error {
	return a.sched.Shutdown()
}

// heartbeatOnce sends a single heartbeat. A failed send is logged and left
// for the next tick, per spec.md §9's "best-effort, continues running
// after a send failure".
func (a *Agent) heartbeatOnce(ctx context.Context) {
	count, used := a.index.stats()
	req := HeartbeatRequest{
		ServerID: a.cfg.ServerID, Address: a.cfg.Address, Capacity: a.cfg.Capacity,
		Used: used, ChunkCount: count, Zone: a.cfg.Zone,
	}
	hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.cfg.Metadata.Heartbeat(hbCtx, req); err != nil {
		a.logger.Warn("heartbeat failed", "error", err)
	}
}

// scrubOnce walks the entire local chunk index once, rereading and
// rehashing each chunk. A missing file is reported MISSING and dropped
// from the index; a checksum mismatch is reported CORRUPTED and the local
// file is deleted. Both leave the corresponding server out of the chunk's
// believed holder set once the metadata plane applies the report, so the
// under-replication repair loop restores a fresh replica. Throttled to one
// chunk per scrubThrottle tick so a full scan never saturates disk I/O.
func (a *Agent) scrubOnce(ctx context.Context) {
	ids := a.index.list()
	a.logger.Info("scrub pass starting", "chunks", len(ids))
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		case <-time.After(scrubThrottle):
		}
		a.scrubChunk(ctx, id)
	}
	a.logger.Info("scrub pass complete")
}

func (a *Agent) scrubChunk(ctx context.Context, id uuid.UUID) {
	meta, ok := a.index.get(id)
	if !ok {
		return
	}

	data, err := a.backend.Read(ctx, id)
	if err != nil {
		a.logger.Warn("scrub: chunk missing", "chunk", id)
		a.index.remove(id)
		a.reportIssue(ctx, id, IssueMissing)
		return
	}

	sum := sha256Hex(data)
	if sum != meta.Checksum {
		a.logger.Warn("scrub: chunk corrupted", "chunk", id)
		if err := a.backend.Delete(ctx, id); err != nil {
			a.logger.Warn("scrub: delete corrupted chunk failed", "chunk", id, "error", err)
		}
		a.index.remove(id)
		a.reportIssue(ctx, id, IssueCorrupted)
	}
}

func (a *Agent) reportIssue(ctx context.Context, id uuid.UUID, kind IssueKind) {
	reportCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.cfg.Metadata.ReportChunkIssue(reportCtx, a.cfg.ServerID, id, kind); err != nil {
		a.logger.Warn("report chunk issue failed", "chunk", id, "kind", kind, "error", err)
	}
}

// PutChunk writes a chunk locally, verifying its checksum first, then
// forwards the same write to the next server in the replica chain if any
// remain. A chain-forwarding failure is logged but never fails the
// primary write, per spec.md §9's open question: under-replication repair
// converges the system instead.
func (a *Agent) PutChunk(ctx context.Context, chunkID uuid.UUID, data []byte, checksum string, chainAddrs []string) error {
	sum := sha256Hex(data)
	if sum != checksum {
		return fmt.Errorf("put chunk %s: checksum mismatch: got %s want %s", chunkID, sum, checksum)
	}

	if err := a.backend.Write(ctx, chunkID, data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	a.index.put(chunkID, chunkMeta{Size: int64(len(data)), Checksum: sum, CreatedAt: time.Now().UTC()})

	if len(chainAddrs) > 0 {
		next, rest := chainAddrs[0], chainAddrs[1:]
		if err := forwardChunk(ctx, next, chunkID, data, checksum, rest); err != nil {
			a.logger.Warn("chain replication forward failed", "chunk", chunkID, "next", next, "error", err)
		}
	}
	return nil
}

// GetChunk returns a chunk's bytes together with the locally recorded
// checksum (computed from the bytes when the chunk is not indexed). The
// bytes are not compared against that checksum here; the reader verifies.
func (a *Agent) GetChunk(ctx context.Context, chunkID uuid.UUID) ([]byte, string, error) {
	data, err := a.backend.Read(ctx, chunkID)
	if err != nil {
		return nil, "", err
	}
	meta, ok := a.index.get(chunkID)
	checksum := meta.Checksum
	if !ok {
		checksum = sha256Hex(data)
	}
	return data, checksum, nil
}

// DeleteChunk removes a chunk from the backend and the local index.
// Idempotent: deleting an already-absent chunk is not an error.
func (a *Agent) DeleteChunk(ctx context.Context, chunkID uuid.UUID) error {
	if err := a.backend.Delete(ctx, chunkID); err != nil {
		return err
	}
	a.index.remove(chunkID)
	return nil
}

// ListChunks returns every chunk id this node's local index believes it
// holds.
func (a *Agent) ListChunks() []uuid.UUID {
	return a.index.list()
}

// PullChunk implements the target side of the under-replication repair
// loop's "instruct the target to pull from the source" step: it downloads
// the chunk from sourceAddr over the data channel and writes it locally.
func (a *Agent) PullChunk(ctx context.Context, sourceAddr string, chunkID uuid.UUID) error {
	data, checksum, err := downloadChunk(ctx, sourceAddr, chunkID)
	if err != nil {
		return fmt.Errorf("pull chunk from %s: %w", sourceAddr, err)
	}
	return a.PutChunk(ctx, chunkID, data, checksum, nil)
}
