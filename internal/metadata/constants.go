package metadata

import "time"

// System-wide constants. Values match the reference implementation's
// common/constants.py exactly.
const (
	// ChunkSize is the maximum size of a single chunk.
	ChunkSize int64 = 64 * 1024 * 1024

	// ReplicationFactor is the number of storage-node replicas a chunk is
	// placed on.
	ReplicationFactor = 3

	// HeartbeatInterval is how often a storage node sends a heartbeat to
	// the metadata plane.
	HeartbeatInterval = 10 * time.Second

	// ElectionTimeoutMin and ElectionTimeoutMax bound the randomized Raft
	// election timeout.
	ElectionTimeoutMin = 150 * time.Millisecond
	ElectionTimeoutMax = 300 * time.Millisecond

	// ServerTimeout is how long a storage node may go without a heartbeat
	// before the registry marks it OFFLINE.
	ServerTimeout = 30 * time.Second

	// GCGracePeriod is how long a chunk queued for physical deletion is
	// held before a storage node actually removes it from disk.
	GCGracePeriod = 24 * time.Hour

	// UploadSessionTTL is how long an uncommitted upload session is kept
	// before it is considered abandoned.
	UploadSessionTTL = 24 * time.Hour
)
