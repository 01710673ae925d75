// Package config holds the declarative process configuration for a chunkfs
// node. A node is configured once at startup from flags; there is no hot
// reload, matching the teacher's own config package v1 scope.
package config

import "time"

// Role selects which half of chunkfs a process runs.
type Role string

const (
	// RoleMetadata runs the Raft-replicated metadata plane (§4.1, §4.2).
	RoleMetadata Role = "metadata"

	// RoleStorage runs a storage-node agent (§4.4).
	RoleStorage Role = "storage"
)

// Metadata holds the settings for a metadata-plane node.
type Metadata struct {
	// NodeID is this node's unique Raft server ID.
	NodeID string

	// ClusterAddr is the listen address for the Raft/cluster gRPC port.
	ClusterAddr string

	// AdvertiseAddr is the address other nodes use to reach this node's
	// cluster port. Defaults to ClusterAddr when empty.
	AdvertiseAddr string

	// APIAddr is the listen address for the client-facing HTTP control
	// channel (create_directory, init_upload, etc).
	APIAddr string

	// DataDir holds this node's Raft log/snapshot store and metadata bolt
	// database.
	DataDir string

	// Bootstrap starts a brand-new single-node cluster. Only the very
	// first node of a fresh deployment should set this.
	Bootstrap bool

	// JoinAddr, when set, is an existing cluster member's cluster address
	// to join instead of bootstrapping.
	JoinAddr string

	// ReplicationFactor overrides REPLICATION_FACTOR for placement
	// decisions. Zero means use the package default (3).
	ReplicationFactor int

	// HeartbeatTimeout is how long a storage node may go without a
	// heartbeat before it is marked OFFLINE. Zero means use the package
	// default (3x HEARTBEAT_INTERVAL).
	HeartbeatTimeout time.Duration

	// GCGracePeriod overrides GC_GRACE_PERIOD for physical chunk deletion.
	// Zero means use the package default (24h).
	GCGracePeriod time.Duration

	// ApplyTimeout bounds how long a single Raft proposal may take.
	ApplyTimeout time.Duration

	// AuthSecret is the HMAC secret used to sign and verify bearer tokens.
	AuthSecret []byte

	// ClusterTLSFile, when set, names a file of pre-generated mTLS material
	// that is loaded for the cluster port; the node never writes it.
	ClusterTLSFile string
}

// Storage holds the settings for a storage-node agent.
type Storage struct {
	// ServerID is this storage node's unique identifier, registered with
	// the metadata plane on first heartbeat.
	ServerID string

	// Zone is the availability zone reported in heartbeats, used by
	// placement to spread a chunk's replicas across zones.
	Zone string

	// DataAddr is the listen address for the chunk data HTTP channel
	// (upload_chunk, download_chunk, delete_chunk, list_chunks).
	DataAddr string

	// AdvertiseAddr is the address the metadata plane and peer storage
	// nodes use to reach this node. Defaults to DataAddr when empty.
	AdvertiseAddr string

	// DataDir is the local directory backing the Local storage.Backend.
	// Ignored when Backend is "s3".
	DataDir string

	// Capacity is this node's total byte capacity, reported in heartbeats.
	Capacity int64

	// MetadataAddrs lists the client-facing API addresses of metadata
	// nodes, tried in order for heartbeats and registration.
	MetadataAddrs []string

	// Backend selects the chunk storage implementation: "local" (default)
	// or "s3".
	Backend string

	// S3Bucket, S3Region, S3Prefix configure the optional S3 backend.
	S3Bucket string
	S3Region string
	S3Prefix string
}
