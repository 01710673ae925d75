// Package storage implements the storage-node agent of spec.md §4.4: a
// local (or S3-backed) chunk store with atomic writes, a background scrub
// loop, periodic heartbeats to the metadata plane, and chain-replication
// forwarding for uploads.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chunkfs/internal/chunkerr"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Backend is the opaque blob store a storage node keeps chunk bytes behind.
// Spec.md §1 treats "the filesystem bytes of local chunk files" as an
// external collaborator; Backend is the seam that lets chunkfs swap a local
// disk directory for a remote object store without touching the agent's
// index/scrub/heartbeat logic.
type Backend interface {
	// Write stores data under chunkID, atomically replacing any previous
	// content the backend name might have held.
	Write(ctx context.Context, chunkID uuid.UUID, data []byte) error

	// Read returns the current bytes stored under chunkID, or
	// chunkerr.ChunkNotFound if no such chunk exists.
	Read(ctx context.Context, chunkID uuid.UUID) ([]byte, error)

	// Delete removes a chunk. Deleting a chunk that does not exist is a
	// no-op, matching delete_chunk's idempotent RPC semantics.
	Delete(ctx context.Context, chunkID uuid.UUID) error

	// List enumerates every chunk id currently held by the backend.
	List(ctx context.Context) ([]uuid.UUID, error)
}

// LocalBackend stores chunks on local disk under
// <dataDir>/<chunk-id[0:4]>/<chunk-id>, exactly as spec.md §6 "On-disk chunk
// layout" specifies. Writes go to a "<path>.tmp" sibling, fsync, then
// os.Rename — the linearization point — grounded on the teacher's own
// MoveDir/compressFile temp-then-rename pattern
// (internal/chunk/file/move.go, compress.go).
type LocalBackend struct {
	dataDir string
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend opens (creating if needed) a local chunk directory and
// deletes any stray "*.tmp" files left behind by a writer that crashed
// mid-rename, per spec.md §4.4 "Startup scan".
func NewLocalBackend(dataDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	b := &LocalBackend{dataDir: dataDir}
	if err := b.cleanStrayTemp(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *LocalBackend) shardDir(chunkID uuid.UUID) string {
	s := chunkID.String()
	prefix := s
	if len(s) >= 4 {
		prefix = s[:4]
	}
	return filepath.Join(b.dataDir, prefix)
}

func (b *LocalBackend) path(chunkID uuid.UUID) string {
	return filepath.Join(b.shardDir(chunkID), chunkID.String())
}

func (b *LocalBackend) cleanStrayTemp() error {
	return filepath.WalkDir(b.dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".tmp") {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
		}
		return nil
	})
}

// Write implements Backend.
func (b *LocalBackend) Write(ctx context.Context, chunkID uuid.UUID, data []byte) error {
	dir := b.shardDir(chunkID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	final := b.path(chunkID)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp chunk file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp chunk file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp chunk file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp chunk file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename chunk file: %w", err)
	}
	return nil
}

// Read implements Backend.
func (b *LocalBackend) Read(ctx context.Context, chunkID uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(b.path(chunkID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, chunkerr.ChunkNotFound
		}
		return nil, fmt.Errorf("read chunk file: %w", err)
	}
	return data, nil
}

// Delete implements Backend.
func (b *LocalBackend) Delete(ctx context.Context, chunkID uuid.UUID) error {
	if err := os.Remove(b.path(chunkID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove chunk file: %w", err)
	}
	return nil
}

// List implements Backend.
func (b *LocalBackend) List(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := filepath.WalkDir(b.dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		id, parseErr := uuid.Parse(filepath.Base(path))
		if parseErr != nil {
			return nil
		}
		out = append(out, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data dir: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// S3Backend stores chunks as individual objects in an S3-compatible
// bucket, keyed by the same sharded prefix as LocalBackend, so a storage
// node can be configured to keep chunk bytes off local disk entirely.
// Grounded on the teacher's pluggable "Type" discriminator over
// backend implementations (internal/config's VaultConfig), generalized from
// "file vs memory" to "local-disk vs S3".
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Backend = (*S3Backend)(nil)

// NewS3Backend loads the default AWS config (environment/shared profile
// credentials, as the teacher's own cloud-storage wiring does) and returns
// a Backend over the given bucket.
func NewS3Backend(ctx context.Context, bucket, region, prefix string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (b *S3Backend) key(chunkID uuid.UUID) string {
	s := chunkID.String()
	shard := s
	if len(s) >= 4 {
		shard = s[:4]
	}
	if b.prefix == "" {
		return fmt.Sprintf("%s/%s", shard, s)
	}
	return fmt.Sprintf("%s/%s/%s", b.prefix, shard, s)
}

// Write implements Backend. S3 PutObject already replaces an existing key
// atomically from the reader's point of view, so no local temp-file dance
// is needed here.
func (b *S3Backend) Write(ctx context.Context, chunkID uuid.UUID, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(chunkID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Read implements Backend.
func (b *S3Backend) Read(ctx context.Context, chunkID uuid.UUID) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(chunkID)),
	})
	if err != nil {
		var nsk *s3.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, chunkerr.ChunkNotFound
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object body: %w", err)
	}
	return data, nil
}

// Delete implements Backend.
func (b *S3Backend) Delete(ctx context.Context, chunkID uuid.UUID) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(chunkID)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

// List implements Backend.
func (b *S3Backend) List(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	prefix := b.prefix
	if prefix != "" {
		prefix += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			base := filepath.Base(aws.ToString(obj.Key))
			id, err := uuid.Parse(base)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
	}
	return out, nil
}
