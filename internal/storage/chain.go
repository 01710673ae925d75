package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var chainClient = &http.Client{Timeout: 30 * time.Second}

type uploadChunkRequest struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	Data         []byte    `json:"data"`
	Checksum     string    `json:"checksum"`
	ReplicaAddrs []string  `json:"replica_addrs"`
}

// forwardChunk sends a chunk write to the next storage node in a replica
// chain, per spec.md §4.3 "upload, client to storage": the primary
// verifies the checksum, writes locally, then forwards the same request
// minus itself down the remaining replica chain.
func forwardChunk(ctx context.Context, addr string, chunkID uuid.UUID, data []byte, checksum string, remaining []string) error {
	body, err := json.Marshal(uploadChunkRequest{ChunkID: chunkID, Data: data, Checksum: checksum, ReplicaAddrs: remaining})
	if err != nil {
		return fmt.Errorf("marshal chain request: %w", err)
	}
	url := fmt.Sprintf("http://%s/v1/chunks/%s", addr, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chain request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := chainClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward to %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forward to %s: status %s", addr, resp.Status)
	}
	return nil
}

// downloadChunk fetches a chunk's bytes and checksum from a storage node's
// data channel, used by the repair loop's pull-based replication.
func downloadChunk(ctx context.Context, addr string, chunkID uuid.UUID) ([]byte, string, error) {
	url := fmt.Sprintf("http://%s/v1/chunks/%s", addr, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := chainClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download from %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download from %s: status %s", addr, resp.Status)
	}
	var out downloadChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("decode download response: %w", err)
	}
	return out.Data, out.Checksum, nil
}

type downloadChunkResponse struct {
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}
