package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var dataClient = &http.Client{Timeout: 60 * time.Second}

type uploadChunkBody struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	Data         []byte    `json:"data"`
	Checksum     string    `json:"checksum"`
	ReplicaAddrs []string  `json:"replica_addrs"`
}

// uploadChunkToPrimary writes a chunk to its primary replica's storage data
// channel, mirroring internal/storage's chain-replication write path: the
// primary forwards to the remaining addrs itself.
func uploadChunkToPrimary(ctx context.Context, primaryAddr string, chunkID uuid.UUID, data []byte, checksum string, remaining []string) error {
	body, err := json.Marshal(uploadChunkBody{ChunkID: chunkID, Data: data, Checksum: checksum, ReplicaAddrs: remaining})
	if err != nil {
		return fmt.Errorf("marshal upload body: %w", err)
	}
	url := fmt.Sprintf("http://%s/v1/chunks/%s", primaryAddr, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dataClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload to %s: %w", primaryAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload to %s: status %s", primaryAddr, resp.Status)
	}
	return nil
}

type downloadChunkBody struct {
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

// downloadChunkFrom fetches a chunk's bytes and checksum from a single
// storage node's data channel.
func downloadChunkFrom(ctx context.Context, addr string, chunkID uuid.UUID) ([]byte, string, error) {
	url := fmt.Sprintf("http://%s/v1/chunks/%s", addr, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := dataClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download from %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download from %s: status %s", addr, resp.Status)
	}
	var out downloadChunkBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("decode download response: %w", err)
	}
	return out.Data, out.Checksum, nil
}
