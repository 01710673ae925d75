package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPStorageClient implements gc.go's StorageClient interface by calling
// a storage node's data channel (spec.md §6 delete_chunk, list_chunks) and
// the repair loop's pull-replication endpoint over HTTP/JSON.
type HTTPStorageClient struct {
	client *http.Client
}

// NewHTTPStorageClient builds a StorageClient with a bounded default
// per-request timeout; callers still pass a context for cancellation.
func NewHTTPStorageClient() *HTTPStorageClient {
	return &HTTPStorageClient{client: &http.Client{Timeout: 30 * time.Second}}
}

// DeleteChunk implements StorageClient.
func (c *HTTPStorageClient) DeleteChunk(ctx context.Context, addr string, chunkID uuid.UUID) error {
	url := fmt.Sprintf("http://%s/v1/chunks/%s", addr, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete chunk at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete chunk at %s: status %s", addr, resp.Status)
	}
	return nil
}

// ListChunks implements StorageClient.
func (c *HTTPStorageClient) ListChunks(ctx context.Context, addr string) ([]uuid.UUID, error) {
	url := fmt.Sprintf("http://%s/v1/chunks/", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list chunks at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list chunks at %s: status %s", addr, resp.Status)
	}
	var out struct {
		ChunkIDs []uuid.UUID `json:"chunk_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return out.ChunkIDs, nil
}

// PullChunk implements StorageClient: it instructs targetAddr to pull the
// chunk from sourceAddr, per spec.md §4.4's under-replication repair.
func (c *HTTPStorageClient) PullChunk(ctx context.Context, targetAddr, sourceAddr string, chunkID uuid.UUID) error {
	body, err := json.Marshal(map[string]string{"source_addr": sourceAddr})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}
	url := fmt.Sprintf("http://%s/v1/chunks/%s/pull", targetAddr, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pull chunk at %s: %w", targetAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull chunk at %s: status %s", targetAddr, resp.Status)
	}
	return nil
}
