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

// MetadataClient is a storage node's view of the metadata control channel:
// the storage-to-metadata RPCs of spec.md §6 (heartbeat,
// report_chunk_issue). The concrete HTTP implementation tries each address
// in turn and follows a NotLeader redirect hint, since only the Raft
// leader accepts these calls.
type MetadataClient interface {
	Heartbeat(ctx context.Context, req HeartbeatRequest) error
	ReportChunkIssue(ctx context.Context, serverID string, chunkID uuid.UUID, kind IssueKind) error
}

// IssueKind mirrors spec.md §4.4's scrub-reported chunk issue taxonomy.
type IssueKind string

const (
	IssueMissing   IssueKind = "MISSING"
	IssueCorrupted IssueKind = "CORRUPTED"
)

// HeartbeatRequest is the storage-to-metadata heartbeat payload of
// spec.md §6.
type HeartbeatRequest struct {
	ServerID   string `json:"server_id"`
	Address    string `json:"address"`
	Capacity   int64  `json:"capacity"`
	Used       int64  `json:"used"`
	ChunkCount int    `json:"chunk_count"`
	Zone       string `json:"zone"`
}

type reportIssueRequest struct {
	ServerID string    `json:"server_id"`
	ChunkID  uuid.UUID `json:"chunk_id"`
	Kind     IssueKind `json:"kind"`
}

type notLeaderResponse struct {
	LeaderHint string `json:"leader_hint"`
}

// HTTPMetadataClient calls the metadata control channel over HTTP/JSON,
// following NotLeader hints and falling back to the next configured
// address when a metadata node is unreachable or not the leader.
type HTTPMetadataClient struct {
	addrs  []string
	client *http.Client
}

var _ MetadataClient = (*HTTPMetadataClient)(nil)

// NewHTTPMetadataClient builds a client that tries each metadata API
// address in order, following a NotLeader hint to its advertised leader.
func NewHTTPMetadataClient(addrs []string) *HTTPMetadataClient {
	return &HTTPMetadataClient{
		addrs:  addrs,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPMetadataClient) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	addrs := append([]string(nil), c.addrs...)
	maxAttempts := len(addrs) + 1
	for attempt := 0; attempt < maxAttempts && len(addrs) > 0; attempt++ {
		addr := addrs[0]
		url := fmt.Sprintf("http://%s%s", addr, path)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			addrs = append(addrs[1:], addr)
			continue
		}
		var callErr error
		func() {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
			if resp.StatusCode == http.StatusTemporaryRedirect || resp.StatusCode == http.StatusMisdirectedRequest {
				var hint notLeaderResponse
				_ = json.NewDecoder(resp.Body).Decode(&hint)
				callErr = fmt.Errorf("not leader")
				if hint.LeaderHint != "" {
					addrs = append([]string{hint.LeaderHint}, addrs[1:]...)
				} else {
					addrs = append(addrs[1:], addr)
				}
				return
			}
			callErr = fmt.Errorf("metadata request failed: %s", resp.Status)
			addrs = append(addrs[1:], addr)
		}()
		if callErr == nil {
			return nil
		}
	}
	return fmt.Errorf("no reachable metadata leader among %v", c.addrs)
}

// Heartbeat implements MetadataClient.
func (c *HTTPMetadataClient) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	return c.post(ctx, "/v1/storage/heartbeat", req)
}

// ReportChunkIssue implements MetadataClient.
func (c *HTTPMetadataClient) ReportChunkIssue(ctx context.Context, serverID string, chunkID uuid.UUID, kind IssueKind) error {
	return c.post(ctx, "/v1/storage/chunk-issue", reportIssueRequest{ServerID: serverID, ChunkID: chunkID, Kind: kind})
}
