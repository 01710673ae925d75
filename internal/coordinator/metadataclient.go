// Package coordinator implements the client-side half of spec.md §4.3: the
// two-phase upload/download protocol, resumable client state, and
// parallel chunked transfer. Grounded on the reference implementation's
// DFSClient (client/dfs_client.py): mkdir/ls/put/get/rm/stat map to
// CreateDirectory/ListDirectory/UploadResumable/DownloadParallel/Delete/
// ResolvePath here, and put_resumable/put_parallel/get_parallel ground
// UploadResumable/UploadParallel/DownloadParallel.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chunkfs/internal/metadata"

	"github.com/google/uuid"
)

// MetadataClient talks to the metadata control channel of spec.md §6 over
// HTTP/JSON, following NotLeader redirects across a configured address
// list exactly as storage.HTTPMetadataClient does for the storage-to-
// metadata channel.
type MetadataClient struct {
	addrs  []string
	token  string
	client *http.Client
}

// NewMetadataClient builds a client over one or more metadata API
// addresses. token, if non-empty, is sent as a bearer token on every
// request.
func NewMetadataClient(addrs []string, token string) *MetadataClient {
	return &MetadataClient{addrs: addrs, token: token, client: &http.Client{Timeout: 30 * time.Second}}
}

type notLeaderBody struct {
	LeaderHint string `json:"leader_hint"`
}

func (c *MetadataClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	addrs := append([]string(nil), c.addrs...)
	maxAttempts := len(addrs) + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts && len(addrs) > 0; attempt++ {
		addr := addrs[0]
		u := fmt.Sprintf("http://%s%s", addr, path)
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var reader *bytes.Reader
		if data != nil {
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			addrs = append(addrs[1:], addr)
			continue
		}

		if resp.StatusCode == http.StatusTemporaryRedirect {
			var hint notLeaderBody
			_ = json.NewDecoder(resp.Body).Decode(&hint)
			resp.Body.Close()
			lastErr = fmt.Errorf("not leader")
			if hint.LeaderHint != "" {
				addrs = append([]string{hint.LeaderHint}, addrs[1:]...)
			} else {
				addrs = append(addrs[1:], addr)
			}
			continue
		}

		if resp.StatusCode/100 != 2 {
			var errBody struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&errBody)
			resp.Body.Close()
			return fmt.Errorf("metadata request failed (%s): %s", resp.Status, errBody.Error)
		}

		defer resp.Body.Close()
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("no reachable metadata leader: %w", lastErr)
	}
	return fmt.Errorf("no metadata addresses configured")
}

// CreateDirectory implements mkdir.
func (c *MetadataClient) CreateDirectory(ctx context.Context, path string) (metadata.Inode, error) {
	var out metadata.Inode
	err := c.do(ctx, http.MethodPost, "/v1/fs/directories", url.Values{"path": {path}}, nil, &out)
	return out, err
}

// ListDirectory implements ls.
func (c *MetadataClient) ListDirectory(ctx context.Context, path string) ([]metadata.FileInfo, error) {
	var out struct {
		Entries []metadata.FileInfo `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/fs/directories", url.Values{"path": {path}}, nil, &out)
	return out.Entries, err
}

// Delete implements rm (non-recursive).
func (c *MetadataClient) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/v1/fs/entries", url.Values{"path": {path}}, nil, nil)
}

// DeleteRecursive implements rm -r.
func (c *MetadataClient) DeleteRecursive(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/v1/fs/trees", url.Values{"path": {path}}, nil, nil)
}

// ResolvePath implements exists/stat's inode lookup.
func (c *MetadataClient) ResolvePath(ctx context.Context, path string) (metadata.Inode, error) {
	var out metadata.Inode
	err := c.do(ctx, http.MethodGet, "/v1/fs/resolve", url.Values{"path": {path}}, nil, &out)
	return out, err
}

// InitUpload begins a two-phase upload.
func (c *MetadataClient) InitUpload(ctx context.Context, path string, size int64) (metadata.UploadSession, error) {
	var out metadata.UploadSession
	err := c.do(ctx, http.MethodPost, "/v1/fs/uploads", nil, initUploadBody{Path: path, Size: size}, &out)
	return out, err
}

type initUploadBody struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// GetUploadSession fetches an upload session's current state, used when
// resuming.
func (c *MetadataClient) GetUploadSession(ctx context.Context, id uuid.UUID) (metadata.UploadSession, error) {
	var out metadata.UploadSession
	err := c.do(ctx, http.MethodGet, "/v1/fs/uploads/"+id.String(), nil, nil, &out)
	return out, err
}

// CommitUpload finalizes an upload given the checksum computed for every
// chunk index.
func (c *MetadataClient) CommitUpload(ctx context.Context, id uuid.UUID, checksums []string) error {
	return c.do(ctx, http.MethodPost, "/v1/fs/uploads/"+id.String()+"/commit", nil, commitUploadBody{Checksums: checksums}, nil)
}

type commitUploadBody struct {
	Checksums []string `json:"checksums"`
}

// AbortUpload discards an in-progress upload. A no-op on an unknown id.
func (c *MetadataClient) AbortUpload(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/v1/fs/uploads/"+id.String()+"/abort", nil, nil, nil)
}

// GetServer fetches a storage node's registry entry, used by
// chunkfsctl's server-status command.
func (c *MetadataClient) GetServer(ctx context.Context, serverID string) (metadata.ServerInfo, error) {
	var out metadata.ServerInfo
	err := c.do(ctx, http.MethodGet, "/v1/servers/"+serverID, nil, nil, &out)
	return out, err
}

// GetFileMetadata implements get's metadata lookup: the inode and its
// ordered chunk list for the given version (0 means current).
func (c *MetadataClient) GetFileMetadata(ctx context.Context, path string, version int) (metadata.Inode, []metadata.Chunk, error) {
	q := url.Values{"path": {path}}
	if version != 0 {
		q.Set("version", strconv.Itoa(version))
	}
	var out struct {
		Inode  metadata.Inode   `json:"inode"`
		Chunks []metadata.Chunk `json:"chunks"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/fs/metadata", q, nil, &out)
	return out.Inode, out.Chunks, err
}
