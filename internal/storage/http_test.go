package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// noopMetadataClient discards every heartbeat/issue report, for tests that
// drive an Agent's data-channel handlers without a metadata plane.
type noopMetadataClient struct{}

func (noopMetadataClient) Heartbeat(ctx context.Context, req HeartbeatRequest) error { return nil }
func (noopMetadataClient) ReportChunkIssue(ctx context.Context, serverID string, chunkID uuid.UUID, kind IssueKind) error {
	return nil
}

func newTestAgentServer(t *testing.T) *httptest.Server {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	agent, err := NewAgent(context.Background(), AgentConfig{
		ServerID: "s1",
		Backend:  backend,
		Metadata: noopMetadataClient{},
	})
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	ts := httptest.NewServer(NewRouter(agent, nil))
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPHealthz(t *testing.T) {
	ts := newTestAgentServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHTTPUploadDownloadDeleteChunk(t *testing.T) {
	ts := newTestAgentServer(t)
	chunkID := uuid.New()
	data := []byte("hello")
	checksum := sha256Hex(data)

	body, _ := json.Marshal(uploadChunkRequest{ChunkID: chunkID, Data: data, Checksum: checksum})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/chunks/"+chunkID.String(), bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/v1/chunks/" + chunkID.String())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", resp.StatusCode)
	}
	var out downloadChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out.Data) != "hello" || out.Checksum != checksum {
		t.Fatalf("unexpected download response: %+v", out)
	}

	resp, err = http.Get(ts.URL + "/v1/chunks/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var listOut struct {
		ChunkIDs []uuid.UUID `json:"chunk_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listOut); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listOut.ChunkIDs) != 1 || listOut.ChunkIDs[0] != chunkID {
		t.Fatalf("expected chunk listed, got %+v", listOut.ChunkIDs)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/v1/chunks/"+chunkID.String(), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/v1/chunks/" + chunkID.String())
	if err != nil {
		t.Fatalf("download after delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestHTTPUploadChunkChecksumMismatch(t *testing.T) {
	ts := newTestAgentServer(t)
	chunkID := uuid.New()

	body, _ := json.Marshal(uploadChunkRequest{ChunkID: chunkID, Data: []byte("hello"), Checksum: "not-the-real-checksum"})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/chunks/"+chunkID.String(), bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a checksum mismatch surfaced as a generic error, got %d", resp.StatusCode)
	}
}

func TestHTTPDownloadMissingChunkReturnsNotFound(t *testing.T) {
	ts := newTestAgentServer(t)
	resp, err := http.Get(ts.URL + "/v1/chunks/" + uuid.New().String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHTTPInvalidChunkIDReturnsBadRequest(t *testing.T) {
	ts := newTestAgentServer(t)
	resp, err := http.Get(ts.URL + "/v1/chunks/not-a-uuid")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHTTPPullChunk(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(downloadChunkResponse{Data: []byte("pulled"), Checksum: sha256Hex([]byte("pulled"))})
	}))
	defer source.Close()

	ts := newTestAgentServer(t)
	chunkID := uuid.New()
	body, _ := json.Marshal(struct {
		SourceAddr string `json:"source_addr"`
	}{SourceAddr: source.URL[len("http://"):]})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/chunks/"+chunkID.String()+"/pull", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
