package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestForwardChunkSendsReplicaAddrsAndData(t *testing.T) {
	var received uploadChunkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id := uuid.New()
	addr := strings.TrimPrefix(srv.URL, "http://")
	err := forwardChunk(context.Background(), addr, id, []byte("data"), "cksum", []string{"next-hop"})
	if err != nil {
		t.Fatalf("forwardChunk: %v", err)
	}
	if received.ChunkID != id {
		t.Errorf("expected chunk id %s, got %s", id, received.ChunkID)
	}
	if received.Checksum != "cksum" {
		t.Errorf("expected checksum cksum, got %s", received.Checksum)
	}
	if len(received.ReplicaAddrs) != 1 || received.ReplicaAddrs[0] != "next-hop" {
		t.Errorf("expected remaining replica addrs forwarded, got %v", received.ReplicaAddrs)
	}
}

func TestForwardChunkNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	err := forwardChunk(context.Background(), addr, uuid.New(), []byte("x"), "c", nil)
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestDownloadChunkReturnsDataAndChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(downloadChunkResponse{Data: []byte("bytes"), Checksum: "abc"})
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	data, checksum, err := downloadChunk(context.Background(), addr, uuid.New())
	if err != nil {
		t.Fatalf("downloadChunk: %v", err)
	}
	if string(data) != "bytes" || checksum != "abc" {
		t.Fatalf("expected bytes/abc, got %q/%q", data, checksum)
	}
}

func TestDownloadChunkNotFoundIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	if _, _, err := downloadChunk(context.Background(), addr, uuid.New()); err == nil {
		t.Fatal("expected error on 404 response")
	}
}
