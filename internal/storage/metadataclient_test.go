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

func TestHTTPMetadataClientHeartbeatFollowsRedirect(t *testing.T) {
	var leaderHits, followerHits int

	leader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leaderHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer leader.Close()
	leaderAddr := strings.TrimPrefix(leader.URL, "http://")

	follower := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		followerHits++
		w.WriteHeader(http.StatusTemporaryRedirect)
		json.NewEncoder(w).Encode(notLeaderResponse{LeaderHint: leaderAddr})
	}))
	defer follower.Close()
	followerAddr := strings.TrimPrefix(follower.URL, "http://")

	c := NewHTTPMetadataClient([]string{followerAddr})
	if err := c.Heartbeat(context.Background(), HeartbeatRequest{ServerID: "s1"}); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if followerHits != 1 || leaderHits != 1 {
		t.Fatalf("expected one hit each, got follower=%d leader=%d", followerHits, leaderHits)
	}
}

func TestHTTPMetadataClientFallsBackAcrossUnreachableAddr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPMetadataClient([]string{"127.0.0.1:1", strings.TrimPrefix(srv.URL, "http://")})
	if err := c.ReportChunkIssue(context.Background(), "s1", uuid.New(), IssueMissing); err != nil {
		t.Fatalf("ReportChunkIssue: %v", err)
	}
}

func TestHTTPMetadataClientAllUnreachableReturnsError(t *testing.T) {
	c := NewHTTPMetadataClient([]string{"127.0.0.1:1", "127.0.0.1:2"})
	if err := c.Heartbeat(context.Background(), HeartbeatRequest{}); err == nil {
		t.Fatal("expected error when no address is reachable")
	}
}
