package metadata

import (
	"testing"
	"time"

	"chunkfs/internal/metadata/command"
)

func TestSchedulerStartStopWithNoJobs(t *testing.T) {
	sched, err := NewScheduler(nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := sched.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sched.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerStartStopWithCollectorAndRepairer(t *testing.T) {
	svc := newTestService(t)
	storage := newFakeStorageClient()
	collector := NewCollector(svc, storage, time.Hour, nil)
	repairer := NewRepairer(svc, storage, 2, nil)

	sched, err := NewScheduler(svc, collector, repairer, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := sched.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sched.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSweepOfflineServersReclassifiesStaleServer(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.node.Propose(command.NewPutServer(ServerInfo{
		ServerID: "s1", Address: "s1:1", Status: ServerHealthy,
		LastSeen: time.Now().UTC().Add(-time.Hour),
	})); err != nil {
		t.Fatalf("propose server: %v", err)
	}

	if err := svc.SweepOfflineServers(time.Minute); err != nil {
		t.Fatalf("SweepOfflineServers: %v", err)
	}

	srv, err := svc.GetServer("s1")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if srv.Status != ServerOffline {
		t.Fatalf("expected server reclassified OFFLINE, got %v", srv.Status)
	}
}

func TestSweepOfflineServersLeavesRecentHeartbeatAlone(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.node.Propose(command.NewPutServer(ServerInfo{
		ServerID: "s1", Address: "s1:1", Status: ServerHealthy,
		LastSeen: time.Now().UTC(),
	})); err != nil {
		t.Fatalf("propose server: %v", err)
	}

	if err := svc.SweepOfflineServers(time.Hour); err != nil {
		t.Fatalf("SweepOfflineServers: %v", err)
	}

	srv, err := svc.GetServer("s1")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if srv.Status != ServerHealthy {
		t.Fatalf("expected server to remain HEALTHY, got %v", srv.Status)
	}
}
