package metadata

import "testing"

func serverFixture(id, zone string, capacity, used int64) ServerInfo {
	return ServerInfo{
		ServerID: id,
		Zone:     zone,
		Capacity: capacity,
		Used:     used,
		Status:   ServerHealthy,
	}
}

func TestSelectPlacementServersFewerThanFactor(t *testing.T) {
	servers := []ServerInfo{
		serverFixture("a", "z1", 100, 0),
		serverFixture("b", "z2", 100, 0),
	}
	got := selectPlacementServers(servers, 3)
	if len(got) != 2 {
		t.Fatalf("expected 2 servers when fewer online than factor, got %d: %v", len(got), got)
	}
}

func TestSelectPlacementServersSkipsOffline(t *testing.T) {
	servers := []ServerInfo{
		serverFixture("a", "z1", 100, 0),
		{ServerID: "b", Zone: "z2", Capacity: 100, Status: ServerOffline},
	}
	got := selectPlacementServers(servers, 3)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only the online server, got %v", got)
	}
}

func TestSelectPlacementServersPrefersDistinctZones(t *testing.T) {
	servers := []ServerInfo{
		serverFixture("z1-a", "z1", 100, 0),
		serverFixture("z1-b", "z1", 100, 10),
		serverFixture("z2-a", "z2", 100, 0),
		serverFixture("z3-a", "z3", 100, 0),
	}
	got := selectPlacementServers(servers, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 servers, got %d: %v", len(got), got)
	}
	zones := make(map[string]bool)
	byID := map[string]ServerInfo{}
	for _, s := range servers {
		byID[s.ServerID] = s
	}
	for _, id := range got {
		zones[byID[id].Zone] = true
	}
	if len(zones) != 3 {
		t.Fatalf("expected replicas spread across 3 distinct zones, got zones %v from picks %v", zones, got)
	}
}

func TestSelectPlacementServersFillsFromSameZoneWhenZonesExhausted(t *testing.T) {
	servers := []ServerInfo{
		serverFixture("z1-a", "z1", 100, 0),
		serverFixture("z1-b", "z1", 100, 20),
		serverFixture("z1-c", "z1", 100, 40),
	}
	got := selectPlacementServers(servers, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 servers, got %d: %v", len(got), got)
	}
	// Most-spacious-first within the exhausted zone: z1-a (used=0) before
	// z1-b (used=20) before z1-c (used=40).
	if got[0] != "z1-a" {
		t.Errorf("expected most-spacious server first, got %v", got)
	}
}

func TestSelectPlacementServersPrefersMoreAvailableSpace(t *testing.T) {
	servers := []ServerInfo{
		serverFixture("low", "z1", 100, 90),
		serverFixture("high", "z1", 100, 10),
	}
	got := selectPlacementServers(servers, 1)
	if len(got) != 1 || got[0] != "high" {
		t.Fatalf("expected the server with more available space, got %v", got)
	}
}

func TestSelectPlacementServersZeroOnline(t *testing.T) {
	got := selectPlacementServers(nil, 3)
	if len(got) != 0 {
		t.Fatalf("expected no servers, got %v", got)
	}
}
