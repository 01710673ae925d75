package metadata

import "sort"

// selectPlacementServers implements spec.md §4.2's chunk-server placement
// algorithm: fetch all ONLINE servers, sort by available space descending,
// then pick replicationFactor of them preferring distinct availability
// zones first (round-robin over zones), filling any remaining slots with
// the next most-spacious servers. Returns fewer than replicationFactor
// servers when fewer ONLINE servers exist; callers let the upload proceed
// with reduced durability and rely on the under-replication repair loop.
func selectPlacementServers(servers []ServerInfo, replicationFactor int) []string {
	online := make([]ServerInfo, 0, len(servers))
	for _, s := range servers {
		if s.Status == ServerHealthy {
			online = append(online, s)
		}
	}
	sort.SliceStable(online, func(i, j int) bool {
		return online[i].Available() > online[j].Available()
	})

	if len(online) <= replicationFactor {
		out := make([]string, len(online))
		for i, s := range online {
			out[i] = s.ServerID
		}
		return out
	}

	byZone := make(map[string][]ServerInfo)
	var zoneOrder []string
	for _, s := range online {
		if _, ok := byZone[s.Zone]; !ok {
			zoneOrder = append(zoneOrder, s.Zone)
		}
		byZone[s.Zone] = append(byZone[s.Zone], s)
	}

	var picked []ServerInfo
	used := make(map[string]bool)

	// Round-robin across zones, taking each zone's most-spacious remaining
	// server first, until replicationFactor servers are picked or every
	// zone is exhausted.
	for len(picked) < replicationFactor {
		progressed := false
		for _, zone := range zoneOrder {
			if len(picked) >= replicationFactor {
				break
			}
			bucket := byZone[zone]
			for i, s := range bucket {
				if used[s.ServerID] {
					continue
				}
				picked = append(picked, s)
				used[s.ServerID] = true
				byZone[zone] = bucket[i+1:]
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}

	// Fill any remaining slots (more zones exhausted than replicas needed)
	// with the next most-spacious servers regardless of zone.
	for _, s := range online {
		if len(picked) >= replicationFactor {
			break
		}
		if used[s.ServerID] {
			continue
		}
		picked = append(picked, s)
		used[s.ServerID] = true
	}

	out := make([]string, len(picked))
	for i, s := range picked {
		out[i] = s.ServerID
	}
	return out
}
