package graph

// CapacityFunc maps a rank to the capacity an identity at that rank passes on
type CapacityFunc func(rank int) int

// ScoreInfo is a computed score of one target in one trust tree
type ScoreInfo struct {
	Value    int `json:"value"`
	Rank     int `json:"rank"`
	Capacity int `json:"capacity"`
}

// PathHop is one edge of a trust path
type PathHop struct {
	TrusterID   string `json:"truster_id"`
	TrusteeID   string `json:"trustee_id"`
	TrusteeName string `json:"trustee_name"`
	Value       int    `json:"value"`
	Rank        int    `json:"rank"`
	Capacity    int    `json:"capacity"`
}

type prevEntry struct {
	truster string
	value   int
}

// ComputeScores computes every score of owner's trust tree from scratch.
//
// Ranks are breadth-first distances from the owner where only identities
// with capacity > 0 pass rank on; the owner's direct negative trust forces
// capacity 0. Values are the sum of edge value * truster capacity / 100 over
// trusters inside the tree. The owner itself is always 100/0/100.
func ComputeScores(snap *Snapshot, ownerID string, capacity CapacityFunc) map[string]ScoreInfo {
	ranks, _ := bfsRanks(snap, ownerID, capacity)
	if ranks == nil {
		return nil
	}

	caps := make(map[string]int, len(ranks))
	for id, rank := range ranks {
		caps[id] = capacityOf(snap, ownerID, id, rank, capacity)
	}

	scores := make(map[string]ScoreInfo, len(ranks))
	for id, rank := range ranks {
		if id == ownerID {
			scores[id] = ScoreInfo{Value: 100, Rank: 0, Capacity: 100}
			continue
		}
		value := 0
		for _, t := range snap.Received[id] {
			if c, ok := caps[t.Truster]; ok {
				value += t.Value * c / 100
			}
		}
		scores[id] = ScoreInfo{Value: value, Rank: rank, Capacity: caps[id]}
	}
	return scores
}

// TrustPath returns a shortest capacity-carrying path from owner to target,
// or nil if the target is not in owner's trust tree.
func TrustPath(snap *Snapshot, ownerID, targetID string, capacity CapacityFunc) []PathHop {
	ranks, prev := bfsRanks(snap, ownerID, capacity)
	if _, ok := ranks[targetID]; !ok || targetID == ownerID {
		return nil
	}

	var path []PathHop
	current := targetID
	for current != ownerID {
		entry, ok := prev[current]
		if !ok {
			return nil
		}
		rank := ranks[current]
		path = append(path, PathHop{
			TrusterID:   entry.truster,
			TrusteeID:   current,
			TrusteeName: snap.Name(current),
			Value:       entry.value,
			Rank:        rank,
			Capacity:    capacityOf(snap, ownerID, current, rank, capacity),
		})
		current = entry.truster
	}
	// Reverse to get owner-to-target order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func capacityOf(snap *Snapshot, ownerID, id string, rank int, capacity CapacityFunc) int {
	if id == ownerID {
		return 100
	}
	if v, ok := snap.DirectTrust(ownerID, id); ok && v < 0 {
		return 0
	}
	return capacity(rank)
}

func bfsRanks(snap *Snapshot, ownerID string, capacity CapacityFunc) (map[string]int, map[string]prevEntry) {
	if _, ok := snap.Identities[ownerID]; !ok {
		return nil, nil
	}
	ranks := map[string]int{ownerID: 0}
	prev := map[string]prevEntry{}
	queue := []string{ownerID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if capacityOf(snap, ownerID, current, ranks[current], capacity) == 0 {
			continue
		}
		for _, t := range snap.Given[current] {
			if _, seen := ranks[t.Trustee]; seen {
				continue
			}
			ranks[t.Trustee] = ranks[current] + 1
			prev[t.Trustee] = prevEntry{truster: current, value: t.Value}
			queue = append(queue, t.Trustee)
		}
	}
	return ranks, prev
}
