package graph

import "sort"

// ArticulationPoint is an identity whose removal disconnects the trust graph
type ArticulationPoint struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Degree   int    `json:"degree"`
}

// BridgeTrust is a trust edge whose removal disconnects the trust graph
type BridgeTrust struct {
	TrusterID   string `json:"truster_id"`
	TrusteeID   string `json:"trustee_id"`
	TrusterName string `json:"truster_name"`
	TrusteeName string `json:"trustee_name"`
}

// SingleTruster is a remote identity that holds positive trust from exactly
// one other identity.
type SingleTruster struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	TrusterID string `json:"truster_id"`
}

// BridgeReport contains fragility analysis results
type BridgeReport struct {
	ArticulationPoints []ArticulationPoint `json:"articulation_points"`
	BridgeTrusts       []BridgeTrust       `json:"bridge_trusts"`
	SingleTrusters     []SingleTruster     `json:"single_trusters"`
	APCount            int                 `json:"ap_count"`
	BridgeCount        int                 `json:"bridge_count"`
}

// ComputeBridges finds articulation identities, bridge trusts, and
// identities that depend on a single positive truster.
func ComputeBridges(snap *Snapshot) *BridgeReport {
	if len(snap.Identities) == 0 {
		return &BridgeReport{}
	}

	ids := snap.IdentityIDs()
	idToIdx := make(map[string]int, len(ids))
	for i, id := range ids {
		idToIdx[id] = i
	}
	n := len(ids)

	// Mutual trust yields one undirected edge
	adjIdx := make([][]int, n)
	type edgePair struct{ u, v int }
	seen := make(map[edgePair]bool)
	for _, t := range snap.Trusts {
		u, v := idToIdx[t.Truster], idToIdx[t.Trustee]
		if u == v {
			continue
		}
		key := edgePair{u, v}
		if u > v {
			key = edgePair{v, u}
		}
		if !seen[key] {
			seen[key] = true
			adjIdx[u] = append(adjIdx[u], v)
			adjIdx[v] = append(adjIdx[v], u)
		}
	}

	disc := make([]int, n)
	low := make([]int, n)
	visited := make([]bool, n)
	isAP := make([]bool, n)
	var bridgePairs [][2]int
	counter := 1

	const noParent = -1

	// Iterative Tarjan for each connected component
	type frame struct {
		node, parent, ni int
	}

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}

		visited[start] = true
		disc[start] = counter
		low[start] = counter
		counter++

		stack := []frame{{start, noParent, 0}}
		rootChildren := 0

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node := top.node

			if top.ni < len(adjIdx[node]) {
				child := adjIdx[node][top.ni]
				top.ni++
				if child == top.parent {
					continue
				}
				if visited[child] {
					// Back edge
					if disc[child] < low[node] {
						low[node] = disc[child]
					}
					continue
				}
				visited[child] = true
				disc[child] = counter
				low[child] = counter
				counter++
				if node == start {
					rootChildren++
				}
				stack = append(stack, frame{child, node, 0})
				continue
			}

			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				continue
			}
			pn := stack[len(stack)-1].node
			if low[node] < low[pn] {
				low[pn] = low[node]
			}
			if low[node] > disc[pn] {
				bridgePairs = append(bridgePairs, [2]int{pn, node})
			}
			if pn != start && low[node] >= disc[pn] {
				isAP[pn] = true
			}
		}

		if rootChildren >= 2 {
			isAP[start] = true
		}
	}

	var aps []ArticulationPoint
	for i := 0; i < n; i++ {
		if isAP[i] {
			id := ids[i]
			aps = append(aps, ArticulationPoint{ID: id, Nickname: snap.Identities[id].Nickname, Degree: len(adjIdx[i])})
		}
	}

	var bridges []BridgeTrust
	for _, pair := range bridgePairs {
		truster, trustee := ids[pair[0]], ids[pair[1]]
		if _, ok := snap.DirectTrust(truster, trustee); !ok {
			truster, trustee = trustee, truster
		}
		bridges = append(bridges, BridgeTrust{
			TrusterID:   truster,
			TrusteeID:   trustee,
			TrusterName: snap.Name(truster),
			TrusteeName: snap.Name(trustee),
		})
	}
	sort.Slice(bridges, func(i, j int) bool {
		if bridges[i].TrusterID != bridges[j].TrusterID {
			return bridges[i].TrusterID < bridges[j].TrusterID
		}
		return bridges[i].TrusteeID < bridges[j].TrusteeID
	})

	var single []SingleTruster
	for _, id := range ids {
		if snap.Identities[id].Own {
			continue
		}
		var positive []string
		for _, t := range snap.Received[id] {
			if t.Value > 0 {
				positive = append(positive, t.Truster)
			}
		}
		if len(positive) == 1 {
			single = append(single, SingleTruster{ID: id, Nickname: snap.Identities[id].Nickname, TrusterID: positive[0]})
		}
	}

	return &BridgeReport{
		ArticulationPoints: aps,
		BridgeTrusts:       bridges,
		SingleTrusters:     single,
		APCount:            len(aps),
		BridgeCount:        len(bridges),
	}
}
