package graph

import "sort"

// IdentityInfo is a lightweight identity representation decoupled from DB types
type IdentityInfo struct {
	ID          string
	Nickname    string
	Own         bool
	FirstSeen   int64 // Unix millis
	LastFetched int64 // Unix millis, 0 = never
}

// TrustInfo is a lightweight trust edge representation
type TrustInfo struct {
	Truster string
	Trustee string
	Value   int
}

// Snapshot holds the trust graph with precomputed adjacency lists
type Snapshot struct {
	Identities map[string]*IdentityInfo
	Trusts     []TrustInfo
	Adj        map[string][]string    // undirected
	Given      map[string][]TrustInfo // truster -> edges given
	Received   map[string][]TrustInfo // trustee -> edges received
}

// NewSnapshot builds a Snapshot from raw identities and trusts. Edges that
// reference unknown identities are dropped.
func NewSnapshot(identities []*IdentityInfo, trusts []TrustInfo) *Snapshot {
	idMap := make(map[string]*IdentityInfo, len(identities))
	adj := make(map[string][]string)
	given := make(map[string][]TrustInfo)
	received := make(map[string][]TrustInfo)

	for _, i := range identities {
		idMap[i.ID] = i
		adj[i.ID] = nil // ensure entry exists
		given[i.ID] = nil
		received[i.ID] = nil
	}

	kept := make([]TrustInfo, 0, len(trusts))
	for _, t := range trusts {
		if _, ok := idMap[t.Truster]; !ok {
			continue
		}
		if _, ok := idMap[t.Trustee]; !ok {
			continue
		}
		kept = append(kept, t)
		adj[t.Truster] = append(adj[t.Truster], t.Trustee)
		adj[t.Trustee] = append(adj[t.Trustee], t.Truster)
		given[t.Truster] = append(given[t.Truster], t)
		received[t.Trustee] = append(received[t.Trustee], t)
	}

	// deterministic traversal order
	for id := range given {
		sort.Slice(given[id], func(a, b int) bool { return given[id][a].Trustee < given[id][b].Trustee })
		sort.Slice(received[id], func(a, b int) bool { return received[id][a].Truster < received[id][b].Truster })
	}

	return &Snapshot{
		Identities: idMap,
		Trusts:     kept,
		Adj:        adj,
		Given:      given,
		Received:   received,
	}
}

// IdentityIDs returns a sorted list of all identity IDs (for deterministic output)
func (s *Snapshot) IdentityIDs() []string {
	ids := make([]string, 0, len(s.Identities))
	for id := range s.Identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OwnIDs returns the sorted IDs of own identities
func (s *Snapshot) OwnIDs() []string {
	var ids []string
	for _, id := range s.IdentityIDs() {
		if s.Identities[id].Own {
			ids = append(ids, id)
		}
	}
	return ids
}

// DirectTrust returns the value truster gave trustee, if any
func (s *Snapshot) DirectTrust(truster, trustee string) (int, bool) {
	for _, t := range s.Given[truster] {
		if t.Trustee == trustee {
			return t.Value, true
		}
	}
	return 0, false
}

// Name returns the nickname or a shortened ID
func (s *Snapshot) Name(id string) string {
	if i, ok := s.Identities[id]; ok && i.Nickname != "" {
		return i.Nickname
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
