package graph

import "sort"

// HubIdentity is an identity that receives many trust assertions
type HubIdentity struct {
	ID            string `json:"id"`
	Nickname      string `json:"nickname"`
	Received      int    `json:"received"`
	Positive      int    `json:"positive"`
	Negative      int    `json:"negative"`
	Given         int    `json:"given"`
	ReceivedTotal int    `json:"received_total"` // sum of received values
}

// DegreeBucket is one bucket in the received-trust histogram
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopologyReport contains topology analysis results
type TopologyReport struct {
	TotalIdentities   int            `json:"total_identities"`
	OwnIdentities     int            `json:"own_identities"`
	TotalTrusts       int            `json:"total_trusts"`
	NegativeTrusts    int            `json:"negative_trusts"`
	NumComponents     int            `json:"num_components"`
	LargestComponent  int            `json:"largest_component"`
	SmallestComponent int            `json:"smallest_component"`
	IsolatedCount     int            `json:"isolated_count"`
	IsolatedIDs       []string       `json:"isolated_ids"`
	DegreeHistogram   []DegreeBucket `json:"degree_histogram"`
	Hubs              []HubIdentity  `json:"hubs"`
}

// ComputeTopology analyzes the trust graph: components, isolated identities,
// received-trust distribution and the most trusted identities.
func ComputeTopology(snap *Snapshot, hubThreshold, topN int) *TopologyReport {
	total := len(snap.Identities)
	if total == 0 {
		return &TopologyReport{DegreeHistogram: defaultHistogram()}
	}

	ids := snap.IdentityIDs()
	uf := NewUnionFind(ids)
	negative := 0
	for _, t := range snap.Trusts {
		uf.Union(t.Truster, t.Trustee)
		if t.Value < 0 {
			negative++
		}
	}

	components := uf.Components()
	largest, smallest := 0, total
	for _, c := range components {
		if len(c) > largest {
			largest = len(c)
		}
		if len(c) < smallest {
			smallest = len(c)
		}
	}

	var isolated []string
	own := 0
	buckets := make([]int, len(defaultHistogram()))
	var hubs []HubIdentity
	for _, id := range ids {
		if snap.Identities[id].Own {
			own++
		}
		if len(snap.Adj[id]) == 0 {
			isolated = append(isolated, id)
		}
		received := snap.Received[id]
		buckets[degreeBucket(len(received))]++

		if len(received) > hubThreshold {
			hub := HubIdentity{
				ID:       id,
				Nickname: snap.Identities[id].Nickname,
				Received: len(received),
				Given:    len(snap.Given[id]),
			}
			for _, t := range received {
				hub.ReceivedTotal += t.Value
				if t.Value < 0 {
					hub.Negative++
				} else {
					hub.Positive++
				}
			}
			hubs = append(hubs, hub)
		}
	}
	isolatedCount := len(isolated)
	if len(isolated) > topN {
		isolated = isolated[:topN]
	}

	histogram := defaultHistogram()
	for i := range histogram {
		histogram[i].Count = buckets[i]
	}

	sort.SliceStable(hubs, func(i, j int) bool { return hubs[i].ReceivedTotal > hubs[j].ReceivedTotal })
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}

	return &TopologyReport{
		TotalIdentities:   total,
		OwnIdentities:     own,
		TotalTrusts:       len(snap.Trusts),
		NegativeTrusts:    negative,
		NumComponents:     len(components),
		LargestComponent:  largest,
		SmallestComponent: smallest,
		IsolatedCount:     isolatedCount,
		IsolatedIDs:       isolated,
		DegreeHistogram:   histogram,
		Hubs:              hubs,
	}
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
