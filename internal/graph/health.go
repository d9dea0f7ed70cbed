package graph

import "math"

// HealthBreakdown shows the sub-scores of the health formula
type HealthBreakdown struct {
	Connectivity float64 `json:"connectivity"`
	Components   float64 `json:"components"`
	Freshness    float64 `json:"freshness"`
	Reach        float64 `json:"reach"`
}

// TreeSummary describes one own identity's trust tree
type TreeSummary struct {
	OwnerID  string `json:"owner_id"`
	Nickname string `json:"nickname"`
	Size     int    `json:"size"`     // identities with a score, owner included
	Positive int    `json:"positive"` // scores with value >= 0
	Negative int    `json:"negative"`
	MaxRank  int    `json:"max_rank"`
}

// AnalysisReport is the full analysis result
type AnalysisReport struct {
	HealthScore     float64          `json:"health_score"`
	HealthBreakdown HealthBreakdown  `json:"health_breakdown"`
	Topology        *TopologyReport  `json:"topology"`
	Staleness       *StalenessReport `json:"staleness"`
	Bridges         *BridgeReport    `json:"bridges"`
	Trees           []TreeSummary    `json:"trees"`
}

// AnalyzerConfig holds analysis parameters
type AnalyzerConfig struct {
	HubThreshold int
	TopN         int
	StaleDays    int64
	NowMs        int64
	Capacity     CapacityFunc
}

// DefaultConfig returns sensible defaults
func DefaultConfig(capacity CapacityFunc, nowMs int64) *AnalyzerConfig {
	return &AnalyzerConfig{
		HubThreshold: 5,
		TopN:         50,
		StaleDays:    30,
		NowMs:        nowMs,
		Capacity:     capacity,
	}
}

// Analyze runs all analyses and computes a composite health score
func Analyze(snap *Snapshot, config *AnalyzerConfig) *AnalysisReport {
	topology := ComputeTopology(snap, config.HubThreshold, config.TopN)
	staleness := ComputeStaleness(snap, config.StaleDays, config.NowMs)

	var trees []TreeSummary
	reached := make(map[string]bool)
	for _, owner := range snap.OwnIDs() {
		scores := ComputeScores(snap, owner, config.Capacity)
		tree := TreeSummary{OwnerID: owner, Nickname: snap.Identities[owner].Nickname, Size: len(scores)}
		for id, s := range scores {
			reached[id] = true
			if s.Value >= 0 {
				tree.Positive++
			} else {
				tree.Negative++
			}
			if s.Rank > tree.MaxRank {
				tree.MaxRank = s.Rank
			}
		}
		trees = append(trees, tree)
	}

	total := float64(topology.TotalIdentities)
	remote := total - float64(topology.OwnIdentities)

	var connectivity, components, freshness, reach float64
	if total > 0 {
		connectivity = clamp(1.0-math.Min(float64(topology.IsolatedCount)/total, 0.2)*5.0, 0, 1)
	}
	if topology.NumComponents > 0 {
		components = clamp(1.0/float64(topology.NumComponents), 0, 1)
	}
	if remote > 0 {
		freshness = clamp(1.0-float64(staleness.StaleCount)/remote, 0, 1)
	}
	if total > 0 {
		reach = clamp(float64(len(reached))/total, 0, 1)
	}

	healthScore := 0.30*connectivity + 0.20*components + 0.25*freshness + 0.25*reach

	return &AnalysisReport{
		HealthScore: healthScore,
		HealthBreakdown: HealthBreakdown{
			Connectivity: connectivity,
			Components:   components,
			Freshness:    freshness,
			Reach:        reach,
		},
		Topology:  topology,
		Staleness: staleness,
		Bridges:   ComputeBridges(snap),
		Trees:     trees,
	}
}

func clamp(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
