package graph

import (
	"math"
	"sort"
)

// SimilarIdentity is an identity with the similarity of its given trusts to
// those of a target identity.
type SimilarIdentity struct {
	ID         string  `json:"id"`
	Nickname   string  `json:"nickname"`
	Shared     int     `json:"shared"` // trustees both identities rated
	Similarity float64 `json:"similarity"`
}

// CosineSimilarity computes cosine similarity between two sparse trust
// vectors keyed by trustee. Returns 0 when either vector is empty or zero.
func CosineSimilarity(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for k, va := range a {
		normA += float64(va * va)
		if vb, ok := b[k]; ok {
			dot += float64(va * vb)
		}
	}
	for _, vb := range b {
		normB += float64(vb * vb)
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func trustVector(trusts []TrustInfo) map[string]int {
	v := make(map[string]int, len(trusts))
	for _, t := range trusts {
		v[t.Trustee] = t.Value
	}
	return v
}

// FindSimilar finds the top-N identities whose given trusts most resemble
// those of targetID. Only identities with similarity >= minSimilarity are
// returned, sorted by descending similarity.
func FindSimilar(snap *Snapshot, targetID string, topN int, minSimilarity float64) []SimilarIdentity {
	target := trustVector(snap.Given[targetID])
	if len(target) == 0 {
		return nil
	}

	var results []SimilarIdentity
	for _, id := range snap.IdentityIDs() {
		if id == targetID || len(snap.Given[id]) == 0 {
			continue
		}
		candidate := trustVector(snap.Given[id])
		sim := CosineSimilarity(target, candidate)
		if sim < minSimilarity {
			continue
		}
		shared := 0
		for k := range candidate {
			if _, ok := target[k]; ok {
				shared++
			}
		}
		results = append(results, SimilarIdentity{
			ID:         id,
			Nickname:   snap.Identities[id].Nickname,
			Shared:     shared,
			Similarity: sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topN {
		results = results[:topN]
	}
	return results
}
