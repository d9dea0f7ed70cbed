package graph

import "sort"

// StaleIdentity is a remote identity whose document is old or was never
// fetched but which still receives positive trust
type StaleIdentity struct {
	ID               string `json:"id"`
	Nickname         string `json:"nickname"`
	NeverFetched     bool   `json:"never_fetched"`
	DaysSinceFetch   int64  `json:"days_since_fetch"`
	PositiveTrusters int    `json:"positive_trusters"`
}

// StalenessReport contains staleness analysis results
type StalenessReport struct {
	StaleIdentities   []StaleIdentity `json:"stale_identities"`
	StaleCount        int             `json:"stale_count"`
	NeverFetchedCount int             `json:"never_fetched_count"`
}

// ComputeStaleness finds remote identities that are trusted but whose
// document has not been fetched within staleDays. nowMs is the reference time.
func ComputeStaleness(snap *Snapshot, staleDays int64, nowMs int64) *StalenessReport {
	staleThresholdMs := staleDays * 86_400_000

	var stale []StaleIdentity
	neverFetched := 0
	for _, id := range snap.IdentityIDs() {
		info := snap.Identities[id]
		if info.Own {
			continue
		}
		positive := 0
		for _, t := range snap.Received[id] {
			if t.Value > 0 && t.Truster != id {
				positive++
			}
		}
		if positive == 0 {
			continue
		}

		never := info.LastFetched == 0
		ageMs := nowMs - info.LastFetched
		if !never && ageMs <= staleThresholdMs {
			continue
		}
		if never {
			neverFetched++
			ageMs = nowMs - info.FirstSeen
		}
		stale = append(stale, StaleIdentity{
			ID:               id,
			Nickname:         info.Nickname,
			NeverFetched:     never,
			DaysSinceFetch:   ageMs / 86_400_000,
			PositiveTrusters: positive,
		})
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].PositiveTrusters > stale[j].PositiveTrusters
	})

	return &StalenessReport{
		StaleIdentities:   stale,
		StaleCount:        len(stale),
		NeverFetchedCount: neverFetched,
	}
}
