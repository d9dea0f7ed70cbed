package wot

import (
	"context"
	"fmt"
	"sort"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/graph"
)

// ScoreMismatch is a stored score that differs from a from-scratch
// computation. A nil side means the score is missing there.
type ScoreMismatch struct {
	OwnerID  string           `json:"owner_id"`
	TargetID string           `json:"target_id"`
	Stored   *graph.ScoreInfo `json:"stored"`
	Expected *graph.ScoreInfo `json:"expected"`
}

// IntegrityReport lists every consistency violation found in the store.
type IntegrityReport struct {
	DuplicateIdentities []string        `json:"duplicate_identities"`
	DuplicateTrusts     []db.Pair       `json:"duplicate_trusts"`
	DuplicateScores     []db.Pair       `json:"duplicate_scores"`
	OrphanTrusts        []db.Pair       `json:"orphan_trusts"`
	OrphanScores        []db.Pair       `json:"orphan_scores"`
	OrphanDetails       []string        `json:"orphan_details"`
	MissingSelfScores   []string        `json:"missing_self_scores"`
	ScoreMismatches     []ScoreMismatch `json:"score_mismatches"`
}

// OK reports whether no violation was found.
func (r *IntegrityReport) OK() bool {
	return len(r.DuplicateIdentities) == 0 && len(r.DuplicateTrusts) == 0 &&
		len(r.DuplicateScores) == 0 && len(r.OrphanTrusts) == 0 &&
		len(r.OrphanScores) == 0 && len(r.OrphanDetails) == 0 &&
		len(r.MissingSelfScores) == 0 && len(r.ScoreMismatches) == 0
}

// CheckIntegrity looks for duplicates, orphans and stored scores that
// disagree with a full recomputation. It never repairs anything.
func (w *WebOfTrust) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}
	err := w.view(ctx, "check_integrity", func(s *session) error {
		var err error
		if report.DuplicateIdentities, err = s.tx.DuplicateIdentities(); err != nil {
			return err
		}
		if report.DuplicateTrusts, err = s.tx.DuplicateTrusts(); err != nil {
			return err
		}
		if report.DuplicateScores, err = s.tx.DuplicateScores(); err != nil {
			return err
		}
		if report.OrphanTrusts, err = s.tx.OrphanTrusts(); err != nil {
			return err
		}
		if report.OrphanScores, err = s.tx.OrphanScores(); err != nil {
			return err
		}
		if report.OrphanDetails, err = s.tx.OrphanDetails(); err != nil {
			return err
		}

		snap, err := graph.SnapshotFromTx(s.tx)
		if err != nil {
			return err
		}
		for _, owner := range snap.OwnIDs() {
			stored, err := s.tx.ScoresOfOwner(owner)
			if err != nil {
				return err
			}
			storedByTarget := make(map[string]graph.ScoreInfo, len(stored))
			for _, sc := range stored {
				storedByTarget[sc.TargetID] = graph.ScoreInfo{Value: sc.Value, Rank: sc.Rank, Capacity: sc.Capacity}
			}
			if _, ok := storedByTarget[owner]; !ok {
				report.MissingSelfScores = append(report.MissingSelfScores, owner)
			}
			report.ScoreMismatches = append(report.ScoreMismatches,
				compareScores(owner, storedByTarget, graph.ComputeScores(snap, owner, Capacity))...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		w.log.Warn().
			Int("duplicates", len(report.DuplicateIdentities)+len(report.DuplicateTrusts)+len(report.DuplicateScores)).
			Int("orphans", len(report.OrphanTrusts)+len(report.OrphanScores)+len(report.OrphanDetails)).
			Int("mismatches", len(report.ScoreMismatches)).
			Msg("integrity violations found")
	}
	return report, nil
}

func compareScores(owner string, stored, expected map[string]graph.ScoreInfo) []ScoreMismatch {
	var out []ScoreMismatch
	for target, want := range expected {
		want := want // per-iteration copy (go.mod targets pre-1.22 loop semantics)
		got, ok := stored[target]
		switch {
		case !ok:
			out = append(out, ScoreMismatch{OwnerID: owner, TargetID: target, Expected: &want})
		case got != want:
			out = append(out, ScoreMismatch{OwnerID: owner, TargetID: target, Stored: &got, Expected: &want})
		}
	}
	for target, got := range stored {
		got := got // per-iteration copy (go.mod targets pre-1.22 loop semantics)
		if _, ok := expected[target]; !ok {
			out = append(out, ScoreMismatch{OwnerID: owner, TargetID: target, Stored: &got})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// RebuildScores replaces every stored score with a full recomputation and
// drops scores of owners that are no longer own identities. It returns the
// number of scores written.
func (w *WebOfTrust) RebuildScores(ctx context.Context) (int, error) {
	written := 0
	err := w.update(ctx, "rebuild_scores", func(s *session) error {
		written = 0
		orphans, err := s.tx.OrphanScores()
		if err != nil {
			return err
		}
		for _, p := range orphans {
			if err := s.tx.DeleteScore(p.From, p.To); err != nil {
				return fmt.Errorf("dropping orphan score %s/%s: %w", p.From, p.To, err)
			}
		}

		snap, err := graph.SnapshotFromTx(s.tx)
		if err != nil {
			return err
		}
		for _, owner := range snap.OwnIDs() {
			if err := s.tx.DeleteScoresOfOwner(owner); err != nil {
				return err
			}
			scores := graph.ComputeScores(snap, owner, Capacity)
			targets := make([]string, 0, len(scores))
			for target := range scores {
				targets = append(targets, target)
			}
			sort.Strings(targets)
			for _, target := range targets {
				info := scores[target]
				score := db.Score{OwnerID: owner, TargetID: target, Value: info.Value, Rank: info.Rank, Capacity: info.Capacity}
				if err := s.tx.InsertScore(&score); err != nil {
					return err
				}
				written++
			}
		}
		s.log.Info().Int("scores", written).Int("orphans", len(orphans)).Msg("scores rebuilt")
		return nil
	})
	return written, err
}

// ExplainScore returns the capacity-carrying trust path that gives target
// its rank in owner's tree. The path of the owner itself is empty.
func (w *WebOfTrust) ExplainScore(ctx context.Context, ownerID, targetID string) ([]graph.PathHop, error) {
	var path []graph.PathHop
	err := w.view(ctx, "explain_score", func(s *session) error {
		if _, err := s.ownIdentity(ownerID); err != nil {
			return err
		}
		if _, err := s.identity(targetID); err != nil {
			return err
		}
		if ownerID == targetID {
			return nil
		}
		snap, err := graph.SnapshotFromTx(s.tx)
		if err != nil {
			return err
		}
		path = graph.TrustPath(snap, ownerID, targetID, Capacity)
		if path == nil {
			return fmt.Errorf("%w: %s in tree of %s", ErrNotInTrustTree, targetID, ownerID)
		}
		return nil
	})
	return path, err
}

// Analyze reports the topology and freshness of the trust graph. A nil
// config uses graph.DefaultConfig; clock and capacity are always filled in.
func (w *WebOfTrust) Analyze(ctx context.Context, config *graph.AnalyzerConfig) (*graph.AnalysisReport, error) {
	cfg := graph.DefaultConfig(Capacity, w.nowMs())
	if config != nil {
		cfg.HubThreshold = config.HubThreshold
		cfg.TopN = config.TopN
		cfg.StaleDays = config.StaleDays
	}
	var report *graph.AnalysisReport
	err := w.view(ctx, "analyze", func(s *session) error {
		snap, err := graph.SnapshotFromTx(s.tx)
		if err != nil {
			return err
		}
		report = graph.Analyze(snap, cfg)
		return nil
	})
	return report, err
}

// SimilarIdentities ranks identities by how closely their given trusts match
// those of id.
func (w *WebOfTrust) SimilarIdentities(ctx context.Context, id string, topN int) ([]graph.SimilarIdentity, error) {
	var similar []graph.SimilarIdentity
	err := w.view(ctx, "similar_identities", func(s *session) error {
		if _, err := s.identity(id); err != nil {
			return err
		}
		snap, err := graph.SnapshotFromTx(s.tx)
		if err != nil {
			return err
		}
		similar = graph.FindSimilar(snap, id, topN, 0.1)
		return nil
	})
	return similar, err
}
