package wot

import (
	"context"
	"errors"
	"fmt"

	"mycelica/wot/internal/db"
)

// capacities maps rank to the share of trust that propagates onward.
// Ranks beyond the table carry capacity 1.
var capacities = [...]int{100, 40, 16, 6, 2}

// Capacity returns the capacity of an identity at rank in a trust tree,
// ignoring vetoes. Unreachable ranks carry nothing.
func Capacity(rank int) int {
	switch {
	case rank < 0:
		return 0
	case rank >= len(capacities):
		return 1
	default:
		return capacities[rank]
	}
}

// selfScore is the score every tree owner has in its own tree.
func selfScore(ownerID string) db.Score {
	return db.Score{OwnerID: ownerID, TargetID: ownerID, Value: 100, Rank: 0, Capacity: 100}
}

type scorePair struct {
	owner, target string
}

// initTrustTree stores the owner's self-score. An existing one is left alone.
func (s *session) initTrustTree(ownerID string) error {
	_, err := s.tx.GetScore(ownerID, ownerID)
	if err == nil {
		s.log.Warn().Str("owner", ownerID).Msg("trust tree already initialised")
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	self := selfScore(ownerID)
	if err := s.tx.InsertScore(&self); err != nil {
		return err
	}
	s.w.metrics.IncrementScoreChange("created")
	return nil
}

// recomputeTarget recomputes target's score in every trust tree.
func (s *session) recomputeTarget(targetID string) error {
	owners, err := s.ownIDs()
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		s.log.Debug().Str("target", targetID).Msg("no own identity, nothing to score")
		return nil
	}
	pairs := make([]scorePair, len(owners))
	for i, owner := range owners {
		pairs[i] = scorePair{owner: owner, target: targetID}
	}
	return s.propagate(pairs)
}

// recomputeTargets recomputes several targets in every trust tree as one batch.
func (s *session) recomputeTargets(targetIDs []string) error {
	if len(targetIDs) == 0 {
		return nil
	}
	owners, err := s.ownIDs()
	if err != nil {
		return err
	}
	pairs := make([]scorePair, 0, len(owners)*len(targetIDs))
	for _, owner := range owners {
		for _, target := range targetIDs {
			pairs = append(pairs, scorePair{owner: owner, target: target})
		}
	}
	return s.propagate(pairs)
}

// propagate recomputes the seed pairs and, through a FIFO worklist, every
// pair whose inputs changed as a result. A pair is queued at most once at
// a time; it may be processed again later if one of its trusters changes
// after it ran.
func (s *session) propagate(seed []scorePair) error {
	bound, err := s.tx.CountIdentities()
	if err != nil {
		return err
	}

	queue := make([]scorePair, 0, len(seed))
	pending := make(map[scorePair]bool, len(seed))
	for _, p := range seed {
		if !pending[p] {
			pending[p] = true
			queue = append(queue, p)
		}
	}

	processed := 0
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		delete(pending, p)

		changed, err := s.recomputeScore(p.owner, p.target, bound)
		if err != nil {
			return err
		}
		processed++
		if !changed {
			continue
		}

		given, err := s.tx.GivenTrusts(p.target)
		if err != nil {
			return err
		}
		for _, t := range given {
			next := scorePair{owner: p.owner, target: t.TrusteeID}
			if !pending[next] {
				pending[next] = true
				queue = append(queue, next)
			}
		}
	}

	s.w.metrics.ObserveCascade(processed)
	if processed > len(seed) {
		s.log.Debug().Int("seed", len(seed)).Int("recomputed", processed).Msg("score cascade")
	}
	return nil
}

// recomputeScore brings the stored score of target in owner's tree in line
// with target's received trusts and its trusters' current scores. It
// reports whether anything its own trustees depend on (existence, rank or
// capacity) changed. Ranks of at least bound cannot be real distances and
// are treated as unreachable, which dissolves trust cycles cut off from the
// owner.
func (s *session) recomputeScore(ownerID, targetID string, bound int) (bool, error) {
	if ownerID == targetID {
		return false, nil
	}
	s.w.metrics.IncrementRecompute()

	received, err := s.tx.ReceivedTrusts(targetID)
	if err != nil {
		return false, err
	}

	rank, value := -1, 0
	for _, t := range received {
		truster, err := s.tx.GetScore(ownerID, t.TrusterID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		value += t.Value * truster.Capacity / 100
		if truster.Capacity > 0 && (rank == -1 || truster.Rank+1 < rank) {
			rank = truster.Rank + 1
		}
	}
	if rank >= bound {
		rank = -1
	}

	old, err := s.tx.GetScore(ownerID, targetID)
	if errors.Is(err, db.ErrNotFound) {
		old = nil
	} else if err != nil {
		return false, err
	}

	if rank == -1 {
		if old == nil {
			return false, nil
		}
		if err := s.tx.DeleteScore(ownerID, targetID); err != nil {
			return false, err
		}
		s.w.metrics.IncrementScoreChange("deleted")
		s.log.Debug().Str("owner", ownerID).Str("target", targetID).Msg("left trust tree")
		return true, nil
	}

	capacity := Capacity(rank)
	direct, err := s.tx.GetTrust(ownerID, targetID)
	switch {
	case err == nil:
		if direct.Value < 0 {
			capacity = 0
		}
	case !errors.Is(err, db.ErrNotFound):
		return false, err
	}

	score := db.Score{OwnerID: ownerID, TargetID: targetID, Value: value, Rank: rank, Capacity: capacity}
	switch {
	case old == nil:
		if err := s.tx.InsertScore(&score); err != nil {
			return false, err
		}
		s.w.metrics.IncrementScoreChange("created")
	case *old != score:
		if err := s.tx.UpdateScore(&score); err != nil {
			return false, err
		}
		s.w.metrics.IncrementScoreChange("updated")
	default:
		return false, nil
	}
	s.log.Debug().Str("owner", ownerID).Str("target", targetID).
		Int("value", value).Int("rank", rank).Int("capacity", capacity).
		Msg("score stored")

	if (old == nil || old.Value < 0) && value >= 0 {
		if err := s.refetch(targetID); err != nil {
			return false, err
		}
	}

	return old == nil || old.Rank != rank || old.Capacity != capacity, nil
}

// refetch handles a target whose score just became non-negative. Its trust
// list was not imported with trustee creation while it had no standing, so
// its edition is stepped back and a new download requested.
func (s *session) refetch(targetID string) error {
	target, err := s.tx.GetIdentity(targetID)
	if err != nil {
		return err
	}
	if target.IsOwn() {
		return nil
	}
	if target.Edition > 0 {
		target.Edition--
	}
	if err := s.tx.UpdateIdentity(target); err != nil {
		return err
	}
	s.requestFetch(targetID)
	s.w.metrics.IncrementRefetch()
	s.log.Debug().Str("target", targetID).Int64("edition", target.Edition).Msg("score became non-negative, refetching")
	return nil
}

// bestScore is the highest score value of target over all trees, floored at 0.
func (s *session) bestScore(targetID string) (int, error) {
	scores, err := s.tx.ScoresOfTarget(targetID)
	if err != nil {
		return 0, err
	}
	best := 0
	for _, sc := range scores {
		if sc.Value > best {
			best = sc.Value
		}
	}
	return best, nil
}

// GetScore returns target's score in owner's trust tree.
func (w *WebOfTrust) GetScore(ctx context.Context, ownerID, targetID string) (*db.Score, error) {
	var score *db.Score
	err := w.view(ctx, "get_score", func(s *session) error {
		if _, err := s.ownIdentity(ownerID); err != nil {
			return err
		}
		if _, err := s.identity(targetID); err != nil {
			return err
		}
		sc, err := s.tx.GetScore(ownerID, targetID)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s in tree of %s", ErrNotInTrustTree, targetID, ownerID)
		}
		if err != nil {
			return err
		}
		score = sc
		return nil
	})
	return score, err
}

// GetBestScore returns the highest score value target has in any trust
// tree, or 0 if it is in none.
func (w *WebOfTrust) GetBestScore(ctx context.Context, targetID string) (int, error) {
	var best int
	err := w.view(ctx, "get_best_score", func(s *session) error {
		if _, err := s.identity(targetID); err != nil {
			return err
		}
		var err error
		best, err = s.bestScore(targetID)
		return err
	})
	return best, err
}

// Selection picks scores by sign.
type Selection byte

const (
	// SelectPositive matches values >= 0. Zero counts as positive because
	// a fresh identity without any trust should not look distrusted.
	SelectPositive Selection = '+'
	SelectZero     Selection = '0'
	SelectNegative Selection = '-'
)

// ParseSelection accepts "+", "0" or "-".
func ParseSelection(s string) (Selection, error) {
	switch s {
	case "+", "0", "-":
		return Selection(s[0]), nil
	default:
		return 0, invalidf("score selection %q, want +, 0 or -", s)
	}
}

func (sel Selection) matches(value int) bool {
	switch sel {
	case SelectPositive:
		return value >= 0
	case SelectZero:
		return value == 0
	case SelectNegative:
		return value < 0
	}
	return false
}

// ScoredIdentity is an identity together with one of its scores.
type ScoredIdentity struct {
	Identity db.Identity `json:"identity"`
	Score    db.Score    `json:"score"`
}

// GetIdentitiesByScore lists remote identities whose score in ownerID's tree
// matches sel. An empty ownerID searches every tree; an identity then
// appears once per matching tree. Own identities are never listed.
func (w *WebOfTrust) GetIdentitiesByScore(ctx context.Context, ownerID string, sel Selection) ([]ScoredIdentity, error) {
	if !sel.matches(0) && !sel.matches(-1) {
		return nil, invalidf("score selection %q", string(sel))
	}
	var result []ScoredIdentity
	err := w.view(ctx, "get_identities_by_score", func(s *session) error {
		var scores []db.Score
		if ownerID != "" {
			if _, err := s.ownIdentity(ownerID); err != nil {
				return err
			}
			var err error
			if scores, err = s.tx.ScoresOfOwner(ownerID); err != nil {
				return err
			}
		} else {
			var err error
			if scores, err = s.tx.AllScores(); err != nil {
				return err
			}
		}

		cache := make(map[string]*db.Identity)
		for _, sc := range scores {
			if !sel.matches(sc.Value) {
				continue
			}
			target, ok := cache[sc.TargetID]
			if !ok {
				var err error
				if target, err = s.tx.GetIdentity(sc.TargetID); err != nil {
					return err
				}
				cache[sc.TargetID] = target
			}
			if target.IsOwn() {
				continue
			}
			result = append(result, ScoredIdentity{Identity: *target, Score: sc})
		}
		return nil
	})
	return result, err
}

// ScoresOf returns every score target has, one per trust tree it is in.
func (w *WebOfTrust) ScoresOf(ctx context.Context, targetID string) ([]db.Score, error) {
	var scores []db.Score
	err := w.view(ctx, "scores_of", func(s *session) error {
		if _, err := s.identity(targetID); err != nil {
			return err
		}
		var err error
		scores, err = s.tx.ScoresOfTarget(targetID)
		return err
	})
	return scores, err
}
