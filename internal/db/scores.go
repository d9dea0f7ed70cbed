package db

import "fmt"

const scoreColumns = `owner_id, target_id, value, rank, capacity`

func scanScore(scanner interface{ Scan(dest ...any) error }) (Score, error) {
	var s Score
	err := scanner.Scan(&s.OwnerID, &s.TargetID, &s.Value, &s.Rank, &s.Capacity)
	return s, err
}

func (t *Tx) queryScores(query string, args ...any) ([]Score, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// GetScore returns the score of target in owner's trust tree.
// Fails with ErrNotFound if absent and ErrDuplicate if stored more than once.
func (t *Tx) GetScore(ownerID, targetID string) (*Score, error) {
	scores, err := t.queryScores(`SELECT `+scoreColumns+` FROM scores WHERE owner_id = ? AND target_id = ?`,
		ownerID, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading score %s/%s: %w", ownerID, targetID, err)
	}
	switch len(scores) {
	case 0:
		return nil, fmt.Errorf("score %s/%s: %w", ownerID, targetID, ErrNotFound)
	case 1:
		return &scores[0], nil
	default:
		return nil, fmt.Errorf("score %s/%s: %d rows: %w", ownerID, targetID, len(scores), ErrDuplicate)
	}
}

// InsertScore stores a new score. The caller checks that none exists yet.
func (t *Tx) InsertScore(s *Score) error {
	_, err := t.tx.Exec(`INSERT INTO scores (`+scoreColumns+`) VALUES (?, ?, ?, ?, ?)`,
		s.OwnerID, s.TargetID, s.Value, s.Rank, s.Capacity)
	if err != nil {
		return fmt.Errorf("inserting score %s/%s: %w", s.OwnerID, s.TargetID, err)
	}
	return nil
}

// UpdateScore overwrites value, rank and capacity of an existing score
func (t *Tx) UpdateScore(s *Score) error {
	res, err := t.tx.Exec(`UPDATE scores SET value = ?, rank = ?, capacity = ? WHERE owner_id = ? AND target_id = ?`,
		s.Value, s.Rank, s.Capacity, s.OwnerID, s.TargetID)
	if err != nil {
		return fmt.Errorf("updating score %s/%s: %w", s.OwnerID, s.TargetID, err)
	}
	return expectOneRow(res, fmt.Sprintf("score %s/%s", s.OwnerID, s.TargetID))
}

// DeleteScore removes the score of target in owner's tree
func (t *Tx) DeleteScore(ownerID, targetID string) error {
	res, err := t.tx.Exec(`DELETE FROM scores WHERE owner_id = ? AND target_id = ?`, ownerID, targetID)
	if err != nil {
		return fmt.Errorf("deleting score %s/%s: %w", ownerID, targetID, err)
	}
	return expectOneRow(res, fmt.Sprintf("score %s/%s", ownerID, targetID))
}

// DeleteScoresOfOwner drops a whole trust tree
func (t *Tx) DeleteScoresOfOwner(ownerID string) error {
	if _, err := t.tx.Exec(`DELETE FROM scores WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("deleting trust tree of %s: %w", ownerID, err)
	}
	return nil
}

// ScoresOfTarget returns the target's scores across all trust trees
func (t *Tx) ScoresOfTarget(targetID string) ([]Score, error) {
	return t.queryScores(`SELECT `+scoreColumns+` FROM scores WHERE target_id = ? ORDER BY owner_id`, targetID)
}

// ScoresOfOwner returns every score in the owner's trust tree, best first
func (t *Tx) ScoresOfOwner(ownerID string) ([]Score, error) {
	return t.queryScores(`SELECT `+scoreColumns+` FROM scores WHERE owner_id = ?
		ORDER BY value DESC, target_id`, ownerID)
}

// AllScores returns every stored score, best first
func (t *Tx) AllScores() ([]Score, error) {
	return t.queryScores(`SELECT ` + scoreColumns + ` FROM scores ORDER BY value DESC, owner_id, target_id`)
}
