package db

import "fmt"

// Pair is an ordered pair of identity IDs (truster/trustee or owner/target).
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (t *Tx) queryStrings(query string) ([]string, error) {
	rows, err := t.tx.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *Tx) queryPairs(query string) ([]Pair, error) {
	rows, err := t.tx.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.From, &p.To); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DuplicateIdentities returns IDs and request keys stored on more than one row
func (t *Tx) DuplicateIdentities() ([]string, error) {
	ids, err := t.queryStrings(`
		SELECT id FROM identities GROUP BY id HAVING COUNT(*) > 1
		UNION
		SELECT request_key FROM identities GROUP BY request_key HAVING COUNT(*) > 1
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("finding duplicate identities: %w", err)
	}
	return ids, nil
}

// DuplicateTrusts returns truster/trustee pairs stored more than once
func (t *Tx) DuplicateTrusts() ([]Pair, error) {
	pairs, err := t.queryPairs(`SELECT truster_id, trustee_id FROM trusts
		GROUP BY truster_id, trustee_id HAVING COUNT(*) > 1 ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("finding duplicate trusts: %w", err)
	}
	return pairs, nil
}

// DuplicateScores returns owner/target pairs stored more than once
func (t *Tx) DuplicateScores() ([]Pair, error) {
	pairs, err := t.queryPairs(`SELECT owner_id, target_id FROM scores
		GROUP BY owner_id, target_id HAVING COUNT(*) > 1 ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("finding duplicate scores: %w", err)
	}
	return pairs, nil
}

// OrphanTrusts returns edges whose truster or trustee no longer exists
func (t *Tx) OrphanTrusts() ([]Pair, error) {
	pairs, err := t.queryPairs(`SELECT truster_id, trustee_id FROM trusts
		WHERE truster_id NOT IN (SELECT id FROM identities)
		   OR trustee_id NOT IN (SELECT id FROM identities)
		ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("finding orphan trusts: %w", err)
	}
	return pairs, nil
}

// OrphanScores returns scores whose owner is not an own identity or whose target no longer exists
func (t *Tx) OrphanScores() ([]Pair, error) {
	pairs, err := t.queryPairs(`SELECT owner_id, target_id FROM scores
		WHERE owner_id NOT IN (SELECT id FROM identities WHERE insert_key IS NOT NULL)
		   OR target_id NOT IN (SELECT id FROM identities)
		ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("finding orphan scores: %w", err)
	}
	return pairs, nil
}

// OrphanDetails returns identity IDs referenced by contexts or properties that no longer exist
func (t *Tx) OrphanDetails() ([]string, error) {
	ids, err := t.queryStrings(`
		SELECT identity_id FROM identity_contexts WHERE identity_id NOT IN (SELECT id FROM identities)
		UNION
		SELECT identity_id FROM identity_properties WHERE identity_id NOT IN (SELECT id FROM identities)
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("finding orphan contexts and properties: %w", err)
	}
	return ids, nil
}
