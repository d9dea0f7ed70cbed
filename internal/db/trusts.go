package db

import (
	"database/sql"
	"fmt"
)

const trustColumns = `truster_id, trustee_id, value, comment, truster_edition`

// scanTrust scans a row into a Trust. The row must have all trustColumns in order.
func scanTrust(scanner interface{ Scan(dest ...any) error }) (Trust, error) {
	var tr Trust
	err := scanner.Scan(&tr.TrusterID, &tr.TrusteeID, &tr.Value, &tr.Comment, &tr.TrusterEdition)
	return tr, err
}

func (t *Tx) queryTrusts(query string, args ...any) ([]Trust, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trusts []Trust
	for rows.Next() {
		tr, err := scanTrust(rows)
		if err != nil {
			return nil, err
		}
		trusts = append(trusts, tr)
	}
	return trusts, rows.Err()
}

// GetTrust returns the edge from truster to trustee.
// Fails with ErrNotFound if absent and ErrDuplicate if stored more than once.
func (t *Tx) GetTrust(trusterID, trusteeID string) (*Trust, error) {
	trusts, err := t.queryTrusts(`SELECT `+trustColumns+` FROM trusts WHERE truster_id = ? AND trustee_id = ?`,
		trusterID, trusteeID)
	if err != nil {
		return nil, fmt.Errorf("loading trust %s -> %s: %w", trusterID, trusteeID, err)
	}
	switch len(trusts) {
	case 0:
		return nil, fmt.Errorf("trust %s -> %s: %w", trusterID, trusteeID, ErrNotFound)
	case 1:
		return &trusts[0], nil
	default:
		return nil, fmt.Errorf("trust %s -> %s: %d rows: %w", trusterID, trusteeID, len(trusts), ErrDuplicate)
	}
}

// InsertTrust stores a new edge. The caller checks that none exists yet.
func (t *Tx) InsertTrust(tr *Trust) error {
	_, err := t.tx.Exec(`INSERT INTO trusts (`+trustColumns+`) VALUES (?, ?, ?, ?, ?)`,
		tr.TrusterID, tr.TrusteeID, tr.Value, tr.Comment, tr.TrusterEdition)
	if err != nil {
		return fmt.Errorf("inserting trust %s -> %s: %w", tr.TrusterID, tr.TrusteeID, err)
	}
	return nil
}

// UpdateTrust overwrites value, comment and edition of an existing edge
func (t *Tx) UpdateTrust(tr *Trust) error {
	res, err := t.tx.Exec(`UPDATE trusts SET value = ?, comment = ?, truster_edition = ?
		WHERE truster_id = ? AND trustee_id = ?`,
		tr.Value, tr.Comment, tr.TrusterEdition, tr.TrusterID, tr.TrusteeID)
	if err != nil {
		return fmt.Errorf("updating trust %s -> %s: %w", tr.TrusterID, tr.TrusteeID, err)
	}
	return expectOneRow(res, fmt.Sprintf("trust %s -> %s", tr.TrusterID, tr.TrusteeID))
}

// DeleteTrust removes the edge from truster to trustee
func (t *Tx) DeleteTrust(trusterID, trusteeID string) error {
	res, err := t.tx.Exec(`DELETE FROM trusts WHERE truster_id = ? AND trustee_id = ?`, trusterID, trusteeID)
	if err != nil {
		return fmt.Errorf("deleting trust %s -> %s: %w", trusterID, trusteeID, err)
	}
	return expectOneRow(res, fmt.Sprintf("trust %s -> %s", trusterID, trusteeID))
}

// GivenTrusts returns all edges given by the truster, ordered by trustee
func (t *Tx) GivenTrusts(trusterID string) ([]Trust, error) {
	return t.queryTrusts(`SELECT `+trustColumns+` FROM trusts WHERE truster_id = ? ORDER BY trustee_id`, trusterID)
}

// ReceivedTrusts returns all edges received by the trustee, ordered by truster
func (t *Tx) ReceivedTrusts(trusteeID string) ([]Trust, error) {
	return t.queryTrusts(`SELECT `+trustColumns+` FROM trusts WHERE trustee_id = ? ORDER BY truster_id`, trusteeID)
}

// GivenTrustsOlderThan returns edges of the truster last confirmed by an
// edition older than the given one.
func (t *Tx) GivenTrustsOlderThan(trusterID string, edition int64) ([]Trust, error) {
	return t.queryTrusts(`SELECT `+trustColumns+` FROM trusts
		WHERE truster_id = ? AND truster_edition < ? ORDER BY trustee_id`, trusterID, edition)
}

// AllTrusts returns every edge
func (t *Tx) AllTrusts() ([]Trust, error) {
	return t.queryTrusts(`SELECT ` + trustColumns + ` FROM trusts ORDER BY truster_id, trustee_id`)
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	switch {
	case n == 0:
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case n > 1:
		return fmt.Errorf("%s: %d rows: %w", what, n, ErrDuplicate)
	}
	return nil
}
