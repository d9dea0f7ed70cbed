package db

import (
	"fmt"
	"sort"
)

const identityColumns = `id, request_key, insert_key, nickname, publishes_trust_list,
	edition, first_seen, last_fetched, last_changed, created_at, last_inserted, restore_pending`

// scanIdentity scans a row into an Identity. The row must have all identityColumns in order.
func scanIdentity(scanner interface{ Scan(dest ...any) error }) (Identity, error) {
	var i Identity
	err := scanner.Scan(
		&i.ID, &i.RequestKey, &i.InsertKey, &i.Nickname, &i.PublishesTrustList,
		&i.Edition, &i.FirstSeen, &i.LastFetched, &i.LastChanged, &i.CreatedAt,
		&i.LastInserted, &i.RestorePending,
	)
	return i, err
}

func (t *Tx) queryIdentities(query string, args ...any) ([]Identity, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for idx := range identities {
		if err := t.loadDetails(&identities[idx]); err != nil {
			return nil, err
		}
	}
	return identities, nil
}

// uniqueIdentity enforces the one-row invariant on a lookup result.
func uniqueIdentity(identities []Identity, what string) (*Identity, error) {
	switch len(identities) {
	case 0:
		return nil, fmt.Errorf("identity %s: %w", what, ErrNotFound)
	case 1:
		return &identities[0], nil
	default:
		return nil, fmt.Errorf("identity %s: %d rows: %w", what, len(identities), ErrDuplicate)
	}
}

// GetIdentity returns the identity with the given ID.
// Fails with ErrNotFound if absent and ErrDuplicate if stored more than once.
func (t *Tx) GetIdentity(id string) (*Identity, error) {
	identities, err := t.queryIdentities(`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("loading identity %s: %w", id, err)
	}
	return uniqueIdentity(identities, id)
}

// GetIdentityByRequestKey returns the identity published under the given request key.
func (t *Tx) GetIdentityByRequestKey(requestKey string) (*Identity, error) {
	identities, err := t.queryIdentities(`SELECT `+identityColumns+` FROM identities WHERE request_key = ?`, requestKey)
	if err != nil {
		return nil, fmt.Errorf("loading identity by request key: %w", err)
	}
	return uniqueIdentity(identities, requestKey)
}

// AllIdentities returns every known identity ordered by ID
func (t *Tx) AllIdentities() ([]Identity, error) {
	return t.queryIdentities(`SELECT ` + identityColumns + ` FROM identities ORDER BY id`)
}

// OwnIdentities returns the locally controlled identities ordered by ID
func (t *Tx) OwnIdentities() ([]Identity, error) {
	return t.queryIdentities(`SELECT ` + identityColumns + ` FROM identities WHERE insert_key IS NOT NULL ORDER BY id`)
}

// NonOwnIdentities returns remote identities, most recently fetched first
// when byLastFetched is set, otherwise ordered by ID.
func (t *Tx) NonOwnIdentities(byLastFetched bool) ([]Identity, error) {
	order := "id"
	if byLastFetched {
		order = "last_fetched DESC, id"
	}
	return t.queryIdentities(`SELECT ` + identityColumns + ` FROM identities WHERE insert_key IS NULL ORDER BY ` + order)
}

// CountIdentities returns the number of stored identity rows
func (t *Tx) CountIdentities() (int, error) {
	var n int
	if err := t.tx.QueryRow(`SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting identities: %w", err)
	}
	return n, nil
}

// InsertIdentity stores a new identity with its contexts and properties.
// The caller is responsible for checking that the ID is not taken.
func (t *Tx) InsertIdentity(i *Identity) error {
	_, err := t.tx.Exec(`INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.RequestKey, i.InsertKey, i.Nickname, i.PublishesTrustList,
		i.Edition, i.FirstSeen, i.LastFetched, i.LastChanged, i.CreatedAt, i.LastInserted,
		i.RestorePending,
	)
	if err != nil {
		return fmt.Errorf("inserting identity %s: %w", i.ID, err)
	}
	if err := t.SetContexts(i.ID, i.Contexts); err != nil {
		return err
	}
	return t.SetProperties(i.ID, i.Properties)
}

// UpdateIdentity writes the scalar fields of an existing identity.
// Contexts and properties have their own setters.
func (t *Tx) UpdateIdentity(i *Identity) error {
	res, err := t.tx.Exec(`UPDATE identities SET request_key = ?, insert_key = ?, nickname = ?,
		publishes_trust_list = ?, edition = ?, first_seen = ?, last_fetched = ?, last_changed = ?,
		created_at = ?, last_inserted = ?, restore_pending = ? WHERE id = ?`,
		i.RequestKey, i.InsertKey, i.Nickname, i.PublishesTrustList, i.Edition, i.FirstSeen,
		i.LastFetched, i.LastChanged, i.CreatedAt, i.LastInserted, i.RestorePending, i.ID,
	)
	if err != nil {
		return fmt.Errorf("updating identity %s: %w", i.ID, err)
	}
	return expectOneRow(res, "identity "+i.ID)
}

// DeleteIdentity removes an identity together with its contexts, properties,
// every trust it gave or received and every score it owns or is the target of.
func (t *Tx) DeleteIdentity(id string) error {
	stmts := []string{
		`DELETE FROM identities WHERE id = ?`,
		`DELETE FROM identity_contexts WHERE identity_id = ?`,
		`DELETE FROM identity_properties WHERE identity_id = ?`,
		`DELETE FROM trusts WHERE truster_id = ?1 OR trustee_id = ?1`,
		`DELETE FROM scores WHERE owner_id = ?1 OR target_id = ?1`,
	}
	for _, stmt := range stmts {
		if _, err := t.tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("deleting identity %s: %w", id, err)
		}
	}
	return nil
}

// SetContexts replaces the identity's contexts
func (t *Tx) SetContexts(id string, contexts []string) error {
	if _, err := t.tx.Exec(`DELETE FROM identity_contexts WHERE identity_id = ?`, id); err != nil {
		return fmt.Errorf("clearing contexts of %s: %w", id, err)
	}
	for _, c := range contexts {
		if err := t.AddContext(id, c); err != nil {
			return err
		}
	}
	return nil
}

// AddContext adds a context to the identity; adding an existing one is a no-op
func (t *Tx) AddContext(id, name string) error {
	_, err := t.tx.Exec(`INSERT INTO identity_contexts (identity_id, name)
		SELECT ?1, ?2 WHERE NOT EXISTS (
			SELECT 1 FROM identity_contexts WHERE identity_id = ?1 AND name = ?2)`, id, name)
	if err != nil {
		return fmt.Errorf("adding context %q to %s: %w", name, id, err)
	}
	return nil
}

// RemoveContext removes a context from the identity
func (t *Tx) RemoveContext(id, name string) error {
	res, err := t.tx.Exec(`DELETE FROM identity_contexts WHERE identity_id = ? AND name = ?`, id, name)
	if err != nil {
		return fmt.Errorf("removing context %q from %s: %w", name, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context %q of %s: %w", name, id, ErrNotFound)
	}
	return nil
}

// SetProperties replaces the identity's properties
func (t *Tx) SetProperties(id string, properties map[string]string) error {
	if _, err := t.tx.Exec(`DELETE FROM identity_properties WHERE identity_id = ?`, id); err != nil {
		return fmt.Errorf("clearing properties of %s: %w", id, err)
	}
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := t.SetProperty(id, name, properties[name]); err != nil {
			return err
		}
	}
	return nil
}

// SetProperty creates or overwrites one property
func (t *Tx) SetProperty(id, name, value string) error {
	if _, err := t.tx.Exec(`DELETE FROM identity_properties WHERE identity_id = ? AND name = ?`, id, name); err != nil {
		return fmt.Errorf("setting property %q of %s: %w", name, id, err)
	}
	if _, err := t.tx.Exec(`INSERT INTO identity_properties (identity_id, name, value) VALUES (?, ?, ?)`, id, name, value); err != nil {
		return fmt.Errorf("setting property %q of %s: %w", name, id, err)
	}
	return nil
}

// RemoveProperty deletes one property
func (t *Tx) RemoveProperty(id, name string) error {
	res, err := t.tx.Exec(`DELETE FROM identity_properties WHERE identity_id = ? AND name = ?`, id, name)
	if err != nil {
		return fmt.Errorf("removing property %q from %s: %w", name, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("property %q of %s: %w", name, id, ErrNotFound)
	}
	return nil
}

func (t *Tx) loadDetails(i *Identity) error {
	rows, err := t.tx.Query(`SELECT name FROM identity_contexts WHERE identity_id = ? ORDER BY name`, i.ID)
	if err != nil {
		return fmt.Errorf("loading contexts of %s: %w", i.ID, err)
	}
	i.Contexts = nil
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		i.Contexts = append(i.Contexts, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = t.tx.Query(`SELECT name, value FROM identity_properties WHERE identity_id = ?`, i.ID)
	if err != nil {
		return fmt.Errorf("loading properties of %s: %w", i.ID, err)
	}
	defer rows.Close()
	i.Properties = make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		i.Properties[name] = value
	}
	return rows.Err()
}
