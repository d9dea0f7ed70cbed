package db

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 2

// Logical keys use plain (non-unique) indexes. Uniqueness is an invariant
// maintained by the writers and verified by the duplicate guards, so a
// corrupted store surfaces as ErrDuplicate instead of a constraint error.
const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id                   TEXT    NOT NULL,
	request_key          TEXT    NOT NULL,
	insert_key           TEXT,
	nickname             TEXT,
	publishes_trust_list INTEGER NOT NULL DEFAULT 0,
	edition              INTEGER NOT NULL DEFAULT 0,
	first_seen           INTEGER NOT NULL,
	last_fetched         INTEGER NOT NULL DEFAULT 0,
	last_changed         INTEGER NOT NULL,
	created_at           INTEGER,
	last_inserted        INTEGER,
	restore_pending      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_identities_id ON identities(id);
CREATE INDEX IF NOT EXISTS idx_identities_request_key ON identities(request_key);

CREATE TABLE IF NOT EXISTS identity_contexts (
	identity_id TEXT NOT NULL,
	name        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_identity_contexts_identity ON identity_contexts(identity_id);

CREATE TABLE IF NOT EXISTS identity_properties (
	identity_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	value       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_identity_properties_identity ON identity_properties(identity_id);

CREATE TABLE IF NOT EXISTS trusts (
	truster_id      TEXT    NOT NULL,
	trustee_id      TEXT    NOT NULL,
	value           INTEGER NOT NULL,
	comment         TEXT    NOT NULL DEFAULT '',
	truster_edition INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_trusts_pair ON trusts(truster_id, trustee_id);
CREATE INDEX IF NOT EXISTS idx_trusts_trustee ON trusts(trustee_id);

CREATE TABLE IF NOT EXISTS scores (
	owner_id  TEXT    NOT NULL,
	target_id TEXT    NOT NULL,
	value     INTEGER NOT NULL,
	rank      INTEGER NOT NULL,
	capacity  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_pair ON scores(owner_id, target_id);
CREATE INDEX IF NOT EXISTS idx_scores_target ON scores(target_id);
`

// upgradeV2 adds the restore marker of own identities.
const upgradeV2 = `ALTER TABLE identities ADD COLUMN restore_pending INTEGER NOT NULL DEFAULT 0`

func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if version == 1 {
		if _, err := conn.Exec(upgradeV2); err != nil {
			return fmt.Errorf("upgrading schema to version 2: %w", err)
		}
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}
