package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens a fresh database file in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenDB(filepath.Join(t.TempDir(), "wot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func beginTx(t *testing.T, d *DB) *Tx {
	t.Helper()
	tx, err := d.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func insertIdentity(t *testing.T, tx *Tx, id string, own bool) *Identity {
	t.Helper()
	i := &Identity{
		ID:          id,
		RequestKey:  "npub-" + id,
		FirstSeen:   1000,
		LastChanged: 1000,
	}
	if own {
		key := "nsec-" + id
		created := int64(1000)
		i.InsertKey = &key
		i.CreatedAt = &created
	}
	require.NoError(t, tx.InsertIdentity(i))
	return i
}

func strPtr(s string) *string { return &s }

func TestIdentityRoundTrip(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	i := &Identity{
		ID:                 "alice",
		RequestKey:         "npub-alice",
		Nickname:           strPtr("Alice"),
		PublishesTrustList: true,
		Edition:            3,
		FirstSeen:          1000,
		LastChanged:        2000,
		Contexts:           []string{"Freetalk", "Introduction"},
		Properties:         map[string]string{"avatar": "none"},
	}
	require.NoError(t, tx.InsertIdentity(i))

	got, err := tx.GetIdentity("alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", *got.Nickname)
	assert.True(t, got.PublishesTrustList)
	assert.EqualValues(t, 3, got.Edition)
	assert.False(t, got.IsOwn())
	assert.Equal(t, []string{"Freetalk", "Introduction"}, got.Contexts)
	assert.Equal(t, map[string]string{"avatar": "none"}, got.Properties)

	byKey, err := tx.GetIdentityByRequestKey("npub-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", byKey.ID)
}

func TestGetIdentityNotFound(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	_, err := tx.GetIdentity("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateRowsSurface(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	insertIdentity(t, tx, "a", true)
	insertIdentity(t, tx, "a", false)
	insertIdentity(t, tx, "b", false)
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "a", TrusteeID: "b", Value: 10}))
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "a", TrusteeID: "b", Value: 20}))
	require.NoError(t, tx.InsertScore(&Score{OwnerID: "a", TargetID: "b", Value: 1, Rank: 1, Capacity: 40}))
	require.NoError(t, tx.InsertScore(&Score{OwnerID: "a", TargetID: "b", Value: 1, Rank: 1, Capacity: 40}))

	_, err := tx.GetIdentity("a")
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = tx.GetTrust("a", "b")
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = tx.GetScore("a", "b")
	assert.ErrorIs(t, err, ErrDuplicate)

	ids, err := tx.DuplicateIdentities()
	require.NoError(t, err)
	assert.Contains(t, ids, "a")
	trusts, err := tx.DuplicateTrusts()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{From: "a", To: "b"}}, trusts)
	scores, err := tx.DuplicateScores()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{From: "a", To: "b"}}, scores)
}

func TestGivenTrustsOlderThan(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	for _, id := range []string{"a", "b", "c", "d"} {
		insertIdentity(t, tx, id, false)
	}
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "a", TrusteeID: "b", Value: 10, TrusterEdition: 1}))
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "a", TrusteeID: "c", Value: 10, TrusterEdition: 2}))
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "a", TrusteeID: "d", Value: 10, TrusterEdition: 3}))

	old, err := tx.GivenTrustsOlderThan("a", 3)
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "b", old[0].TrusteeID)
	assert.Equal(t, "c", old[1].TrusteeID)

	received, err := tx.ReceivedTrusts("c")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "a", received[0].TrusterID)
}

func TestDeleteIdentityCascades(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	insertIdentity(t, tx, "owner", true)
	insertIdentity(t, tx, "x", false)
	insertIdentity(t, tx, "y", false)
	require.NoError(t, tx.AddContext("x", "Freetalk"))
	require.NoError(t, tx.SetProperty("x", "k", "v"))
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "owner", TrusteeID: "x", Value: 100}))
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "x", TrusteeID: "y", Value: 50}))
	require.NoError(t, tx.InsertScore(&Score{OwnerID: "owner", TargetID: "x", Value: 100, Rank: 1, Capacity: 40}))

	require.NoError(t, tx.DeleteIdentity("x"))

	_, err := tx.GetIdentity("x")
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := tx.AllTrusts()
	require.NoError(t, err)
	assert.Empty(t, all)
	scores, err := tx.ScoresOfTarget("x")
	require.NoError(t, err)
	assert.Empty(t, scores)
	orphans, err := tx.OrphanDetails()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestOrphanDetection(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	insertIdentity(t, tx, "owner", true)
	insertIdentity(t, tx, "remote", false)
	require.NoError(t, tx.InsertTrust(&Trust{TrusterID: "owner", TrusteeID: "ghost", Value: 1}))
	require.NoError(t, tx.InsertScore(&Score{OwnerID: "remote", TargetID: "owner", Value: 1, Rank: 1, Capacity: 40}))

	trusts, err := tx.OrphanTrusts()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{From: "owner", To: "ghost"}}, trusts)

	scores, err := tx.OrphanScores()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{From: "remote", To: "owner"}}, scores)
}

func TestSavepointRollback(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	insertIdentity(t, tx, "kept", false)
	require.NoError(t, tx.Savepoint("trust_list"))
	insertIdentity(t, tx, "dropped", false)
	require.NoError(t, tx.RollbackTo("trust_list"))

	_, err := tx.GetIdentity("kept")
	assert.NoError(t, err)
	_, err = tx.GetIdentity("dropped")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, tx.Savepoint("bad name; DROP TABLE trusts"))
}

func TestCommitPersists(t *testing.T) {
	d := setupTestDB(t)

	tx, err := d.Begin(context.Background())
	require.NoError(t, err)
	insertIdentity(t, tx, "a", false)
	require.NoError(t, tx.Commit())

	tx2 := beginTx(t, d)
	n, err := tx2.CountIdentities()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateMissingRow(t *testing.T) {
	d := setupTestDB(t)
	tx := beginTx(t, d)

	err := tx.UpdateScore(&Score{OwnerID: "a", TargetID: "b"})
	assert.ErrorIs(t, err, ErrNotFound)
	err = tx.DeleteTrust("a", "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteTransactionLocksAtBegin(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wot.db")
	first, err := OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	_, err = second.Conn().Exec("PRAGMA busy_timeout = 0")
	require.NoError(t, err)

	writer, err := first.Begin(ctx)
	require.NoError(t, err)
	defer writer.Rollback()

	_, err = second.Begin(ctx)
	require.Error(t, err, "a second writer must wait for the first")
	assert.Contains(t, err.Error(), "locked")

	reader, err := second.BeginRead(ctx)
	require.NoError(t, err)
	defer reader.Rollback()
	n, err := reader.CountIdentities()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMigrateFromVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wot.db")
	old, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE identities (
		id TEXT NOT NULL, request_key TEXT NOT NULL, insert_key TEXT, nickname TEXT,
		publishes_trust_list INTEGER NOT NULL DEFAULT 0, edition INTEGER NOT NULL DEFAULT 0,
		first_seen INTEGER NOT NULL, last_fetched INTEGER NOT NULL DEFAULT 0,
		last_changed INTEGER NOT NULL, created_at INTEGER, last_inserted INTEGER
	);
	INSERT INTO identities (id, request_key, first_seen, last_changed) VALUES ('bob', 'npub-bob', 1, 1);
	PRAGMA user_version = 1;`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	d, err := OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	var version int
	require.NoError(t, d.Conn().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	tx := beginTx(t, d)
	bob, err := tx.GetIdentity("bob")
	require.NoError(t, err)
	assert.False(t, bob.RestorePending)

	alice := insertIdentity(t, tx, "alice", true)
	alice.RestorePending = true
	require.NoError(t, tx.UpdateIdentity(alice))
	got, err := tx.GetIdentity("alice")
	require.NoError(t, err)
	assert.True(t, got.RestorePending)
}

func TestSchemaLeavesKeysToWriters(t *testing.T) {
	d := setupTestDB(t)
	for _, table := range []string{"identities", "identity_contexts", "identity_properties", "trusts", "scores"} {
		var fks int
		require.NoError(t, d.Conn().QueryRow("SELECT COUNT(*) FROM pragma_foreign_key_list(?)", table).Scan(&fks))
		assert.Zero(t, fks, table)
	}
	var unique int
	require.NoError(t, d.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND sql LIKE '%UNIQUE%'`).Scan(&unique))
	assert.Zero(t, unique)
}
