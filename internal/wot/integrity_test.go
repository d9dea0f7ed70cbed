package wot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain sets up A -> B -> C, with B's edge coming from its imported list.
func buildChain(t *testing.T, env *testEnv) (a, b, c string) {
	t.Helper()
	alice := env.own(t, "Alice")
	bob, bKeys := env.remote(t)
	carol, cKeys := env.remote(t)
	env.trust(t, alice.ID, bob.ID, 100)
	env.importDoc(t, trustList(bKeys.RequestKey, 1, "Bob", entry(cKeys.RequestKey, 100)))
	return alice.ID, bob.ID, carol.ID
}

func TestCheckIntegrityAfterOperations(t *testing.T) {
	env := newTestEnv(t)
	a, b, c := buildChain(t, env)
	env.requireConsistent(t)

	env.trust(t, a, c, -20)
	env.requireConsistent(t)
	require.NoError(t, env.w.RemoveTrust(env.ctx, a, b))
	env.requireConsistent(t)
	require.NoError(t, env.w.DeleteIdentity(env.ctx, c))
	env.requireConsistent(t)
}

func TestCheckIntegrityDetectsCorruptScore(t *testing.T) {
	env := newTestEnv(t)
	a, _, c := buildChain(t, env)

	_, err := env.store.Conn().Exec(`UPDATE scores SET value = 99 WHERE owner_id = ? AND target_id = ?`, a, c)
	require.NoError(t, err)

	report, err := env.w.CheckIntegrity(env.ctx)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Len(t, report.ScoreMismatches, 1)
	mismatch := report.ScoreMismatches[0]
	assert.Equal(t, c, mismatch.TargetID)
	assert.Equal(t, 99, mismatch.Stored.Value)
	assert.Equal(t, 40, mismatch.Expected.Value)
}

func TestRebuildScoresRepairs(t *testing.T) {
	env := newTestEnv(t)
	a, b, c := buildChain(t, env)

	_, err := env.store.Conn().Exec(`UPDATE scores SET value = 99 WHERE owner_id = ? AND target_id = ?`, a, c)
	require.NoError(t, err)
	_, err = env.store.Conn().Exec(`DELETE FROM scores WHERE owner_id = ? AND target_id = ?`, a, b)
	require.NoError(t, err)
	_, err = env.store.Conn().Exec(`INSERT INTO scores (owner_id, target_id, value, rank, capacity) VALUES (?, ?, 1, 1, 40)`, b, c)
	require.NoError(t, err)

	written, err := env.w.RebuildScores(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	env.requireConsistent(t)
	assert.Equal(t, scoreOf(a, b, 100, 1, 40), env.score(t, a, b))
	assert.Equal(t, scoreOf(a, c, 40, 2, 16), env.score(t, a, c))
}

func TestExplainScore(t *testing.T) {
	env := newTestEnv(t)
	a, b, c := buildChain(t, env)

	path, err := env.w.ExplainScore(env.ctx, a, c)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, a, path[0].TrusterID)
	assert.Equal(t, b, path[0].TrusteeID)
	assert.Equal(t, 40, path[0].Capacity)
	assert.Equal(t, b, path[1].TrusterID)
	assert.Equal(t, c, path[1].TrusteeID)
	assert.Equal(t, 2, path[1].Rank)

	path, err = env.w.ExplainScore(env.ctx, a, a)
	require.NoError(t, err)
	assert.Empty(t, path)

	stranger, _ := env.remote(t)
	_, err = env.w.ExplainScore(env.ctx, a, stranger.ID)
	assert.ErrorIs(t, err, ErrNotInTrustTree)

	_, err = env.w.ExplainScore(env.ctx, b, c)
	assert.ErrorIs(t, err, ErrNotOwnIdentity)
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t)
	a, _, _ := buildChain(t, env)
	env.remote(t)

	report, err := env.w.Analyze(env.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Topology.TotalIdentities)
	assert.Equal(t, 1, report.Topology.OwnIdentities)
	assert.Equal(t, 2, report.Topology.TotalTrusts)
	assert.Equal(t, 1, report.Topology.IsolatedCount)
	require.Len(t, report.Trees, 1)
	assert.Equal(t, a, report.Trees[0].OwnerID)
	assert.Equal(t, 3, report.Trees[0].Size)
	assert.Equal(t, 2, report.Trees[0].MaxRank)
	assert.InDelta(t, 0.75, report.HealthBreakdown.Reach, 1e-9)
}

func TestSimilarIdentities(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	a2 := env.own(t, "Alice2")
	b, _ := env.remote(t)
	c, _ := env.remote(t)
	env.trust(t, a.ID, b.ID, 100)
	env.trust(t, a.ID, c.ID, 50)
	env.trust(t, a2.ID, b.ID, 100)
	env.trust(t, a2.ID, c.ID, 50)

	similar, err := env.w.SimilarIdentities(env.ctx, a.ID, 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, a2.ID, similar[0].ID)
	assert.Equal(t, 2, similar[0].Shared)
	assert.InDelta(t, 1.0, similar[0].Similarity, 1e-9)

	_, err = env.w.SimilarIdentities(env.ctx, "nobody", 5)
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}
