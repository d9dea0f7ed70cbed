package wot

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelica/wot/internal/db"
)

func TestCapacityTableIsMonotonic(t *testing.T) {
	prev := Capacity(0)
	assert.Equal(t, 100, prev)
	for rank := 1; rank < 20; rank++ {
		c := Capacity(rank)
		assert.LessOrEqual(t, c, prev, "rank %d", rank)
		assert.Positive(t, c, "rank %d", rank)
		prev = c
	}
	assert.Equal(t, 0, Capacity(-1))
}

func TestSelfScoreIsNeverRecomputed(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, _ := env.remote(t)

	assert.Equal(t, scoreOf(a.ID, a.ID, 100, 0, 100), env.score(t, a.ID, a.ID))

	env.trust(t, a.ID, b.ID, -100)
	err := env.w.update(env.ctx, "test", func(s *session) error {
		changed, err := s.recomputeScore(a.ID, a.ID, 10)
		assert.False(t, changed)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, scoreOf(a.ID, a.ID, 100, 0, 100), env.score(t, a.ID, a.ID))
}

func TestSetTrustScenario(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, _ := env.remote(t)

	env.trust(t, a.ID, b.ID, 50)
	assert.Equal(t, scoreOf(a.ID, b.ID, 50, 1, 40), env.score(t, a.ID, b.ID))

	// The veto zeroes capacity; the value still comes from received trust.
	env.trust(t, a.ID, b.ID, -10)
	assert.Equal(t, scoreOf(a.ID, b.ID, -10, 1, 0), env.score(t, a.ID, b.ID))

	env.requireConsistent(t)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, _ := env.remote(t)
	env.trust(t, a.ID, b.ID, 70)
	before := env.score(t, a.ID, b.ID)

	for i := 0; i < 2; i++ {
		err := env.w.update(env.ctx, "test", func(s *session) error {
			changed, err := s.recomputeScore(a.ID, b.ID, 10)
			assert.False(t, changed)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, before, env.score(t, a.ID, b.ID))
	}
}

func TestCascadeThroughChain(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, bKeys := env.remote(t)
	c, cKeys := env.remote(t)

	env.trust(t, a.ID, b.ID, 100)
	env.importDoc(t, trustList(bKeys.RequestKey, 1, "Bob", entry(cKeys.RequestKey, 100)))

	assert.Equal(t, scoreOf(a.ID, b.ID, 100, 1, 40), env.score(t, a.ID, b.ID))
	assert.Equal(t, scoreOf(a.ID, c.ID, 40, 2, 16), env.score(t, a.ID, c.ID))

	// B's next list drops C: the edge is pruned and C leaves the tree.
	report := env.importDoc(t, trustList(bKeys.RequestKey, 2, "Bob"))
	assert.Equal(t, 1, report.TrustsRemoved)
	assert.Nil(t, env.score(t, a.ID, c.ID))

	env.requireConsistent(t)
}

func TestCascadeOnTrusterRemoval(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, bKeys := env.remote(t)
	c, cKeys := env.remote(t)
	d, dKeys := env.remote(t)

	env.trust(t, a.ID, b.ID, 100)
	env.importDoc(t, trustList(bKeys.RequestKey, 1, "", entry(cKeys.RequestKey, 50)))
	env.importDoc(t, trustList(cKeys.RequestKey, 1, "", entry(dKeys.RequestKey, 100)))

	assert.Equal(t, scoreOf(a.ID, c.ID, 20, 2, 16), env.score(t, a.ID, c.ID))
	assert.Equal(t, scoreOf(a.ID, d.ID, 16, 3, 6), env.score(t, a.ID, d.ID))

	require.NoError(t, env.w.RemoveTrust(env.ctx, a.ID, b.ID))
	assert.Nil(t, env.score(t, a.ID, b.ID))
	assert.Nil(t, env.score(t, a.ID, c.ID))
	assert.Nil(t, env.score(t, a.ID, d.ID))

	env.requireConsistent(t)
}

func TestNegativeTrustVetoesCapacity(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	x, xKeys := env.remote(t)
	b, bKeys := env.remote(t)
	d, dKeys := env.remote(t)

	env.trust(t, a.ID, x.ID, 100)
	env.importDoc(t, trustList(xKeys.RequestKey, 1, "", entry(bKeys.RequestKey, 100)))
	env.importDoc(t, trustList(bKeys.RequestKey, 1, "", entry(dKeys.RequestKey, 100)))
	assert.Equal(t, scoreOf(a.ID, b.ID, 40, 2, 16), env.score(t, a.ID, b.ID))
	assert.Equal(t, scoreOf(a.ID, d.ID, 16, 3, 6), env.score(t, a.ID, d.ID))

	env.trust(t, a.ID, b.ID, -10)

	// -10*100/100 + 100*40/100
	assert.Equal(t, scoreOf(a.ID, b.ID, 30, 1, 0), env.score(t, a.ID, b.ID))
	assert.Nil(t, env.score(t, a.ID, d.ID), "a vetoed identity passes no capacity on")

	env.requireConsistent(t)
}

func TestTrustCycleCutOffFromOwnerIsRemoved(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, bKeys := env.remote(t)
	c, cKeys := env.remote(t)

	env.trust(t, a.ID, b.ID, 100)
	env.importDoc(t, trustList(bKeys.RequestKey, 1, "", entry(cKeys.RequestKey, 100)))
	env.importDoc(t, trustList(cKeys.RequestKey, 1, "", entry(bKeys.RequestKey, 100)))
	assert.Equal(t, scoreOf(a.ID, b.ID, 116, 1, 40), env.score(t, a.ID, b.ID))

	require.NoError(t, env.w.RemoveTrust(env.ctx, a.ID, b.ID))
	assert.Nil(t, env.score(t, a.ID, b.ID))
	assert.Nil(t, env.score(t, a.ID, c.ID))

	env.requireConsistent(t)
}

func TestSetTrustRecomputesOnlyOnValueChange(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, _ := env.remote(t)

	env.trust(t, a.ID, b.ID, 50)
	recomputes := testutil.ToFloat64(env.metrics.ScoreRecomputes)

	require.NoError(t, env.w.SetTrust(env.ctx, a.ID, b.ID, 50, "same value, new words"))
	assert.Equal(t, recomputes, testutil.ToFloat64(env.metrics.ScoreRecomputes))
	trust, err := env.w.GetTrust(env.ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "same value, new words", trust.Comment)

	require.NoError(t, env.w.SetTrust(env.ctx, a.ID, b.ID, 51, "same value, new words"))
	assert.Greater(t, testutil.ToFloat64(env.metrics.ScoreRecomputes), recomputes)
	assert.Equal(t, scoreOf(a.ID, b.ID, 51, 1, 40), env.score(t, a.ID, b.ID))
}

func TestTrustEdgeStaysUnique(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, _ := env.remote(t)

	for _, v := range []int{10, 20, 20, -5, 100} {
		env.trust(t, a.ID, b.ID, v)
	}
	given, err := env.w.GivenTrusts(env.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, given, 1)
	assert.Equal(t, 100, given[0].Value)
}

func TestDuplicateScoreIsSurfaced(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, _ := env.remote(t)
	env.trust(t, a.ID, b.ID, 50)

	_, err := env.store.Conn().Exec(`INSERT INTO scores (owner_id, target_id, value, rank, capacity) VALUES (?, ?, 1, 1, 40)`, a.ID, b.ID)
	require.NoError(t, err)

	err = env.w.SetTrust(env.ctx, a.ID, b.ID, 60, "")
	require.ErrorIs(t, err, ErrDuplicate)
	assert.False(t, IsUserFacing(err))

	trust, err := env.w.GetTrust(env.ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, trust.Value, "the failed update must be rolled back")

	report, err := env.w.CheckIntegrity(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, []db.Pair{{From: a.ID, To: b.ID}}, report.DuplicateScores)
}

func TestNonNegativeTransitionRefetches(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, bKeys := env.remote(t)
	doc := trustList(bKeys.RequestKey, 5, "Bob")
	doc.PublishesTrustList = false
	env.importDoc(t, doc)
	env.fetches.reset()

	env.trust(t, a.ID, b.ID, -50)
	assert.Empty(t, env.fetches.fetched())

	env.trust(t, a.ID, b.ID, 20)
	assert.Equal(t, []string{b.ID}, env.fetches.fetched())
	got, err := env.w.GetIdentity(env.ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Edition)

	// Own identities are never refetched.
	env.fetches.reset()
	a2 := env.own(t, "Alice2")
	env.trust(t, a.ID, a2.ID, 100)
	assert.Empty(t, env.fetches.fetched())
	got, err = env.w.GetIdentity(env.ctx, a2.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Edition)
}

func TestBestScore(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	a2 := env.own(t, "Alice2")
	b, _ := env.remote(t)

	best, err := env.w.GetBestScore(env.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, best)

	env.trust(t, a.ID, b.ID, -40)
	best, err = env.w.GetBestScore(env.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, best, "negative scores are floored")

	env.trust(t, a2.ID, b.ID, 30)
	best, err = env.w.GetBestScore(env.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, best)

	best, err = env.w.GetBestScore(env.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, best)
}

func TestGetIdentitiesByScore(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	a2 := env.own(t, "Alice2")
	b, _ := env.remote(t)
	c, _ := env.remote(t)
	d, _ := env.remote(t)

	env.trust(t, a.ID, b.ID, 50)
	env.trust(t, a.ID, c.ID, -20)
	env.trust(t, a.ID, d.ID, 0)
	env.trust(t, a.ID, a2.ID, 100)

	targets := func(sel Selection) []string {
		scored, err := env.w.GetIdentitiesByScore(env.ctx, a.ID, sel)
		require.NoError(t, err)
		var ids []string
		for _, s := range scored {
			ids = append(ids, s.Identity.ID)
		}
		return ids
	}
	assert.ElementsMatch(t, []string{b.ID, d.ID}, targets(SelectPositive))
	assert.ElementsMatch(t, []string{d.ID}, targets(SelectZero))
	assert.ElementsMatch(t, []string{c.ID}, targets(SelectNegative))

	all, err := env.w.GetIdentitiesByScore(env.ctx, "", SelectNegative)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, c.ID, all[0].Identity.ID)

	_, err = ParseSelection("*")
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = env.w.GetIdentitiesByScore(env.ctx, b.ID, SelectPositive)
	assert.ErrorIs(t, err, ErrNotOwnIdentity)
}

func TestGetScoreErrors(t *testing.T) {
	env := newTestEnv(t)
	a := env.own(t, "Alice")
	b, _ := env.remote(t)

	_, err := env.w.GetScore(env.ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotInTrustTree)
	assert.True(t, IsUserFacing(err))

	_, err = env.w.GetScore(env.ctx, a.ID, "nobody")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.w.GetScore(env.ctx, b.ID, a.ID)
	assert.ErrorIs(t, err, ErrNotOwnIdentity)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
