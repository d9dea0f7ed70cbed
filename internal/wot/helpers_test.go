package wot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
	"mycelica/wot/internal/keys"
	"mycelica/wot/internal/metrics"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fetchRecorder records fetch notifications in dispatch order.
type fetchRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (f *fetchRecorder) Fetch(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fetchRecorder) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func (f *fetchRecorder) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = nil
}

type testEnv struct {
	w       *WebOfTrust
	store   *db.DB
	fetches *fetchRecorder
	metrics *metrics.Metrics
	ctx     context.Context
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := db.OpenDB(filepath.Join(t.TempDir(), "wot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:   store,
		fetches: &fetchRecorder{},
		metrics: metrics.New(prometheus.NewRegistry()),
		ctx:     context.Background(),
	}
	base := []Option{
		WithFetcher(env.fetches),
		WithClock(func() time.Time { return testNow }),
		WithMetrics(env.metrics),
	}
	env.w = New(store, append(base, opts...)...)
	return env
}

func newKeypair(t *testing.T) keys.Keypair {
	t.Helper()
	pair, err := keys.Generator{}.Generate()
	require.NoError(t, err)
	return pair
}

func (e *testEnv) own(t *testing.T, nickname string) *db.Identity {
	t.Helper()
	identity, err := e.w.GenerateOwnIdentity(e.ctx, nickname, true, "")
	require.NoError(t, err)
	return identity
}

// remote registers a remote identity and returns it with its keys.
func (e *testEnv) remote(t *testing.T) (*db.Identity, keys.Keypair) {
	t.Helper()
	pair := newKeypair(t)
	identity, err := e.w.AddIdentity(e.ctx, pair.RequestKey)
	require.NoError(t, err)
	return identity, pair
}

// score returns the stored score, or nil if target is not in owner's tree.
func (e *testEnv) score(t *testing.T, ownerID, targetID string) *db.Score {
	t.Helper()
	sc, err := e.w.GetScore(e.ctx, ownerID, targetID)
	if errors.Is(err, ErrNotInTrustTree) {
		return nil
	}
	require.NoError(t, err)
	return sc
}

func (e *testEnv) trust(t *testing.T, trusterID, trusteeID string, value int) {
	t.Helper()
	require.NoError(t, e.w.SetTrust(e.ctx, trusterID, trusteeID, value, ""))
}

func (e *testEnv) importDoc(t *testing.T, doc *document.Document) *MergeReport {
	t.Helper()
	report, err := e.w.ImportTrustList(e.ctx, doc)
	require.NoError(t, err)
	return report
}

func (e *testEnv) requireConsistent(t *testing.T) {
	t.Helper()
	report, err := e.w.CheckIntegrity(e.ctx)
	require.NoError(t, err)
	require.True(t, report.OK(), "integrity report: %+v", report)
}

func trustList(requestKey string, edition int64, nickname string, trusts ...document.TrustEntry) *document.Document {
	return &document.Document{
		RequestKey:         requestKey,
		Edition:            edition,
		Version:            document.FormatVersion,
		Nickname:           nickname,
		PublishesTrustList: true,
		Trusts:             trusts,
	}
}

func entry(requestKey string, value int) document.TrustEntry {
	return document.TrustEntry{TrusteeRequestKey: requestKey, Value: value}
}

func scoreOf(ownerID, targetID string, value, rank, capacity int) *db.Score {
	return &db.Score{OwnerID: ownerID, TargetID: targetID, Value: value, Rank: rank, Capacity: capacity}
}
