package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/keys"
	"mycelica/wot/internal/metrics"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter(t *testing.T) {
	w, store := newTestWoT(t)
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics.New(registry).IncrementFetch("ok")

	alice, err := w.GenerateOwnIdentity(ctx, "Alice", true, "")
	require.NoError(t, err)
	pair, err := keys.Generator{}.Generate()
	require.NoError(t, err)
	bob, err := w.AddIdentity(ctx, pair.RequestKey)
	require.NoError(t, err)
	require.NoError(t, w.SetTrust(ctx, alice.ID, bob.ID, 50, ""))

	router := newRouter(w, store, registry, zerolog.Nop())

	t.Run("healthz", func(t *testing.T) {
		rec := get(t, router, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

		rec = get(t, newRouter(w, failingPinger{}, registry, zerolog.Nop()), "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := get(t, router, "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "wot_fetches_total")
	})

	t.Run("identity", func(t *testing.T) {
		rec := get(t, router, "/api/identities/"+alice.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		var got db.Identity
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, alice.ID, got.ID)
		assert.NotContains(t, rec.Body.String(), *alice.InsertKey)
	})

	t.Run("scores", func(t *testing.T) {
		rec := get(t, router, "/api/identities/"+bob.ID+"/scores")
		require.Equal(t, http.StatusOK, rec.Code)
		var scores []db.Score
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scores))
		require.Len(t, scores, 1)
		assert.Equal(t, db.Score{OwnerID: alice.ID, TargetID: bob.ID, Value: 50, Rank: 1, Capacity: 40}, scores[0])
	})

	t.Run("unknown identity", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(t, router, "/api/identities/nobody").Code)
		assert.Equal(t, http.StatusNotFound, get(t, router, "/api/identities/nobody/scores").Code)
	})
}

func TestRouterLogsInternalErrors(t *testing.T) {
	w, store := newTestWoT(t)
	var buf bytes.Buffer
	router := newRouter(w, store, prometheus.NewRegistry(), zerolog.New(&buf))
	require.NoError(t, store.Close())

	rec := get(t, router, "/api/identities/anyone")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.Contains(t, buf.String(), `"message":"request failed"`)
	assert.Contains(t, buf.String(), `"path":"/api/identities/anyone"`)
}
