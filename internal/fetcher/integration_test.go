package fetcher

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
	"mycelica/wot/internal/keys"
	"mycelica/wot/internal/transport"
	"mycelica/wot/internal/wot"
)

// runScheduler wires a real store, a directory source and a running
// scheduler. The scheduler stops when the test ends.
func runScheduler(t *testing.T) (*wot.WebOfTrust, *transport.DirSource, *Scheduler, context.Context) {
	t.Helper()
	dir := t.TempDir()
	store, err := db.OpenDB(filepath.Join(dir, "wot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	source, err := transport.NewDirSource(filepath.Join(dir, "docs"), zerolog.Nop())
	require.NoError(t, err)

	w := wot.New(store)
	sched, err := New(source, w, w, WithWorkers(2), WithRetry(time.Millisecond, 100*time.Millisecond))
	require.NoError(t, err)
	w.SetFetcher(sched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return w, source, sched, ctx
}

func TestSchedulerImportsPublishedDocuments(t *testing.T) {
	w, source, _, ctx := runScheduler(t)

	alice, err := w.GenerateOwnIdentity(ctx, "Alice", true, "")
	require.NoError(t, err)
	bob, err := keys.Generator{}.Generate()
	require.NoError(t, err)
	carol, err := keys.Generator{}.Generate()
	require.NoError(t, err)

	// Bob's first edition names Carol, whom the local node has never seen.
	var buf bytes.Buffer
	require.NoError(t, document.Encode(&buf, &document.Document{
		Nickname:           "Bob",
		PublishesTrustList: true,
		Trusts:             []document.TrustEntry{{TrusteeRequestKey: carol.RequestKey, Value: 80, Comment: "met at the meetup"}},
	}))
	require.NoError(t, source.Publish(ctx, bob.InsertKey, 1, buf.Bytes()))

	bobIdentity, err := w.AddIdentity(ctx, bob.RequestKey)
	require.NoError(t, err)
	require.NoError(t, w.SetTrust(ctx, alice.ID, bobIdentity.ID, 100, ""))

	require.Eventually(t, func() bool {
		got, err := w.GetIdentity(ctx, bobIdentity.ID)
		return err == nil && got.Nickname != nil && got.LastFetched > 0
	}, 5*time.Second, 10*time.Millisecond)

	carolID, err := keys.IdentityID(carol.RequestKey)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := w.GetScore(ctx, alice.ID, carolID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	score, err := w.GetScore(ctx, alice.ID, carolID)
	require.NoError(t, err)
	assert.Equal(t, 32, score.Value)
	assert.Equal(t, 2, score.Rank)

	report, err := w.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestSchedulerAppliesValidFieldsOfFlawedDocument(t *testing.T) {
	w, source, sched, ctx := runScheduler(t)

	alice, err := w.GenerateOwnIdentity(ctx, "Alice", true, "")
	require.NoError(t, err)
	bob, err := keys.Generator{}.Generate()
	require.NoError(t, err)
	carol, err := keys.Generator{}.Generate()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, document.Encode(&buf, &document.Document{
		Nickname:           "Bob",
		PublishesTrustList: true,
		Trusts:             []document.TrustEntry{{TrusteeRequestKey: carol.RequestKey, Value: 80}},
	}))
	require.NoError(t, source.Publish(ctx, bob.InsertKey, 1, buf.Bytes()))

	bobIdentity, err := w.AddIdentity(ctx, bob.RequestKey)
	require.NoError(t, err)
	require.NoError(t, w.SetTrust(ctx, alice.ID, bobIdentity.ID, 100, ""))
	carolID, err := keys.IdentityID(carol.RequestKey)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := w.GetTrust(ctx, bobIdentity.ID, carolID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// Edition 2 renames Bob beyond the nickname limit and rates Carol out
	// of range, but adds a valid context.
	flawed := `<?xml version="1.0" encoding="UTF-8"?>
<WebOfTrust>
  <Identity Version="1" Name="` + strings.Repeat("b", document.MaxNicknameLength+1) + `" PublishesTrustList="true">
    <Context Name="Freetalk"></Context>
    <TrustList>
      <Trust Identity="` + carol.RequestKey + `" Value="101" Comment=""></Trust>
    </TrustList>
  </Identity>
</WebOfTrust>`
	require.NoError(t, source.Publish(ctx, bob.InsertKey, 2, []byte(flawed)))
	sched.Fetch(bobIdentity.ID)

	require.Eventually(t, func() bool {
		got, err := w.GetIdentity(ctx, bobIdentity.ID)
		return err == nil && got.Edition == 2
	}, 5*time.Second, 10*time.Millisecond)

	got, err := w.GetIdentity(ctx, bobIdentity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", *got.Nickname)
	assert.Equal(t, []string{"Freetalk"}, got.Contexts)

	trust, err := w.GetTrust(ctx, bobIdentity.ID, carolID)
	require.NoError(t, err)
	assert.Equal(t, 80, trust.Value, "rejected trust list leaves the previous edges")

	report, err := w.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}
