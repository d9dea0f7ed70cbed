// Package inserter republishes own identities whose documents changed.
package inserter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
	"mycelica/wot/internal/metrics"
)

// Publisher stores a signed document on the network.
type Publisher interface {
	Publish(ctx context.Context, insertKey string, edition int64, content []byte) error
}

// Store is the part of the trust graph the inserter reads and updates.
type Store interface {
	OwnIdentities(ctx context.Context) ([]db.Identity, error)
	ExportTrustList(ctx context.Context, ownID string) (*document.Document, error)
	MarkInserted(ctx context.Context, id string, edition int64) error
}

const (
	defaultInterval = time.Minute
	defaultMaxDelay = 10 * time.Minute
)

// Inserter periodically publishes changed own identities.
type Inserter struct {
	publisher Publisher
	store     Store
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	interval time.Duration
	minDelay time.Duration
	maxDelay time.Duration
}

// Option configures an Inserter
type Option func(*Inserter)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(i *Inserter) { i.log = log }
}

// WithMetrics records insert outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Inserter) { i.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Inserter) { i.now = now }
}

// WithInterval sets how often own identities are checked.
func WithInterval(d time.Duration) Option {
	return func(i *Inserter) {
		if d > 0 {
			i.interval = d
		}
	}
}

// WithDelays sets the insert delays. A changed identity is published once
// minDelay has passed since its last change, or once maxDelay has passed
// since its last insert, whichever comes first. Continuous edits therefore
// cannot postpone an insert forever.
func WithDelays(minDelay, maxDelay time.Duration) Option {
	return func(i *Inserter) {
		i.minDelay = minDelay
		i.maxDelay = maxDelay
	}
}

// New creates an Inserter.
func New(publisher Publisher, store Store, opts ...Option) (*Inserter, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	i := &Inserter{
		publisher: publisher,
		store:     store,
		log:       zerolog.Nop(),
		now:       time.Now,
		interval:  defaultInterval,
		maxDelay:  defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.minDelay < 0 || i.maxDelay < i.minDelay {
		return nil, fmt.Errorf("invalid insert delays: min %s, max %s", i.minDelay, i.maxDelay)
	}
	return i, nil
}

// NeedsInsert reports whether the identity changed since it was last
// published. A restored identity waits until its published document has
// been imported, so it never overwrites an edition it has not seen.
func NeedsInsert(identity *db.Identity) bool {
	if identity.RestorePending {
		return false
	}
	if identity.LastInserted == nil {
		return true
	}
	return identity.LastChanged > *identity.LastInserted
}

// due reports whether a changed identity may be published now.
func (i *Inserter) due(identity *db.Identity, now time.Time) bool {
	if !NeedsInsert(identity) {
		return false
	}
	nowMs := now.UnixMilli()
	afterChange := identity.LastChanged + i.minDelay.Milliseconds()
	var lastInserted int64
	if identity.LastInserted != nil {
		lastInserted = *identity.LastInserted
	}
	afterInsert := lastInserted + i.maxDelay.Milliseconds()
	return nowMs >= min(afterChange, afterInsert)
}

// RunOnce publishes every due own identity and returns how many were
// published. A failing identity does not stop the others.
func (i *Inserter) RunOnce(ctx context.Context) (int, error) {
	identities, err := i.store.OwnIdentities(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing own identities: %w", err)
	}
	now := i.now()
	published := 0
	var errs []error
	for idx := range identities {
		identity := &identities[idx]
		if !NeedsInsert(identity) {
			continue
		}
		if !i.due(identity, now) {
			i.metrics.IncrementInsert("delayed")
			i.log.Debug().Str("id", identity.ID).Str("nickname", identity.DisplayName()).Msg("delaying insert")
			continue
		}
		if err := i.insert(ctx, identity); err != nil {
			i.metrics.IncrementInsert("error")
			i.log.Error().Err(err).Str("id", identity.ID).Msg("insert failed")
			errs = append(errs, err)
			continue
		}
		i.metrics.IncrementInsert("ok")
		published++
	}
	return published, errors.Join(errs...)
}

func (i *Inserter) insert(ctx context.Context, identity *db.Identity) error {
	doc, err := i.store.ExportTrustList(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("exporting %s: %w", identity.ID, err)
	}
	edition := identity.Edition + 1
	doc.Edition = edition

	var buf bytes.Buffer
	if err := document.Encode(&buf, doc); err != nil {
		return err
	}
	if err := i.publisher.Publish(ctx, *identity.InsertKey, edition, buf.Bytes()); err != nil {
		return fmt.Errorf("publishing %s edition %d: %w", identity.ID, edition, err)
	}
	if err := i.store.MarkInserted(ctx, identity.ID, edition); err != nil {
		return err
	}
	i.log.Info().Str("id", identity.ID).Str("nickname", identity.DisplayName()).
		Int64("edition", edition).Int("trusts", len(doc.Trusts)).Msg("identity published")
	return nil
}

// Run checks own identities every interval until ctx is cancelled.
func (i *Inserter) Run(ctx context.Context) error {
	i.log.Info().Dur("interval", i.interval).Msg("inserter started")
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		if _, err := i.RunOnce(ctx); err != nil && ctx.Err() == nil {
			i.log.Warn().Err(err).Msg("insert round incomplete")
		}
		select {
		case <-ctx.Done():
			i.log.Info().Msg("inserter stopped")
			return nil
		case <-ticker.C:
		}
	}
}
