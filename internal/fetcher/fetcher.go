// Package fetcher downloads the documents of identities the trust graph
// asks for and feeds them back into it.
package fetcher

//go:generate mockgen -source=fetcher.go -destination=mocks/mocks.go -package=mocks Source,Importer,Resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
	"mycelica/wot/internal/keys"
	"mycelica/wot/internal/metrics"
	"mycelica/wot/internal/transport"
	"mycelica/wot/internal/wot"
)

// Source retrieves signed documents from the network.
type Source interface {
	Fetch(ctx context.Context, requestKey string, minEdition int64) (*transport.Envelope, error)
}

// Importer merges downloaded documents into the trust graph.
type Importer interface {
	ImportTrustList(ctx context.Context, doc *document.Document) (*wot.MergeReport, error)
	MarkFetched(ctx context.Context, id string, edition int64) error
}

// Resolver looks up what is already known about an identity.
type Resolver interface {
	GetIdentity(ctx context.Context, id string) (*db.Identity, error)
}

const (
	defaultWorkers    = 4
	defaultMaxElapsed = 30 * time.Second
	defaultInitial    = 500 * time.Millisecond
)

// Scheduler implements wot.Fetcher. Fetch only queues; Run does the work.
type Scheduler struct {
	source   Source
	importer Importer
	resolver Resolver

	log        zerolog.Logger
	metrics    *metrics.Metrics
	workers    int
	maxElapsed time.Duration
	initial    time.Duration

	mu      sync.Mutex
	queue   []string
	pending map[string]fetchState
	wake    chan struct{}
}

type fetchState int

const (
	queued fetchState = iota
	running
	// rerun is a running identity that was requested again meanwhile; its
	// document may have changed after the running download started.
	rerun
)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithMetrics records fetch outcomes and queue length.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithWorkers sets the number of concurrent downloads.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRetry bounds the retries of one download. initial is the first
// backoff interval, maxElapsed the total time spent on one identity.
func WithRetry(initial, maxElapsed time.Duration) Option {
	return func(s *Scheduler) {
		if initial > 0 {
			s.initial = initial
		}
		if maxElapsed > 0 {
			s.maxElapsed = maxElapsed
		}
	}
}

// New creates a Scheduler. All collaborators are required.
func New(source Source, importer Importer, resolver Resolver, opts ...Option) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if importer == nil {
		return nil, errors.New("importer is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	s := &Scheduler{
		source:     source,
		importer:   importer,
		resolver:   resolver,
		log:        zerolog.Nop(),
		workers:    defaultWorkers,
		maxElapsed: defaultMaxElapsed,
		initial:    defaultInitial,
		pending:    make(map[string]fetchState),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fetch queues a download of the identity's document. It never blocks.
// An identity already queued is not queued twice; one in flight is queued
// again once its current download finishes.
func (s *Scheduler) Fetch(identityID string) {
	s.mu.Lock()
	state, ok := s.pending[identityID]
	switch {
	case !ok:
		s.enqueue(identityID)
	case state == running:
		s.pending[identityID] = rerun
	}
	n := len(s.queue)
	s.mu.Unlock()

	s.metrics.SetFetchQueueLength(n)
	s.signal()
}

// enqueue must be called with mu held.
func (s *Scheduler) enqueue(id string) {
	s.pending[id] = queued
	s.queue = append(s.queue, id)
}

// OnPublished queues the identity behind a request key the source reported
// as newly published.
func (s *Scheduler) OnPublished(requestKey string) {
	id, err := keys.IdentityID(requestKey)
	if err != nil {
		s.log.Debug().Err(err).Str("request_key", requestKey).Msg("ignoring publication")
		return
	}
	s.Fetch(id)
}

// Pending returns the number of queued or in-flight identities.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued identity, waiting until one is available.
func (s *Scheduler) next(ctx context.Context) (string, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			id := s.queue[0]
			s.queue = s.queue[1:]
			s.pending[id] = running
			n := len(s.queue)
			s.mu.Unlock()
			s.metrics.SetFetchQueueLength(n)
			if n > 0 {
				s.signal()
			}
			return id, true
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-s.wake:
		}
	}
}

func (s *Scheduler) done(id string) {
	s.mu.Lock()
	again := s.pending[id] == rerun
	if again {
		s.enqueue(id)
	} else {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if again {
		s.signal()
	}
}

// Run processes the queue with the configured number of workers until ctx
// is cancelled. Failures of single identities are logged, not returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Int("workers", s.workers).Msg("fetch scheduler started")
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				id, ok := s.next(gCtx)
				if !ok {
					return nil
				}
				if err := s.process(gCtx, id); err != nil && gCtx.Err() == nil {
					s.log.Error().Err(err).Str("id", id).Msg("fetch failed")
				}
				s.done(id)
			}
		})
	}
	err := g.Wait()
	s.log.Info().Msg("fetch scheduler stopped")
	return err
}

// process downloads, decodes and imports the newest document of one identity.
func (s *Scheduler) process(ctx context.Context, id string) error {
	identity, err := s.resolver.GetIdentity(ctx, id)
	if errors.Is(err, wot.ErrNotFound) {
		s.log.Debug().Str("id", id).Msg("identity gone before fetch")
		s.metrics.IncrementFetch("unknown")
		return nil
	}
	if err != nil {
		return err
	}
	if identity.IsOwn() && !identity.RestorePending {
		s.metrics.IncrementFetch("own")
		s.log.Debug().Str("id", id).Msg("not fetching own identity")
		return nil
	}

	env, err := s.download(ctx, identity.RequestKey, identity.Edition+1)
	if errors.Is(err, transport.ErrNotFound) {
		s.metrics.IncrementFetch("not_found")
		s.log.Debug().Str("id", id).Int64("edition", identity.Edition+1).Msg("no newer document")
		return nil
	}
	if err != nil {
		s.metrics.IncrementFetch("error")
		return err
	}

	log := s.log.With().Str("id", id).Int64("edition", env.Edition).Logger()
	doc, err := document.Decode(bytes.NewReader(env.Content), env.RequestKey, env.Edition)
	if err != nil {
		// The edition is spent: a broken document is not fetched again.
		s.metrics.IncrementFetch("malformed")
		log.Warn().Err(err).Msg("discarding malformed document")
		return s.importer.MarkFetched(ctx, id, env.Edition)
	}

	report, err := s.importer.ImportTrustList(ctx, doc)
	if errors.Is(err, wot.ErrStaleDocument) {
		s.metrics.IncrementFetch("stale")
		log.Debug().Msg("dropping stale document")
		return nil
	}
	if err != nil {
		s.metrics.IncrementFetch("error")
		return fmt.Errorf("importing %s edition %d: %w", id, env.Edition, err)
	}
	if err := s.importer.MarkFetched(ctx, id, env.Edition); err != nil {
		s.metrics.IncrementFetch("error")
		return err
	}

	s.metrics.IncrementFetch("ok")
	event := log.Info()
	if report.TrustListError != nil {
		event = log.Warn().AnErr("trust_list_error", report.TrustListError)
	}
	event.Int("trusts_set", report.TrustsSet).
		Int("trusts_removed", report.TrustsRemoved).
		Int("trustees_created", report.TrusteesCreated).
		Int("field_errors", len(report.FieldErrors)).
		Msg("document imported")
	return nil
}

// download retries transient source failures with exponential backoff.
// A missing document or a malformed key is final.
func (s *Scheduler) download(ctx context.Context, requestKey string, minEdition int64) (*transport.Envelope, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.initial
	exp.Multiplier = 2
	exp.MaxElapsedTime = s.maxElapsed
	exp.Reset()

	var env *transport.Envelope
	attempts := 0
	op := func() error {
		attempts++
		var err error
		env, err = s.source.Fetch(ctx, requestKey, minEdition)
		if errors.Is(err, transport.ErrNotFound) || errors.Is(err, keys.ErrMalformedKey) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debug().Err(err).Str("request_key", requestKey).Int("attempt", attempts).
			Dur("wait", wait).Msg("retrying fetch")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(exp, ctx), notify); err != nil {
		return nil, err
	}
	return env, nil
}
