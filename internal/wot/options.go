package wot

import (
	"time"

	"github.com/rs/zerolog"

	"mycelica/wot/internal/document"
	"mycelica/wot/internal/keys"
	"mycelica/wot/internal/metrics"
)

// Fetcher is notified of identities whose documents should be downloaded.
// Fetch must not block; the graph lock is held while it is called.
type Fetcher interface {
	Fetch(identityID string)
}

// KeyGenerator produces keypairs for new own identities.
type KeyGenerator interface {
	Generate() (keys.Keypair, error)
}

// Option configures a WebOfTrust
type Option func(*WebOfTrust)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(w *WebOfTrust) { w.log = log }
}

// WithFetcher sets the collaborator notified of identities to download.
func WithFetcher(f Fetcher) Option {
	return func(w *WebOfTrust) { w.fetcher = f }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *WebOfTrust) { w.now = now }
}

// WithMetrics records session and propagation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *WebOfTrust) { w.metrics = m }
}

// WithSeeds sets the request keys every new own identity trusts, and the
// comment of those trust assertions.
func WithSeeds(requestKeys []string, comment string) Option {
	return func(w *WebOfTrust) {
		w.seeds = append([]string(nil), requestKeys...)
		if comment != "" {
			w.seedComment = comment
		}
	}
}

// WithTxTimeout bounds every session.
func WithTxTimeout(d time.Duration) Option {
	return func(w *WebOfTrust) {
		if d > 0 {
			w.txTimeout = d
		}
	}
}

// WithKeyGenerator replaces the secp256k1 generator.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(w *WebOfTrust) { w.keygen = g }
}

// WithMaxCommentLength lowers or raises the bound on trust comments.
func WithMaxCommentLength(n int) Option {
	return func(w *WebOfTrust) {
		if n > 0 {
			w.maxComment = n
		}
	}
}

// WithMaxTrusts lowers the number of identities an own identity may trust.
// It cannot exceed what one document carries.
func WithMaxTrusts(n int) Option {
	return func(w *WebOfTrust) {
		if n > 0 && n <= document.MaxTrustListEntries {
			w.maxTrusts = n
		}
	}
}
