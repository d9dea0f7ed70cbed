// Package wot maintains the web of trust: identities, the trust they assert
// about each other, and the scores every own identity derives from them.
//
// All state lives in the db package. Every exported operation runs as one
// session: it takes the graph lock, opens a transaction, and either commits
// everything it did or nothing. Fetch notifications raised during a session
// are handed to the Fetcher only after the commit.
package wot

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
	"mycelica/wot/internal/keys"
	"mycelica/wot/internal/metrics"
)

// DefaultSeedComment is the comment of the trust new own identities give seeds.
const DefaultSeedComment = "I trust the seed identities."

const defaultTxTimeout = 30 * time.Second

// WebOfTrust is the entry point to the trust graph.
type WebOfTrust struct {
	// mu serialises every session; the store is the only shared resource
	// and score propagation cannot be split into independent ranges.
	mu deadlock.Mutex

	store       *db.DB
	log         zerolog.Logger
	fetcher     Fetcher
	now         func() time.Time
	metrics     *metrics.Metrics
	seeds       []string
	seedComment string
	txTimeout   time.Duration
	keygen      KeyGenerator
	maxComment  int
	maxTrusts   int
}

type nopFetcher struct{}

func (nopFetcher) Fetch(string) {}

// New creates a WebOfTrust over an open store.
func New(store *db.DB, opts ...Option) *WebOfTrust {
	w := &WebOfTrust{
		store:       store,
		log:         zerolog.Nop(),
		fetcher:     nopFetcher{},
		now:         time.Now,
		seedComment: DefaultSeedComment,
		txTimeout:   defaultTxTimeout,
		keygen:      keys.Generator{},
		maxComment:  document.MaxCommentLength,
		maxTrusts:   document.MaxTrustListEntries,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetFetcher replaces the fetch collaborator. The fetch scheduler needs the
// WebOfTrust to import documents, so it is attached after construction.
func (w *WebOfTrust) SetFetcher(f Fetcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f == nil {
		f = nopFetcher{}
	}
	w.fetcher = f
}

func (w *WebOfTrust) nowMs() int64 {
	return w.now().UnixMilli()
}
