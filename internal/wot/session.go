package wot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mycelica/wot/internal/db"
)

// session is one locked transaction over the trust graph. Everything that
// mutates the graph takes a session as its first argument; nothing below
// the exported entry points touches the lock or the transaction lifecycle.
type session struct {
	w   *WebOfTrust
	tx  *db.Tx
	id  string
	log zerolog.Logger

	// fetches are identity IDs to hand to the Fetcher once the session
	// commits. Nothing is dispatched for a rolled back session.
	fetches []string
}

// update runs fn in a read-write session and commits if it returns nil.
func (w *WebOfTrust) update(ctx context.Context, op string, fn func(s *session) error) error {
	return w.run(ctx, op, true, fn)
}

// view runs fn in a session whose transaction is always rolled back.
// Reads take the lock too, so no caller observes a half-propagated cascade.
func (w *WebOfTrust) view(ctx context.Context, op string, fn func(s *session) error) error {
	return w.run(ctx, op, false, fn)
}

func (w *WebOfTrust) run(ctx context.Context, op string, write bool, fn func(s *session) error) error {
	start := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.txTimeout)
	defer cancel()

	begin := w.store.BeginRead
	if write {
		begin = w.store.Begin
	}
	tx, err := begin(ctx)
	if err != nil {
		w.metrics.ObserveSession(op, "error", start)
		return err
	}

	s := &session{w: w, tx: tx, id: uuid.NewString()}
	s.log = w.log.With().Str("session", s.id).Str("op", op).Logger()

	if err := fn(s); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		if write {
			event := s.log.Error()
			if IsUserFacing(err) {
				event = s.log.Debug()
			}
			event.Err(err).Msg("session rolled back")
			w.metrics.ObserveSession(op, "rollback", start)
		} else {
			w.metrics.ObserveSession(op, "read", start)
		}
		return err
	}

	if !write {
		if err := tx.Rollback(); err != nil {
			s.log.Warn().Err(err).Msg("closing read session")
		}
		w.metrics.ObserveSession(op, "read", start)
		return nil
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		s.log.Error().Err(err).Msg("commit failed")
		w.metrics.ObserveSession(op, "rollback", start)
		return err
	}
	w.metrics.ObserveSession(op, "commit", start)

	s.dispatchFetches()
	return nil
}

// requestFetch buffers a fetch notification until the session commits.
func (s *session) requestFetch(identityID string) {
	s.fetches = append(s.fetches, identityID)
}

func (s *session) dispatchFetches() {
	seen := make(map[string]bool, len(s.fetches))
	for _, id := range s.fetches {
		if seen[id] {
			continue
		}
		seen[id] = true
		s.w.fetcher.Fetch(id)
	}
	if len(seen) > 0 {
		s.log.Debug().Int("count", len(seen)).Msg("dispatched fetches")
	}
}

// identity loads an identity, mapping a miss to ErrUnknownIdentity.
func (s *session) identity(id string) (*db.Identity, error) {
	i, err := s.tx.GetIdentity(id)
	if err != nil {
		return nil, unknown(id, err)
	}
	return i, nil
}

// ownIdentity loads an identity and requires it to be locally controlled.
func (s *session) ownIdentity(id string) (*db.Identity, error) {
	i, err := s.identity(id)
	if err != nil {
		return nil, err
	}
	if !i.IsOwn() {
		return nil, fmt.Errorf("%w: %s", ErrNotOwnIdentity, id)
	}
	return i, nil
}

// ownIDs lists the IDs of every tree owner.
func (s *session) ownIDs() ([]string, error) {
	owns, err := s.tx.OwnIdentities()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(owns))
	for i, o := range owns {
		ids[i] = o.ID
	}
	return ids, nil
}
