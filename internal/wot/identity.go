package wot

import (
	"context"
	"errors"
	"fmt"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
	"mycelica/wot/internal/keys"
)

// identityID derives the ID of a request key, rejecting malformed keys.
func identityID(requestKey string) (string, error) {
	id, err := keys.IdentityID(requestKey)
	if err != nil {
		return "", invalidf("request key: %v", err)
	}
	return id, nil
}

// lookup returns the identity with the given ID, or nil if there is none.
func (s *session) lookup(id string) (*db.Identity, error) {
	i, err := s.tx.GetIdentity(id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return i, err
}

// CreateOwnIdentity stores a new locally controlled identity, initialises
// its trust tree and has it trust every known seed identity.
func (w *WebOfTrust) CreateOwnIdentity(ctx context.Context, insertKey, requestKey, nickname string, publishTrustList bool, initialContext string) (*db.Identity, error) {
	derived, err := keys.RequestKeyFor(insertKey)
	if err != nil {
		return nil, invalidf("insert key: %v", err)
	}
	if derived != requestKey {
		return nil, invalidf("request key does not belong to the insert key")
	}
	id, err := identityID(requestKey)
	if err != nil {
		return nil, err
	}
	if err := document.ValidateNickname(nickname); err != nil {
		return nil, invalidf("%v", err)
	}
	var contexts []string
	if initialContext != "" {
		if err := document.ValidateContext(initialContext); err != nil {
			return nil, invalidf("%v", err)
		}
		contexts = []string{initialContext}
	}

	var created *db.Identity
	err = w.update(ctx, "create_own_identity", func(s *session) error {
		existing, err := s.lookup(id)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.IsOwn() {
				return fmt.Errorf("%w: own identity %s", ErrIdentityExists, existing.DisplayName())
			}
			return fmt.Errorf("%w: %s is known as a remote identity, restore it instead", ErrIdentityExists, id)
		}

		now := w.nowMs()
		identity := &db.Identity{
			ID:                 id,
			RequestKey:         requestKey,
			InsertKey:          &insertKey,
			PublishesTrustList: publishTrustList,
			FirstSeen:          now,
			LastChanged:        now,
			CreatedAt:          &now,
			Contexts:           contexts,
		}
		if nickname != "" {
			identity.Nickname = &nickname
		}
		if err := s.tx.InsertIdentity(identity); err != nil {
			return err
		}
		if err := s.initTrustTree(id); err != nil {
			return err
		}
		if err := s.trustSeeds(identity); err != nil {
			return err
		}

		created, err = s.tx.GetIdentity(id)
		if err != nil {
			return err
		}
		s.log.Info().Str("id", id).Str("nickname", created.DisplayName()).Msg("own identity created")
		return nil
	})
	return created, err
}

// trustSeeds gives the configured seed identities full trust from owner.
func (s *session) trustSeeds(owner *db.Identity) error {
	for _, key := range s.w.seeds {
		seed, err := s.tx.GetIdentityByRequestKey(key)
		if errors.Is(err, db.ErrNotFound) {
			s.log.Error().Str("request_key", key).Msg("seed identity not known")
			continue
		}
		if err != nil {
			return err
		}
		if seed.ID == owner.ID {
			continue
		}
		if err := s.setTrust(owner, seed.ID, 100, s.w.seedComment, -1); err != nil {
			return err
		}
	}
	return nil
}

// GenerateOwnIdentity creates an own identity with a freshly generated keypair.
func (w *WebOfTrust) GenerateOwnIdentity(ctx context.Context, nickname string, publishTrustList bool, initialContext string) (*db.Identity, error) {
	pair, err := w.keygen.Generate()
	if err != nil {
		return nil, err
	}
	return w.CreateOwnIdentity(ctx, pair.InsertKey, pair.RequestKey, nickname, publishTrustList, initialContext)
}

// AddIdentity registers a remote identity by its request key and asks for
// its document to be fetched.
func (w *WebOfTrust) AddIdentity(ctx context.Context, requestKey string) (*db.Identity, error) {
	id, err := identityID(requestKey)
	if err != nil {
		return nil, err
	}
	var added *db.Identity
	err = w.update(ctx, "add_identity", func(s *session) error {
		existing, err := s.lookup(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrIdentityExists, existing.DisplayName())
		}
		added, err = s.createStub(id, requestKey, false)
		if err != nil {
			return err
		}
		s.requestFetch(id)
		return nil
	})
	return added, err
}

// createStub stores a remote identity about which nothing but the key is known.
func (s *session) createStub(id, requestKey string, publishesTrustList bool) (*db.Identity, error) {
	now := s.w.nowMs()
	stub := &db.Identity{
		ID:                 id,
		RequestKey:         requestKey,
		PublishesTrustList: publishesTrustList,
		FirstSeen:          now,
		LastChanged:        now,
	}
	if err := s.tx.InsertIdentity(stub); err != nil {
		return nil, err
	}
	s.log.Debug().Str("id", id).Msg("identity stub created")
	return stub, nil
}

// EnsureSeedIdentities creates the configured seed identities that are not
// known yet and requests their documents. It returns the created ones.
func (w *WebOfTrust) EnsureSeedIdentities(ctx context.Context) ([]db.Identity, error) {
	var created []db.Identity
	err := w.update(ctx, "ensure_seeds", func(s *session) error {
		for _, key := range w.seeds {
			id, err := identityID(key)
			if err != nil {
				return err
			}
			existing, err := s.lookup(id)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			seed, err := s.createStub(id, key, true)
			if err != nil {
				return err
			}
			s.requestFetch(id)
			created = append(created, *seed)
		}
		return nil
	})
	return created, err
}

// RestoreOwnIdentity takes control of an identity from its insert key. A
// known remote identity keeps its trust and scores, becomes a tree owner
// and has its edition stepped back so its latest document is re-imported.
// An unknown one is created empty. Either way its document is fetched, and
// it stays open to one import until that document arrives.
func (w *WebOfTrust) RestoreOwnIdentity(ctx context.Context, insertKey string) (*db.Identity, error) {
	requestKey, err := keys.RequestKeyFor(insertKey)
	if err != nil {
		return nil, invalidf("insert key: %v", err)
	}
	id, err := identityID(requestKey)
	if err != nil {
		return nil, err
	}

	var restored *db.Identity
	err = w.update(ctx, "restore_own_identity", func(s *session) error {
		existing, err := s.lookup(id)
		if err != nil {
			return err
		}
		now := w.nowMs()

		if existing != nil {
			if existing.IsOwn() {
				return fmt.Errorf("%w: own identity %s", ErrIdentityExists, existing.DisplayName())
			}
			existing.InsertKey = &insertKey
			existing.CreatedAt = &now
			existing.RestorePending = true
			existing.LastChanged = now
			if existing.Edition > 0 {
				existing.Edition--
			}
			if err := s.tx.UpdateIdentity(existing); err != nil {
				return err
			}
			if err := s.initTrustTree(id); err != nil {
				return err
			}
			given, err := s.tx.GivenTrusts(id)
			if err != nil {
				return err
			}
			pairs := make([]scorePair, len(given))
			for i, t := range given {
				pairs[i] = scorePair{owner: id, target: t.TrusteeID}
			}
			if err := s.propagate(pairs); err != nil {
				return err
			}
			s.log.Info().Str("id", id).Int("trusts", len(given)).Msg("restored known identity")
		} else {
			identity := &db.Identity{
				ID:             id,
				RequestKey:     requestKey,
				InsertKey:      &insertKey,
				FirstSeen:      now,
				LastChanged:    now,
				CreatedAt:      &now,
				RestorePending: true,
			}
			if err := s.tx.InsertIdentity(identity); err != nil {
				return err
			}
			if err := s.initTrustTree(id); err != nil {
				return err
			}
			s.log.Info().Str("id", id).Msg("restored unknown identity")
		}

		s.requestFetch(id)
		restored, err = s.tx.GetIdentity(id)
		return err
	})
	return restored, err
}

// DeleteIdentity removes an identity, every trust it gave or received and
// every score it owns or has, then recomputes its former trustees.
func (w *WebOfTrust) DeleteIdentity(ctx context.Context, id string) error {
	return w.update(ctx, "delete_identity", func(s *session) error {
		identity, err := s.identity(id)
		if err != nil {
			return err
		}
		given, err := s.tx.GivenTrusts(id)
		if err != nil {
			return err
		}
		if err := s.tx.DeleteIdentity(id); err != nil {
			return err
		}
		trustees := make([]string, 0, len(given))
		for _, t := range given {
			trustees = append(trustees, t.TrusteeID)
		}
		if err := s.recomputeTargets(trustees); err != nil {
			return err
		}
		s.log.Info().Str("id", id).Str("nickname", identity.DisplayName()).Bool("own", identity.IsOwn()).
			Int("trustees", len(trustees)).Msg("identity deleted")
		return nil
	})
}

// GetIdentity returns the identity with the given ID.
func (w *WebOfTrust) GetIdentity(ctx context.Context, id string) (*db.Identity, error) {
	var identity *db.Identity
	err := w.view(ctx, "get_identity", func(s *session) error {
		var err error
		identity, err = s.identity(id)
		return err
	})
	return identity, err
}

// GetIdentityByRequestKey returns the identity with the given request key.
func (w *WebOfTrust) GetIdentityByRequestKey(ctx context.Context, requestKey string) (*db.Identity, error) {
	var identity *db.Identity
	err := w.view(ctx, "get_identity_by_request_key", func(s *session) error {
		i, err := s.tx.GetIdentityByRequestKey(requestKey)
		if err != nil {
			return unknown(requestKey, err)
		}
		identity = i
		return nil
	})
	return identity, err
}

// AllIdentities lists every known identity.
func (w *WebOfTrust) AllIdentities(ctx context.Context) ([]db.Identity, error) {
	var identities []db.Identity
	err := w.view(ctx, "all_identities", func(s *session) error {
		var err error
		identities, err = s.tx.AllIdentities()
		return err
	})
	return identities, err
}

// OwnIdentities lists the locally controlled identities.
func (w *WebOfTrust) OwnIdentities(ctx context.Context) ([]db.Identity, error) {
	var identities []db.Identity
	err := w.view(ctx, "own_identities", func(s *session) error {
		var err error
		identities, err = s.tx.OwnIdentities()
		return err
	})
	return identities, err
}

// NonOwnIdentities lists remote identities, most recently fetched first
// when byLastFetched is set.
func (w *WebOfTrust) NonOwnIdentities(ctx context.Context, byLastFetched bool) ([]db.Identity, error) {
	var identities []db.Identity
	err := w.view(ctx, "non_own_identities", func(s *session) error {
		var err error
		identities, err = s.tx.NonOwnIdentities(byLastFetched)
		return err
	})
	return identities, err
}

// SearchIdentities finds identities by ID prefix or exact nickname.
func (w *WebOfTrust) SearchIdentities(ctx context.Context, query string, limit int) ([]db.Identity, error) {
	var identities []db.Identity
	err := w.view(ctx, "search_identities", func(s *session) error {
		var err error
		identities, err = s.tx.SearchIdentities(query, limit)
		return err
	})
	return identities, err
}

// MarkFetched records a successful download of an identity's document.
func (w *WebOfTrust) MarkFetched(ctx context.Context, id string, edition int64) error {
	return w.update(ctx, "mark_fetched", func(s *session) error {
		identity, err := s.identity(id)
		if err != nil {
			return err
		}
		identity.LastFetched = w.nowMs()
		if edition > identity.Edition {
			identity.Edition = edition
		}
		return s.tx.UpdateIdentity(identity)
	})
}

// MarkInserted records that an own identity's document was published
// under edition.
func (w *WebOfTrust) MarkInserted(ctx context.Context, id string, edition int64) error {
	return w.update(ctx, "mark_inserted", func(s *session) error {
		identity, err := s.ownIdentity(id)
		if err != nil {
			return err
		}
		now := w.nowMs()
		identity.Edition = edition
		identity.LastInserted = &now
		return s.tx.UpdateIdentity(identity)
	})
}

// AddContext adds a context to an own identity.
func (w *WebOfTrust) AddContext(ctx context.Context, id, name string) error {
	if err := document.ValidateContext(name); err != nil {
		return invalidf("%v", err)
	}
	return w.update(ctx, "add_context", func(s *session) error {
		identity, err := s.ownIdentity(id)
		if err != nil {
			return err
		}
		if err := s.tx.AddContext(id, name); err != nil {
			return err
		}
		return s.touch(identity)
	})
}

// RemoveContext removes a context from an own identity.
func (w *WebOfTrust) RemoveContext(ctx context.Context, id, name string) error {
	return w.update(ctx, "remove_context", func(s *session) error {
		identity, err := s.ownIdentity(id)
		if err != nil {
			return err
		}
		if err := s.tx.RemoveContext(id, name); err != nil {
			return err
		}
		return s.touch(identity)
	})
}

// SetProperty creates or overwrites a property of an own identity.
func (w *WebOfTrust) SetProperty(ctx context.Context, id, name, value string) error {
	if err := document.ValidateProperty(name, value); err != nil {
		return invalidf("%v", err)
	}
	return w.update(ctx, "set_property", func(s *session) error {
		identity, err := s.ownIdentity(id)
		if err != nil {
			return err
		}
		if err := s.tx.SetProperty(id, name, value); err != nil {
			return err
		}
		return s.touch(identity)
	})
}

// RemoveProperty deletes a property of an own identity.
func (w *WebOfTrust) RemoveProperty(ctx context.Context, id, name string) error {
	return w.update(ctx, "remove_property", func(s *session) error {
		identity, err := s.ownIdentity(id)
		if err != nil {
			return err
		}
		if err := s.tx.RemoveProperty(id, name); err != nil {
			return err
		}
		return s.touch(identity)
	})
}
