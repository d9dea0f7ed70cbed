package wot

import (
	"context"
	"errors"
	"fmt"

	"mycelica/wot/internal/db"
)

// validateTrust checks a trust assertion before it reaches the store.
func (w *WebOfTrust) validateTrust(trusterID, trusteeID string, value int, comment string) error {
	if trusterID == trusteeID {
		return invalidf("identity %s cannot trust itself", trusterID)
	}
	if value < -100 || value > 100 {
		return invalidf("trust value %d outside [-100, 100]", value)
	}
	if len(comment) > w.maxComment {
		return invalidf("comment longer than %d characters", w.maxComment)
	}
	return nil
}

// setTrust creates or updates the edge truster -> trustee and recomputes
// the trustee when the value changed or the edge is new. A comment-only
// change is stored without recomputation.
//
// edition stamps the edge with the truster's list edition when it comes
// from an imported document. A negative edition marks a local assertion:
// new edges take the truster's current edition and existing ones keep
// their stamp.
func (s *session) setTrust(truster *db.Identity, trusteeID string, value int, comment string, edition int64) error {
	if err := s.w.validateTrust(truster.ID, trusteeID, value, comment); err != nil {
		return err
	}

	existing, err := s.tx.GetTrust(truster.ID, trusteeID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		stamp := edition
		if stamp < 0 {
			stamp = truster.Edition
		}
		trust := db.Trust{
			TrusterID:      truster.ID,
			TrusteeID:      trusteeID,
			Value:          value,
			Comment:        comment,
			TrusterEdition: stamp,
		}
		if err := s.tx.InsertTrust(&trust); err != nil {
			return err
		}
		s.log.Debug().Str("truster", truster.ID).Str("trustee", trusteeID).Int("value", value).Msg("new trust")
		return s.recomputeTarget(trusteeID)

	case err != nil:
		return err
	}

	oldValue := existing.Value
	existing.Comment = comment
	existing.Value = value
	if edition >= 0 {
		existing.TrusterEdition = edition
	}
	if err := s.tx.UpdateTrust(existing); err != nil {
		return err
	}
	if oldValue == value {
		return nil
	}
	s.log.Debug().Str("truster", truster.ID).Str("trustee", trusteeID).
		Int("old", oldValue).Int("value", value).Msg("trust changed")
	return s.recomputeTarget(trusteeID)
}

// removeTrust deletes one edge and recomputes its trustee.
func (s *session) removeTrust(trusterID, trusteeID string) error {
	if err := s.tx.DeleteTrust(trusterID, trusteeID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s -> %s", ErrNotTrusted, trusterID, trusteeID)
		}
		return err
	}
	s.log.Debug().Str("truster", trusterID).Str("trustee", trusteeID).Msg("trust removed")
	return s.recomputeTarget(trusteeID)
}

// checkTrustLimit refuses a new edge once the truster's list is as long as
// a published document may be.
func (s *session) checkTrustLimit(trusterID, trusteeID string) error {
	_, err := s.tx.GetTrust(trusterID, trusteeID)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, db.ErrNotFound):
		return err
	}
	given, err := s.tx.GivenTrusts(trusterID)
	if err != nil {
		return err
	}
	if len(given) >= s.w.maxTrusts {
		return invalidf("identity %s already trusts %d identities, the limit", trusterID, len(given))
	}
	return nil
}

// touch marks an own identity as changed so the inserter republishes it.
func (s *session) touch(i *db.Identity) error {
	i.LastChanged = s.w.nowMs()
	return s.tx.UpdateIdentity(i)
}

// SetTrust asserts trust from an own identity toward any known identity.
func (w *WebOfTrust) SetTrust(ctx context.Context, trusterID, trusteeID string, value int, comment string) error {
	if err := w.validateTrust(trusterID, trusteeID, value, comment); err != nil {
		return err
	}
	return w.update(ctx, "set_trust", func(s *session) error {
		truster, err := s.ownIdentity(trusterID)
		if err != nil {
			return err
		}
		if _, err := s.identity(trusteeID); err != nil {
			return err
		}
		if err := s.checkTrustLimit(trusterID, trusteeID); err != nil {
			return err
		}
		if err := s.setTrust(truster, trusteeID, value, comment, -1); err != nil {
			return err
		}
		return s.touch(truster)
	})
}

// RemoveTrust withdraws an own identity's trust assertion.
func (w *WebOfTrust) RemoveTrust(ctx context.Context, trusterID, trusteeID string) error {
	return w.update(ctx, "remove_trust", func(s *session) error {
		truster, err := s.ownIdentity(trusterID)
		if err != nil {
			return err
		}
		if _, err := s.identity(trusteeID); err != nil {
			return err
		}
		if err := s.removeTrust(trusterID, trusteeID); err != nil {
			return err
		}
		return s.touch(truster)
	})
}

// GetTrust returns the edge truster -> trustee.
func (w *WebOfTrust) GetTrust(ctx context.Context, trusterID, trusteeID string) (*db.Trust, error) {
	var trust *db.Trust
	err := w.view(ctx, "get_trust", func(s *session) error {
		t, err := s.tx.GetTrust(trusterID, trusteeID)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s -> %s", ErrNotTrusted, trusterID, trusteeID)
		}
		trust = t
		return err
	})
	return trust, err
}

// GivenTrusts lists the trust an identity has asserted.
func (w *WebOfTrust) GivenTrusts(ctx context.Context, trusterID string) ([]db.Trust, error) {
	var trusts []db.Trust
	err := w.view(ctx, "given_trusts", func(s *session) error {
		if _, err := s.identity(trusterID); err != nil {
			return err
		}
		var err error
		trusts, err = s.tx.GivenTrusts(trusterID)
		return err
	})
	return trusts, err
}

// ReceivedTrusts lists the trust asserted about an identity.
func (w *WebOfTrust) ReceivedTrusts(ctx context.Context, trusteeID string) ([]db.Trust, error) {
	var trusts []db.Trust
	err := w.view(ctx, "received_trusts", func(s *session) error {
		if _, err := s.identity(trusteeID); err != nil {
			return err
		}
		var err error
		trusts, err = s.tx.ReceivedTrusts(trusteeID)
		return err
	})
	return trusts, err
}
