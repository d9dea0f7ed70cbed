package wot

import (
	"context"
	"errors"
	"fmt"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
)

const trustListSavepoint = "trust_list"

// FieldError is a document field that could not be applied during a merge.
type FieldError struct {
	Field string `json:"field"`
	Err   error  `json:"-"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e FieldError) Unwrap() error {
	return e.Err
}

// MergeReport describes what an import did. The identity fields are
// persisted even when the trust list is rejected; TrustListError then holds
// the reason and none of the trust list's effects survive.
type MergeReport struct {
	IdentityID        string       `json:"identity_id"`
	Edition           int64        `json:"edition"`
	NewIdentity       bool         `json:"new_identity"`
	TrustListImported bool         `json:"trust_list_imported"`
	TrustListError    error        `json:"-"`
	TrusteesCreated   int          `json:"trustees_created"`
	TrusteesSkipped   int          `json:"trustees_skipped"`
	TrustsSet         int          `json:"trusts_set"`
	TrustsRemoved     int          `json:"trusts_removed"`
	FieldErrors       []FieldError `json:"field_errors,omitempty"`
}

// Failed reports whether the named field was rejected.
func (r *MergeReport) Failed(field string) bool {
	for _, fe := range r.FieldErrors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func (s *session) fieldError(report *MergeReport, field string, err error) {
	report.FieldErrors = append(report.FieldErrors, FieldError{Field: field, Err: err})
	s.w.metrics.IncrementMergeFieldError(field)
	s.log.Warn().Str("identity", report.IdentityID).Str("field", field).Err(err).Msg("document field not applied")
}

// ImportTrustList merges a decoded document into the graph as one
// transaction. The identity record is stored first and survives a rejected
// trust list. Trustees unknown so far are only created when the truster
// has a positive best score.
func (w *WebOfTrust) ImportTrustList(ctx context.Context, doc *document.Document) (*MergeReport, error) {
	if doc.Version > document.FormatVersion {
		w.metrics.IncrementImport("malformed")
		return nil, fmt.Errorf("%w: version %d > %d", document.ErrMalformed, doc.Version, document.FormatVersion)
	}
	if !doc.PublishesTrustList && len(doc.Trusts) > 0 {
		w.metrics.IncrementImport("malformed")
		return nil, fmt.Errorf("%w: trust list present but publishing is disabled", document.ErrMalformed)
	}
	id, err := identityID(doc.RequestKey)
	if err != nil {
		w.metrics.IncrementImport("malformed")
		return nil, err
	}

	report := &MergeReport{IdentityID: id, Edition: doc.Edition}
	err = w.update(ctx, "import_trust_list", func(s *session) error {
		return s.merge(doc, report)
	})
	switch {
	case errors.Is(err, ErrStaleDocument):
		w.metrics.IncrementImport("stale")
		return nil, err
	case err != nil:
		w.metrics.IncrementImport("error")
		return nil, err
	case report.TrustListError != nil:
		w.metrics.IncrementImport("partial")
	default:
		w.metrics.IncrementImport("ok")
	}
	return report, nil
}

func (s *session) merge(doc *document.Document, report *MergeReport) error {
	identity, err := s.lookup(report.IdentityID)
	if err != nil {
		return err
	}
	now := s.w.nowMs()
	isNew := identity == nil
	if isNew {
		identity = &db.Identity{
			ID:         report.IdentityID,
			RequestKey: doc.RequestKey,
			FirstSeen:  now,
		}
	} else if doc.Edition < identity.Edition {
		return fmt.Errorf("%w: %s edition %d, have %d", ErrStaleDocument, identity.ID, doc.Edition, identity.Edition)
	} else if identity.IsOwn() && !identity.RestorePending {
		// The local graph is the source of an own identity's documents.
		return fmt.Errorf("%w: %s is an own identity", ErrStaleDocument, identity.ID)
	}
	report.NewIdentity = isNew

	identity.Edition = doc.Edition
	identity.RestorePending = false
	identity.PublishesTrustList = doc.PublishesTrustList
	identity.LastChanged = now
	s.applyNickname(identity, doc.Nickname, report)

	contexts, contextsOK := s.checkContexts(doc.Contexts, report)
	properties, propertiesOK := s.checkProperties(doc.Properties, report)

	if isNew {
		if contextsOK {
			identity.Contexts = contexts
		}
		if propertiesOK {
			identity.Properties = properties
		}
		if err := s.tx.InsertIdentity(identity); err != nil {
			return err
		}
	} else {
		if err := s.tx.UpdateIdentity(identity); err != nil {
			return err
		}
		if contextsOK {
			if err := s.tx.SetContexts(identity.ID, contexts); err != nil {
				return err
			}
		}
		if propertiesOK {
			if err := s.tx.SetProperties(identity.ID, properties); err != nil {
				return err
			}
		}
	}

	if !doc.PublishesTrustList {
		return nil
	}

	if err := s.tx.Savepoint(trustListSavepoint); err != nil {
		return err
	}
	mark := len(s.fetches)
	fieldMark := len(report.FieldErrors)
	counts := *report

	if err := s.mergeTrusts(identity, doc, isNew, report); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		if rbErr := s.tx.RollbackTo(trustListSavepoint); rbErr != nil {
			return rbErr
		}
		s.fetches = s.fetches[:mark]
		report.FieldErrors = report.FieldErrors[:fieldMark]
		report.TrusteesCreated = counts.TrusteesCreated
		report.TrusteesSkipped = counts.TrusteesSkipped
		report.TrustsSet = counts.TrustsSet
		report.TrustsRemoved = counts.TrustsRemoved
		report.TrustListError = err
		s.log.Warn().Str("identity", identity.ID).Int64("edition", doc.Edition).Err(err).Msg("trust list rejected")
		return nil
	}
	if err := s.tx.Release(trustListSavepoint); err != nil {
		return err
	}
	report.TrustListImported = true
	s.log.Debug().Str("identity", identity.ID).Int64("edition", doc.Edition).
		Int("set", report.TrustsSet).Int("removed", report.TrustsRemoved).
		Int("created", report.TrusteesCreated).Int("skipped", report.TrusteesSkipped).
		Msg("trust list imported")
	return nil
}

// applyNickname sets the nickname if none is known. A different non-empty
// nickname never replaces a known one.
func (s *session) applyNickname(identity *db.Identity, nickname string, report *MergeReport) {
	if nickname == "" {
		return
	}
	if err := document.ValidateNickname(nickname); err != nil {
		s.fieldError(report, "nickname", invalidf("%v", err))
		return
	}
	if identity.Nickname == nil || *identity.Nickname == "" {
		identity.Nickname = &nickname
		return
	}
	if *identity.Nickname != nickname {
		s.fieldError(report, "nickname", invalidf("nickname is %q, refusing rename to %q", *identity.Nickname, nickname))
	}
}

func (s *session) checkContexts(contexts []string, report *MergeReport) ([]string, bool) {
	seen := make(map[string]bool, len(contexts))
	var out []string
	for _, c := range contexts {
		if err := document.ValidateContext(c); err != nil {
			s.fieldError(report, "contexts", invalidf("%v", err))
			return nil, false
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, true
}

func (s *session) checkProperties(properties map[string]string, report *MergeReport) (map[string]string, bool) {
	for name, value := range properties {
		if err := document.ValidateProperty(name, value); err != nil {
			s.fieldError(report, "properties", invalidf("%v", err))
			return nil, false
		}
	}
	return properties, true
}

// mergeTrusts applies the trust list of a document. It runs inside the
// trust list savepoint; any error it returns undoes all of it.
func (s *session) mergeTrusts(truster *db.Identity, doc *document.Document, isNew bool, report *MergeReport) error {
	if len(doc.Trusts) > document.MaxTrustListEntries {
		return invalidf("trust list has %d entries, limit is %d", len(doc.Trusts), document.MaxTrustListEntries)
	}

	best, err := s.bestScore(truster.ID)
	if err != nil {
		return err
	}
	creationAllowed := best > 0

	seen := make(map[string]bool, len(doc.Trusts))
	for _, entry := range doc.Trusts {
		trusteeID, err := identityID(entry.TrusteeRequestKey)
		if err != nil {
			return err
		}
		if seen[trusteeID] {
			return invalidf("trustee %s listed twice", entry.TrusteeRequestKey)
		}
		seen[trusteeID] = true
		if trusteeID == truster.ID {
			s.fieldError(report, "trust", invalidf("identity lists trust in itself"))
			continue
		}

		trustee, err := s.lookup(trusteeID)
		if err != nil {
			return err
		}
		if trustee == nil {
			if !creationAllowed {
				report.TrusteesSkipped++
				continue
			}
			if _, err := s.createStub(trusteeID, entry.TrusteeRequestKey, false); err != nil {
				return err
			}
			s.requestFetch(trusteeID)
			report.TrusteesCreated++
		}

		if err := s.setTrust(truster, trusteeID, entry.Value, entry.Comment, doc.Edition); err != nil {
			return err
		}
		report.TrustsSet++
	}

	if isNew {
		return nil
	}
	older, err := s.tx.GivenTrustsOlderThan(truster.ID, doc.Edition)
	if err != nil {
		return err
	}
	for _, t := range older {
		if err := s.removeTrust(t.TrusterID, t.TrusteeID); err != nil {
			return err
		}
		report.TrustsRemoved++
	}
	return nil
}
