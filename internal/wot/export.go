package wot

import (
	"context"

	"mycelica/wot/internal/document"
)

// ExportTrustList builds the document an own identity publishes: its
// self-description and, if it publishes one, its trust list.
func (w *WebOfTrust) ExportTrustList(ctx context.Context, ownID string) (*document.Document, error) {
	var doc *document.Document
	err := w.view(ctx, "export_trust_list", func(s *session) error {
		identity, err := s.ownIdentity(ownID)
		if err != nil {
			return err
		}
		doc = &document.Document{
			RequestKey:         identity.RequestKey,
			Edition:            identity.Edition,
			Version:            document.FormatVersion,
			PublishesTrustList: identity.PublishesTrustList,
			Contexts:           identity.Contexts,
			Properties:         identity.Properties,
		}
		if identity.Nickname != nil {
			doc.Nickname = *identity.Nickname
		}
		if !identity.PublishesTrustList {
			return nil
		}

		given, err := s.tx.GivenTrusts(ownID)
		if err != nil {
			return err
		}
		for _, t := range given {
			trustee, err := s.tx.GetIdentity(t.TrusteeID)
			if err != nil {
				return err
			}
			doc.Trusts = append(doc.Trusts, document.TrustEntry{
				TrusteeRequestKey: trustee.RequestKey,
				Value:             t.Value,
				Comment:           t.Comment,
			})
		}
		return nil
	})
	return doc, err
}
