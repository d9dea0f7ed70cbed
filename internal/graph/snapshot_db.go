package graph

import "mycelica/wot/internal/db"

// SnapshotFromTx loads a Snapshot inside an open transaction
func SnapshotFromTx(tx *db.Tx) (*Snapshot, error) {
	dbIdentities, err := tx.AllIdentities()
	if err != nil {
		return nil, err
	}
	dbTrusts, err := tx.AllTrusts()
	if err != nil {
		return nil, err
	}

	identities := make([]*IdentityInfo, 0, len(dbIdentities))
	for _, i := range dbIdentities {
		nickname := ""
		if i.Nickname != nil {
			nickname = *i.Nickname
		}
		identities = append(identities, &IdentityInfo{
			ID:          i.ID,
			Nickname:    nickname,
			Own:         i.IsOwn(),
			FirstSeen:   i.FirstSeen,
			LastFetched: i.LastFetched,
		})
	}

	trusts := make([]TrustInfo, 0, len(dbTrusts))
	for _, t := range dbTrusts {
		trusts = append(trusts, TrustInfo{
			Truster: t.TrusterID,
			Trustee: t.TrusteeID,
			Value:   t.Value,
		})
	}

	return NewSnapshot(identities, trusts), nil
}
