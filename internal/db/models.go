package db

// Identity represents a row in the identities table plus its contexts and
// properties. An identity with an insert key is an own identity.
type Identity struct {
	ID                 string            `json:"id"`
	RequestKey         string            `json:"request_key"`
	InsertKey          *string           `json:"-"`
	Nickname           *string           `json:"nickname"`
	PublishesTrustList bool              `json:"publishes_trust_list"`
	Edition            int64             `json:"edition"`
	FirstSeen          int64             `json:"first_seen"`    // Unix millis
	LastFetched        int64             `json:"last_fetched"`  // Unix millis, 0 = never
	LastChanged        int64             `json:"last_changed"`  // Unix millis
	CreatedAt          *int64            `json:"created_at"`    // own identities only
	LastInserted       *int64            `json:"last_inserted"` // own identities only, Unix millis
	RestorePending     bool              `json:"restore_pending"`
	Contexts           []string          `json:"contexts"`
	Properties         map[string]string `json:"properties"`
}

// IsOwn reports whether the identity is locally controlled.
func (i *Identity) IsOwn() bool {
	return i.InsertKey != nil
}

// DisplayName returns the nickname, or a shortened ID when none is known yet.
func (i *Identity) DisplayName() string {
	if i.Nickname != nil && *i.Nickname != "" {
		return *i.Nickname
	}
	id := i.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "(" + id + ")"
}

// Trust represents a row in the trusts table
type Trust struct {
	TrusterID      string `json:"truster_id"`
	TrusteeID      string `json:"trustee_id"`
	Value          int    `json:"value"` // -100..100
	Comment        string `json:"comment"`
	TrusterEdition int64  `json:"truster_edition"` // edition of the truster's list that last confirmed this edge
}

// Score represents a row in the scores table
type Score struct {
	OwnerID  string `json:"owner_id"`
	TargetID string `json:"target_id"`
	Value    int    `json:"value"`
	Rank     int    `json:"rank"`
	Capacity int    `json:"capacity"` // 0..100
}
