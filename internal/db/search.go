package db

import (
	"strings"
	"unicode"
)

const likeEscape = `\`

// escapeLike quotes the LIKE wildcards in s. Identity IDs are base64url and
// may contain '_', which LIKE would otherwise treat as "any character".
func escapeLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			b.WriteString(likeEscape)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeQuery trims whitespace and surrounding punctuation other than the
// characters that can appear in an identity ID.
func normalizeQuery(query string) string {
	return strings.TrimFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '_' && r != '-')
	})
}

// SearchIdentities finds identities whose ID starts with query or whose
// nickname equals it. Returns an empty slice for an empty query.
func (t *Tx) SearchIdentities(query string, limit int) ([]Identity, error) {
	query = normalizeQuery(query)
	if query == "" {
		return []Identity{}, nil
	}
	return t.queryIdentities(`SELECT `+identityColumns+` FROM identities
		WHERE id LIKE ? ESCAPE '`+likeEscape+`' OR nickname = ? ORDER BY id LIMIT ?`,
		escapeLike(query)+"%", query, limit)
}
