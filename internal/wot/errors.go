package wot

import (
	"errors"
	"fmt"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/document"
)

var (
	// ErrNotFound is the root of every "expected exactly one, found none" error.
	ErrNotFound = db.ErrNotFound
	// ErrDuplicate signals an integrity violation: more than one row where
	// uniqueness is required. It is never repaired inline.
	ErrDuplicate = db.ErrDuplicate

	ErrUnknownIdentity = fmt.Errorf("unknown identity: %w", ErrNotFound)
	ErrNotTrusted      = fmt.Errorf("no such trust: %w", ErrNotFound)

	// ErrNotInTrustTree is a valid "no score" outcome, not a failure of the store.
	ErrNotInTrustTree = errors.New("not in trust tree")

	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotOwnIdentity   = fmt.Errorf("not an own identity: %w", ErrInvalidParameter)
	ErrIdentityExists   = fmt.Errorf("identity already exists: %w", ErrInvalidParameter)

	// ErrStaleDocument is returned when a document's edition is older than
	// the one already imported, or when it belongs to an own identity that
	// is not being restored.
	ErrStaleDocument = errors.New("stale document")
)

// IsUserFacing reports whether err is actionable by the person who issued
// the request. Integrity violations and document failures are internal.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrStaleDocument) || errors.Is(err, document.ErrMalformed) {
		return false
	}
	return errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotInTrustTree)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// unknown maps a store miss to ErrUnknownIdentity and passes every other
// error through.
func unknown(id string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	return err
}
