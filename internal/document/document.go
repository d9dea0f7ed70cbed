// Package document defines the decoded trust-list document exchanged between
// identities and its XML encoding.
package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FormatVersion is the newest XML format this package reads and the one it writes.
const FormatVersion = 1

// Field bounds shared by the codec and the merge protocol.
const (
	MaxNicknameLength      = 30
	MaxCommentLength       = 256
	MaxContextLength       = 32
	MaxPropertyNameLength  = 256
	MaxPropertyValueLength = 10240
	MaxTrustListEntries    = 512
)

// ErrMalformed is returned for documents that are unreadable, carry a newer
// format version, or have fields out of range.
var ErrMalformed = errors.New("malformed document")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("nickname", validateNickname)
}

// validateNickname accepts printable names without leading/trailing spaces.
func validateNickname(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return true
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// TrustEntry is one line of a published trust list
type TrustEntry struct {
	TrusteeRequestKey string `json:"trustee" validate:"required"`
	Value             int    `json:"value" validate:"min=-100,max=100"`
	Comment           string `json:"comment" validate:"max=256"`
}

// Document is a decoded identity document: the identity's self-description
// and, if it publishes one, its trust list. Edition and RequestKey come from
// the transport, not from the XML body.
type Document struct {
	RequestKey         string            `json:"request_key" validate:"required"`
	Edition            int64             `json:"edition" validate:"min=0"`
	Version            int               `json:"version" validate:"min=1"`
	Nickname           string            `json:"nickname" validate:"max=30,nickname"`
	PublishesTrustList bool              `json:"publishes_trust_list"`
	Contexts           []string          `json:"contexts" validate:"dive,required,max=32"`
	Properties         map[string]string `json:"properties" validate:"dive,keys,required,max=256,endkeys,max=10240"`
	Trusts             []TrustEntry      `json:"trusts" validate:"max=512,dive"`
}

// Validate checks field bounds and the format version.
func (d *Document) Validate() error {
	if d.Version > FormatVersion {
		return fmt.Errorf("%w: version %d > %d", ErrMalformed, d.Version, FormatVersion)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !d.PublishesTrustList && len(d.Trusts) > 0 {
		return fmt.Errorf("%w: trust list present but publishing is disabled", ErrMalformed)
	}
	seen := make(map[string]bool, len(d.Trusts))
	for _, t := range d.Trusts {
		if seen[t.TrusteeRequestKey] {
			return fmt.Errorf("%w: trustee %s listed twice", ErrMalformed, t.TrusteeRequestKey)
		}
		seen[t.TrusteeRequestKey] = true
	}
	return nil
}

// ValidateNickname checks a nickname against the document bounds.
func ValidateNickname(name string) error {
	if err := validate.Var(name, "max=30,nickname"); err != nil {
		return fmt.Errorf("nickname %q: %v", name, err)
	}
	return nil
}

// ValidateContext checks a context name.
func ValidateContext(name string) error {
	if err := validate.Var(name, "required,max=32"); err != nil {
		return fmt.Errorf("context %q: %v", name, err)
	}
	return nil
}

// ValidateProperty checks a property name and value.
func ValidateProperty(name, value string) error {
	if err := validate.Var(name, "required,max=256"); err != nil {
		return fmt.Errorf("property name %q: %v", name, err)
	}
	if err := validate.Var(value, "max=10240"); err != nil {
		return fmt.Errorf("property %q value: %v", name, err)
	}
	return nil
}
