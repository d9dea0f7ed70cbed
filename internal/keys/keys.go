// Package keys derives identity keys and IDs. Request keys are bech32
// "npub" encodings of x-only secp256k1 public keys, insert keys are "nsec"
// encodings of the matching private keys.
package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrMalformedKey is returned for keys that do not decode to a valid secp256k1 key.
var ErrMalformedKey = errors.New("malformed key")

// Keypair is a freshly generated insert/request key pair
type Keypair struct {
	InsertKey  string `json:"insert_key"`
	RequestKey string `json:"request_key"`
}

// Generator produces keypairs for new own identities
type Generator struct{}

// Generate creates a new random keypair
func (Generator) Generate() (Keypair, error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating private key: %w", err)
	}
	return encodePair(sk)
}

func encodePair(sk *btcec.PrivateKey) (Keypair, error) {
	nsec, err := nip19.EncodePrivateKey(hex.EncodeToString(sk.Serialize()))
	if err != nil {
		return Keypair{}, fmt.Errorf("encoding insert key: %w", err)
	}
	npub, err := nip19.EncodePublicKey(hex.EncodeToString(schnorr.SerializePubKey(sk.PubKey())))
	if err != nil {
		return Keypair{}, fmt.Errorf("encoding request key: %w", err)
	}
	return Keypair{InsertKey: nsec, RequestKey: npub}, nil
}

// PublicKeyHex decodes a request key into the hex x-only public key.
func PublicKeyHex(requestKey string) (string, error) {
	prefix, value, err := nip19.Decode(requestKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("%w: expected npub, got %s", ErrMalformedKey, prefix)
	}
	pkHex, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected npub payload", ErrMalformedKey)
	}
	raw, err := hex.DecodeString(pkHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return pkHex, nil
}

// PrivateKeyHex decodes an insert key into the hex private key.
func PrivateKeyHex(insertKey string) (string, error) {
	prefix, value, err := nip19.Decode(insertKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if prefix != "nsec" {
		return "", fmt.Errorf("%w: expected nsec, got %s", ErrMalformedKey, prefix)
	}
	skHex, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected nsec payload", ErrMalformedKey)
	}
	if _, err := hex.DecodeString(skHex); err != nil || len(skHex) != 64 {
		return "", fmt.Errorf("%w: private key must be 32 bytes", ErrMalformedKey)
	}
	return skHex, nil
}

// RequestKeyFor derives the request key that belongs to an insert key.
func RequestKeyFor(insertKey string) (string, error) {
	skHex, err := PrivateKeyHex(insertKey)
	if err != nil {
		return "", err
	}
	raw, _ := hex.DecodeString(skHex)
	sk, _ := btcec.PrivKeyFromBytes(raw)
	pair, err := encodePair(sk)
	if err != nil {
		return "", err
	}
	return pair.RequestKey, nil
}

// IdentityID derives the stable identity ID from a request key: the
// unpadded base64url SHA-256 of the public key.
func IdentityID(requestKey string) (string, error) {
	pkHex, err := PublicKeyHex(requestKey)
	if err != nil {
		return "", err
	}
	raw, _ := hex.DecodeString(pkHex)
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// RequestKeyFromHex encodes a hex x-only public key as a request key.
func RequestKeyFromHex(pkHex string) (string, error) {
	raw, err := hex.DecodeString(pkHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return nip19.EncodePublicKey(pkHex)
}
