package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Signer produces the integrity fields of a ledger entry: it canonicalizes
// the entry, hashes the canonical bytes with SHA-256, and signs the raw hash
// bytes with ed25519. Signing is CPU-bound and performs no I/O.
type Signer struct {
	priv  ed25519.PrivateKey
	keyID string
}

// NewSigner creates a Signer from a private key and its key id (the hex
// SHA-256 fingerprint of the corresponding public key).
func NewSigner(priv ed25519.PrivateKey, keyID string) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d", ErrSigningFailure, len(priv), ed25519.PrivateKeySize)
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: empty key id", ErrSigningFailure)
	}
	return &Signer{priv: priv, keyID: keyID}, nil
}

// KeyID returns the fingerprint recorded as signing_key_id on signed entries.
func (s *Signer) KeyID() string { return s.keyID }

// Sign computes the entry's canonical hash and signs the raw hash bytes.
// It returns the hex hash and the base64 signature without mutating e.
func (s *Signer) Sign(e *Entry) (hash, signature string, err error) {
	hash, err = e.ComputeHash()
	if err != nil {
		return "", "", fmt.Errorf("%w: canonicalize entry: %v", ErrSigningFailure, err)
	}
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return "", "", fmt.Errorf("%w: decode hash: %v", ErrSigningFailure, err)
	}
	sig := ed25519.Sign(s.priv, hashBytes)
	return hash, base64.StdEncoding.EncodeToString(sig), nil
}

// SignComplete signs e and attaches entry_hash, signature, and
// signing_key_id, making the entry self-verifying.
func (s *Signer) SignComplete(e *Entry) error {
	if e.EntryHash != "" || e.Signature != "" {
		return fmt.Errorf("%w: entry already carries integrity fields", ErrSigningFailure)
	}
	hash, sig, err := s.Sign(e)
	if err != nil {
		return err
	}
	e.EntryHash = hash
	e.Signature = sig
	e.SigningKeyID = s.keyID
	return nil
}
