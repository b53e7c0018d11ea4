package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// KeySource resolves a signing key id to the ed25519 public key it
// fingerprints. keys.Registry is the standard implementation.
type KeySource interface {
	PublicKey(keyID string) (ed25519.PublicKey, bool)
}

// Verifier is the inverse of Signer: it recomputes canonical hashes, checks
// signatures against the keys recorded on entries, and checks chain links.
type Verifier struct {
	keys KeySource
}

// NewVerifier creates a Verifier that resolves signing keys through keys.
func NewVerifier(keys KeySource) *Verifier {
	return &Verifier{keys: keys}
}

// VerifyHash recomputes the entry's canonical hash and compares it with the
// stored entry_hash. A mismatch means storage corruption or content
// tampering and is reported as ErrHashMismatch, a distinct kind from
// signature failure.
func (v *Verifier) VerifyHash(e *Entry) error {
	if e.EntryHash == "" {
		return fmt.Errorf("%w: entry_hash is missing", ErrHashMismatch)
	}
	computed, err := e.ComputeHash()
	if err != nil {
		return fmt.Errorf("%w: canonicalize entry: %v", ErrHashMismatch, err)
	}
	if computed != e.EntryHash {
		return fmt.Errorf("%w: stored=%s computed=%s", ErrHashMismatch, e.EntryHash, computed)
	}
	return nil
}

// VerifySignature checks the entry's ed25519 signature over its raw hash
// bytes using the public key identified by signing_key_id. Decode failures,
// unknown keys, and cryptographic failures are all reported as
// ErrSignatureInvalid, never silently treated as unsigned.
func (v *Verifier) VerifySignature(e *Entry) error {
	if e.EntryHash == "" {
		return fmt.Errorf("%w: entry_hash is missing", ErrSignatureInvalid)
	}
	if e.Signature == "" {
		return fmt.Errorf("%w: signature is missing", ErrSignatureInvalid)
	}
	pub, ok := v.keys.PublicKey(e.SigningKeyID)
	if !ok {
		return fmt.Errorf("%w: unknown signing key %q", ErrSignatureInvalid, e.SigningKeyID)
	}
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", ErrSignatureInvalid, err)
	}
	hashBytes, err := hex.DecodeString(e.EntryHash)
	if err != nil {
		return fmt.Errorf("%w: decode entry hash: %v", ErrSignatureInvalid, err)
	}
	if !ed25519.Verify(pub, hashBytes, sig) {
		return fmt.Errorf("%w: ed25519 verification failed for entry %s", ErrSignatureInvalid, e.EntryID)
	}
	return nil
}

// VerifyChainLink checks that the entry's prev_entry_hash matches its
// predecessor's entry_hash. prev is nil for the genesis entry, whose
// prev_entry_hash must be exactly empty.
func (v *Verifier) VerifyChainLink(e *Entry, prev *Entry) error {
	if prev == nil {
		if e.PrevEntryHash != "" {
			return fmt.Errorf("%w: genesis entry has non-empty prev_entry_hash %q", ErrChainBroken, e.PrevEntryHash)
		}
		return nil
	}
	if prev.EntryHash == "" {
		return fmt.Errorf("%w: previous entry %s is missing entry_hash", ErrChainBroken, prev.EntryID)
	}
	if e.PrevEntryHash != prev.EntryHash {
		return fmt.Errorf("%w: prev_entry_hash=%s, predecessor entry_hash=%s", ErrChainBroken, e.PrevEntryHash, prev.EntryHash)
	}
	return nil
}

// VerifyEntry runs the hash, signature, and chain-link checks. All three
// checks are evaluated deterministically; the first failing check's kind
// and message is returned so the failure class is never hidden.
func (v *Verifier) VerifyEntry(e *Entry, prev *Entry) error {
	checks := []error{
		v.VerifyHash(e),
		v.VerifySignature(e),
		v.VerifyChainLink(e, prev),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}
