package ledger

import "errors"

// The closed set of failure kinds surfaced by this package. Callers
// discriminate with errors.Is rather than by matching message text.
var (
	// ErrSigningFailure indicates the signer could not produce a signature,
	// typically because the private key is absent or malformed.
	ErrSigningFailure = errors.New("signing failure")

	// ErrReadOnly indicates a write was attempted on a read-only store.
	ErrReadOnly = errors.New("store is read-only")

	// ErrStorageIO wraps any I/O failure while appending to or reading
	// from the backing storage.
	ErrStorageIO = errors.New("storage i/o failure")

	// ErrMalformedRecord indicates a stored record could not be parsed.
	// The wrapping message carries the offending line or row number.
	ErrMalformedRecord = errors.New("malformed ledger record")

	// ErrHashMismatch indicates an entry's content no longer matches its
	// recorded entry_hash: storage corruption or content tampering.
	ErrHashMismatch = errors.New("entry hash mismatch")

	// ErrSignatureInvalid indicates the ed25519 signature could not be
	// verified against the entry's recorded signing key: an authenticity
	// violation, distinct from content corruption.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrChainBroken indicates an entry's prev_entry_hash does not match
	// its predecessor's entry_hash.
	ErrChainBroken = errors.New("hash chain broken")

	// ErrKeyContinuity indicates a non-empty ledger in which no entry was
	// signed by any key the verifier can account for.
	ErrKeyContinuity = errors.New("no valid signing key observed across ledger")
)
