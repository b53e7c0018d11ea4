package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Subject identifies what a recorded action concerns.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Actor identifies who or what performed a recorded action.
type Actor struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// Entry is a single audit record in the ledger.
//
// EntryHash is the hex SHA-256 of the entry's canonical encoding, Signature
// is the base64 ed25519 signature over the raw hash bytes, and SigningKeyID
// is the hex SHA-256 fingerprint of the public key that produced it. The
// three are attached by Signer.SignComplete and are excluded from the
// canonical encoding they authenticate.
type Entry struct {
	EntryID             string         `json:"entry_id"`
	Timestamp           string         `json:"timestamp"`
	Component           string         `json:"component"`
	ComponentInstanceID string         `json:"component_instance_id"`
	ActionType          string         `json:"action_type"`
	Subject             Subject        `json:"subject"`
	Actor               Actor          `json:"actor"`
	Payload             map[string]any `json:"payload"`
	PrevEntryHash       string         `json:"prev_entry_hash"`
	EntryHash           string         `json:"entry_hash"`
	Signature           string         `json:"signature"`
	SigningKeyID        string         `json:"signing_key_id"`
}

// canonicalMap returns the entry's hashed fields as a generic map so the
// JSON encoder emits keys in lexicographic order at every nesting level.
func (e *Entry) canonicalMap() map[string]any {
	return map[string]any{
		"entry_id":              e.EntryID,
		"timestamp":             e.Timestamp,
		"component":             e.Component,
		"component_instance_id": e.ComponentInstanceID,
		"action_type":           e.ActionType,
		"subject":               map[string]any{"type": e.Subject.Type, "id": e.Subject.ID},
		"actor":                 map[string]any{"type": e.Actor.Type, "identifier": e.Actor.Identifier},
		"payload":               e.Payload,
		"prev_entry_hash":       e.PrevEntryHash,
	}
}

// Canonical returns the deterministic byte encoding of the entry that is
// hashed into entry_hash: compact JSON, keys sorted lexicographically, no
// insignificant whitespace, excluding entry_hash, signature, and
// signing_key_id. Two logically identical entries always produce identical
// canonical bytes regardless of construction order.
func (e *Entry) Canonical() ([]byte, error) {
	return encodeCanonical(e.canonicalMap())
}

// ComputeHash returns the hex-encoded SHA-256 of the entry's canonical bytes.
func (e *Entry) ComputeHash() (string, error) {
	canonical, err := e.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// MarshalLine serializes the complete entry as one line of compact JSON with
// keys in lexicographic order, the wire format of the on-disk ledger file.
// The returned bytes do not include the terminating newline.
func (e *Entry) MarshalLine() ([]byte, error) {
	m := e.canonicalMap()
	m["entry_hash"] = e.EntryHash
	m["signature"] = e.Signature
	m["signing_key_id"] = e.SigningKeyID
	return encodeCanonical(m)
}

// UnmarshalLine parses one ledger file line into an Entry. Numbers inside
// the payload are preserved as json.Number so re-encoding reproduces the
// original literals byte for byte.
func UnmarshalLine(line []byte) (*Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var e Entry
	if err := dec.Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// encodeCanonical marshals v as compact JSON without HTML escaping. Go's
// encoder already sorts map keys, which is what makes the output canonical.
func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
