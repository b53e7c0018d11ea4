// Package ledger implements the platform's tamper-evident audit ledger.
//
// Every security-relevant action across the platform is recorded as a
// LedgerEntry: an immutable, hash-chained, ed25519-signed record. Entries
// reference the SHA-256 of their predecessor, so silent reordering,
// insertion, or deletion is detectable by replaying the chain.
//
// The package provides four cooperating pieces:
//   - Signer / Verifier: canonical hashing and ed25519 signing of entries.
//   - Store: append-only persistence. Two implementations are provided,
//     FileStore (durable JSONL file, fsync per append) and PostgresStore.
//   - Writer: the single write path that chains, signs, and appends.
//   - Engine: full-ledger replay producing a VerificationReport.
//
// Subsystems append through a Writer and never construct integrity fields
// themselves; auditors replay through an Engine.
package ledger
