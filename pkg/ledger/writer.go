package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer is the only path by which new entries enter a ledger. It reads the
// current chain tail, builds the next entry, signs it, and appends it.
//
// The read-tail → build → sign → append sequence is one logical transaction:
// Writer holds a mutex for its full duration so two appends can never read
// the same tail and fork the chain. One Writer per ledger is the writer lock
// domain; readers may replay the immutable history concurrently at any time.
type Writer struct {
	mu     sync.Mutex
	store  Store
	signer *Signer
}

// NewWriter creates a Writer over store using signer for integrity fields.
func NewWriter(store Store, signer *Signer) *Writer {
	return &Writer{store: store, signer: signer}
}

// Append records one action as the next chained, signed ledger entry and
// returns the complete entry. All integrity-relevant fields (entry_id,
// timestamp, prev_entry_hash, entry_hash, signature, signing_key_id) are
// computed here; callers cannot supply them.
func (w *Writer) Append(ctx context.Context, component, instanceID, actionType string, subject Subject, actor Actor, payload map[string]any) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, err := w.store.LastEntry(ctx)
	if err != nil {
		return nil, err
	}
	prevHash := ""
	if last != nil {
		prevHash = last.EntryHash
	}

	e := &Entry{
		EntryID:             uuid.New().String(),
		Timestamp:           time.Now().UTC().Format(time.RFC3339Nano),
		Component:           component,
		ComponentInstanceID: instanceID,
		ActionType:          actionType,
		Subject:             subject,
		Actor:               actor,
		Payload:             payload,
		PrevEntryHash:       prevHash,
	}

	if err := w.signer.SignComplete(e); err != nil {
		return nil, err
	}
	if err := w.store.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
