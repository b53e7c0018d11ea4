package keys

import (
	"crypto/ed25519"
	"sync"
)

// Registry maps signing key ids to their known-valid public keys. It is the
// verification-side key source: every key a ledger's history may have been
// signed with is registered here, so verification across a key rotation
// remains possible. Registration is the trust statement; the registry does
// not decide rotation policy.
type Registry struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]ed25519.PublicKey)}
}

// Add registers a public key and returns its derived key id.
func (r *Registry) Add(pub ed25519.PublicKey) string {
	id := KeyID(pub)
	r.mu.Lock()
	r.keys[id] = pub
	r.mu.Unlock()
	return id
}

// AddDir loads the public key from a key directory and registers it.
func (r *Registry) AddDir(dir string) error {
	pub, _, err := NewManager(dir).PublicKey()
	if err != nil {
		return err
	}
	r.Add(pub)
	return nil
}

// PublicKey resolves a key id. It implements ledger.KeySource.
func (r *Registry) PublicKey(keyID string) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	pub, ok := r.keys[keyID]
	r.mu.RUnlock()
	return pub, ok
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
