// Package keys manages the ed25519 signing identities of the audit ledger.
//
// A Manager owns one key directory per signing identity: the private seed
// in one file with owner-only permissions, the raw public key bytes in a
// second, and the derived key id (hex SHA-256 of the raw public key) as
// plain text in a third. Keys are created once and reloaded on subsequent
// runs; the ledger never rotates keys itself, it only records which key
// produced each signature.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	privateKeyFile = "signing.key"
	publicKeyFile  = "signing.pub"
	keyIDFile      = "signing.id"
)

var (
	// ErrNotFound indicates the key files are absent from the key directory.
	ErrNotFound = errors.New("signing key not found")

	// ErrMismatch indicates the stored key id disagrees with the fingerprint
	// recomputed from the key material: key-file corruption or tampering.
	ErrMismatch = errors.New("key id does not match key material")
)

// Pair is a loaded signing identity.
type Pair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	KeyID   string
}

// KeyID returns the deterministic fingerprint of a public key: the
// hex-encoded SHA-256 of its raw bytes.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Manager persists and loads ed25519 keypairs in a single key directory.
type Manager struct {
	dir string
}

// NewManager returns a Manager that stores key files in dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the key directory.
func (m *Manager) Dir() string { return m.dir }

// Generate creates a new ed25519 keypair, persists it, and returns it.
// The private seed is written with owner-only permissions; the public key
// and key id files are world-readable.
func (m *Manager) Generate() (*Pair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	keyID := KeyID(pub)

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir %q: %w", m.dir, err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, privateKeyFile), priv.Seed(), 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, publicKeyFile), pub, 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, keyIDFile), []byte(keyID), 0o644); err != nil {
		return nil, fmt.Errorf("write key id: %w", err)
	}

	return &Pair{Private: priv, Public: pub, KeyID: keyID}, nil
}

// Load reads an existing keypair from the key directory. It recomputes the
// key id from the public key material and fails with ErrMismatch if the
// stored key id file disagrees, which guards against silent key-file
// corruption.
func (m *Manager) Load() (*Pair, error) {
	seed, err := m.readKeyFile(privateKeyFile)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key is %d bytes, want %d-byte seed", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)

	pub, storedID, err := m.loadPublic()
	if err != nil {
		return nil, err
	}
	derived, ok := priv.Public().(ed25519.PublicKey)
	if !ok || !derived.Equal(pub) {
		return nil, fmt.Errorf("%w: public key file does not match private key", ErrMismatch)
	}

	return &Pair{Private: priv, Public: pub, KeyID: storedID}, nil
}

// LoadOrCreate returns the existing keypair if present, generating and
// persisting a new one otherwise.
func (m *Manager) LoadOrCreate() (*Pair, error) {
	pair, err := m.Load()
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return m.Generate()
}

// PublicKey loads only the public half and its key id, for
// verification-only contexts that must not touch private key material.
func (m *Manager) PublicKey() (ed25519.PublicKey, string, error) {
	return m.loadPublicPair()
}

// Exists reports whether all three key files are present.
func (m *Manager) Exists() bool {
	for _, name := range []string{privateKeyFile, publicKeyFile, keyIDFile} {
		if _, err := os.Stat(filepath.Join(m.dir, name)); err != nil {
			return false
		}
	}
	return true
}

func (m *Manager) loadPublic() (ed25519.PublicKey, string, error) {
	return m.loadPublicPair()
}

func (m *Manager) loadPublicPair() (ed25519.PublicKey, string, error) {
	raw, err := m.readKeyFile(publicKeyFile)
	if err != nil {
		return nil, "", err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, "", fmt.Errorf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	pub := ed25519.PublicKey(raw)

	idBytes, err := m.readKeyFile(keyIDFile)
	if err != nil {
		return nil, "", err
	}
	storedID := strings.TrimSpace(string(idBytes))

	if computed := KeyID(pub); computed != storedID {
		return nil, "", fmt.Errorf("%w: stored=%s computed=%s", ErrMismatch, storedID, computed)
	}
	return pub, storedID, nil
}

func (m *Manager) readKeyFile(name string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Join(m.dir, name))
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}
