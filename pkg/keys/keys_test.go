package keys_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/evidentsec/auditledger/pkg/keys"
)

func TestGenerateAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	manager := keys.NewManager(dir)

	generated, err := manager.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if generated.KeyID != keys.KeyID(generated.Public) {
		t.Errorf("key id: got %q, want %q", generated.KeyID, keys.KeyID(generated.Public))
	}
	if !manager.Exists() {
		t.Error("Exists = false after Generate")
	}

	loaded, err := manager.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Private.Equal(generated.Private) {
		t.Error("loaded private key differs from generated")
	}
	if !loaded.Public.Equal(generated.Public) {
		t.Error("loaded public key differs from generated")
	}
	if loaded.KeyID != generated.KeyID {
		t.Errorf("loaded key id: got %q, want %q", loaded.KeyID, generated.KeyID)
	}
}

func TestGenerate_privateKeyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	dir := filepath.Join(t.TempDir(), "keys")
	if _, err := keys.NewManager(dir).Generate(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dir, "signing.key"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("private key mode: got %o, want 600", perm)
	}
}

func TestLoad_missing(t *testing.T) {
	manager := keys.NewManager(filepath.Join(t.TempDir(), "empty"))
	if _, err := manager.Load(); !errors.Is(err, keys.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if manager.Exists() {
		t.Error("Exists = true for empty directory")
	}
}

func TestLoad_keyIDMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	manager := keys.NewManager(dir)
	if _, err := manager.Generate(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "signing.id"), []byte("bogus"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Load(); !errors.Is(err, keys.ErrMismatch) {
		t.Errorf("tampered key id file: got %v, want ErrMismatch", err)
	}
}

func TestLoad_publicKeyMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	manager := keys.NewManager(dir)
	if _, err := manager.Generate(); err != nil {
		t.Fatal(err)
	}

	// Replace the public key file with a different key and a matching id,
	// so only the private/public cross-check can catch it.
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "signing.pub"), otherPub, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "signing.id"), []byte(keys.KeyID(otherPub)), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := manager.Load(); !errors.Is(err, keys.ErrMismatch) {
		t.Errorf("swapped public key: got %v, want ErrMismatch", err)
	}
}

func TestLoadOrCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	manager := keys.NewManager(dir)

	first, err := manager.LoadOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	second, err := manager.LoadOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if first.KeyID != second.KeyID {
		t.Errorf("LoadOrCreate regenerated keys: %q vs %q", first.KeyID, second.KeyID)
	}
}

func TestPublicKey_withoutPrivateMaterial(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	manager := keys.NewManager(dir)
	generated, err := manager.Generate()
	if err != nil {
		t.Fatal(err)
	}

	// Remove the private seed: verification-only hosts hold just the
	// public half.
	if err := os.Remove(filepath.Join(dir, "signing.key")); err != nil {
		t.Fatal(err)
	}

	pub, keyID, err := manager.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if !pub.Equal(generated.Public) || keyID != generated.KeyID {
		t.Error("public half does not match generated keypair")
	}
}

func TestRegistry(t *testing.T) {
	registry := keys.NewRegistry()
	if registry.Len() != 0 {
		t.Fatalf("new registry len: got %d, want 0", registry.Len())
	}

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id := registry.Add(pub)
	if id != keys.KeyID(pub) {
		t.Errorf("Add returned %q, want %q", id, keys.KeyID(pub))
	}

	got, ok := registry.PublicKey(id)
	if !ok || !got.Equal(pub) {
		t.Error("registered key not resolvable")
	}
	if _, ok := registry.PublicKey("unknown"); ok {
		t.Error("unknown key id resolved")
	}
}

func TestRegistry_addDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	generated, err := keys.NewManager(dir).Generate()
	if err != nil {
		t.Fatal(err)
	}

	registry := keys.NewRegistry()
	if err := registry.AddDir(dir); err != nil {
		t.Fatal(err)
	}
	if _, ok := registry.PublicKey(generated.KeyID); !ok {
		t.Error("key loaded from directory not resolvable")
	}

	if err := registry.AddDir(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, keys.ErrNotFound) {
		t.Errorf("AddDir on missing directory: got %v, want ErrNotFound", err)
	}
}
