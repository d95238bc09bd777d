package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keystore")
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := SaveKeystore(dir, kp); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadKeystore(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Public.Equal(&kp.Public) {
		t.Fatal("re-derived identity differs")
	}

	// The re-derived signing key must produce verifiable signatures.
	sig, err := Sign(loaded.Private.DilithiumSK, []byte("probe"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := VerifySignature(kp.Public.DilithiumPK, []byte("probe"), sig)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
}

func TestLoadKeystoreMissing(t *testing.T) {
	if _, err := LoadKeystore(filepath.Join(t.TempDir(), "absent")); !isKind(err, ErrNotFound) {
		t.Fatalf("missing keystore: %v", err)
	}
}

func TestLoadKeystoreDetectsTamper(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keystore")
	kp, _ := GenerateKeypair()
	_ = SaveKeystore(dir, kp)

	// Swap in a foreign identity file; the seed re-derivation must refuse.
	other, _ := GenerateKeypair()
	otherDir := filepath.Join(t.TempDir(), "other")
	_ = SaveKeystore(otherDir, other)
	foreign, _ := os.ReadFile(filepath.Join(otherDir, identityFileName))
	_ = os.WriteFile(filepath.Join(dir, identityFileName), foreign, 0o600)

	if _, err := LoadKeystore(dir); !isKind(err, ErrCryptoFail) {
		t.Fatalf("tampered keystore: %v", err)
	}
}

func TestLoadOrCreateProvisions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keystore")
	a, err := LoadOrCreateKeystore(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := LoadOrCreateKeystore(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !a.Public.Equal(&b.Public) {
		t.Fatal("second call created a new identity")
	}
}
