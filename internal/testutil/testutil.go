// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"zhtp-network/core"
)

// TempKeystore provisions a fresh identity under a test temp dir and returns
// the keypair plus the keystore path.
func TempKeystore(t *testing.T) (*core.Keypair, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "keystore")
	kp, err := core.GenerateKeypair()
	if err != nil {
		t.Fatalf("testutil: keypair: %v", err)
	}
	if err := core.SaveKeystore(dir, kp); err != nil {
		t.Fatalf("testutil: save keystore: %v", err)
	}
	return kp, dir
}
