package core

// Keystore: identity.json (public data) and private_key.json (secret seeds)
// under the node's config directory. Loading re-derives the full keypair
// from the master seed, so the algorithm-specific secrets on disk are a
// cache, not the source of truth.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	identityFileName   = "identity.json"
	privateKeyFileName = "private_key.json"
)

// identityFile is the public half persisted to disk.
type identityFile struct {
	DID       string    `json:"did"`
	PublicKey PublicKey `json:"public_key"`
}

// SaveKeystore writes both halves under dir with owner-only permissions.
func SaveKeystore(dir string, kp *Keypair) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	pub, err := json.MarshalIndent(&identityFile{
		DID:       kp.Public.DID(),
		PublicKey: kp.Public,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, identityFileName), pub, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	priv, err := json.MarshalIndent(&kp.Private, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFileName), priv, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	logrus.Infof("keystore: wrote identity %s to %s", kp.Public.DID(), dir)
	return nil
}

// LoadKeystore reads the keystore and re-derives the keypair from the
// stored master seed, verifying the derived public key matches the one on
// disk. There is no ephemeral fallback: a missing keystore is an error.
func LoadKeystore(dir string) (*Keypair, error) {
	pubRaw, err := os.ReadFile(filepath.Join(dir, identityFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: keystore at %s", ErrNotFound, dir)
	}
	var idf identityFile
	if err := json.Unmarshal(pubRaw, &idf); err != nil {
		return nil, fmt.Errorf("identity.json corrupt: %w", err)
	}

	privRaw, err := os.ReadFile(filepath.Join(dir, privateKeyFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: private key at %s", ErrNotFound, dir)
	}
	var priv PrivateKey
	if err := json.Unmarshal(privRaw, &priv); err != nil {
		return nil, fmt.Errorf("private_key.json corrupt: %w", err)
	}

	kp, err := KeypairFromSeed(priv.MasterSeed)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(kp.Public.KeyID, idf.PublicKey.KeyID) {
		return nil, fmt.Errorf("%w: derived key does not match stored identity", ErrCryptoFail)
	}
	return kp, nil
}

// LoadOrCreateKeystore loads an existing identity or provisions a fresh one.
func LoadOrCreateKeystore(dir string) (*Keypair, error) {
	kp, err := LoadKeystore(dir)
	if err == nil {
		return kp, nil
	}
	if !isKind(err, ErrNotFound) {
		return nil, err
	}
	kp, err = GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := SaveKeystore(dir, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// DefaultConfigDir resolves the node's config directory.
func DefaultConfigDir() string {
	if dir := os.Getenv("ZHTP_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zhtp"
	}
	return filepath.Join(home, ".zhtp")
}
