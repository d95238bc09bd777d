package core

// Client-side trust for Web4 connections: pinned SPKI, trust-on-first-use
// with a local trust DB keyed by the node's DID, strict verification against
// the DB, and an explicitly-warned bootstrap mode for first contact.

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TrustMode selects how a peer certificate (SPKI) is validated.
type TrustMode uint8

const (
	// TrustPinned validates against an operator-supplied SPKI hash.
	TrustPinned TrustMode = iota
	// TrustTOFU pins the first certificate seen and rejects changes.
	TrustTOFU
	// TrustStrict requires a pre-existing trust DB entry.
	TrustStrict
	// TrustBootstrap skips verification. First-contact provisioning only.
	TrustBootstrap
)

// TrustConfig carries the mode and, for pinned mode, the expected hash.
type TrustConfig struct {
	Mode      TrustMode
	PinnedSPKI []byte
	DBPath    string
}

// TrustDB persists DID → SPKI-hash pins under <config>/trustdb.
type TrustDB struct {
	mu     sync.Mutex
	path   string
	pins   map[string]string // did → hex SPKI hash
	logger *logrus.Entry
}

// OpenTrustDB loads (or creates) the trust DB file.
func OpenTrustDB(path string) (*TrustDB, error) {
	db := &TrustDB{
		path:   path,
		pins:   make(map[string]string),
		logger: logrus.WithField("module", "trustdb"),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransient, err)
			}
			return db, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &db.pins); err != nil {
			return nil, fmt.Errorf("trustdb corrupt: %w", err)
		}
	}
	return db, nil
}

func (db *TrustDB) persist() error {
	raw, err := json.MarshalIndent(db.pins, "", "  ")
	if err != nil {
		return err
	}
	tmp := db.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return os.Rename(tmp, db.path)
}

// Pin records a DID's SPKI hash. Existing pins are never overwritten.
func (db *TrustDB) Pin(did string, spkiHash []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.pins[did]; exists {
		return fmt.Errorf("%w: %s already pinned", ErrConflict, did)
	}
	db.pins[did] = hex.EncodeToString(spkiHash)
	return db.persist()
}

// Lookup returns the pinned hash for a DID.
func (db *TrustDB) Lookup(did string) ([]byte, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	h, ok := db.pins[did]
	if !ok {
		return nil, false
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, false
	}
	return raw, true
}

//---------------------------------------------------------------------
// Verification
//---------------------------------------------------------------------

// SPKIHash computes the SHA-256 pin of a certificate's SubjectPublicKeyInfo.
func SPKIHash(spki []byte) []byte {
	sum := sha256.Sum256(spki)
	return sum[:]
}

// VerifyPeerCertificate applies the trust config to an observed certificate
// for the given peer DID. TOFU pins the first sighting; later mismatches
// fail. Cryptographic mismatches are terminal, never silently bypassed.
func VerifyPeerCertificate(cfg *TrustConfig, db *TrustDB, peerDID string, spki []byte) error {
	observed := SPKIHash(spki)

	switch cfg.Mode {
	case TrustPinned:
		if !bytes.Equal(observed, cfg.PinnedSPKI) {
			return fmt.Errorf("%w: pinned SPKI mismatch for %s", ErrCryptoFail, peerDID)
		}
		return nil

	case TrustTOFU:
		if pinned, ok := db.Lookup(peerDID); ok {
			if !bytes.Equal(observed, pinned) {
				return fmt.Errorf("%w: TOFU pin mismatch for %s", ErrCryptoFail, peerDID)
			}
			return nil
		}
		if err := db.Pin(peerDID, observed); err != nil {
			return err
		}
		db.logger.Infof("TOFU: pinned first certificate for %s", peerDID)
		return nil

	case TrustStrict:
		pinned, ok := db.Lookup(peerDID)
		if !ok {
			return fmt.Errorf("%w: no trust entry for %s", ErrUnauthorized, peerDID)
		}
		if !bytes.Equal(observed, pinned) {
			return fmt.Errorf("%w: strict pin mismatch for %s", ErrCryptoFail, peerDID)
		}
		return nil

	case TrustBootstrap:
		logrus.Warnf("trust: bootstrap mode, skipping verification for %s — first-contact provisioning only", peerDID)
		return nil

	default:
		return fmt.Errorf("%w: unknown trust mode %d", ErrInputInvalid, cfg.Mode)
	}
}

//---------------------------------------------------------------------
// Audit log
//---------------------------------------------------------------------

// AuditEvent is a single immutable audit entry.
type AuditEvent struct {
	Timestamp int64             `json:"ts"`
	Event     string            `json:"evt"`
	Meta      map[string]string `json:"meta,omitempty"`
	Hash      []byte            `json:"hash"`
}

// AuditLog appends self-hashed entries to <config>/audit.log. Entries are not
// linked to one another, so a removed line is not detectable.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenAuditLog creates or opens the append-only log file.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return &AuditLog{file: f}, nil
}

// Record writes one audit entry carrying the BLAKE3 hash of its own content.
func (a *AuditLog) Record(event string, meta map[string]string) error {
	if a == nil || a.file == nil {
		return fmt.Errorf("audit log not initialised")
	}
	ev := AuditEvent{Timestamp: time.Now().Unix(), Event: event, Meta: meta}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h := HashBlake3(raw)
	ev.Hash = h[:]
	blob, _ := json.Marshal(ev)
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.file.Write(append(blob, '\n'))
	return err
}

// Entries reads back every audit entry.
func (a *AuditLog) Entries() ([]AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.Open(a.file.Name())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out, sc.Err()
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	return a.file.Close()
}
