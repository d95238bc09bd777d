package core

import (
	"path/filepath"
	"testing"
)

func TestTOFUPinsFirstCertificate(t *testing.T) {
	db, err := OpenTrustDB(filepath.Join(t.TempDir(), "trustdb"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cfg := &TrustConfig{Mode: TrustTOFU}

	certA := []byte("spki-material-a")
	certB := []byte("spki-material-b")

	// First contact pins.
	if err := VerifyPeerCertificate(cfg, db, "did:zhtp:peer1", certA); err != nil {
		t.Fatalf("first contact: %v", err)
	}
	// Same certificate keeps verifying.
	if err := VerifyPeerCertificate(cfg, db, "did:zhtp:peer1", certA); err != nil {
		t.Fatalf("repeat contact: %v", err)
	}
	// A different certificate is a hard failure.
	if err := VerifyPeerCertificate(cfg, db, "did:zhtp:peer1", certB); !isKind(err, ErrCryptoFail) {
		t.Fatalf("mismatch: %v", err)
	}
}

func TestTrustDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustdb")
	db, _ := OpenTrustDB(path)
	if err := db.Pin("did:zhtp:peerX", SPKIHash([]byte("cert"))); err != nil {
		t.Fatalf("pin: %v", err)
	}

	db2, err := OpenTrustDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pinned, ok := db2.Lookup("did:zhtp:peerX")
	if !ok || len(pinned) == 0 {
		t.Fatal("pin lost across reopen")
	}
	// Re-pinning is a conflict, never an overwrite.
	if err := db2.Pin("did:zhtp:peerX", SPKIHash([]byte("other"))); !isKind(err, ErrConflict) {
		t.Fatalf("re-pin: %v", err)
	}
}

func TestStrictModeRequiresEntry(t *testing.T) {
	db, _ := OpenTrustDB(filepath.Join(t.TempDir(), "trustdb"))
	cfg := &TrustConfig{Mode: TrustStrict}
	if err := VerifyPeerCertificate(cfg, db, "did:zhtp:unknown", []byte("cert")); !isKind(err, ErrUnauthorized) {
		t.Fatalf("unknown peer: %v", err)
	}
}

func TestPinnedModeComparesHash(t *testing.T) {
	db, _ := OpenTrustDB(filepath.Join(t.TempDir(), "trustdb"))
	cert := []byte("pinned-cert")
	cfg := &TrustConfig{Mode: TrustPinned, PinnedSPKI: SPKIHash(cert)}

	if err := VerifyPeerCertificate(cfg, db, "did:zhtp:p", cert); err != nil {
		t.Fatalf("matching pin: %v", err)
	}
	if err := VerifyPeerCertificate(cfg, db, "did:zhtp:p", []byte("other")); !isKind(err, ErrCryptoFail) {
		t.Fatalf("mismatched pin: %v", err)
	}
}

func TestBootstrapSkipsVerification(t *testing.T) {
	db, _ := OpenTrustDB(filepath.Join(t.TempDir(), "trustdb"))
	cfg := &TrustConfig{Mode: TrustBootstrap}
	if err := VerifyPeerCertificate(cfg, db, "did:zhtp:any", []byte("whatever")); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
}

func TestAuditLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := OpenAuditLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	if err := log.Record("deploy", map[string]string{"domain": "alice.zhtp"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := log.Record("rollback", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != "deploy" || entries[1].Event != "rollback" {
		t.Fatalf("entries %+v", entries)
	}
	if len(entries[0].Hash) == 0 {
		t.Fatal("entry hash missing")
	}
}
