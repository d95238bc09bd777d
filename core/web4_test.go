package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

//-------------------------------------------------------------
// Validation
//-------------------------------------------------------------

func TestDomainValidation(t *testing.T) {
	tests := []struct {
		domain string
		valid  bool
	}{
		{"test.zhtp", true},
		{"my-site.zhtp", true},
		{"deep.sub.zhtp", true},
		{"site.sov", true},
		{"test", false},
		{"test.com", false},
		{"-bad.zhtp", false},
		{"bad-.zhtp", false},
		{"a.sov", false}, // too short overall
		{"has_underscore.zhtp", false},
	}
	for _, tc := range tests {
		if got := IsValidDomain(tc.domain); got != tc.valid {
			t.Fatalf("%q: got %v want %v", tc.domain, got, tc.valid)
		}
	}
}

func TestCIDValidation(t *testing.T) {
	tests := []struct {
		cid   string
		valid bool
	}{
		{"QmXoYpo9YdJkX8kGd7YtT6yC2FJLzMQvE5rE7Nvh4eJnX5", true},
		{"dht:content_hash_123", true},
		{":QmXoYpo9YdJkX8kGd7YtT6yC2FJL", true},
		{"bafk0123456789abcdef0123456789abcdef", true},
		{"invalid_hash", false},
		{"Qm123", false},
		{"dht:short", false},
	}
	for _, tc := range tests {
		if got := IsValidCID(tc.cid); got != tc.valid {
			t.Fatalf("%q: got %v want %v", tc.cid, got, tc.valid)
		}
	}
}

//-------------------------------------------------------------
// Manifest
//-------------------------------------------------------------

func testManifestFiles() []ManifestFile {
	return []ManifestFile{
		{Path: "/index.html", CID: "QmXoYpo9YdJkX8kGd7YtT6yC2FJLzMQvE5rE7Nvh4eJnX5", Size: 1024, Mime: "text/html", ETag: "aa"},
		{Path: "/app.js", CID: "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", Size: 2048, Mime: "application/javascript", ETag: "bb"},
	}
}

func testManifest(owner string) *Web4Manifest {
	files := testManifestFiles()
	fallback := "/index.html"
	return &Web4Manifest{
		Version:     "1.0",
		Domain:      "alice.zhtp",
		Owner:       owner,
		RootCID:     RootCID(files),
		Files:       files,
		SPAFallback: &fallback,
		CacheHints: CacheHints{
			Immutable:  []string{"*.js", "*.css"},
			Revalidate: []string{"*.html"},
		},
		DeployedAt: 1_700_000_000,
		Fee:        1500,
	}
}

func TestManifestRoundTrip(t *testing.T) {
	m := testManifest("did:zhtp:00aa")
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Web4Manifest
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	raw2, _ := json.Marshal(&back)
	if string(raw) != string(raw2) {
		t.Fatal("round trip not stable")
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRootCIDDeterministic(t *testing.T) {
	files := testManifestFiles()
	reversed := []ManifestFile{files[1], files[0]}
	if RootCID(files) != RootCID(reversed) {
		t.Fatal("root cid depends on file order")
	}
	if RootCID(files)[:4] != "bafk" {
		t.Fatal("root cid prefix")
	}
	// Changing any file CID changes the root.
	mutated := testManifestFiles()
	mutated[0].CID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	if RootCID(files) == RootCID(mutated) {
		t.Fatal("root cid insensitive to file change")
	}
}

func TestResolvePath(t *testing.T) {
	m := testManifest("did:zhtp:00aa")
	m.Files = append(m.Files, ManifestFile{Path: "/docs/index.html", CID: "dht:docs_index_hash", Size: 1, Mime: "text/html", ETag: "cc"})
	m.RootCID = RootCID(m.Files)

	if f := m.ResolvePath("/app.js"); f == nil || f.Path != "/app.js" {
		t.Fatal("exact match failed")
	}
	// Directory resolution: /docs → /docs/index.html.
	if f := m.ResolvePath("/docs"); f == nil || f.Path != "/docs/index.html" {
		t.Fatal("index resolution failed")
	}
	// Unknown path falls back to the SPA entry.
	if f := m.ResolvePath("/virtual/route"); f == nil || f.Path != "/index.html" {
		t.Fatal("spa fallback failed")
	}
	// Without fallback, unknown paths miss.
	m.SPAFallback = nil
	if f := m.ResolvePath("/virtual/route"); f != nil {
		t.Fatal("expected miss without fallback")
	}
}

//-------------------------------------------------------------
// Registry: register / update / ownership
//-------------------------------------------------------------

const (
	cidA = "dht:manifest_cid_a"
	cidB = "dht:manifest_cid_b"
	cidC = "dht:manifest_cid_c"
)

func TestRegisterAndUpdate(t *testing.T) {
	r := NewDomainRegistry(NewMemoryStore())

	rec, err := r.Register("alice.zhtp", "did:zhtp:aa", cidA, 1000)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.Version != 1 || rec.CurrentManifestCID != cidA {
		t.Fatalf("v%d cid %s", rec.Version, rec.CurrentManifestCID)
	}

	// Re-registration conflicts.
	if _, err := r.Register("alice.zhtp", "did:zhtp:bb", cidB, 1001); !isKind(err, ErrConflict) {
		t.Fatalf("re-register: %v", err)
	}

	rec, err = r.Update("alice.zhtp", "did:zhtp:aa", cidB, cidA, 1002)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Version != 2 || rec.CurrentManifestCID != cidB {
		t.Fatalf("after update: v%d cid %s", rec.Version, rec.CurrentManifestCID)
	}

	// Stale expectation conflicts.
	if _, err := r.Update("alice.zhtp", "did:zhtp:aa", cidC, cidA, 1003); !isKind(err, ErrConflict) {
		t.Fatalf("stale update: %v", err)
	}

	// Non-owner is rejected before the CAS.
	if _, err := r.Update("alice.zhtp", "did:zhtp:evil", cidC, cidB, 1004); !isKind(err, ErrUnauthorized) {
		t.Fatalf("non-owner update: %v", err)
	}
}

// Domain race: two concurrent updates with the same expectation — exactly
// one succeeds, the other observes Conflict.
func TestConcurrentUpdateCAS(t *testing.T) {
	r := NewDomainRegistry(NewMemoryStore())
	if _, err := r.Register("alice.zhtp", "did:zhtp:aa", cidA, 1000); err != nil {
		t.Fatalf("register: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, newCID := range []string{cidB, cidC} {
		wg.Add(1)
		go func(slot int, cid string) {
			defer wg.Done()
			_, errs[slot] = r.Update("alice.zhtp", "did:zhtp:aa", cid, cidA, 1001)
		}(i, newCID)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case isKind(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("successes=%d conflicts=%d", successes, conflicts)
	}
	rec, _ := r.Get("alice.zhtp")
	if rec.Version != 2 {
		t.Fatalf("version %d want 2", rec.Version)
	}
	if rec.CurrentManifestCID != cidB && rec.CurrentManifestCID != cidC {
		t.Fatalf("winner cid %s", rec.CurrentManifestCID)
	}
}

//-------------------------------------------------------------
// Rollback & history
//-------------------------------------------------------------

func TestRollbackAndHistory(t *testing.T) {
	r := NewDomainRegistry(NewMemoryStore())
	_, _ = r.Register("alice.zhtp", "did:zhtp:aa", cidA, 1000)
	_, _ = r.Update("alice.zhtp", "did:zhtp:aa", cidB, cidA, 1001)
	_, _ = r.Update("alice.zhtp", "did:zhtp:aa", cidC, cidB, 1002)

	rec, err := r.Rollback("alice.zhtp", "did:zhtp:aa", 1, 1003)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rec.Version != 4 || rec.CurrentManifestCID != cidA {
		t.Fatalf("after rollback: v%d cid %s", rec.Version, rec.CurrentManifestCID)
	}

	history, err := r.History("alice.zhtp", 4)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history len %d want 4", len(history))
	}
	wantCIDs := []string{cidA, cidC, cidB, cidA} // v4, v3, v2, v1
	for i, rec := range history {
		if rec.Version != uint64(4-i) {
			t.Fatalf("history[%d] v%d, want descending", i, rec.Version)
		}
		if rec.CurrentManifestCID != wantCIDs[i] {
			t.Fatalf("history[%d] cid %s want %s", i, rec.CurrentManifestCID, wantCIDs[i])
		}
	}
}

func TestRollbackBounds(t *testing.T) {
	r := NewDomainRegistry(NewMemoryStore())
	_, _ = r.Register("alice.zhtp", "did:zhtp:aa", cidA, 1000)
	_, _ = r.Update("alice.zhtp", "did:zhtp:aa", cidB, cidA, 1001)

	tests := []struct {
		name      string
		caller    string
		toVersion uint64
		kind      error
	}{
		{"ToCurrent", "did:zhtp:aa", 2, ErrInputInvalid},
		{"ToZero", "did:zhtp:aa", 0, ErrInputInvalid},
		{"ToFuture", "did:zhtp:aa", 9, ErrInputInvalid},
		{"NonOwner", "did:zhtp:evil", 1, ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Rollback("alice.zhtp", tc.caller, tc.toVersion, 1002); !isKind(err, tc.kind) {
				t.Fatalf("got %v want kind %v", err, tc.kind)
			}
		})
	}
}

func TestOwnershipTransfer(t *testing.T) {
	r := NewDomainRegistry(NewMemoryStore())
	_, _ = r.Register("alice.zhtp", "did:zhtp:aa", cidA, 1000)

	rec, err := r.TransferOwnership("alice.zhtp", "did:zhtp:aa", "did:zhtp:bb")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rec.OwnerDID != "did:zhtp:bb" {
		t.Fatal("owner not transferred")
	}
	// Old owner can no longer mutate.
	if _, err := r.Update("alice.zhtp", "did:zhtp:aa", cidB, cidA, 1001); !isKind(err, ErrUnauthorized) {
		t.Fatalf("old owner update: %v", err)
	}
	// New owner can.
	if _, err := r.Update("alice.zhtp", "did:zhtp:bb", cidB, cidA, 1002); err != nil {
		t.Fatalf("new owner update: %v", err)
	}
}

//-------------------------------------------------------------
// Version monotonicity under mixed operations
//-------------------------------------------------------------

func TestVersionStrictlyMonotonic(t *testing.T) {
	r := NewDomainRegistry(NewMemoryStore())
	_, _ = r.Register("alice.zhtp", "did:zhtp:aa", cidA, 1000)

	last := uint64(1)
	current := cidA
	for i := 0; i < 5; i++ {
		next := fmt.Sprintf("dht:manifest_%d", i)
		rec, err := r.Update("alice.zhtp", "did:zhtp:aa", next, current, uint64(1001+i))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if rec.Version != last+1 {
			t.Fatalf("version jumped %d → %d", last, rec.Version)
		}
		last = rec.Version
		current = next
	}
	rec, err := r.Rollback("alice.zhtp", "did:zhtp:aa", 2, 2000)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rec.Version != last+1 {
		t.Fatalf("rollback version %d want %d", rec.Version, last+1)
	}
}

//-------------------------------------------------------------
// Fee estimation
//-------------------------------------------------------------

func TestDeployFeeFloor(t *testing.T) {
	if fee := EstimateDeployFee(0, 0); fee != DeployFeeFloor {
		t.Fatalf("empty deploy fee %d want floor %d", fee, DeployFeeFloor)
	}
	if fee := EstimateDeployFee(100_000_000, 100); fee <= DeployFeeFloor {
		t.Fatal("large deploy should exceed the floor")
	}
}
