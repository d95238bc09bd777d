package cli

import (
	"fmt"
	"testing"

	"zhtp-network/core"
	"zhtp-network/internal/testutil"
)

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{fmt.Errorf("boom"), 1},
		{fmt.Errorf("wrap: %w", core.ErrInputInvalid), 2},
		{fmt.Errorf("wrap: %w", core.ErrUnauthorized), 3},
		{fmt.Errorf("wrap: %w", core.ErrCryptoFail), 3},
		{fmt.Errorf("wrap: %w", core.ErrTransient), 4},
		{fmt.Errorf("wrap: %w", core.ErrConflict), 5},
	}
	for _, tc := range tests {
		if got := ExitCode(tc.err); got != tc.code {
			t.Fatalf("%v: code %d want %d", tc.err, got, tc.code)
		}
	}
}

func TestTrustConfigFromFlags(t *testing.T) {
	if _, err := trustConfigFromFlags("pinned", ""); err == nil {
		t.Fatal("pinned without --pin accepted")
	}
	cfg, err := trustConfigFromFlags("pinned", "deadbeef")
	if err != nil || cfg.Mode != core.TrustPinned || len(cfg.PinnedSPKI) != 4 {
		t.Fatalf("pinned: %+v %v", cfg, err)
	}
	cfg, err = trustConfigFromFlags("", "")
	if err != nil || cfg.Mode != core.TrustTOFU {
		t.Fatalf("default mode: %+v %v", cfg, err)
	}
	if _, err := trustConfigFromFlags("bogus", ""); err == nil {
		t.Fatal("bogus mode accepted")
	}
}

func TestKeystoreFixtureLoads(t *testing.T) {
	kp, dir := testutil.TempKeystore(t)
	loaded, err := core.LoadKeystore(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Public.Equal(&kp.Public) {
		t.Fatal("fixture identity mismatch")
	}
}
