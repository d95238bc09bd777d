package core

import (
	"testing"
)

func testWalletManager(t *testing.T) *MultiWalletManager {
	t.Helper()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	m := NewMultiWalletManager(kp.Public)
	m.CreateAllWallets()
	return m
}

func fund(t *testing.T, m *MultiWalletManager, wt WalletType, amount uint64) {
	t.Helper()
	m.mu.Lock()
	m.wallets[wt].Balance = amount
	m.mu.Unlock()
}

//-------------------------------------------------------------
// Creation & permissions
//-------------------------------------------------------------

func TestWalletSetComplete(t *testing.T) {
	m := testWalletManager(t)
	breakdown := m.BalanceBreakdown()
	if len(breakdown) != len(AllWalletTypes()) {
		t.Fatalf("wallets %d want %d", len(breakdown), len(AllWalletTypes()))
	}
	if err := m.CreateWallet(WalletStaking); !isKind(err, ErrConflict) {
		t.Fatalf("duplicate create: %v", err)
	}
}

func TestPermissionMatrix(t *testing.T) {
	m := testWalletManager(t)

	tests := []struct {
		name string
		from WalletType
		to   WalletType
		ok   bool
	}{
		{"PrimaryToStaking", WalletPrimary, WalletStaking, true},
		{"GovernanceToPrimary", WalletGovernance, WalletPrimary, true},
		{"GovernanceToBridge", WalletGovernance, WalletBridge, false},
		{"UbiToPrimary", WalletUbiDistribution, WalletPrimary, true},
		{"UbiToStaking", WalletUbiDistribution, WalletStaking, false},
		{"PrivacyToInfra", WalletPrivacy, WalletInfrastructure, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fund(t, m, tc.from, 50_000)
			_, err := m.Transfer(tc.from, tc.to, 1_000, 2)
			if tc.ok && err != nil {
				t.Fatalf("expected success: %v", err)
			}
			if !tc.ok && !isKind(err, ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestBridgeRequiresMultisig(t *testing.T) {
	m := testWalletManager(t)
	fund(t, m, WalletBridge, 1_000_000)

	if _, err := m.Transfer(WalletBridge, WalletPrimary, 10_000, 1); !isKind(err, ErrUnauthorized) {
		t.Fatalf("single-sig bridge transfer: %v", err)
	}
	if _, err := m.Transfer(WalletBridge, WalletPrimary, 10_000, 2); err != nil {
		t.Fatalf("dual-sig bridge transfer: %v", err)
	}
}

//-------------------------------------------------------------
// Limits & fees
//-------------------------------------------------------------

func TestDailyLimitWindow(t *testing.T) {
	m := testWalletManager(t)
	now := uint64(86_400 * 100)
	m.SetClock(func() uint64 { return now })
	fund(t, m, WalletPrivacy, 500_000)

	// Privacy daily limit is 100_000.
	if _, err := m.Transfer(WalletPrivacy, WalletPrimary, 90_000, 0); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if _, err := m.Transfer(WalletPrivacy, WalletPrimary, 20_000, 0); !isKind(err, ErrResourceExhausted) {
		t.Fatalf("over-limit transfer: %v", err)
	}

	// Next day the window resets.
	now += 86_400
	if _, err := m.Transfer(WalletPrivacy, WalletPrimary, 20_000, 0); err != nil {
		t.Fatalf("next-day transfer: %v", err)
	}
}

func TestTransferFeeCharged(t *testing.T) {
	m := testWalletManager(t)
	fund(t, m, WalletPrimary, 100_000)

	tx, err := m.Transfer(WalletPrimary, WalletStaking, 10_000, 0)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tx.Fee != 10 { // 0.1%
		t.Fatalf("fee %d want 10", tx.Fee)
	}
	primary, _ := m.Wallet(WalletPrimary)
	staking, _ := m.Wallet(WalletStaking)
	if primary.Balance != 100_000-10_000-10 {
		t.Fatalf("source balance %d", primary.Balance)
	}
	if staking.Balance != 10_000 {
		t.Fatalf("dest balance %d", staking.Balance)
	}
}

func TestInsufficientBalance(t *testing.T) {
	m := testWalletManager(t)
	fund(t, m, WalletPrimary, 100)
	if _, err := m.Transfer(WalletPrimary, WalletStaking, 1_000, 0); !isKind(err, ErrResourceExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

//-------------------------------------------------------------
// Rewards & auto-consolidation
//-------------------------------------------------------------

func TestRewardConsolidation(t *testing.T) {
	m := testWalletManager(t)

	// Below threshold: no sweep.
	if err := m.RecordRoutingReward(5_000); err != nil {
		t.Fatalf("reward: %v", err)
	}
	rewards, _ := m.Wallet(WalletIspBypassRewards)
	if rewards.Balance != 5_000 {
		t.Fatalf("balance %d want 5000", rewards.Balance)
	}

	// Crossing the 10_000 threshold sweeps to primary, keeping the minimum.
	if err := m.RecordRoutingReward(6_000); err != nil {
		t.Fatalf("reward: %v", err)
	}
	rewards, _ = m.Wallet(WalletIspBypassRewards)
	primary, _ := m.Wallet(WalletPrimary)
	if rewards.Balance > 200 {
		t.Fatalf("rewards not swept: %d", rewards.Balance)
	}
	if primary.Balance == 0 {
		t.Fatal("primary did not receive the sweep")
	}
}

func TestGovernanceCannotTransferExternal(t *testing.T) {
	m := testWalletManager(t)
	gov, _ := m.Wallet(WalletGovernance)
	if gov.Permissions.CanTransferExternal {
		t.Fatal("governance wallet must not transfer externally")
	}
}

//-------------------------------------------------------------
// History
//-------------------------------------------------------------

func TestHistoryRunningBalance(t *testing.T) {
	m := testWalletManager(t)
	fund(t, m, WalletPrimary, 100_000)

	_, _ = m.Transfer(WalletPrimary, WalletStaking, 1_000, 0)
	_, _ = m.Transfer(WalletPrimary, WalletStaking, 2_000, 0)

	history := m.History(0)
	if len(history) != 2 {
		t.Fatalf("history %d want 2", len(history))
	}
	if history[0].RunningBalance != 1_000 || history[1].RunningBalance != 3_000 {
		t.Fatalf("running balances %d, %d", history[0].RunningBalance, history[1].RunningBalance)
	}
	if limited := m.History(1); len(limited) != 1 || limited[0].Amount != 2_000 {
		t.Fatal("limit did not keep most recent")
	}
}

func TestStatisticsJSON(t *testing.T) {
	m := testWalletManager(t)
	raw, err := m.Statistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("empty statistics")
	}
}
