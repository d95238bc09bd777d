package core

// Multi-wallet accounting: typed wallet collection per identity, transfer
// validation against the permission matrix, daily limits, auto-consolidation
// of reward wallets and the DAO hierarchy rules.

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// Wallet types & permissions
//---------------------------------------------------------------------

// WalletType is the closed set of wallet roles.
type WalletType string

const (
	WalletPrimary              WalletType = "primary"
	WalletStaking              WalletType = "staking"
	WalletGovernance           WalletType = "governance"
	WalletUbiDistribution      WalletType = "ubi_distribution"
	WalletInfrastructure       WalletType = "infrastructure"
	WalletBridge               WalletType = "bridge"
	WalletSmartContract        WalletType = "smart_contract"
	WalletPrivacy              WalletType = "privacy"
	WalletIspBypassRewards     WalletType = "isp_bypass_rewards"
	WalletMeshDiscoveryRewards WalletType = "mesh_discovery_rewards"
)

// AllWalletTypes enumerates the closed set.
func AllWalletTypes() []WalletType {
	return []WalletType{
		WalletPrimary, WalletStaking, WalletGovernance, WalletUbiDistribution,
		WalletInfrastructure, WalletBridge, WalletSmartContract, WalletPrivacy,
		WalletIspBypassRewards, WalletMeshDiscoveryRewards,
	}
}

// WalletPermissions gate what a wallet may do.
type WalletPermissions struct {
	CanTransferExternal bool    `json:"can_transfer_external"`
	CanVote             bool    `json:"can_vote"`
	CanStake            bool    `json:"can_stake"`
	CanReceiveRewards   bool    `json:"can_receive_rewards"`
	DailyLimit          uint64  `json:"daily_limit"`
	MultisigThreshold   *uint32 `json:"multisig_threshold,omitempty"`
}

// permissionsFor encodes the DAO hierarchy: governance funds never leave the
// system directly, UBI distribution only feeds Primary, bridge moves require
// multisig.
func permissionsFor(wt WalletType) WalletPermissions {
	two := uint32(2)
	switch wt {
	case WalletPrimary:
		return WalletPermissions{CanTransferExternal: true, CanVote: true, CanStake: true, CanReceiveRewards: true, DailyLimit: 1_000_000}
	case WalletStaking:
		return WalletPermissions{CanStake: true, CanReceiveRewards: true, DailyLimit: 500_000}
	case WalletGovernance:
		return WalletPermissions{CanVote: true, DailyLimit: 100_000}
	case WalletUbiDistribution:
		return WalletPermissions{CanReceiveRewards: true, DailyLimit: 250_000}
	case WalletInfrastructure:
		return WalletPermissions{CanTransferExternal: true, CanReceiveRewards: true, DailyLimit: 750_000}
	case WalletBridge:
		return WalletPermissions{CanTransferExternal: true, DailyLimit: 2_000_000, MultisigThreshold: &two}
	case WalletSmartContract:
		return WalletPermissions{CanTransferExternal: true, DailyLimit: 500_000}
	case WalletPrivacy:
		return WalletPermissions{DailyLimit: 100_000}
	case WalletIspBypassRewards, WalletMeshDiscoveryRewards:
		return WalletPermissions{CanReceiveRewards: true, DailyLimit: 50_000}
	default:
		return WalletPermissions{}
	}
}

// ConsolidationRule sweeps a wallet into Primary past a threshold.
type ConsolidationRule struct {
	Enabled   bool   `json:"enabled"`
	Threshold uint64 `json:"threshold"`
	KeepMin   uint64 `json:"keep_min"`
}

func consolidationRuleFor(wt WalletType) ConsolidationRule {
	switch wt {
	case WalletIspBypassRewards, WalletMeshDiscoveryRewards:
		return ConsolidationRule{Enabled: true, Threshold: 10_000, KeepMin: 100}
	case WalletUbiDistribution:
		return ConsolidationRule{Enabled: true, Threshold: 50_000, KeepMin: 1_000}
	default:
		return ConsolidationRule{}
	}
}

//---------------------------------------------------------------------
// Wallets & history
//---------------------------------------------------------------------

// Wallet is one typed account under an identity.
type Wallet struct {
	Type        WalletType        `json:"type"`
	NodeID      [32]byte          `json:"node_id"`
	Balance     uint64            `json:"balance"`
	Permissions WalletPermissions `json:"permissions"`
	Rule        ConsolidationRule `json:"rule"`
	CreatedAt   uint64            `json:"created_at"`

	spentToday uint64
	spentDay   uint64 // unix day index the counter belongs to
}

// WalletTransaction is one append-only history record with running balance.
type WalletTransaction struct {
	TxID           [32]byte   `json:"tx_id"`
	From           WalletType `json:"from"`
	To             WalletType `json:"to"`
	Amount         uint64     `json:"amount"`
	Fee            uint64     `json:"fee"`
	Timestamp      uint64     `json:"timestamp"`
	RunningBalance uint64     `json:"running_balance"` // destination wallet after credit
	Memo           string     `json:"memo,omitempty"`
}

// MultiWalletManager owns every wallet of one identity. Per-wallet updates
// are serialized by the manager lock.
type MultiWalletManager struct {
	mu       sync.Mutex
	identity PublicKey
	wallets  map[WalletType]*Wallet
	history  []WalletTransaction
	now      func() uint64
	logger   *logrus.Entry
}

// NewMultiWalletManager creates the manager with a Primary wallet.
func NewMultiWalletManager(identity PublicKey) *MultiWalletManager {
	m := &MultiWalletManager{
		identity: identity,
		wallets:  make(map[WalletType]*Wallet),
		now:      func() uint64 { return uint64(time.Now().Unix()) },
		logger:   logrus.WithField("module", "wallets"),
	}
	_ = m.CreateWallet(WalletPrimary)
	return m
}

// SetClock overrides the clock; tests use it for daily-limit windows.
func (m *MultiWalletManager) SetClock(now func() uint64) { m.now = now }

// CreateWallet adds a typed wallet; duplicates are rejected.
func (m *MultiWalletManager) CreateWallet(wt WalletType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.wallets[wt]; exists {
		return fmt.Errorf("%w: wallet %s already exists", ErrConflict, wt)
	}
	m.wallets[wt] = &Wallet{
		Type:        wt,
		NodeID:      HashBlake3(append(append([]byte(nil), m.identity.KeyID...), wt...)),
		Permissions: permissionsFor(wt),
		Rule:        consolidationRuleFor(wt),
		CreatedAt:   m.now(),
	}
	return nil
}

// CreateAllWallets provisions the full set.
func (m *MultiWalletManager) CreateAllWallets() {
	for _, wt := range AllWalletTypes() {
		_ = m.CreateWallet(wt)
	}
}

// Wallet returns a copy of one wallet's state.
func (m *MultiWalletManager) Wallet(wt WalletType) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[wt]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: wallet %s", ErrNotFound, wt)
	}
	return *w, nil
}

//---------------------------------------------------------------------
// Transfers
//---------------------------------------------------------------------

// transferAllowed encodes the capability matrix between wallet types.
func transferAllowed(from, to WalletType) error {
	switch from {
	case WalletGovernance:
		// Governance funds stay inside the DAO.
		if to != WalletPrimary && to != WalletStaking {
			return fmt.Errorf("%w: governance wallet may only fund primary or staking", ErrUnauthorized)
		}
	case WalletUbiDistribution:
		if to != WalletPrimary {
			return fmt.Errorf("%w: ubi distribution pays out to primary only", ErrUnauthorized)
		}
	case WalletPrivacy:
		if to != WalletPrimary {
			return fmt.Errorf("%w: privacy wallet unwinds to primary only", ErrUnauthorized)
		}
	}
	return nil
}

// transferFee prices a movement between wallet types.
func transferFee(from, to WalletType, amount uint64) uint64 {
	if from == WalletBridge || to == WalletBridge {
		return amount / 100 // 1% bridge fee
	}
	if from == to {
		return 0
	}
	fee := amount / 1000 // 0.1% internal fee
	if fee == 0 && amount > 0 {
		fee = 1
	}
	return fee
}

// Transfer moves amount between two wallets of this identity, enforcing the
// capability matrix, multisig requirement and daily limits.
func (m *MultiWalletManager) Transfer(from, to WalletType, amount uint64, signatures int) (*WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.wallets[from]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", ErrNotFound, from)
	}
	dst, ok := m.wallets[to]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", ErrNotFound, to)
	}
	if from == to {
		return nil, fmt.Errorf("%w: self transfer", ErrInputInvalid)
	}
	if err := transferAllowed(from, to); err != nil {
		return nil, err
	}
	if src.Permissions.MultisigThreshold != nil && uint32(signatures) < *src.Permissions.MultisigThreshold {
		return nil, fmt.Errorf("%w: %d signatures required", ErrUnauthorized, *src.Permissions.MultisigThreshold)
	}

	fee := transferFee(from, to, amount)
	total := amount + fee
	if src.Balance < total {
		return nil, fmt.Errorf("%w: balance %d, need %d", ErrResourceExhausted, src.Balance, total)
	}

	day := m.now() / 86_400
	if src.spentDay != day {
		src.spentDay, src.spentToday = day, 0
	}
	if src.Permissions.DailyLimit > 0 && src.spentToday+total > src.Permissions.DailyLimit {
		return nil, fmt.Errorf("%w: daily limit %d exceeded", ErrResourceExhausted, src.Permissions.DailyLimit)
	}

	src.Balance -= total
	src.spentToday += total
	dst.Balance += amount

	tx := WalletTransaction{
		From:           from,
		To:             to,
		Amount:         amount,
		Fee:            fee,
		Timestamp:      m.now(),
		RunningBalance: dst.Balance,
	}
	tx.TxID = HashBlake3(append(append([]byte(nil), m.identity.KeyID...), fmt.Sprintf("%s>%s:%d:%d", from, to, amount, tx.Timestamp)...))
	m.history = append(m.history, tx)
	m.logger.Debugf("transfer %s → %s: %d (fee %d)", from, to, amount, fee)
	return &tx, nil
}

// Credit adds reward income to a wallet that accepts rewards, then applies
// the wallet's consolidation rule.
func (m *MultiWalletManager) Credit(wt WalletType, amount uint64, memo string) error {
	m.mu.Lock()
	w, ok := m.wallets[wt]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: wallet %s", ErrNotFound, wt)
	}
	if !w.Permissions.CanReceiveRewards {
		m.mu.Unlock()
		return fmt.Errorf("%w: wallet %s does not accept rewards", ErrUnauthorized, wt)
	}
	w.Balance += amount
	m.history = append(m.history, WalletTransaction{
		TxID:           HashBlake3(append(append([]byte(nil), m.identity.KeyID...), fmt.Sprintf("credit:%s:%d:%d", wt, amount, m.now())...)),
		From:           wt,
		To:             wt,
		Amount:         amount,
		Timestamp:      m.now(),
		RunningBalance: w.Balance,
		Memo:           memo,
	})
	m.mu.Unlock()

	return m.consolidate(wt)
}

// consolidate sweeps one wallet into Primary when its rule triggers.
func (m *MultiWalletManager) consolidate(wt WalletType) error {
	m.mu.Lock()
	w, ok := m.wallets[wt]
	if !ok || !w.Rule.Enabled || w.Balance < w.Rule.Threshold {
		m.mu.Unlock()
		return nil
	}
	sweep := w.Balance - w.Rule.KeepMin
	m.mu.Unlock()

	_, err := m.Transfer(wt, WalletPrimary, sweep, 0)
	if err != nil && isKind(err, ErrResourceExhausted) {
		// Daily limit hit; the sweep retries on the next credit.
		return nil
	}
	return err
}

// AutoConsolidate runs every wallet's rule, returning swept tx ids.
func (m *MultiWalletManager) AutoConsolidate() ([][32]byte, error) {
	var swept [][32]byte
	for _, wt := range AllWalletTypes() {
		if wt == WalletPrimary {
			continue
		}
		m.mu.Lock()
		w, ok := m.wallets[wt]
		trigger := ok && w.Rule.Enabled && w.Balance >= w.Rule.Threshold
		m.mu.Unlock()
		if !trigger {
			continue
		}
		before := len(m.History(0))
		if err := m.consolidate(wt); err != nil {
			return swept, err
		}
		after := m.History(0)
		for _, tx := range after[before:] {
			swept = append(swept, tx.TxID)
		}
	}
	return swept, nil
}

//---------------------------------------------------------------------
// Reward hooks
//---------------------------------------------------------------------

// RecordRoutingReward accrues mesh routing income.
func (m *MultiWalletManager) RecordRoutingReward(amount uint64) error {
	return m.Credit(WalletIspBypassRewards, amount, "routing reward")
}

// RecordDiscoveryReward accrues peer discovery income.
func (m *MultiWalletManager) RecordDiscoveryReward(amount uint64) error {
	return m.Credit(WalletMeshDiscoveryRewards, amount, "discovery reward")
}

//---------------------------------------------------------------------
// Reporting
//---------------------------------------------------------------------

// TotalBalance sums every wallet.
func (m *MultiWalletManager) TotalBalance() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, w := range m.wallets {
		total += w.Balance
	}
	return total
}

// BalanceBreakdown maps wallet type to balance.
func (m *MultiWalletManager) BalanceBreakdown() map[WalletType]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[WalletType]uint64, len(m.wallets))
	for wt, w := range m.wallets {
		out[wt] = w.Balance
	}
	return out
}

// History returns the most recent limit transactions (0 = all), oldest
// first.
func (m *MultiWalletManager) History(limit int) []WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WalletTransaction, len(m.history))
	copy(out, m.history)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Statistics renders a JSON summary of the wallet set.
func (m *MultiWalletManager) Statistics() (json.RawMessage, error) {
	m.mu.Lock()
	types := make([]string, 0, len(m.wallets))
	balances := make(map[string]uint64, len(m.wallets))
	for wt, w := range m.wallets {
		types = append(types, string(wt))
		balances[string(wt)] = w.Balance
	}
	txCount := len(m.history)
	m.mu.Unlock()
	sort.Strings(types)

	return json.Marshal(map[string]interface{}{
		"identity":     m.identity.DID(),
		"wallet_types": types,
		"balances":     balances,
		"total":        m.TotalBalance(),
		"transactions": txCount,
	})
}
