package cli

// Wallet commands: balances, transfers between typed wallets, history.
// The manager is in-process state bound to the local identity; node-side
// settlement happens through the contract executor.

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"zhtp-network/core"
)

var (
	walletOnce sync.Once
	walletMgr  *core.MultiWalletManager
	walletErr  error
)

func walletManager() (*core.MultiWalletManager, error) {
	walletOnce.Do(func() {
		kp, err := loadIdentity()
		if err != nil {
			walletErr = err
			return
		}
		walletMgr = core.NewMultiWalletManager(kp.Public)
		walletMgr.CreateAllWallets()
	})
	return walletMgr, walletErr
}

func handleWalletBalances(cmd *cobra.Command, _ []string) error {
	mgr, err := walletManager()
	if err != nil {
		return fail(err)
	}
	for wt, balance := range mgr.BalanceBreakdown() {
		fmt.Printf("%-24s %d\n", wt, balance)
	}
	fmt.Printf("%-24s %d\n", "total", mgr.TotalBalance())
	return nil
}

func handleWalletTransfer(cmd *cobra.Command, args []string) error {
	mgr, err := walletManager()
	if err != nil {
		return fail(err)
	}
	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fail(fmt.Errorf("%w: bad amount %q", core.ErrInputInvalid, args[2]))
	}
	sigs, _ := cmd.Flags().GetInt("signatures")
	tx, err := mgr.Transfer(core.WalletType(args[0]), core.WalletType(args[1]), amount, sigs)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("transferred %d from %s to %s (fee %d, tx %x)\n", tx.Amount, tx.From, tx.To, tx.Fee, tx.TxID[:8])
	return nil
}

func handleWalletHistory(cmd *cobra.Command, _ []string) error {
	mgr, err := walletManager()
	if err != nil {
		return fail(err)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	for _, tx := range mgr.History(limit) {
		fmt.Printf("%x  %-20s → %-20s %12d (fee %d)\n", tx.TxID[:8], tx.From, tx.To, tx.Amount, tx.Fee)
	}
	return nil
}

// WalletCmd exports the wallet command tree.
func WalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "wallet",
		Short:             "Multi-wallet accounting",
		PersistentPreRunE: initCliMiddleware,
	}
	balances := &cobra.Command{
		Use:           "balances",
		Short:         "Show per-wallet balances",
		RunE:          handleWalletBalances,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	transfer := &cobra.Command{
		Use:           "transfer <from> <to> <amount>",
		Short:         "Move funds between typed wallets",
		Args:          cobra.ExactArgs(3),
		RunE:          handleWalletTransfer,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	transfer.Flags().Int("signatures", 0, "provided multisig signatures")
	history := &cobra.Command{
		Use:           "history",
		Short:         "Show the transaction history",
		RunE:          handleWalletHistory,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	history.Flags().Int("limit", 20, "max entries (0 = all)")
	cmd.AddCommand(balances, transfer, history)
	return cmd
}
