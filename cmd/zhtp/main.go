package main

import (
	"os"

	"github.com/spf13/cobra"

	"zhtp-network/cmd/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zhtp",
		Short: "ZHTP decentralized protocol stack",
	}
	rootCmd.AddCommand(cli.DeployCmd())
	rootCmd.AddCommand(cli.DomainsCmd())
	rootCmd.AddCommand(cli.IdentityCmd())
	rootCmd.AddCommand(cli.NodeCmd())
	rootCmd.AddCommand(cli.WalletCmd())
	rootCmd.AddCommand(cli.ContractsCmd())
	rootCmd.AddCommand(cli.ConfigCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
