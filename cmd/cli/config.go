package cli

// Config bootstrap command.

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"zhtp-network/pkg/config"
)

func handleConfigInit(cmd *cobra.Command, _ []string) error {
	path := filepath.Join(configDir(), "config", "default.yaml")
	if err := config.WriteDefault(path); err != nil {
		return fail(err)
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

// ConfigCmd exports the config command tree.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "config",
		Short:             "Node configuration",
		PersistentPreRunE: initCliMiddleware,
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "init",
		Short:         "Write the default configuration file",
		RunE:          handleConfigInit,
		SilenceUsage:  true,
		SilenceErrors: true,
	})
	return cmd
}
