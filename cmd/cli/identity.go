package cli

// Identity keystore commands: init, show, export of the public half.

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zhtp-network/core"
)

func handleIdentityInit(cmd *cobra.Command, _ []string) error {
	if _, err := core.LoadKeystore(keystoreDir()); err == nil {
		return fail(fmt.Errorf("%w: keystore already exists at %s", core.ErrConflict, keystoreDir()))
	}
	kp, err := core.GenerateKeypair()
	if err != nil {
		return fail(err)
	}
	if err := core.SaveKeystore(keystoreDir(), kp); err != nil {
		return fail(err)
	}
	fmt.Printf("Created identity %s\n", kp.Public.DID())
	fmt.Printf("Keystore: %s\n", keystoreDir())
	return nil
}

func handleIdentityShow(cmd *cobra.Command, _ []string) error {
	kp, err := loadIdentity()
	if err != nil {
		return fail(err)
	}
	fmt.Printf("DID:           %s\n", kp.Public.DID())
	fmt.Printf("Dilithium key: %d bytes\n", len(kp.Public.DilithiumPK))
	fmt.Printf("Kyber key:     %d bytes\n", len(kp.Public.KyberPK))
	return nil
}

func handleIdentityExport(cmd *cobra.Command, _ []string) error {
	kp, err := loadIdentity()
	if err != nil {
		return fail(err)
	}
	raw, err := json.MarshalIndent(&kp.Public, "", "  ")
	if err != nil {
		return fail(err)
	}
	_, err = os.Stdout.Write(append(raw, '\n'))
	return err
}

// IdentityCmd exports the identity command tree.
func IdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "identity",
		Short:             "Manage the node identity keystore",
		PersistentPreRunE: initCliMiddleware,
	}
	cmd.AddCommand(
		&cobra.Command{Use: "init", Short: "Create a fresh identity", RunE: handleIdentityInit, SilenceUsage: true, SilenceErrors: true},
		&cobra.Command{Use: "show", Short: "Show the local identity", RunE: handleIdentityShow, SilenceUsage: true, SilenceErrors: true},
		&cobra.Command{Use: "export", Short: "Export the public identity as JSON", RunE: handleIdentityExport, SilenceUsage: true, SilenceErrors: true},
	)
	return cmd
}
