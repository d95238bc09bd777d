package cli

// ──────────────────────────────────────────────────────────────────────────────
// ZHTP Web4 Deploy CLI
//
// Root command:          `deploy`
// Sub-routes:
//   (root)     – deploy a build directory to a *.zhtp domain
//   rollback   – re-point a domain at a historical version
// Status, history and listing live under the `domains` command (domains.go).
//
// Layout rules honored:
//   • Command objects declared first; export consolidated at bottom.
//   • PersistentPreRunE wires middleware once (env, logger).
//   • Controllers implement business logic with robust error handling.
// ──────────────────────────────────────────────────────────────────────────────

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"zhtp-network/core"
)

type deployFlags struct {
	buildDir string
	mode     string
	trust    string
	pin      string
	fee      uint64
	dryRun   bool
	yes      bool
}

var dFlags deployFlags

func handleDeploy(cmd *cobra.Command, args []string) error {
	domain := args[0]

	if !core.IsValidDomain(domain) {
		return fail(fmt.Errorf("%w: domain must end with .zhtp or .sov", core.ErrInputInvalid))
	}

	trust, err := trustConfigFromFlags(dFlags.trust, dFlags.pin)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", core.ErrInputInvalid, err))
	}
	if err := confirmTOFUIfNeeded(&trust); err != nil {
		return fail(err)
	}

	if dFlags.dryRun {
		files, err := dryRunListing(dFlags.buildDir)
		if err != nil {
			return fail(err)
		}
		fmt.Println("DRY RUN - no changes will be made")
		for _, f := range files {
			fmt.Printf("  %s\n", f)
		}
		return nil
	}

	identity, err := loadIdentity()
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Using identity: %s\n", identity.Public.DID())

	trustDB, err := core.OpenTrustDB(trustDBPath())
	if err != nil {
		return fail(err)
	}
	audit, err := core.OpenAuditLog(auditLogPath())
	if err != nil {
		return fail(err)
	}
	defer audit.Close()

	client := core.NewWeb4Client(identity, trust, trustDB)
	if err := client.Connect(cmd.Context(), serverAddr()); err != nil {
		return fail(err)
	}
	defer client.Close()
	fmt.Printf("Connected to node: %s\n", client.PeerDID())

	result, err := client.Deploy(cmd.Context(), core.DeployOptions{
		Domain:      domain,
		BuildDir:    dFlags.buildDir,
		SPAMode:     strings.EqualFold(dFlags.mode, "spa"),
		FeeOverride: dFlags.fee,
	})
	if err != nil {
		return fail(err)
	}

	_ = audit.Record("deploy", map[string]string{
		"domain":   result.Domain,
		"version":  fmt.Sprint(result.Version),
		"manifest": result.ManifestCID,
	})

	fmt.Println("Deployment successful!")
	fmt.Printf("   Domain:   %s\n", result.Domain)
	fmt.Printf("   URL:      zhtp://%s\n", result.Domain)
	fmt.Printf("   Version:  v%d\n", result.Version)
	fmt.Printf("   Manifest: %s\n", result.ManifestCID)
	fmt.Printf("   Root CID: %s\n", result.RootCID)
	fmt.Printf("   Files:    %d\n", result.FilesUploaded)
	fmt.Printf("   Fee:      %d ZHTP\n", result.Fee)
	return nil
}

func dryRunListing(buildDir string) ([]string, error) {
	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInputInvalid, err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

// confirmTOFUIfNeeded asks for explicit consent before trusting a first
// certificate, unless --yes was given.
func confirmTOFUIfNeeded(cfg *core.TrustConfig) error {
	if cfg.Mode != core.TrustTOFU || dFlags.yes {
		return nil
	}
	fmt.Print("TOFU mode will pin the node's certificate on first contact. Continue? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
		return fmt.Errorf("%w: TOFU not confirmed by user", core.ErrUnauthorized)
	}
	return nil
}

func handleRollback(cmd *cobra.Command, args []string) error {
	domain := args[0]
	var toVersion uint64
	if _, err := fmt.Sscanf(args[1], "%d", &toVersion); err != nil {
		return fail(fmt.Errorf("%w: bad version %q", core.ErrInputInvalid, args[1]))
	}

	identity, err := loadIdentity()
	if err != nil {
		return fail(err)
	}
	trust, err := trustConfigFromFlags(dFlags.trust, dFlags.pin)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", core.ErrInputInvalid, err))
	}
	trustDB, err := core.OpenTrustDB(trustDBPath())
	if err != nil {
		return fail(err)
	}

	client := core.NewWeb4Client(identity, trust, trustDB)
	if err := client.Connect(context.Background(), serverAddr()); err != nil {
		return fail(err)
	}
	defer client.Close()

	rec, err := client.RollbackDomain(domain, toVersion)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Rolled back %s to v%d content as v%d (%s)\n",
		domain, toVersion, rec.Version, rec.CurrentManifestCID)
	return nil
}

// DeployCmd exports the deploy command tree.
func DeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "deploy <domain>",
		Short:             "Deploy a static site to a *.zhtp domain",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: initCliMiddleware,
		RunE:              handleDeploy,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	cmd.Flags().StringVar(&dFlags.buildDir, "dir", "./dist", "build directory to deploy")
	cmd.Flags().StringVar(&dFlags.mode, "mode", "static", "static | spa")
	cmd.Flags().StringVar(&dFlags.trust, "trust", "tofu", "pinned | tofu | strict | bootstrap")
	cmd.Flags().StringVar(&dFlags.pin, "pin", "", "hex SPKI pin (pinned mode)")
	cmd.Flags().Uint64Var(&dFlags.fee, "fee", 0, "fee override in ZHTP (0 = estimate)")
	cmd.Flags().BoolVar(&dFlags.dryRun, "dry-run", false, "list files without deploying")
	cmd.Flags().BoolVar(&dFlags.yes, "yes", false, "skip interactive confirmations")

	rollback := &cobra.Command{
		Use:           "rollback <domain> <version>",
		Short:         "Re-point a domain at a historical version",
		Args:          cobra.ExactArgs(2),
		RunE:          handleRollback,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(rollback)
	return cmd
}
