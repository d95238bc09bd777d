package cli

// Domain inspection commands: status, history and listing against a node.

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"zhtp-network/core"
)

func domainClient(ctx context.Context) (*core.Web4Client, error) {
	identity, err := loadIdentity()
	if err != nil {
		return nil, err
	}
	trustDB, err := core.OpenTrustDB(trustDBPath())
	if err != nil {
		return nil, err
	}
	client := core.NewWeb4Client(identity, core.TrustConfig{Mode: core.TrustTOFU, DBPath: trustDBPath()}, trustDB)
	if err := client.Connect(ctx, serverAddr()); err != nil {
		return nil, err
	}
	return client, nil
}

func handleDomainStatus(cmd *cobra.Command, args []string) error {
	client, err := domainClient(cmd.Context())
	if err != nil {
		return fail(err)
	}
	defer client.Close()

	status, err := client.DomainStatus(args[0])
	if err != nil {
		return fail(err)
	}
	if found, _ := status["found"].(bool); !found {
		fmt.Printf("%s is not registered\n", args[0])
		return nil
	}
	fmt.Printf("Domain:   %s\n", args[0])
	fmt.Printf("Version:  v%v\n", status["version"])
	fmt.Printf("Owner:    %v\n", status["owner_did"])
	fmt.Printf("Manifest: %v\n", status["current_manifest_cid"])
	return nil
}

func handleDomainHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	client, err := domainClient(cmd.Context())
	if err != nil {
		return fail(err)
	}
	defer client.Close()

	history, err := client.DomainHistory(args[0], limit)
	if err != nil {
		return fail(err)
	}
	for _, rec := range history {
		fmt.Printf("v%-4d %s  (owner %s)\n", rec.Version, rec.CurrentManifestCID, rec.OwnerDID)
	}
	return nil
}

func handleDomainList(cmd *cobra.Command, _ []string) error {
	client, err := domainClient(cmd.Context())
	if err != nil {
		return fail(err)
	}
	defer client.Close()

	domains, err := client.ListDomains()
	if err != nil {
		return fail(err)
	}
	for _, d := range domains {
		fmt.Println(d)
	}
	return nil
}

// DomainsCmd exports the domains command tree.
func DomainsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "domains",
		Short:             "Inspect Web4 domain registrations",
		PersistentPreRunE: initCliMiddleware,
	}

	status := &cobra.Command{
		Use:           "status <domain>",
		Short:         "Show a domain's current registration",
		Args:          cobra.ExactArgs(1),
		RunE:          handleDomainStatus,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	history := &cobra.Command{
		Use:           "history <domain>",
		Short:         "List a domain's version history",
		Args:          cobra.ExactArgs(1),
		RunE:          handleDomainHistory,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	history.Flags().Int("limit", 0, "max entries (0 = all)")
	list := &cobra.Command{
		Use:           "list",
		Short:         "List registered domains",
		RunE:          handleDomainList,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(status, history, list)
	return cmd
}
