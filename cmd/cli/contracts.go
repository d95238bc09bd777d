package cli

// Contract commands: invoke a contract family method against the local
// executor and inspect the execution log.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"zhtp-network/core"
)

var (
	contractsOnce sync.Once
	contractsExec *core.ContractExecutor
	contractsErr  error
)

func contractsExecutor() (*core.ContractExecutor, error) {
	contractsOnce.Do(func() {
		store, err := core.NewFileStore(filepath.Join(configDir(), "state"))
		if err != nil {
			contractsErr = err
			return
		}
		contractsExec = core.NewContractExecutor(store)
		contractsExec.BindWeb4(core.NewDomainRegistry(store))
	})
	return contractsExec, contractsErr
}

var contractFamilies = map[string]core.ContractType{
	"token":      core.ContractToken,
	"messaging":  core.ContractWhisperMessaging,
	"contacts":   core.ContractContactRegistry,
	"groups":     core.ContractGroupChat,
	"files":      core.ContractFileSharing,
	"governance": core.ContractGovernance,
	"web4":       core.ContractWeb4Website,
}

func handleContractInvoke(cmd *cobra.Command, args []string) error {
	family, ok := contractFamilies[args[0]]
	if !ok {
		return fail(fmt.Errorf("%w: unknown family %q", core.ErrInputInvalid, args[0]))
	}
	method := args[1]
	params := json.RawMessage("{}")
	if len(args) > 2 {
		params = json.RawMessage(args[2])
	}
	gas, _ := cmd.Flags().GetUint64("gas")

	ex, err := contractsExecutor()
	if err != nil {
		return fail(err)
	}
	kp, err := loadIdentity()
	if err != nil {
		return fail(err)
	}

	txHash := core.HashBlake3(append([]byte(method), params...))
	ctx := core.NewExecutionContext(kp.Public, 0, uint64(time.Now().Unix()), gas, txHash)

	result, err := ex.ExecuteCall(core.ContractCall{
		ContractType: family,
		Method:       method,
		Params:       params,
	}, ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("success (gas %d): %s\n", result.GasUsed, string(result.ReturnData))
	return nil
}

func handleContractLogs(cmd *cobra.Command, _ []string) error {
	ex, err := contractsExecutor()
	if err != nil {
		return fail(err)
	}
	for _, log := range ex.Logs() {
		fmt.Printf("%s  %-24s block %d caller %s\n",
			hex.EncodeToString(log.ContractID[:8]), log.Method, log.BlockNumber,
			hex.EncodeToString(log.CallerBytes[:8]))
	}
	return nil
}

// ContractsCmd exports the contracts command tree.
func ContractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "contracts",
		Short:             "Invoke contract families and read logs",
		PersistentPreRunE: initCliMiddleware,
	}
	invoke := &cobra.Command{
		Use:           "invoke <family> <method> [params-json]",
		Short:         "Execute a contract call",
		Args:          cobra.RangeArgs(2, 3),
		RunE:          handleContractInvoke,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	invoke.Flags().Uint64("gas", 100_000, "gas limit")
	logs := &cobra.Command{
		Use:           "logs",
		Short:         "Show the execution log",
		RunE:          handleContractLogs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(invoke, logs)
	return cmd
}
