package core

// Contract-layer data types shared between the executor, the WASM runtime
// and the Web4 registry.

import (
	"encoding/json"
	"fmt"
)

//---------------------------------------------------------------------
// Contract families
//---------------------------------------------------------------------

// ContractType tags the closed set of contract families. The set is known at
// compile time; dispatch is a tagged switch, never open-world.
type ContractType uint8

const (
	ContractToken ContractType = iota
	ContractWhisperMessaging
	ContractContactRegistry
	ContractGroupChat
	ContractFileSharing
	ContractGovernance
	ContractWeb4Website
)

func (ct ContractType) String() string {
	switch ct {
	case ContractToken:
		return "token"
	case ContractWhisperMessaging:
		return "whisper_messaging"
	case ContractContactRegistry:
		return "contact_registry"
	case ContractGroupChat:
		return "group_chat"
	case ContractFileSharing:
		return "file_sharing"
	case ContractGovernance:
		return "governance"
	case ContractWeb4Website:
		return "web4_website"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(ct))
	}
}

// CallPermissions scopes who may issue a call.
type CallPermissions uint8

const (
	PermissionPublic CallPermissions = iota
	PermissionOwnerOnly
	PermissionGovernance
)

//---------------------------------------------------------------------
// Calls, results, logs
//---------------------------------------------------------------------

// ContractCall is a single method invocation against a contract family.
type ContractCall struct {
	ContractType ContractType    `json:"contract_type"`
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params"`
	Permissions  CallPermissions `json:"permissions"`
}

// ContractResult carries the outcome of a call back to the dispatcher.
type ContractResult struct {
	Success    bool   `json:"success"`
	ReturnData []byte `json:"return_data,omitempty"`
	GasUsed    uint64 `json:"gas_used"`
}

func resultWithData(v interface{}, gasUsed uint64) (*ContractResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &ContractResult{Success: true, ReturnData: data, GasUsed: gasUsed}, nil
}

// ContractLog is an append-only execution record.
type ContractLog struct {
	ContractID    [32]byte `json:"contract_id"`
	Method        string   `json:"method"`
	CallerBytes   []byte   `json:"caller"`
	IndexedFields [][]byte `json:"indexed_fields,omitempty"`
	BlockNumber   uint64   `json:"block_number"`
}

// ContractID derives the deterministic contract identifier:
// BLAKE3(contract_type_tag ∥ method ∥ tx_hash).
func ContractID(ct ContractType, method string, txHash [32]byte) [32]byte {
	buf := make([]byte, 0, 1+len(method)+32)
	buf = append(buf, byte(ct))
	buf = append(buf, method...)
	buf = append(buf, txHash[:]...)
	return HashBlake3(buf)
}

//---------------------------------------------------------------------
// Execution context
//---------------------------------------------------------------------

// ExecutionContext is the per-call environment. The invariant
// gas_used ≤ gas_limit holds at every point: any operation that would break
// it fails before producing side effects.
type ExecutionContext struct {
	Caller      PublicKey `json:"caller"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   uint64    `json:"timestamp"`
	GasLimit    uint64    `json:"gas_limit"`
	GasUsed     uint64    `json:"gas_used"`
	TxHash      [32]byte  `json:"tx_hash"`
}

// NewExecutionContext builds a fresh context with zero gas consumed.
func NewExecutionContext(caller PublicKey, blockNumber, timestamp, gasLimit uint64, txHash [32]byte) *ExecutionContext {
	return &ExecutionContext{
		Caller:      caller,
		BlockNumber: blockNumber,
		Timestamp:   timestamp,
		GasLimit:    gasLimit,
		TxHash:      txHash,
	}
}

// CheckGas reports whether required gas is still available.
func (c *ExecutionContext) CheckGas(required uint64) error {
	if c.GasUsed+required > c.GasLimit {
		return fmt.Errorf("%w: required %d, available %d", ErrOutOfGas, required, c.GasLimit-c.GasUsed)
	}
	return nil
}

// ConsumeGas charges the context, failing before any side effect when the
// limit would be exceeded.
func (c *ExecutionContext) ConsumeGas(amount uint64) error {
	if err := c.CheckGas(amount); err != nil {
		return err
	}
	c.GasUsed += amount
	return nil
}

// RemainingGas returns the gas still spendable in this call.
func (c *ExecutionContext) RemainingGas() uint64 {
	return c.GasLimit - c.GasUsed
}
