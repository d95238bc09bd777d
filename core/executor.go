package core

// Contract executor: dispatch, gas accounting, storage binding and sandboxed
// runtime delegation.
//
// A call proceeds Entry → GasCheck(base) → FamilyDispatch → (MethodCheck →
// GasCheck(family) → Deserialize → BusinessLogic → StorageWrite → Log) |
// Log(error). Writes are staged in a per-call overlay and committed only on
// success, so errors — including OutOfGas and runtime faults — leave the
// backing store untouched. The Web4Website family is the exception: it writes
// through the bound DomainRegistry's own store, not the overlay.

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ContractExecutor executes calls against a bound store. A single call holds
// an exclusive borrow on the executor's state; calls from one client are
// serialized by the outer mutex.
type ContractExecutor struct {
	mu      sync.Mutex
	storage KVStore
	logs    []ContractLog
	runtime *RuntimeFactory
	rcfg    RuntimeConfig
	web4    *DomainRegistry
	logger  *logrus.Logger
}

// NewContractExecutor wires an executor with the default runtime config and
// seeds the native ZHTP token.
func NewContractExecutor(storage KVStore) *ContractExecutor {
	return NewContractExecutorWithRuntime(storage, DefaultRuntimeConfig())
}

// NewContractExecutorWithRuntime allows tests and embedders to pick the
// runtime configuration explicitly.
func NewContractExecutorWithRuntime(storage KVStore, rcfg RuntimeConfig) *ContractExecutor {
	ex := &ContractExecutor{
		storage: storage,
		runtime: NewRuntimeFactory(rcfg),
		rcfg:    rcfg,
		logger:  logrus.StandardLogger(),
	}
	native := NewNativeToken()
	if raw, err := json.Marshal(native); err == nil {
		_ = storage.Set(StorageKey("token", native.TokenID[:]), raw)
	}
	return ex
}

// BindWeb4 attaches the domain registry serving the Web4Website family.
func (ex *ContractExecutor) BindWeb4(reg *DomainRegistry) { ex.web4 = reg }

// ExecuteCall runs one contract call to completion. Every call — success or
// failure — appends a ContractLog with the derived contract id.
func (ex *ContractExecutor) ExecuteCall(call ContractCall, ctx *ExecutionContext) (*ContractResult, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	result, err := ex.dispatch(call, ctx)

	ex.logs = append(ex.logs, ContractLog{
		ContractID:  ContractID(call.ContractType, call.Method, ctx.TxHash),
		Method:      call.Method,
		CallerBytes: append([]byte(nil), ctx.Caller.KeyID...),
		BlockNumber: ctx.BlockNumber,
	})

	if err != nil {
		ex.logger.Debugf("executor: %s.%s failed: %v", call.ContractType, call.Method, err)
		return nil, err
	}
	return result, nil
}

func (ex *ContractExecutor) dispatch(call ContractCall, ctx *ExecutionContext) (*ContractResult, error) {
	if err := ctx.ConsumeGas(GasBase); err != nil {
		return nil, err
	}

	overlay := NewWriteOverlay(ex.storage)

	var (
		result *ContractResult
		err    error
	)
	switch call.ContractType {
	case ContractToken:
		result, err = ex.executeTokenCall(call, ctx, overlay)
	case ContractWhisperMessaging:
		result, err = ex.executeMessagingCall(call, ctx, overlay)
	case ContractContactRegistry:
		result, err = ex.executeContactCall(call, ctx, overlay)
	case ContractGroupChat:
		result, err = ex.executeGroupCall(call, ctx, overlay)
	case ContractFileSharing:
		result, err = ex.executeFileCall(call, ctx, overlay)
	case ContractGovernance:
		result, err = ex.executeGovernanceCall(call, ctx, overlay)
	case ContractWeb4Website:
		result, err = ex.executeWeb4Call(call, ctx, overlay)
	default:
		err = fmt.Errorf("%w: unknown contract type %d", ErrInputInvalid, call.ContractType)
	}

	if err != nil {
		overlay.Discard()
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// ExecuteWasmContract runs contract code in the sandboxed runtime. Gas
// reported by the runtime is charged against the context; a runtime failure
// discards every staged write.
func (ex *ContractExecutor) ExecuteWasmContract(contractCode []byte, method string, params []byte, ctx *ExecutionContext) (*ContractResult, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if err := ctx.ConsumeGas(GasBase); err != nil {
		return nil, err
	}

	overlay := NewWriteOverlay(ex.storage)
	rctx := RuntimeContext{
		Caller:      ctx.Caller,
		BlockNumber: ctx.BlockNumber,
		Timestamp:   ctx.Timestamp,
		GasLimit:    ctx.RemainingGas(),
		TxHash:      ctx.TxHash,
	}

	runtime, err := ex.runtime.CreateRuntime("wasm")
	if err != nil {
		return nil, err
	}

	rres, err := runtime.Execute(contractCode, method, params, &rctx, overlay)
	if err != nil {
		overlay.Discard()
		return nil, err
	}
	if err := ctx.ConsumeGas(rres.GasUsed); err != nil {
		overlay.Discard()
		return nil, err
	}
	if !rres.Success {
		overlay.Discard()
		return nil, fmt.Errorf("wasm execution failed: %s", rres.Error)
	}
	if err := overlay.Commit(); err != nil {
		return nil, err
	}
	return &ContractResult{Success: true, ReturnData: rres.ReturnData, GasUsed: ctx.GasUsed}, nil
}

//---------------------------------------------------------------------
// Web4 family – delegates to the domain registry
//---------------------------------------------------------------------

func (ex *ContractExecutor) executeWeb4Call(call ContractCall, ctx *ExecutionContext, store KVStore) (*ContractResult, error) {
	if err := ctx.ConsumeGas(GasWeb4); err != nil {
		return nil, err
	}
	if ex.web4 == nil {
		return nil, fmt.Errorf("%w: web4 registry not bound", ErrNotFound)
	}
	return ex.web4.ExecuteContractCall(call, ctx)
}

//---------------------------------------------------------------------
// Logs
//---------------------------------------------------------------------

// Logs returns a snapshot of the execution log in insertion order.
func (ex *ContractExecutor) Logs() []ContractLog {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := make([]ContractLog, len(ex.logs))
	copy(out, ex.logs)
	return out
}

// ClearLogs discards the execution log.
func (ex *ContractExecutor) ClearLogs() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.logs = nil
}

//---------------------------------------------------------------------
// Signature validation & gas estimation
//---------------------------------------------------------------------

// ValidateCallSignature verifies sig over the deterministic serialization of
// the call, permissions included. Pure predicate; no state is touched.
func (ex *ContractExecutor) ValidateCallSignature(call *ContractCall, sig []byte, pub *PublicKey) (bool, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return false, err
	}
	return VerifySignature(pub.DilithiumPK, payload, sig)
}

// EstimateGas returns the static portion of a call's cost: base plus the
// family surcharge. Runtime-metered gas is not included.
func (ex *ContractExecutor) EstimateGas(call *ContractCall) uint64 {
	return GasBase + familyGas(call.ContractType)
}

// IsWasmAvailable reports whether the sandboxed runtime can execute code.
func (ex *ContractExecutor) IsWasmAvailable() bool {
	return ex.runtime.IsWasmAvailable()
}

// RuntimeConfiguration exposes the active runtime config.
func (ex *ContractExecutor) RuntimeConfiguration() RuntimeConfig { return ex.rcfg }
