package core

// Sandboxed WASM contract runtime on wasmer-go.
//
// Contracts export `memory` and a `_start` entry point and talk to the chain
// through host imports registered under the "env" namespace:
//
//   host_consume_gas(amount u64) -> i32     0 ok, -1 out of gas
//   host_read(keyPtr,keyLen,dstPtr) -> i32  value length or -1
//   host_write(keyPtr,keyLen,valPtr,valLen) -> i32
//   host_params(dstPtr) -> i32              copies call params, returns len
//   host_return(ptr,len)                    sets the call's return data
//
// The runtime is pluggable: the executor only sees ContractRuntime, so tests
// substitute an in-process fake through RuntimeFactory.Register.

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// RuntimeContext is the execution environment handed to a runtime.
type RuntimeContext struct {
	Caller      PublicKey
	BlockNumber uint64
	Timestamp   uint64
	GasLimit    uint64
	TxHash      [32]byte
}

// RuntimeResult reports a sandboxed execution back to the executor.
type RuntimeResult struct {
	Success    bool
	ReturnData []byte
	GasUsed    uint64
	Error      string
}

// ContractRuntime executes contract code against a storage binding.
type ContractRuntime interface {
	Execute(code []byte, method string, params []byte, ctx *RuntimeContext, store KVStore) (*RuntimeResult, error)
}

// RuntimeConfig bounds a sandboxed execution.
type RuntimeConfig struct {
	MaxMemoryPages uint32
	MaxGas         uint64
	GasPerHostCall uint64
}

// DefaultRuntimeConfig mirrors production limits.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxMemoryPages: 256, // 16 MiB
		MaxGas:         8_000_000,
		GasPerHostCall: 50,
	}
}

//---------------------------------------------------------------------
// Factory
//---------------------------------------------------------------------

// RuntimeFactory creates runtimes by kind. "wasm" is built in; alternates are
// registered explicitly (tests inject fakes this way, never by mutating a
// global).
type RuntimeFactory struct {
	mu     sync.RWMutex
	cfg    RuntimeConfig
	extras map[string]func(RuntimeConfig) ContractRuntime
}

func NewRuntimeFactory(cfg RuntimeConfig) *RuntimeFactory {
	return &RuntimeFactory{cfg: cfg, extras: make(map[string]func(RuntimeConfig) ContractRuntime)}
}

// Register adds a named runtime constructor.
func (f *RuntimeFactory) Register(kind string, ctor func(RuntimeConfig) ContractRuntime) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extras[kind] = ctor
}

// CreateRuntime instantiates a runtime for the requested kind.
func (f *RuntimeFactory) CreateRuntime(kind string) (ContractRuntime, error) {
	f.mu.RLock()
	ctor, ok := f.extras[kind]
	f.mu.RUnlock()
	if ok {
		return ctor(f.cfg), nil
	}
	if kind == "wasm" {
		return newWasmRuntime(f.cfg), nil
	}
	return nil, fmt.Errorf("%w: runtime kind %q", ErrNotFound, kind)
}

// IsWasmAvailable reports whether the wasmer engine can be constructed.
func (f *RuntimeFactory) IsWasmAvailable() bool {
	return wasmer.NewEngine() != nil
}

//---------------------------------------------------------------------
// wasmer-backed runtime
//---------------------------------------------------------------------

type wasmRuntime struct {
	cfg    RuntimeConfig
	engine *wasmer.Engine
}

func newWasmRuntime(cfg RuntimeConfig) *wasmRuntime {
	return &wasmRuntime{cfg: cfg, engine: wasmer.NewEngine()}
}

// runtimeGasMeter tracks gas consumed inside the sandbox.
type runtimeGasMeter struct {
	used  uint64
	limit uint64
}

func (g *runtimeGasMeter) consume(amount uint64) error {
	if g.used+amount > g.limit {
		return fmt.Errorf("%w (%d/%d)", ErrOutOfGas, g.used+amount, g.limit)
	}
	g.used += amount
	return nil
}

type wasmHostCtx struct {
	mem    *wasmer.Memory
	store  KVStore
	gas    *runtimeGasMeter
	tx     *RuntimeContext
	result *RuntimeResult
	params []byte
}

func (rt *wasmRuntime) Execute(code []byte, method string, params []byte, ctx *RuntimeContext, store KVStore) (*RuntimeResult, error) {
	limit := ctx.GasLimit
	if rt.cfg.MaxGas > 0 && limit > rt.cfg.MaxGas {
		limit = rt.cfg.MaxGas
	}
	res := &RuntimeResult{Success: true}
	meter := &runtimeGasMeter{limit: limit}

	wstore := wasmer.NewStore(rt.engine)
	mod, err := wasmer.NewModule(wstore, code)
	if err != nil {
		return nil, fmt.Errorf("wasm module: %w", err)
	}

	hctx := &wasmHostCtx{store: store, gas: meter, tx: ctx, result: res, params: params}
	imports := rt.registerHost(wstore, hctx)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, fmt.Errorf("wasm instance: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("wasm memory export missing")
	}
	hctx.mem = mem

	// Prefer an export named after the method; fall back to _start.
	entry, err := instance.Exports.GetFunction(method)
	if err != nil {
		entry, err = instance.Exports.GetFunction("_start")
		if err != nil {
			return nil, errors.New("_start function required")
		}
	}
	if _, err := entry(); err != nil {
		res.Success = false
		res.Error = err.Error()
	}

	res.GasUsed = meter.used
	return res, nil
}

// registerHost converts the chain callbacks into Wasm imports.
func (rt *wasmRuntime) registerHost(wstore *wasmer.Store, h *wasmHostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		data := h.mem.Data()[ptr : ptr+ln]
		out := make([]byte, ln)
		copy(out, data)
		return out
	}
	write := func(ptr int32, data []byte) { copy(h.mem.Data()[ptr:], data) }

	hostConsumeGas := wasmer.NewFunction(
		wstore,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.gas.consume(uint64(args[0].I64())); err != nil {
				h.result.Success = false
				h.result.Error = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostRead := wasmer.NewFunction(
		wstore,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(
				wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32),
			),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.gas.consume(rt.cfg.GasPerHostCall); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			kPtr, kLen, dPtr := args[0].I32(), args[1].I32(), args[2].I32()
			key := read(kPtr, kLen)
			val, err := h.store.Get(StorageKey("wasm", append(h.tx.TxHash[:], key...)))
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			write(dPtr, val)
			return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
		},
	)

	hostWrite := wasmer.NewFunction(
		wstore,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(
				wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32),
			),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.gas.consume(rt.cfg.GasPerHostCall); err != nil {
				h.result.Success = false
				h.result.Error = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			kPtr, kLen, vPtr, vLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			key := read(kPtr, kLen)
			val := read(vPtr, vLen)
			if err := h.store.Set(StorageKey("wasm", append(h.tx.TxHash[:], key...)), val); err != nil {
				h.result.Success = false
				h.result.Error = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	// host_params(dstPtr) -> i32(len) copies the call parameters into wasm
	// memory.
	hostParams := wasmer.NewFunction(
		wstore,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			write(args[0].I32(), h.params)
			return []wasmer.Value{wasmer.NewI32(int32(len(h.params)))}, nil
		},
	)

	hostReturn := wasmer.NewFunction(
		wstore,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(
				wasmer.ValueKind(wasmer.I32),
				wasmer.ValueKind(wasmer.I32),
			),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			p, l := args[0].I32(), args[1].I32()
			h.result.ReturnData = read(p, l)
			return []wasmer.Value{}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_gas": hostConsumeGas,
		"host_read":        hostRead,
		"host_write":       hostWrite,
		"host_params":      hostParams,
		"host_return":      hostReturn,
	})

	return imports
}
