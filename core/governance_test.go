package core

import (
	"encoding/json"
	"testing"
)

func TestGovernanceProposalLifecycle(t *testing.T) {
	ex := NewContractExecutor(NewMemoryStore())
	proposer, ctx := testContext(t, 1_000_000)

	res, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractGovernance,
		Method:       "create_proposal",
		Params:       mustParams(t, createProposalParams{Title: "raise ubi", Description: "x", VotingPeriodSec: 100}),
	}, ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var proposalID hexBytes32
	_ = json.Unmarshal(res.ReturnData, &proposalID)

	// Two voters, weighted.
	for i, approve := range []bool{true, false} {
		voter, _ := GenerateKeypair()
		c := NewExecutionContext(voter.Public, 1, ctx.Timestamp+1, 1_000_000, [32]byte{byte(i + 10)})
		weight := uint64(3)
		if !approve {
			weight = 1
		}
		if _, err := ex.ExecuteCall(ContractCall{
			ContractType: ContractGovernance,
			Method:       "vote",
			Params:       mustParams(t, voteParams{ProposalID: proposalID, Approve: approve, Weight: weight}),
		}, c); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}

	// Double voting rejected.
	c := NewExecutionContext(proposer.Public, 1, ctx.Timestamp+2, 1_000_000, [32]byte{20})
	if _, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractGovernance,
		Method:       "vote",
		Params:       mustParams(t, voteParams{ProposalID: proposalID, Approve: true, Weight: 1}),
	}, c); err != nil {
		t.Fatalf("proposer vote: %v", err)
	}
	if _, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractGovernance,
		Method:       "vote",
		Params:       mustParams(t, voteParams{ProposalID: proposalID, Approve: true, Weight: 1}),
	}, c); err == nil {
		t.Fatal("double vote accepted")
	}

	// After the deadline the tally closes the proposal.
	late := NewExecutionContext(proposer.Public, 2, ctx.Timestamp+200, 1_000_000, [32]byte{21})
	res, err = ex.ExecuteCall(ContractCall{
		ContractType: ContractGovernance,
		Method:       "tally",
		Params:       mustParams(t, proposalID),
	}, late)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	var prop Proposal
	if err := json.Unmarshal(res.ReturnData, &prop); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if prop.Status != ProposalAccepted {
		t.Fatalf("status %s want accepted (for=%d against=%d)", prop.Status, prop.VotesFor, prop.VotesAgainst)
	}
}

func TestWeb4ContractFamilyThroughExecutor(t *testing.T) {
	store := NewMemoryStore()
	ex := NewContractExecutor(store)
	ex.BindWeb4(NewDomainRegistry(store))
	_, ctx := testContext(t, 1_000_000)

	res, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractWeb4Website,
		Method:       "register_domain",
		Params:       mustParams(t, web4RegisterParams{Domain: "site.zhtp", ManifestCID: "dht:manifest_site"}),
	}, ctx)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	var rec DomainRecord
	if err := json.Unmarshal(res.ReturnData, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Version != 1 || rec.OwnerDID != ctx.Caller.DID() {
		t.Fatalf("record %+v", rec)
	}

	// Unbound registry is NotFound, not a crash.
	bare := NewContractExecutor(NewMemoryStore())
	_, ctx2 := testContext(t, 1_000_000)
	if _, err := bare.ExecuteCall(ContractCall{
		ContractType: ContractWeb4Website,
		Method:       "register_domain",
		Params:       mustParams(t, web4RegisterParams{Domain: "site.zhtp", ManifestCID: "dht:manifest_site"}),
	}, ctx2); !isKind(err, ErrNotFound) {
		t.Fatalf("unbound registry: %v", err)
	}
}

//-------------------------------------------------------------
// Pluggable runtime
//-------------------------------------------------------------

type fakeRuntime struct {
	gas    uint64
	fail   bool
	writes map[string][]byte
}

func (f *fakeRuntime) Execute(code []byte, method string, params []byte, ctx *RuntimeContext, store KVStore) (*RuntimeResult, error) {
	for k, v := range f.writes {
		if err := store.Set([]byte(k), v); err != nil {
			return nil, err
		}
	}
	if f.fail {
		return &RuntimeResult{Success: false, GasUsed: f.gas, Error: "trap"}, nil
	}
	return &RuntimeResult{Success: true, ReturnData: []byte("done"), GasUsed: f.gas}, nil
}

func TestWasmRuntimeGasAndRollback(t *testing.T) {
	store := NewMemoryStore()
	ex := NewContractExecutor(store)
	_, ctx := testContext(t, 10_000)

	rt := &fakeRuntime{gas: 2_000, writes: map[string][]byte{"wkey": []byte("wval")}}
	ex.runtime.Register("wasm", func(RuntimeConfig) ContractRuntime { return rt })

	res, err := ex.ExecuteWasmContract([]byte{0}, "run", nil, ctx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ctx.GasUsed != GasBase+2_000 {
		t.Fatalf("gas %d want %d", ctx.GasUsed, GasBase+2_000)
	}
	if string(res.ReturnData) != "done" {
		t.Fatalf("return %q", res.ReturnData)
	}
	if has, _ := store.Has([]byte("wkey")); !has {
		t.Fatal("runtime write not committed")
	}

	// A failing runtime discards its writes.
	store2 := NewMemoryStore()
	ex2 := NewContractExecutor(store2)
	rt2 := &fakeRuntime{gas: 100, fail: true, writes: map[string][]byte{"bad": []byte("x")}}
	ex2.runtime.Register("wasm", func(RuntimeConfig) ContractRuntime { return rt2 })
	_, ctx2 := testContext(t, 10_000)
	if _, err := ex2.ExecuteWasmContract([]byte{0}, "run", nil, ctx2); err == nil {
		t.Fatal("expected runtime failure")
	}
	if has, _ := store2.Has([]byte("bad")); has {
		t.Fatal("failed runtime write committed")
	}

	// Runtime gas beyond the context limit is out-of-gas with no commit.
	store3 := NewMemoryStore()
	ex3 := NewContractExecutor(store3)
	rt3 := &fakeRuntime{gas: 1_000_000, writes: map[string][]byte{"big": []byte("x")}}
	ex3.runtime.Register("wasm", func(RuntimeConfig) ContractRuntime { return rt3 })
	_, ctx3 := testContext(t, 5_000)
	if _, err := ex3.ExecuteWasmContract([]byte{0}, "run", nil, ctx3); !isKind(err, ErrOutOfGas) {
		t.Fatalf("expected out of gas, got %v", err)
	}
	if has, _ := store3.Has([]byte("big")); has {
		t.Fatal("over-limit write committed")
	}
}
