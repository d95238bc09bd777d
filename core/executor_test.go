package core

import (
	"encoding/json"
	"testing"
)

func testContext(t *testing.T, gasLimit uint64) (*Keypair, *ExecutionContext) {
	t.Helper()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return kp, NewExecutionContext(kp.Public, 1, 1_700_000_000, gasLimit, [32]byte{1})
}

func mustParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

//-------------------------------------------------------------
// Gas accounting
//-------------------------------------------------------------

func TestExecutionContextGas(t *testing.T) {
	_, ctx := testContext(t, 10_000)

	if ctx.RemainingGas() != 10_000 {
		t.Fatalf("remaining %d", ctx.RemainingGas())
	}
	if err := ctx.ConsumeGas(1_000); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ctx.GasUsed != 1_000 || ctx.RemainingGas() != 9_000 {
		t.Fatalf("used=%d remaining=%d", ctx.GasUsed, ctx.RemainingGas())
	}
	if err := ctx.ConsumeGas(10_000); err == nil {
		t.Fatal("expected out of gas")
	}
	// A failed consume must not charge.
	if ctx.GasUsed != 1_000 {
		t.Fatalf("failed consume charged gas: %d", ctx.GasUsed)
	}
}

// Gas floor: one unit short of base+family fails with OutOfGas, registers
// nothing and leaves the log length grown by exactly the failure entry.
func TestGasFloorLeavesStateUntouched(t *testing.T) {
	store := NewMemoryStore()
	ex := NewContractExecutor(store)
	keysBefore := store.Len()

	_, ctx := testContext(t, GasBase+GasToken-1)
	call := ContractCall{
		ContractType: ContractToken,
		Method:       "create_custom_token",
		Params:       mustParams(t, createTokenParams{Name: "X", Symbol: "X", InitialSupply: 1}),
	}
	_, err := ex.ExecuteCall(call, ctx)
	if err == nil {
		t.Fatal("expected out of gas")
	}
	if !isKind(err, ErrOutOfGas) {
		t.Fatalf("wrong error kind: %v", err)
	}
	if store.Len() != keysBefore {
		t.Fatalf("storage mutated: %d → %d keys", keysBefore, store.Len())
	}
	// Failure still logs.
	if len(ex.Logs()) != 1 {
		t.Fatalf("logs %d want 1", len(ex.Logs()))
	}
}

func TestGasEstimation(t *testing.T) {
	ex := NewContractExecutor(NewMemoryStore())
	tests := []struct {
		family ContractType
		want   uint64
	}{
		{ContractToken, GasBase + GasToken},
		{ContractWhisperMessaging, GasBase + GasMessaging},
		{ContractContactRegistry, GasBase + GasContact},
		{ContractGroupChat, GasBase + GasGroup},
		{ContractFileSharing, GasBase + GasBase},
		{ContractGovernance, GasBase + GasGroup},
		{ContractWeb4Website, GasBase + GasWeb4},
	}
	for _, tc := range tests {
		if got := ex.EstimateGas(&ContractCall{ContractType: tc.family}); got != tc.want {
			t.Fatalf("%s: estimate %d want %d", tc.family, got, tc.want)
		}
	}
}

//-------------------------------------------------------------
// Token family
//-------------------------------------------------------------

func TestTokenLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ex := NewContractExecutor(store)
	creator, ctx := testContext(t, 1_000_000)

	res, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractToken,
		Method:       "create_custom_token",
		Params:       mustParams(t, createTokenParams{Name: "Test Token", Symbol: "TEST", InitialSupply: 1_000_000}),
	}, ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Success {
		t.Fatal("create not successful")
	}
	var tokenID hexBytes32
	if err := json.Unmarshal(res.ReturnData, &tokenID); err != nil {
		t.Fatalf("token id: %v", err)
	}

	recipient, _ := GenerateKeypair()
	ctx2 := NewExecutionContext(creator.Public, 2, 1_700_000_001, 1_000_000, [32]byte{2})
	if _, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractToken,
		Method:       "transfer",
		Params:       mustParams(t, transferTokenParams{TokenID: tokenID, To: recipient.Public, Amount: 250}),
	}, ctx2); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	ctx3 := NewExecutionContext(recipient.Public, 3, 1_700_000_002, 1_000_000, [32]byte{3})
	res, err = ex.ExecuteCall(ContractCall{
		ContractType: ContractToken,
		Method:       "balance_of",
		Params:       mustParams(t, balanceOfParams{TokenID: tokenID, Owner: recipient.Public}),
	}, ctx3)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	var balance uint64
	if err := json.Unmarshal(res.ReturnData, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance != 250 {
		t.Fatalf("balance %d want 250", balance)
	}
}

func TestTransferInsufficientBalanceRollsBack(t *testing.T) {
	store := NewMemoryStore()
	ex := NewContractExecutor(store)
	creator, ctx := testContext(t, 1_000_000)

	res, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractToken,
		Method:       "create_custom_token",
		Params:       mustParams(t, createTokenParams{Name: "T", Symbol: "T", InitialSupply: 10}),
	}, ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var tokenID hexBytes32
	_ = json.Unmarshal(res.ReturnData, &tokenID)

	stranger, _ := GenerateKeypair()
	ctx2 := NewExecutionContext(stranger.Public, 2, 1_700_000_001, 1_000_000, [32]byte{9})
	if _, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractToken,
		Method:       "transfer",
		Params:       mustParams(t, transferTokenParams{TokenID: tokenID, To: creator.Public, Amount: 5}),
	}, ctx2); err == nil {
		t.Fatal("expected insufficient balance")
	}

	// Creator's balance must be unchanged.
	ctx3 := NewExecutionContext(creator.Public, 3, 1_700_000_002, 1_000_000, [32]byte{10})
	res, err = ex.ExecuteCall(ContractCall{
		ContractType: ContractToken,
		Method:       "balance_of",
		Params:       mustParams(t, balanceOfParams{TokenID: tokenID, Owner: creator.Public}),
	}, ctx3)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	var balance uint64
	_ = json.Unmarshal(res.ReturnData, &balance)
	if balance != 10 {
		t.Fatalf("balance %d want 10", balance)
	}
}

//-------------------------------------------------------------
// Dispatch & logs
//-------------------------------------------------------------

func TestUnknownMethodFails(t *testing.T) {
	ex := NewContractExecutor(NewMemoryStore())
	_, ctx := testContext(t, 100_000)
	_, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractToken,
		Method:       "no_such_method",
		Params:       json.RawMessage("{}"),
	}, ctx)
	if err == nil {
		t.Fatal("expected unknown method error")
	}
}

func TestLogOrderingStable(t *testing.T) {
	ex := NewContractExecutor(NewMemoryStore())
	kp, _ := GenerateKeypair()

	methods := []string{"create_custom_token", "no_such_method", "create_custom_token"}
	for i, m := range methods {
		ctx := NewExecutionContext(kp.Public, uint64(i), 1_700_000_000, 1_000_000, [32]byte{byte(i)})
		params := json.RawMessage("{}")
		if m == "create_custom_token" {
			params = mustParams(t, createTokenParams{Name: "L", Symbol: "L", InitialSupply: 1})
		}
		_, _ = ex.ExecuteCall(ContractCall{ContractType: ContractToken, Method: m, Params: params}, ctx)
	}

	logs := ex.Logs()
	if len(logs) != len(methods) {
		t.Fatalf("logs %d want %d", len(logs), len(methods))
	}
	for i, m := range methods {
		if logs[i].Method != m {
			t.Fatalf("log %d is %q want %q", i, logs[i].Method, m)
		}
		want := ContractID(ContractToken, m, [32]byte{byte(i)})
		if logs[i].ContractID != want {
			t.Fatalf("log %d contract id mismatch", i)
		}
	}

	ex.ClearLogs()
	if len(ex.Logs()) != 0 {
		t.Fatal("clear did not empty log")
	}
}

//-------------------------------------------------------------
// Signature predicate
//-------------------------------------------------------------

func TestValidateCallSignature(t *testing.T) {
	ex := NewContractExecutor(NewMemoryStore())
	kp, _ := GenerateKeypair()

	call := ContractCall{
		ContractType: ContractToken,
		Method:       "transfer",
		Params:       json.RawMessage(`{"amount":1}`),
		Permissions:  PermissionOwnerOnly,
	}
	payload, _ := json.Marshal(&call)
	sig, err := Sign(kp.Private.DilithiumSK, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := ex.ValidateCallSignature(&call, sig, &kp.Public)
	if err != nil || !ok {
		t.Fatalf("validate: ok=%v err=%v", ok, err)
	}

	// Changing permissions changes the signed payload.
	call.Permissions = PermissionPublic
	ok, err = ex.ValidateCallSignature(&call, sig, &kp.Public)
	if err != nil {
		t.Fatalf("validate err: %v", err)
	}
	if ok {
		t.Fatal("signature verified over altered permissions")
	}
}

//-------------------------------------------------------------
// Messaging family access control
//-------------------------------------------------------------

func TestMessageAccessControl(t *testing.T) {
	ex := NewContractExecutor(NewMemoryStore())
	sender, ctx := testContext(t, 1_000_000)
	recipient, _ := GenerateKeypair()
	eavesdropper, _ := GenerateKeypair()

	res, err := ex.ExecuteCall(ContractCall{
		ContractType: ContractWhisperMessaging,
		Method:       "send_message",
		Params:       mustParams(t, sendMessageParams{Recipient: &recipient.Public, Content: "hello"}),
	}, ctx)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var msgID hexBytes32
	_ = json.Unmarshal(res.ReturnData, &msgID)

	read := func(who *Keypair) error {
		c := NewExecutionContext(who.Public, 2, 1_700_000_001, 1_000_000, [32]byte{7})
		_, err := ex.ExecuteCall(ContractCall{
			ContractType: ContractWhisperMessaging,
			Method:       "get_message",
			Params:       mustParams(t, msgID),
		}, c)
		return err
	}

	if err := read(sender); err != nil {
		t.Fatalf("sender read: %v", err)
	}
	if err := read(recipient); err != nil {
		t.Fatalf("recipient read: %v", err)
	}
	if err := read(eavesdropper); err == nil {
		t.Fatal("eavesdropper read succeeded")
	}
}
