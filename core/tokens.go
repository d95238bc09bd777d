package core

// Token contract family. The native ZHTP token is seeded into every executor;
// custom tokens are created at runtime and persisted under the "token"
// namespace.

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// TokenContract is the balance-map state of one token.
type TokenContract struct {
	TokenID     [32]byte          `json:"token_id"`
	Name        string            `json:"name"`
	Symbol      string            `json:"symbol"`
	TotalSupply uint64            `json:"total_supply"`
	Creator     PublicKey         `json:"creator"`
	Balances    map[string]uint64 `json:"balances"`
}

func balanceKey(pk *PublicKey) string { return hex.EncodeToString(pk.KeyID) }

// NativeTokenID identifies the ZHTP token present in every executor.
func NativeTokenID() [32]byte {
	return HashBlake3([]byte("zhtp-native-token"))
}

// NewNativeToken seeds the ZHTP token with an empty distribution; supply is
// minted through UBI and reward flows.
func NewNativeToken() *TokenContract {
	return &TokenContract{
		TokenID:  NativeTokenID(),
		Name:     "ZHTP",
		Symbol:   "ZHTP",
		Balances: make(map[string]uint64),
	}
}

// NewCustomToken registers a fresh token with the whole initial supply
// credited to the creator.
func NewCustomToken(name, symbol string, initialSupply uint64, creator PublicKey) *TokenContract {
	id := HashBlake3([]byte("token:" + name + ":" + symbol + ":" + creator.DID()))
	t := &TokenContract{
		TokenID:     id,
		Name:        name,
		Symbol:      symbol,
		TotalSupply: initialSupply,
		Creator:     creator,
		Balances:    make(map[string]uint64),
	}
	t.Balances[balanceKey(&creator)] = initialSupply
	return t
}

// Transfer moves amount from one holder to another.
func (t *TokenContract) Transfer(from, to *PublicKey, amount uint64) error {
	fk, tk := balanceKey(from), balanceKey(to)
	if t.Balances[fk] < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", t.Balances[fk], amount)
	}
	t.Balances[fk] -= amount
	t.Balances[tk] += amount
	return nil
}

// Mint credits amount to a holder; only the creator may mint.
func (t *TokenContract) Mint(caller, to *PublicKey, amount uint64) error {
	if !t.Creator.Equal(caller) {
		return ErrUnauthorized
	}
	t.Balances[balanceKey(to)] += amount
	t.TotalSupply += amount
	return nil
}

// BalanceOf reads a holder's balance; unknown holders have zero.
func (t *TokenContract) BalanceOf(owner *PublicKey) uint64 {
	return t.Balances[balanceKey(owner)]
}

//---------------------------------------------------------------------
// Executor dispatch
//---------------------------------------------------------------------

type createTokenParams struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	InitialSupply uint64 `json:"initial_supply"`
}

type transferTokenParams struct {
	TokenID hexBytes32 `json:"token_id"`
	To      PublicKey  `json:"to"`
	Amount  uint64     `json:"amount"`
}

type balanceOfParams struct {
	TokenID hexBytes32 `json:"token_id"`
	Owner   PublicKey  `json:"owner"`
}

func (ex *ContractExecutor) executeTokenCall(call ContractCall, ctx *ExecutionContext, store KVStore) (*ContractResult, error) {
	if err := ctx.ConsumeGas(GasToken); err != nil {
		return nil, err
	}

	switch call.Method {
	case "create_custom_token":
		var p createTokenParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		token := NewCustomToken(p.Name, p.Symbol, p.InitialSupply, ctx.Caller)
		if err := ex.saveToken(store, token); err != nil {
			return nil, err
		}
		return resultWithData(hexBytes32(token.TokenID), ctx.GasUsed)

	case "transfer":
		var p transferTokenParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		token, err := ex.loadToken(store, [32]byte(p.TokenID))
		if err != nil {
			return nil, err
		}
		if err := token.Transfer(&ctx.Caller, &p.To, p.Amount); err != nil {
			return nil, err
		}
		if err := ex.saveToken(store, token); err != nil {
			return nil, err
		}
		return resultWithData("transfer successful", ctx.GasUsed)

	case "mint":
		var p transferTokenParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		token, err := ex.loadToken(store, [32]byte(p.TokenID))
		if err != nil {
			return nil, err
		}
		if err := token.Mint(&ctx.Caller, &p.To, p.Amount); err != nil {
			return nil, err
		}
		if err := ex.saveToken(store, token); err != nil {
			return nil, err
		}
		return resultWithData("mint successful", ctx.GasUsed)

	case "balance_of":
		var p balanceOfParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		token, err := ex.loadToken(store, [32]byte(p.TokenID))
		if err != nil {
			return nil, err
		}
		return resultWithData(token.BalanceOf(&p.Owner), ctx.GasUsed)

	case "total_supply":
		var id hexBytes32
		if err := json.Unmarshal(call.Params, &id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		token, err := ex.loadToken(store, [32]byte(id))
		if err != nil {
			return nil, err
		}
		return resultWithData(token.TotalSupply, ctx.GasUsed)

	default:
		return nil, fmt.Errorf("%w: unknown token method %q", ErrInputInvalid, call.Method)
	}
}

func (ex *ContractExecutor) loadToken(store KVStore, id [32]byte) (*TokenContract, error) {
	raw, err := store.Get(StorageKey("token", id[:]))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: token", ErrNotFound)
		}
		return nil, err
	}
	var t TokenContract
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	if t.Balances == nil {
		t.Balances = make(map[string]uint64)
	}
	return &t, nil
}

func (ex *ContractExecutor) saveToken(store KVStore, t *TokenContract) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return store.Set(StorageKey("token", t.TokenID[:]), raw)
}

//---------------------------------------------------------------------
// hexBytes32 – JSON-friendly [32]byte
//---------------------------------------------------------------------

// hexBytes32 marshals a 32-byte identifier as lowercase hex.
type hexBytes32 [32]byte

func (h hexBytes32) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h[:]))
}

func (h *hexBytes32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}
