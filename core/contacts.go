package core

// Contact registry contract family: per-owner contact entries under the
// "contact" namespace, mutable only by their owner.

import (
	"encoding/json"
	"fmt"
)

// ContactEntry binds a display name to a peer's public key for one owner.
type ContactEntry struct {
	ContactID   [32]byte  `json:"contact_id"`
	Owner       PublicKey `json:"owner"`
	DisplayName string    `json:"display_name"`
	ContactKey  PublicKey `json:"contact_key"`
	Verified    bool      `json:"verified"`
	AddedAt     uint64    `json:"added_at"`
}

func newContactEntry(owner PublicKey, displayName string, contactKey PublicKey, addedAt uint64) *ContactEntry {
	e := &ContactEntry{
		Owner:       owner,
		DisplayName: displayName,
		ContactKey:  contactKey,
		AddedAt:     addedAt,
	}
	e.ContactID = HashBlake3(append(append([]byte("contact"), owner.KeyID...), contactKey.KeyID...))
	return e
}

type addContactParams struct {
	ContactKey  PublicKey `json:"contact_key"`
	DisplayName string    `json:"display_name"`
}

func (ex *ContractExecutor) executeContactCall(call ContractCall, ctx *ExecutionContext, store KVStore) (*ContractResult, error) {
	if err := ctx.ConsumeGas(GasContact); err != nil {
		return nil, err
	}

	switch call.Method {
	case "add_contact":
		var p addContactParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		entry := newContactEntry(ctx.Caller, p.DisplayName, p.ContactKey, ctx.Timestamp)
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		if err := store.Set(StorageKey("contact", entry.ContactID[:]), raw); err != nil {
			return nil, err
		}
		return resultWithData(hexBytes32(entry.ContactID), ctx.GasUsed)

	case "get_contact":
		entry, err := ex.loadContact(store, call.Params)
		if err != nil {
			return nil, err
		}
		if !entry.Owner.Equal(&ctx.Caller) {
			return nil, ErrUnauthorized
		}
		return resultWithData(entry, ctx.GasUsed)

	case "verify_contact":
		entry, err := ex.loadContact(store, call.Params)
		if err != nil {
			return nil, err
		}
		if !entry.Owner.Equal(&ctx.Caller) {
			return nil, ErrUnauthorized
		}
		entry.Verified = true
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		if err := store.Set(StorageKey("contact", entry.ContactID[:]), raw); err != nil {
			return nil, err
		}
		return resultWithData("contact verified", ctx.GasUsed)

	default:
		return nil, fmt.Errorf("%w: unknown contact method %q", ErrInputInvalid, call.Method)
	}
}

func (ex *ContractExecutor) loadContact(store KVStore, params json.RawMessage) (*ContactEntry, error) {
	var id hexBytes32
	if err := json.Unmarshal(params, &id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
	}
	raw, err := store.Get(StorageKey("contact", id[:]))
	if err != nil {
		return nil, fmt.Errorf("%w: contact", ErrNotFound)
	}
	var entry ContactEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
