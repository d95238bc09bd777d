package core

// Group chat contract family under the "group" namespace.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GroupChat is the membership state of one group.
type GroupChat struct {
	GroupID          [32]byte  `json:"group_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Creator          PublicKey `json:"creator"`
	MaxMembers       uint32    `json:"max_members"`
	IsPrivate        bool      `json:"is_private"`
	WhisperTokenCost uint64    `json:"whisper_token_cost"`
	Members          []string  `json:"members"`
	CreatedAt        uint64    `json:"created_at"`
}

func newGroupChat(name, description string, creator PublicKey, maxMembers uint32, isPrivate bool, tokenCost, createdAt uint64) *GroupChat {
	g := &GroupChat{
		Name:             name,
		Description:      description,
		Creator:          creator,
		MaxMembers:       maxMembers,
		IsPrivate:        isPrivate,
		WhisperTokenCost: tokenCost,
		Members:          []string{hex.EncodeToString(creator.KeyID)},
		CreatedAt:        createdAt,
	}
	g.GroupID = HashBlake3(append([]byte("group:"+name+":"), creator.KeyID...))
	return g
}

// AddMember admits a new member, honouring the capacity cap.
func (g *GroupChat) AddMember(pk *PublicKey) error {
	key := hex.EncodeToString(pk.KeyID)
	for _, m := range g.Members {
		if m == key {
			return fmt.Errorf("already a member")
		}
	}
	if g.MaxMembers > 0 && uint32(len(g.Members)) >= g.MaxMembers {
		return fmt.Errorf("%w: group is full", ErrResourceExhausted)
	}
	g.Members = append(g.Members, key)
	return nil
}

// RemoveMember drops a member; the creator cannot leave their own group.
func (g *GroupChat) RemoveMember(pk *PublicKey) error {
	if g.Creator.Equal(pk) {
		return fmt.Errorf("creator cannot leave the group")
	}
	key := hex.EncodeToString(pk.KeyID)
	for i, m := range g.Members {
		if m == key {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("not a member")
}

// HasMember reports membership.
func (g *GroupChat) HasMember(pk *PublicKey) bool {
	key := hex.EncodeToString(pk.KeyID)
	for _, m := range g.Members {
		if m == key {
			return true
		}
	}
	return false
}

//---------------------------------------------------------------------
// Executor dispatch
//---------------------------------------------------------------------

type createGroupParams struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	MaxMembers       uint32 `json:"max_members"`
	IsPrivate        bool   `json:"is_private"`
	WhisperTokenCost uint64 `json:"whisper_token_cost"`
}

func (ex *ContractExecutor) executeGroupCall(call ContractCall, ctx *ExecutionContext, store KVStore) (*ContractResult, error) {
	if err := ctx.ConsumeGas(GasGroup); err != nil {
		return nil, err
	}

	switch call.Method {
	case "create_group":
		var p createGroupParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		group := newGroupChat(p.Name, p.Description, ctx.Caller, p.MaxMembers, p.IsPrivate, p.WhisperTokenCost, ctx.Timestamp)
		if err := ex.saveGroup(store, group); err != nil {
			return nil, err
		}
		return resultWithData(hexBytes32(group.GroupID), ctx.GasUsed)

	case "join_group":
		group, err := ex.loadGroup(store, call.Params)
		if err != nil {
			return nil, err
		}
		if err := group.AddMember(&ctx.Caller); err != nil {
			return nil, err
		}
		if err := ex.saveGroup(store, group); err != nil {
			return nil, err
		}
		return resultWithData("joined group", ctx.GasUsed)

	case "leave_group":
		group, err := ex.loadGroup(store, call.Params)
		if err != nil {
			return nil, err
		}
		if err := group.RemoveMember(&ctx.Caller); err != nil {
			return nil, err
		}
		if err := ex.saveGroup(store, group); err != nil {
			return nil, err
		}
		return resultWithData("left group", ctx.GasUsed)

	default:
		return nil, fmt.Errorf("%w: unknown group method %q", ErrInputInvalid, call.Method)
	}
}

func (ex *ContractExecutor) loadGroup(store KVStore, params json.RawMessage) (*GroupChat, error) {
	var id hexBytes32
	if err := json.Unmarshal(params, &id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
	}
	raw, err := store.Get(StorageKey("group", id[:]))
	if err != nil {
		return nil, fmt.Errorf("%w: group", ErrNotFound)
	}
	var g GroupChat
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (ex *ContractExecutor) saveGroup(store KVStore, g *GroupChat) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return store.Set(StorageKey("group", g.GroupID[:]), raw)
}
