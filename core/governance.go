package core

// Governance contract family: proposals and weighted voting under the
// "governance" namespace. Voting weight is the weight passed with the vote
// (1 when omitted); no token balance or wallet permission is consulted.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ProposalStatus tracks a proposal through its lifecycle.
type ProposalStatus string

const (
	ProposalOpen     ProposalStatus = "open"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Proposal is one governance question with a voting deadline.
type Proposal struct {
	ProposalID   [32]byte        `json:"proposal_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Proposer     PublicKey       `json:"proposer"`
	CreatedAt    uint64          `json:"created_at"`
	Deadline     uint64          `json:"deadline"`
	Status       ProposalStatus  `json:"status"`
	VotesFor     uint64          `json:"votes_for"`
	VotesAgainst uint64          `json:"votes_against"`
	Voters       map[string]bool `json:"voters"`
}

type createProposalParams struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	VotingPeriodSec uint64 `json:"voting_period_sec"`
}

type voteParams struct {
	ProposalID hexBytes32 `json:"proposal_id"`
	Approve    bool       `json:"approve"`
	Weight     uint64     `json:"weight"`
}

func (ex *ContractExecutor) executeGovernanceCall(call ContractCall, ctx *ExecutionContext, store KVStore) (*ContractResult, error) {
	// Governance shares the group gas tier.
	if err := ctx.ConsumeGas(GasGroup); err != nil {
		return nil, err
	}

	switch call.Method {
	case "create_proposal":
		var p createProposalParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		if p.VotingPeriodSec == 0 {
			p.VotingPeriodSec = 7 * 24 * 3600
		}
		prop := &Proposal{
			Title:       p.Title,
			Description: p.Description,
			Proposer:    ctx.Caller,
			CreatedAt:   ctx.Timestamp,
			Deadline:    ctx.Timestamp + p.VotingPeriodSec,
			Status:      ProposalOpen,
			Voters:      make(map[string]bool),
		}
		prop.ProposalID = HashBlake3(append([]byte("proposal:"+p.Title+":"), ctx.Caller.KeyID...))
		if err := ex.saveProposal(store, prop); err != nil {
			return nil, err
		}
		return resultWithData(hexBytes32(prop.ProposalID), ctx.GasUsed)

	case "vote":
		var p voteParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		prop, err := ex.loadProposal(store, [32]byte(p.ProposalID))
		if err != nil {
			return nil, err
		}
		if prop.Status != ProposalOpen || ctx.Timestamp > prop.Deadline {
			return nil, fmt.Errorf("%w: voting closed", ErrInputInvalid)
		}
		voter := hex.EncodeToString(ctx.Caller.KeyID)
		if prop.Voters[voter] {
			return nil, fmt.Errorf("%w: already voted", ErrInputInvalid)
		}
		weight := p.Weight
		if weight == 0 {
			weight = 1
		}
		if p.Approve {
			prop.VotesFor += weight
		} else {
			prop.VotesAgainst += weight
		}
		prop.Voters[voter] = true
		if err := ex.saveProposal(store, prop); err != nil {
			return nil, err
		}
		return resultWithData("vote recorded", ctx.GasUsed)

	case "tally":
		var id hexBytes32
		if err := json.Unmarshal(call.Params, &id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		prop, err := ex.loadProposal(store, [32]byte(id))
		if err != nil {
			return nil, err
		}
		if prop.Status == ProposalOpen && ctx.Timestamp > prop.Deadline {
			if prop.VotesFor > prop.VotesAgainst {
				prop.Status = ProposalAccepted
			} else {
				prop.Status = ProposalRejected
			}
			if err := ex.saveProposal(store, prop); err != nil {
				return nil, err
			}
		}
		return resultWithData(prop, ctx.GasUsed)

	default:
		return nil, fmt.Errorf("%w: unknown governance method %q", ErrInputInvalid, call.Method)
	}
}

func (ex *ContractExecutor) loadProposal(store KVStore, id [32]byte) (*Proposal, error) {
	raw, err := store.Get(StorageKey("governance", id[:]))
	if err != nil {
		return nil, fmt.Errorf("%w: proposal", ErrNotFound)
	}
	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Voters == nil {
		p.Voters = make(map[string]bool)
	}
	return &p, nil
}

func (ex *ContractExecutor) saveProposal(store KVStore, p *Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return store.Set(StorageKey("governance", p.ProposalID[:]), raw)
}
