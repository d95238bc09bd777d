package core

// Whisper messaging contract family: direct and group messages persisted
// under the "message" namespace. Direct messages are readable only by sender
// and recipient; group messages by the sender and the group's members.

import (
	"encoding/json"
	"fmt"
)

const defaultWhisperTokens = 100

// WhisperMessage is one stored message. Either Recipient or GroupID is set.
type WhisperMessage struct {
	MessageID     [32]byte    `json:"message_id"`
	Sender        PublicKey   `json:"sender"`
	Recipient     *PublicKey  `json:"recipient,omitempty"`
	GroupID       *hexBytes32 `json:"group_id,omitempty"`
	Content       []byte      `json:"content"`
	WhisperTokens uint64      `json:"whisper_tokens"`
	SentAt        uint64      `json:"sent_at"`
	AutoBurn      bool        `json:"auto_burn"`
	BurnTimestamp *uint64     `json:"burn_timestamp,omitempty"`
}

func newDirectMessage(sender PublicKey, recipient PublicKey, content []byte, sentAt uint64) *WhisperMessage {
	m := &WhisperMessage{
		Sender:        sender,
		Recipient:     &recipient,
		Content:       content,
		WhisperTokens: defaultWhisperTokens,
		SentAt:        sentAt,
	}
	m.MessageID = m.deriveID()
	return m
}

func newGroupMessage(sender PublicKey, groupID [32]byte, content []byte, sentAt uint64) *WhisperMessage {
	gid := hexBytes32(groupID)
	m := &WhisperMessage{
		Sender:        sender,
		GroupID:       &gid,
		Content:       content,
		WhisperTokens: defaultWhisperTokens,
		SentAt:        sentAt,
	}
	m.MessageID = m.deriveID()
	return m
}

func (m *WhisperMessage) deriveID() [32]byte {
	buf := append([]byte("whisper"), m.Sender.KeyID...)
	if m.Recipient != nil {
		buf = append(buf, m.Recipient.KeyID...)
	}
	if m.GroupID != nil {
		buf = append(buf, m.GroupID[:]...)
	}
	buf = append(buf, m.Content...)
	buf = append(buf, byte(m.SentAt), byte(m.SentAt>>8), byte(m.SentAt>>16), byte(m.SentAt>>24))
	return HashBlake3(buf)
}

// visibleTo enforces sender/recipient access on direct messages. Group
// message visibility is checked against group membership by get_message.
func (m *WhisperMessage) visibleTo(pk *PublicKey) bool {
	if m.Sender.Equal(pk) {
		return true
	}
	return m.Recipient != nil && m.Recipient.Equal(pk)
}

//---------------------------------------------------------------------
// Executor dispatch
//---------------------------------------------------------------------

type sendMessageParams struct {
	Recipient     *PublicKey  `json:"recipient,omitempty"`
	GroupID       *hexBytes32 `json:"group_id,omitempty"`
	Content       string      `json:"content"`
	AutoBurn      bool        `json:"auto_burn"`
	BurnTimestamp *uint64     `json:"burn_timestamp,omitempty"`
}

func (ex *ContractExecutor) executeMessagingCall(call ContractCall, ctx *ExecutionContext, store KVStore) (*ContractResult, error) {
	if err := ctx.ConsumeGas(GasMessaging); err != nil {
		return nil, err
	}

	switch call.Method {
	case "send_message":
		var p sendMessageParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		var msg *WhisperMessage
		switch {
		case p.Recipient != nil:
			msg = newDirectMessage(ctx.Caller, *p.Recipient, []byte(p.Content), ctx.Timestamp)
		case p.GroupID != nil:
			msg = newGroupMessage(ctx.Caller, [32]byte(*p.GroupID), []byte(p.Content), ctx.Timestamp)
		default:
			return nil, fmt.Errorf("%w: must specify either recipient or group_id", ErrInputInvalid)
		}
		msg.AutoBurn = p.AutoBurn
		msg.BurnTimestamp = p.BurnTimestamp

		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		if err := store.Set(StorageKey("message", msg.MessageID[:]), raw); err != nil {
			return nil, err
		}
		return resultWithData(hexBytes32(msg.MessageID), ctx.GasUsed)

	case "get_message":
		var id hexBytes32
		if err := json.Unmarshal(call.Params, &id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		raw, err := store.Get(StorageKey("message", id[:]))
		if err != nil {
			return nil, fmt.Errorf("%w: message", ErrNotFound)
		}
		var msg WhisperMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		allowed := msg.visibleTo(&ctx.Caller)
		if !allowed && msg.GroupID != nil {
			if rawGroup, err := store.Get(StorageKey("group", msg.GroupID[:])); err == nil {
				var group GroupChat
				if json.Unmarshal(rawGroup, &group) == nil {
					allowed = group.HasMember(&ctx.Caller)
				}
			}
		}
		if !allowed {
			return nil, ErrUnauthorized
		}
		return resultWithData(&msg, ctx.GasUsed)

	default:
		return nil, fmt.Errorf("%w: unknown messaging method %q", ErrInputInvalid, call.Method)
	}
}
