// Package protocol defines the websocket message types exchanged between
// clients and the server. All messages are JSON with a "type" discriminator;
// inbound payloads are decoded into closed variant structs so that malformed
// shapes are rejected at the boundary instead of leaking into the engine.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeHello         = "hello"
	TypeFindPartner   = "find_partner"
	TypeSendMessage   = "send_message"
	TypeTyping        = "typing"
	TypeReadUpTo      = "read_up_to"
	TypeReportPartner = "report_partner"
	TypeLeaveChat     = "leave_chat"
	TypeGetHistory    = "get_history"
	TypeIceNext       = "ice_next"
	TypeIcePrev       = "ice_prev"
	TypeVoiceOffer    = "voice_offer"
	TypeVoiceAnswer   = "voice_answer"
	TypeVoiceIce      = "voice_ice"
	TypePing          = "ping"
)

// Server -> Client message types. Typing, read receipts and the voice relays
// reuse the inbound type names.
const (
	TypeHelloOK     = "hello_ok"
	TypeStatus      = "status"
	TypeGlobalStats = "global_stats"
	TypeMatched     = "matched"
	TypeHistory     = "history"
	TypeMessage     = "message"
	TypeLeft        = "left"
	TypePartnerLeft = "partner_left"
	TypeRoomClosed  = "room_closed"
	TypeIcebreaker  = "icebreaker"
	TypeError       = "error"
	TypePong        = "pong"
)

// Status codes carried in StatusMsg.Code for rejected operations.
const (
	CodeInvalidAttribute = "invalid_attribute"
	CodeAlreadyInSession = "already_in_session"
	CodeTooFast          = "too_fast"
	CodeBanned           = "banned"
	CodeNotInSession     = "not_in_session"
	CodeMuted            = "muted"
	CodeRateLimited      = "rate_limited"
)

// Room teardown reasons carried by partner_left / room_closed.
const (
	ReasonUserLeft   = "user_left"
	ReasonDisconnect = "disconnect"
	ReasonKicked     = "kicked"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// HelloMsg binds a durable client identity to the current connection.
type HelloMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// FindPartnerMsg requests pairing with the given compatibility attributes.
type FindPartnerMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
	Level    string `json:"level"`
	Gender   string `json:"gender"`
}

// SendMessageMsg is a chat message addressed to the current room.
type SendMessageMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TypingMsg toggles the sender's typing indicator.
type TypingMsg struct {
	Type string `json:"type"`
	On   bool   `json:"on"`
}

// ReadUpToMsg marks all messages up to MsgID as read by the sender.
type ReadUpToMsg struct {
	Type  string `json:"type"`
	MsgID string `json:"msgId"`
}

// ReportPartnerMsg reports the current room's other occupant.
type ReportPartnerMsg struct {
	Type string `json:"type"`
}

// LeaveChatMsg leaves the current room (or the waiting queue).
type LeaveChatMsg struct {
	Type string `json:"type"`
}

// GetHistoryMsg requests the current room's buffered messages.
type GetHistoryMsg struct {
	Type string `json:"type"`
}

// IceNavMsg moves the shared icebreaker cursor (ice_next / ice_prev).
type IceNavMsg struct {
	Type string `json:"type"`
}

// VoiceMsg carries an opaque WebRTC signaling payload. The server relays it
// verbatim and never inspects the contents.
type VoiceMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// PublicProfile is the subset of connection attributes visible to a partner.
type PublicProfile struct {
	Name   string `json:"name"`
	Level  string `json:"level"`
	Gender string `json:"gender"`
}

// HelloOKMsg acknowledges identity binding.
type HelloOKMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Ts       int64  `json:"ts"`
}

// StatusMsg is the generic outcome notification. Status is one of
// "connected", "waiting", "matched", "info" or "error"; Code refines errors
// with the machine-readable rejection reason.
type StatusMsg struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Key     string `json:"key,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	Ts      int64  `json:"ts"`
}

// GlobalStatsMsg is broadcast to every connection when the global picture
// changes.
type GlobalStatsMsg struct {
	Type        string         `json:"type"`
	OnlineUsers int            `json:"onlineUsers"`
	Rooms       int            `json:"rooms"`
	Queue       map[string]int `json:"queue"`
	Ts          int64          `json:"ts"`
}

// MatchedMsg notifies one side of a successful pairing.
type MatchedMsg struct {
	Type    string        `json:"type"`
	RoomID  string        `json:"roomId"`
	You     PublicProfile `json:"you"`
	Partner PublicProfile `json:"partner"`
	Ts      int64         `json:"ts"`
}

// ChatMessageMsg is one chat message, relayed to both occupants and replayed
// by get_history.
type ChatMessageMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	From string `json:"from"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// HistoryMsg replays the room's buffered messages, oldest first.
type HistoryMsg struct {
	Type   string           `json:"type"`
	RoomID string           `json:"roomId"`
	Items  []ChatMessageMsg `json:"items"`
	Ts     int64            `json:"ts"`
}

// ServerTypingMsg relays the partner's typing indicator.
type ServerTypingMsg struct {
	Type string `json:"type"`
	From string `json:"from"`
	On   bool   `json:"on"`
	Ts   int64  `json:"ts"`
}

// ServerReadUpToMsg relays the partner's read receipt.
type ServerReadUpToMsg struct {
	Type   string `json:"type"`
	Reader string `json:"reader"`
	MsgID  string `json:"msgId"`
	Ts     int64  `json:"ts"`
}

// LeftMsg confirms to the leaver that they are out of the room.
type LeftMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Ts     int64  `json:"ts"`
}

// PartnerLeftMsg tells the remaining occupant that the other side is gone.
type PartnerLeftMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
	Ts     int64  `json:"ts"`
}

// RoomClosedMsg marks the terminal state of a room.
type RoomClosedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
	Ts     int64  `json:"ts"`
}

// IcebreakerMsg carries the room's prompt set and shared cursor.
type IcebreakerMsg struct {
	Type      string   `json:"type"`
	RoomID    string   `json:"roomId"`
	Questions []string `json:"questions"`
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Ts        int64    `json:"ts"`
}

// VoiceRelayMsg forwards an opaque signaling payload to the other occupant.
type VoiceRelayMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Ts      int64           `json:"ts"`
}

// ErrorMsg reports a protocol-level problem (parse failure, unknown type).
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw websocket bytes into a typed client message.
// It returns the message type, the decoded struct, and any error. Unknown or
// server-only types are an error.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeHello:
		var m HelloMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFindPartner:
		var m FindPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReadUpTo:
		var m ReadUpToMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReportPartner:
		var m ReportPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetHistory:
		var m GetHistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeIceNext, TypeIcePrev:
		var m IceNavMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVoiceOffer, TypeVoiceAnswer, TypeVoiceIce:
		var m VoiceMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage JSON-encodes a server payload, forcing the "type" field to
// msgType regardless of what the payload struct carried.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
