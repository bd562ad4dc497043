// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
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
	TypeLogin      = "login"
	TypeMe         = "me"
	TypeSetOnline  = "set_online"
	TypeGetDialogs = "get_dialogs"
	TypeGetDialog  = "get_dialog"
	TypeAddUser    = "add_user"
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeMarkRead   = "mark_read"
	TypeBlock      = "block"
	TypeUnblock    = "unblock"
	TypePing       = "ping"
)

// Server -> Client message types. Request/response pairs share a type; the
// remaining types are room broadcasts or connection-level notifications.
const (
	TypeSessionCreated = "session_created"
	TypeNewMessage     = "new_message"
	TypeReadReceipt    = "read_receipt"
	TypeUserBlocked    = "user_blocked"
	TypeUserUnblocked  = "user_unblocked"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
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

// Validator is implemented by client messages that carry required fields.
// Validate is called before any state mutation; a non-nil error means the
// payload is malformed and the operation must not proceed.
type Validator interface {
	Validate() error
}

// LoginMsg is sent by the client to resolve or create the identity for an
// address and bind it to the connection.
type LoginMsg struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// Validate checks required fields.
func (m LoginMsg) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

// MeMsg asks the server for the identity currently bound to the connection.
// An unbound connection (say, a fresh reconnect) may present its login token
// instead.
type MeMsg struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// SetOnlineMsg is an explicit presence signal for an address.
type SetOnlineMsg struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Online  bool   `json:"online"`
}

// Validate checks required fields.
func (m SetOnlineMsg) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

// GetDialogsMsg requests the dialog list for an address.
type GetDialogsMsg struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// Validate checks required fields.
func (m GetDialogsMsg) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

// GetDialogMsg requests a single dialog with its message history and moves
// the connection into the dialog's room.
type GetDialogMsg struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	ChatID  int64  `json:"chat_id"`
}

// Validate checks required fields.
func (m GetDialogMsg) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	if m.ChatID <= 0 {
		return fmt.Errorf("chat_id is required")
	}
	return nil
}

// AddUserMsg opens a dialog between the caller's address and a recipient
// address, creating the dialog (and the recipient identity) if absent.
type AddUserMsg struct {
	Type      string `json:"type"`
	Address   string `json:"address"`
	Recipient string `json:"recipient"`
}

// Validate checks required fields.
func (m AddUserMsg) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	if m.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	return nil
}

// ChatMsg is a text message sent by the client into a dialog.
type ChatMsg struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	ChatID  int64  `json:"chat_id"`
	Text    string `json:"text"`
}

// Validate checks required fields.
func (m ChatMsg) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	if m.ChatID <= 0 {
		return fmt.Errorf("chat_id is required")
	}
	if m.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// TypingMsg indicates whether the client is currently typing in a dialog.
type TypingMsg struct {
	Type     string `json:"type"`
	Address  string `json:"address"`
	ChatID   int64  `json:"chat_id"`
	IsTyping bool   `json:"is_typing"`
}

// Validate checks required fields.
func (m TypingMsg) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	if m.ChatID <= 0 {
		return fmt.Errorf("chat_id is required")
	}
	return nil
}

// MarkReadMsg asks the server to mark a message as read by its recipient.
type MarkReadMsg struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Consumer  int64  `json:"consumer"`
}

// Validate checks required fields.
func (m MarkReadMsg) Validate() error {
	if m.ChatID <= 0 {
		return fmt.Errorf("chat_id is required")
	}
	if m.MessageID <= 0 {
		return fmt.Errorf("message_id is required")
	}
	if m.Consumer <= 0 {
		return fmt.Errorf("consumer is required")
	}
	return nil
}

// BlockMsg asks the server to record a block from sender to recipient within
// the context of a dialog.
type BlockMsg struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chat_id"`
	Sender    int64  `json:"sender"`
	Recipient int64  `json:"recipient"`
}

// Validate checks required fields.
func (m BlockMsg) Validate() error {
	if m.ChatID <= 0 {
		return fmt.Errorf("chat_id is required")
	}
	if m.Sender <= 0 {
		return fmt.Errorf("sender is required")
	}
	if m.Recipient <= 0 {
		return fmt.Errorf("recipient is required")
	}
	return nil
}

// UnblockMsg asks the server to remove the sender's block on recipient.
type UnblockMsg struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chat_id"`
	Sender    int64  `json:"sender"`
	Recipient int64  `json:"recipient"`
}

// Validate checks required fields.
func (m UnblockMsg) Validate() error {
	if m.ChatID <= 0 {
		return fmt.Errorf("chat_id is required")
	}
	if m.Sender <= 0 {
		return fmt.Errorf("sender is required")
	}
	if m.Recipient <= 0 {
		return fmt.Errorf("recipient is required")
	}
	return nil
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection is established.
type SessionCreatedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// TypingEventMsg relays a participant's typing indicator to the dialog room.
type TypingEventMsg struct {
	Type     string `json:"type"`
	ChatID   int64  `json:"chat_id"`
	Address  string `json:"address"`
	IsTyping bool   `json:"is_typing"`
}

// ErrorMsg is sent by the server to communicate an error condition.
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

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
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
	case TypeLogin:
		var m LoginMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMe:
		var m MeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetOnline:
		var m SetOnlineMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetDialogs:
		var m GetDialogsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetDialog:
		var m GetDialogMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAddUser:
		var m AddUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBlock:
		var m BlockMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnblock:
		var m UnblockMsg
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

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be a struct or map; this function marshals it to JSON, injects the
// type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
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
