// Package service implements the chat operations behind the WebSocket
// protocol: account login and presence, dialog resolution and listing, the
// message send/read pipeline, and the block gate. Every operation returns a
// structured Outcome rather than an error; storage and transport failures
// are logged and reported to the caller as a generic internal error.
package service

import (
	"context"
	"log"

	"github.com/parley/chat-server/internal/block"
	"github.com/parley/chat-server/internal/dialog"
	"github.com/parley/chat-server/internal/identity"
)

// Failure codes carried in unsuccessful outcomes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeBlocked        = "blocked"
	CodeConflict       = "conflict"
	CodeInternal       = "internal_error"
)

// Outcome is the structured result of one operation. Success carries an
// optional data payload; failure carries a code from the set above.
type Outcome struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// OK builds a successful outcome.
func OK(message string, data interface{}) Outcome {
	return Outcome{Success: true, Message: message, Data: data}
}

// Fail builds a failed outcome with the given code.
func Fail(code, message string) Outcome {
	return Outcome{Success: false, Code: code, Message: message}
}

// internalFailure logs the underlying error and returns a generic outcome.
// No internal detail reaches the client.
func internalFailure(op string, err error) Outcome {
	log.Printf("service: %s: %v", op, err)
	return Fail(CodeInternal, "internal server error")
}

// ---------------------------------------------------------------------------
// Storage collaborators. The services accept these narrow interfaces; the
// PostgreSQL stores satisfy them, and tests substitute in-memory fakes.
// ---------------------------------------------------------------------------

// IdentityDirectory resolves addresses to durable identities.
type IdentityDirectory interface {
	FindOrCreate(ctx context.Context, address string) (*identity.User, error)
	GetByID(ctx context.Context, id int64) (*identity.User, error)
	GetByAddress(ctx context.Context, address string) (*identity.User, error)
	SetOnline(ctx context.Context, address string, online bool) error
}

// DialogStore holds dialogs and their message history.
type DialogStore interface {
	FindOrCreate(ctx context.Context, userA, userB int64) (*dialog.Dialog, error)
	Get(ctx context.Context, id int64) (*dialog.Dialog, error)
	GetForUser(ctx context.Context, id, userID int64) (*dialog.Dialog, error)
	ListForUser(ctx context.Context, userID int64) ([]dialog.Dialog, error)
	Messages(ctx context.Context, dialogID int64) ([]dialog.Message, error)
	LastMessages(ctx context.Context, dialogIDs []int64) (map[int64]dialog.Message, error)
	CreateMessage(ctx context.Context, dialogID, sender, recipient int64, content string) (*dialog.Message, error)
	MarkRead(ctx context.Context, dialogID, messageID, consumer int64) (*dialog.Message, error)
}

// BlockRegistry records directed block relations and answers the gate query.
type BlockRegistry interface {
	Block(ctx context.Context, blocker, blocked int64) (*block.Relation, error)
	Unblock(ctx context.Context, blocker, blocked int64) (bool, error)
	Find(ctx context.Context, blocker, blocked int64) (*block.Relation, error)
	FindBetween(ctx context.Context, userA, userB int64) (*block.Relation, error)
	CanSend(ctx context.Context, sender, recipient int64) (bool, error)
}

// PresenceTracker caches online state outside the relational store.
type PresenceTracker interface {
	SetOnline(ctx context.Context, address string, online bool) error
}
