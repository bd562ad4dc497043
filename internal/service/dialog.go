package service

import (
	"context"
	"errors"
	"time"

	"github.com/parley/chat-server/internal/block"
	"github.com/parley/chat-server/internal/dialog"
	"github.com/parley/chat-server/internal/identity"
	"github.com/parley/chat-server/internal/protocol"
)

// DialogSummary is one entry in a dialog listing. SenderUser is always the
// caller; RecipientUser is the other participant, regardless of which side
// originally opened the dialog.
type DialogSummary struct {
	ID            int64           `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	SenderUser    *identity.User  `json:"sender_user"`
	RecipientUser *identity.User  `json:"recipient_user"`
	LastMessage   *dialog.Message `json:"last_message,omitempty"`
}

// DialogDetail is a single dialog with its full history and the block
// relation standing between the participants, if any.
type DialogDetail struct {
	ID            int64            `json:"id"`
	CreatedAt     time.Time        `json:"created_at"`
	SenderUser    *identity.User   `json:"sender_user"`
	RecipientUser *identity.User   `json:"recipient_user"`
	Messages      []dialog.Message `json:"messages"`
	Blocked       *block.Relation  `json:"blocked,omitempty"`
}

// BlockResult reports the state of a block relation after a block or
// unblock action. After unblock, Blocked holds the reverse relation that
// still stands, or nil when the pair is fully clear.
type BlockResult struct {
	DialogID int64           `json:"dialog_id"`
	Blocked  *block.Relation `json:"blocked"`
}

// Dialogs handles dialog resolution, listing, and the message gate.
type Dialogs struct {
	users   IdentityDirectory
	dialogs DialogStore
	blocks  BlockRegistry
}

// NewDialogs creates the dialog service.
func NewDialogs(users IdentityDirectory, dialogs DialogStore, blocks BlockRegistry) *Dialogs {
	return &Dialogs{users: users, dialogs: dialogs, blocks: blocks}
}

// GetDialogs lists every dialog the address participates in, newest first,
// each annotated with the latest message.
func (s *Dialogs) GetDialogs(ctx context.Context, msg protocol.GetDialogsMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}

	user, err := s.users.GetByAddress(ctx, msg.Address)
	if err != nil {
		return internalFailure("get dialogs", err)
	}
	if user == nil {
		return Fail(CodeNotFound, "user not found")
	}

	list, err := s.dialogs.ListForUser(ctx, user.ID)
	if err != nil {
		return internalFailure("get dialogs", err)
	}
	if len(list) == 0 {
		return Fail(CodeNotFound, "dialogs not found")
	}

	ids := make([]int64, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	last, err := s.dialogs.LastMessages(ctx, ids)
	if err != nil {
		return internalFailure("get dialogs", err)
	}

	cache := map[int64]*identity.User{user.ID: user}
	summaries := make([]DialogSummary, 0, len(list))
	for _, d := range list {
		partner, err := s.lookupUser(ctx, cache, d.Partner(user.ID))
		if err != nil {
			return internalFailure("get dialogs", err)
		}

		summary := DialogSummary{
			ID:            d.ID,
			CreatedAt:     d.CreatedAt,
			SenderUser:    user,
			RecipientUser: partner,
		}
		if m, ok := last[d.ID]; ok {
			msg := m
			summary.LastMessage = &msg
		}
		summaries = append(summaries, summary)
	}

	return OK("dialogs found", summaries)
}

// GetDialog returns one dialog with its ascending message history and the
// block relation between the participants. The dialog must exist and the
// caller must be a participant.
func (s *Dialogs) GetDialog(ctx context.Context, msg protocol.GetDialogMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}

	user, err := s.users.GetByAddress(ctx, msg.Address)
	if err != nil {
		return internalFailure("get dialog", err)
	}
	if user == nil {
		return Fail(CodeNotFound, "user not found")
	}

	d, err := s.dialogs.GetForUser(ctx, msg.ChatID, user.ID)
	if err != nil {
		return internalFailure("get dialog", err)
	}
	if d == nil {
		return Fail(CodeNotFound, "dialog not found")
	}

	messages, err := s.dialogs.Messages(ctx, d.ID)
	if err != nil {
		return internalFailure("get dialog", err)
	}

	partner, err := s.users.GetByID(ctx, d.Partner(user.ID))
	if err != nil {
		return internalFailure("get dialog", err)
	}

	blocked, err := s.blocks.FindBetween(ctx, user.ID, d.Partner(user.ID))
	if err != nil {
		return internalFailure("get dialog", err)
	}

	return OK("dialog found", DialogDetail{
		ID:            d.ID,
		CreatedAt:     d.CreatedAt,
		SenderUser:    user,
		RecipientUser: partner,
		Messages:      messages,
		Blocked:       blocked,
	})
}

// AddUser resolves the dialog between the caller and a recipient address,
// creating the dialog (and the recipient identity) on first contact.
// Calling it twice for the same pair, in either order, yields the same
// dialog.
func (s *Dialogs) AddUser(ctx context.Context, msg protocol.AddUserMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}
	if msg.Address == msg.Recipient {
		return Fail(CodeInvalidRequest, "you cannot add yourself")
	}

	user, err := s.users.GetByAddress(ctx, msg.Address)
	if err != nil {
		return internalFailure("add user", err)
	}
	if user == nil {
		return Fail(CodeNotFound, "user not found")
	}

	recipient, err := s.users.FindOrCreate(ctx, msg.Recipient)
	if err != nil {
		return internalFailure("add user", err)
	}

	d, err := s.dialogs.FindOrCreate(ctx, user.ID, recipient.ID)
	if errors.Is(err, dialog.ErrSelfDialog) {
		return Fail(CodeInvalidRequest, "you cannot add yourself")
	}
	if err != nil {
		return internalFailure("add user", err)
	}

	return OK("dialog ready", d)
}

// SendMessage runs the send pipeline: the caller must be a participant of
// the dialog, the other participant becomes the recipient, the block gate
// must be open, and only then is the message persisted. The caller
// broadcasts to the dialog room after a successful outcome, never before.
func (s *Dialogs) SendMessage(ctx context.Context, msg protocol.ChatMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}

	user, err := s.users.GetByAddress(ctx, msg.Address)
	if err != nil {
		return internalFailure("send message", err)
	}
	if user == nil {
		return Fail(CodeNotFound, "user not found")
	}

	d, err := s.dialogs.GetForUser(ctx, msg.ChatID, user.ID)
	if err != nil {
		return internalFailure("send message", err)
	}
	if d == nil {
		return Fail(CodeNotFound, "dialog not found")
	}

	recipient := d.Partner(user.ID)

	allowed, err := s.blocks.CanSend(ctx, user.ID, recipient)
	if err != nil {
		return internalFailure("send message", err)
	}
	if !allowed {
		return Fail(CodeBlocked, "user blocked")
	}

	m, err := s.dialogs.CreateMessage(ctx, d.ID, user.ID, recipient, msg.Text)
	if err != nil {
		return internalFailure("send message", err)
	}

	return OK("message sent", m)
}

// BlockUser records a directed block from sender to recipient. The sender
// must be a participant of the named dialog.
func (s *Dialogs) BlockUser(ctx context.Context, msg protocol.BlockMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}
	if msg.Sender == msg.Recipient {
		return Fail(CodeInvalidRequest, "you cannot block yourself")
	}

	d, err := s.dialogs.GetForUser(ctx, msg.ChatID, msg.Sender)
	if err != nil {
		return internalFailure("block user", err)
	}
	if d == nil {
		return Fail(CodeNotFound, "dialog not found")
	}

	rel, err := s.blocks.Block(ctx, msg.Sender, msg.Recipient)
	if err != nil {
		return internalFailure("block user", err)
	}

	return OK("user blocked", BlockResult{DialogID: msg.ChatID, Blocked: rel})
}

// UnblockUser removes the sender's block on recipient. The outcome reports
// the reverse relation when the recipient still blocks the sender, so the
// client can tell whether the conversation is actually open again.
func (s *Dialogs) UnblockUser(ctx context.Context, msg protocol.UnblockMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}

	d, err := s.dialogs.GetForUser(ctx, msg.ChatID, msg.Sender)
	if err != nil {
		return internalFailure("unblock user", err)
	}
	if d == nil {
		return Fail(CodeNotFound, "dialog not found")
	}

	removed, err := s.blocks.Unblock(ctx, msg.Sender, msg.Recipient)
	if err != nil {
		return internalFailure("unblock user", err)
	}
	if !removed {
		return Fail(CodeNotFound, "user not blocked")
	}

	reverse, err := s.blocks.Find(ctx, msg.Recipient, msg.Sender)
	if err != nil {
		return internalFailure("unblock user", err)
	}

	return OK("user unblocked", BlockResult{DialogID: msg.ChatID, Blocked: reverse})
}

func (s *Dialogs) lookupUser(ctx context.Context, cache map[int64]*identity.User, id int64) (*identity.User, error) {
	if u, ok := cache[id]; ok {
		return u, nil
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = u
	return u, nil
}
