package service

import (
	"context"

	"github.com/parley/chat-server/internal/protocol"
)

// Messages handles the read side of the message pipeline.
type Messages struct {
	dialogs DialogStore
}

// NewMessages creates the message service.
func NewMessages(dialogs DialogStore) *Messages {
	return &Messages{dialogs: dialogs}
}

// MarkAsRead flips the read flag on a message. The message must exist,
// belong to the named dialog, and have the consumer as its recipient;
// anything else is not found. Re-marking an already-read message succeeds;
// the flag only ever moves from unread to read.
func (s *Messages) MarkAsRead(ctx context.Context, msg protocol.MarkReadMsg) Outcome {
	if err := msg.Validate(); err != nil {
		return Fail(CodeInvalidRequest, "invalid parameters")
	}

	d, err := s.dialogs.Get(ctx, msg.ChatID)
	if err != nil {
		return internalFailure("mark as read", err)
	}
	if d == nil {
		return Fail(CodeNotFound, "dialog not found")
	}

	m, err := s.dialogs.MarkRead(ctx, msg.ChatID, msg.MessageID, msg.Consumer)
	if err != nil {
		return internalFailure("mark as read", err)
	}
	if m == nil {
		return Fail(CodeNotFound, "message not found")
	}

	return OK("message marked as read", m)
}
