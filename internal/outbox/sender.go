package outbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/notify"
	"github.com/kindled-app/kindled/internal/repository"
)

// StoreSender delivers a staged entry into the message store, stamping the
// per-match ordering key and echoing the local id for reconciliation.
type StoreSender struct {
	messages *repository.MessageRepository
	notifier notify.Notifier
	clk      clock.Clock
}

func NewStoreSender(messages *repository.MessageRepository, notifier notify.Notifier, clk clock.Clock) *StoreSender {
	return &StoreSender{messages: messages, notifier: notifier, clk: clk}
}

func (s *StoreSender) Deliver(ctx context.Context, entry db.OutboxEntry) (*db.Message, error) {
	// An earlier attempt may have written the row before the confirmation
	// was lost; the local id makes the retry idempotent.
	if existing, err := s.messages.GetByLocalID(ctx, entry.MatchID, entry.LocalID); err == nil && existing != nil {
		return existing, nil
	}

	msg := db.Message{
		ID:         uuid.NewString(),
		MatchID:    entry.MatchID,
		SenderID:   entry.SenderID,
		ReceiverID: entry.ReceiverID,
		Body:       entry.Body,
		LocalID:    entry.LocalID,
		SentAt:     entry.CreatedAt,
	}
	if err := s.messages.Append(ctx, &msg); err != nil {
		return nil, err
	}

	at := s.clk.Now()
	if err := s.messages.MarkDelivered(ctx, msg.ID, at); err == nil {
		msg.DeliveredAt = &at
	}

	s.notifier.Notify(notify.NewEvent(notify.KindMessageSent, entry.MatchID, at, entry.SenderID, entry.ReceiverID))
	return &msg, nil
}
