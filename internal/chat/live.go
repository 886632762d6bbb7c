package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/repository"
)

// Subscription is a live message tail for one match. Events delivers
// at-least-once; consumers dedup on message id.
type Subscription interface {
	Events() <-chan db.Message
	Close()
}

// LiveFeed opens subscriptions scoped past a high-water mark, so the tail
// never replays history the session already loaded.
type LiveFeed interface {
	Subscribe(ctx context.Context, matchID string, afterSeq uint64) (Subscription, error)
}

// PollingFeed implements LiveFeed against the message store by polling
// past the last delivered ordering key. It stands in for a push-capable
// transport; the engine only depends on the interface.
type PollingFeed struct {
	messages *repository.MessageRepository
	interval time.Duration
	clk      clock.Clock
	log      *slog.Logger
}

func NewPollingFeed(messages *repository.MessageRepository, interval time.Duration, clk clock.Clock, log *slog.Logger) *PollingFeed {
	return &PollingFeed{messages: messages, interval: interval, clk: clk, log: log}
}

type pollingSub struct {
	events chan db.Message
	cancel context.CancelFunc
}

func (s *pollingSub) Events() <-chan db.Message { return s.events }
func (s *pollingSub) Close()                    { s.cancel() }

func (f *PollingFeed) Subscribe(ctx context.Context, matchID string, afterSeq uint64) (Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	sub := &pollingSub{
		events: make(chan db.Message, 64),
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		last := afterSeq
		for {
			select {
			case <-sctx.Done():
				return
			case <-f.clk.After(f.interval):
			}

			fresh, err := f.messages.After(sctx, matchID, last)
			if err != nil {
				if sctx.Err() != nil {
					return
				}
				f.log.Warn("live poll failed", "match_id", matchID, "err", err)
				continue
			}
			for _, msg := range fresh {
				if msg.Seq > last {
					last = msg.Seq
				}
				select {
				case sub.events <- msg:
				case <-sctx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}
