package natsbus

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/models"
)

// Publisher delivers data to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subscriber is the change feed of the status machine.
type Subscriber interface {
	Subscribe() (<-chan models.StatusState, func())
}

// Bridge republishes every status change on a NATS subject.
type Bridge struct {
	feed    Subscriber
	pub     Publisher
	subject string
}

func NewBridge(feed Subscriber, pub Publisher, subject string) *Bridge {
	return &Bridge{feed: feed, pub: pub, subject: subject}
}

// Run forwards changes until ctx is done or the feed is closed. Publish
// failures are logged and the change is dropped; the next change carries the
// full state anyway.
func (b *Bridge) Run(ctx context.Context) {
	updates, unsubscribe := b.feed.Subscribe()
	defer unsubscribe()

	slog.Info("Bridge.Run: forwarding status changes", logfields.Subject(b.subject))
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-updates:
			if !ok {
				slog.Info("Bridge.Run: status feed closed")
				return
			}
			data, err := models.MarshalStatusState(state)
			if err != nil {
				slog.Error("Bridge.Run: encode failed", logfields.Error(err))
				continue
			}
			if err := b.pub.Publish(ctx, b.subject, data); err != nil {
				slog.Warn("Bridge.Run: publish failed", logfields.Subject(b.subject), logfields.ToState(string(state.Kind())), logfields.Error(err))
			}
		}
	}
}
