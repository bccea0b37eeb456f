package store

import (
	"context"
	"time"
)

// DedupRecord tracks an inbound message (for example a lab result delivered
// over Kafka) so a redelivery is not applied twice.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Source      string     `json:"source"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines inbound message deduplication.
type DedupRepo interface {
	// RecordInbound inserts a record for messageID. It returns false when the
	// message was already recorded.
	RecordInbound(ctx context.Context, messageID, source string) (bool, error)

	// IsProcessed reports whether messageID was recorded and marked processed.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	MarkProcessed(ctx context.Context, messageID string) error
}
