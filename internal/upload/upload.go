// Package upload turns contact-event upload requests into durable outbox
// messages and publishes the stored events when the outbox sends them.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/store"
)

// OutboxKind is the outbox message kind of an upload request.
const OutboxKind = "contact_events_upload"

// Request is the outbox payload of an upload request.
type Request struct {
	From time.Time `json:"from"`
}

// Batch is what gets published for one upload request.
type Batch struct {
	From       time.Time            `json:"from"`
	UploadedAt time.Time            `json:"uploaded_at"`
	Events     []store.ContactEvent `json:"events"`
}

// Uploader queues upload requests in an OutboxRepo.
type Uploader struct {
	outbox store.OutboxRepo
}

func NewUploader(outbox store.OutboxRepo) *Uploader {
	return &Uploader{outbox: outbox}
}

// Upload queues the upload of contact events recorded at or after from.
// Requests for the same instant collapse while one is still pending.
func (u *Uploader) Upload(ctx context.Context, from time.Time) error {
	payload, err := json.Marshal(Request{From: from})
	if err != nil {
		return fmt.Errorf("failed to encode upload request: %w", err)
	}
	dedupeKey := OutboxKind + ":" + from.UTC().Format(time.RFC3339Nano)
	id, err := u.outbox.EnqueueOutboxMessage(ctx, OutboxKind, string(payload), dedupeKey)
	if err != nil {
		return fmt.Errorf("failed to queue contact event upload: %w", err)
	}
	slog.Debug("Uploader.Upload: upload queued", logfields.MessageID(id), "from", from)
	return nil
}

// Source reads stored contact events.
type Source interface {
	ContactEventsSince(ctx context.Context, from time.Time) ([]store.ContactEvent, error)
}

// Publisher delivers an encoded batch to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// SendFunc returns the outbox send function for upload requests: it loads the
// events since the requested instant and publishes them as one Batch.
func SendFunc(source Source, pub Publisher, subject string, now func() time.Time) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKind {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var req Request
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &req); err != nil {
			return fmt.Errorf("invalid upload request: %w", err)
		}

		events, err := source.ContactEventsSince(ctx, req.From)
		if err != nil {
			return fmt.Errorf("failed to load contact events: %w", err)
		}
		if events == nil {
			events = []store.ContactEvent{}
		}

		data, err := json.Marshal(Batch{From: req.From, UploadedAt: now(), Events: events})
		if err != nil {
			return fmt.Errorf("failed to encode batch: %w", err)
		}
		if err := pub.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("failed to publish contact events: %w", err)
		}
		slog.Info("SendFunc: contact events uploaded", logfields.MessageID(msg.ID), logfields.Subject(subject), "count", len(events))
		return nil
	}
}
