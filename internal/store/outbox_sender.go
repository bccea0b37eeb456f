package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/jonboulle/clockwork"
)

// OutboxSendFunc performs the actual send of an outbox message.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and sends them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	clock          clockwork.Clock
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
}

// NewOutboxSender creates a new OutboxSender on the real clock.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	return NewOutboxSenderWithClock(repo, sendFunc, pollInterval, clockwork.NewRealClock())
}

// NewOutboxSenderWithClock creates an OutboxSender whose backoff follows clock.
func NewOutboxSenderWithClock(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, clock clockwork.Clock) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		clock:          clock,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
	}
}

// RecoverState requeues messages stuck in sending (crash recovery).
func (s *OutboxSender) RecoverState(ctx context.Context) error {
	staleBefore := s.clock.Now().Add(-s.staleThreshold)
	n, err := s.repo.RequeueStaleSendingMessages(ctx, staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverState: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.Chan():
			s.poll(ctx)
		}
	}
}

func (s *OutboxSender) poll(ctx context.Context) {
	now := s.clock.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", logfields.Error(err))
		return
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.poll: sending message", logfields.MessageID(msg.ID), logfields.MessageKind(msg.Kind))
		if err := s.sendFunc(ctx, msg); err != nil {
			slog.Error("OutboxSender.poll: send failed", logfields.MessageID(msg.ID), logfields.Error(err))
			// Exponential backoff: 10s, 20s, 40s, ...
			backoff := time.Duration(10*(1<<msg.Attempts)) * time.Second
			if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), now.Add(backoff)); err != nil {
				slog.Error("OutboxSender.poll: fail message error", logfields.MessageID(msg.ID), logfields.Error(err))
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.poll: mark sent error", logfields.MessageID(msg.ID), logfields.Error(err))
		}
	}
}
