// Package store provides storage backends for StatusPipe.
//
// SQLiteStore and PostgresStore persist the current status, the drawer
// mailbox slot, durable jobs, the outbox, inbound dedup records and contact
// events. InMemoryStore covers the status, mailbox and contact events for
// tests and dry runs.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// StatusRepo persists the single current status.
type StatusRepo interface {
	LoadStatus(ctx context.Context) (models.StatusState, error)
	SaveStatus(ctx context.Context, state models.StatusState) error
}

// MailboxRepo persists the one-slot drawer mailbox.
type MailboxRepo interface {
	PutMailbox(ctx context.Context, msg models.DrawerMessage) error
	TakeMailbox(ctx context.Context) (*models.DrawerMessage, error)
}

// ContactEvent is a proximity record collected from a nearby device.
type ContactEvent struct {
	ID         string        `json:"id"`
	PeerID     string        `json:"peer_id"`
	Timestamp  time.Time     `json:"timestamp"`
	RSSIValues []int         `json:"rssi_values"`
	TxPower    int           `json:"tx_power"`
	Duration   time.Duration `json:"duration"`
}

// ContactEventRepo stores proximity records until they are uploaded or expire.
type ContactEventRepo interface {
	AddContactEvent(ctx context.Context, ev ContactEvent) (string, error)
	ContactEventsSince(ctx context.Context, from time.Time) ([]ContactEvent, error)
	RemoveExpiredContactEvents(ctx context.Context, before time.Time) (int, error)
}

// Store is the full persistence surface used by the daemon.
type Store interface {
	StatusRepo
	MailboxRepo
	ContactEventRepo
	JobRepo
	OutboxRepo
	DedupRepo
	Close() error
}

// InMemoryStore keeps the status, mailbox slot and contact events in memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	status   models.StatusState
	mailbox  *models.DrawerMessage
	contacts []ContactEvent
}

var (
	_ StatusRepo       = (*InMemoryStore)(nil)
	_ MailboxRepo      = (*InMemoryStore)(nil)
	_ ContactEventRepo = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) LoadStatus(_ context.Context) (models.StatusState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return models.Ok{}, nil
	}
	return s.status, nil
}

func (s *InMemoryStore) SaveStatus(_ context.Context, state models.StatusState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = state
	return nil
}

func (s *InMemoryStore) PutMailbox(_ context.Context, msg models.DrawerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailbox = &msg
	return nil
}

func (s *InMemoryStore) TakeMailbox(_ context.Context) (*models.DrawerMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.mailbox
	s.mailbox = nil
	return msg, nil
}

func (s *InMemoryStore) AddContactEvent(_ context.Context, ev ContactEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = newID("contact_")
	}
	s.contacts = append(s.contacts, ev)
	return ev.ID, nil
}

func (s *InMemoryStore) ContactEventsSince(_ context.Context, from time.Time) ([]ContactEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ContactEvent
	for _, ev := range s.contacts {
		if !ev.Timestamp.Before(from) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *InMemoryStore) RemoveExpiredContactEvents(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.contacts[:0]
	removed := 0
	for _, ev := range s.contacts {
		if ev.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.contacts = kept
	return removed, nil
}
