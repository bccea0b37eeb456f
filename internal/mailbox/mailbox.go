// Package mailbox provides the one-slot drawer message box.
package mailbox

import (
	"context"
	"sync"

	"github.com/BTreeMap/StatusPipe/internal/models"
)

// SlotStore is the durable backing for a Box. TakeMailbox returns and clears
// the stored message (nil when empty).
type SlotStore interface {
	PutMailbox(ctx context.Context, msg models.DrawerMessage) error
	TakeMailbox(ctx context.Context) (*models.DrawerMessage, error)
}

// Box holds at most one pending message. Post overwrites, Receive clears.
type Box struct {
	mu      sync.Mutex
	pending *models.DrawerMessage
}

// New returns an empty in-memory Box.
func New() *Box {
	return &Box{}
}

func (b *Box) Post(_ context.Context, msg models.DrawerMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = &msg
	return nil
}

func (b *Box) Receive(_ context.Context) (*models.DrawerMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := b.pending
	b.pending = nil
	return msg, nil
}

// Durable is a Box backed by a SlotStore so a message posted by one process
// can be received by another.
type Durable struct {
	slots SlotStore
}

// NewDurable wraps a SlotStore.
func NewDurable(slots SlotStore) *Durable {
	return &Durable{slots: slots}
}

func (d *Durable) Post(ctx context.Context, msg models.DrawerMessage) error {
	return d.slots.PutMailbox(ctx, msg)
}

func (d *Durable) Receive(ctx context.Context) (*models.DrawerMessage, error) {
	return d.slots.TakeMailbox(ctx)
}
