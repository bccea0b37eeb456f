package status

import (
	"context"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/models"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/BTreeMap/StatusPipe/internal/status NotificationScheduler,ContactEventsUploader

// Persister loads and saves the single current status. LoadStatus returns
// models.Ok{} when nothing has been saved yet.
type Persister interface {
	LoadStatus(ctx context.Context) (models.StatusState, error)
	SaveStatus(ctx context.Context, state models.StatusState) error
}

// NotificationScheduler schedules local notifications. Scheduling with an id
// replaces any pending notification with the same id.
type NotificationScheduler interface {
	Schedule(ctx context.Context, id string, fireAt time.Time, n models.Notification) error
	Cancel(ctx context.Context, id string) error
}

// ContactEventsUploader requests upload of proximity records collected from
// the given instant onward.
type ContactEventsUploader interface {
	Upload(ctx context.Context, from time.Time) error
}

// Mailbox is a one-slot message box: Post overwrites any pending message and
// Receive returns and clears it (nil when empty).
type Mailbox interface {
	Post(ctx context.Context, msg models.DrawerMessage) error
	Receive(ctx context.Context) (*models.DrawerMessage, error)
}
