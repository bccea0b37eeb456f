package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/google/uuid"
)

// newID returns a prefixed random identifier.
func newID(prefix string) string {
	return prefix + uuid.NewString()
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

func scanContactEvent(row rowScanner) (ContactEvent, error) {
	var ev ContactEvent
	var rssiJSON string
	var durationMS int64
	if err := row.Scan(&ev.ID, &ev.PeerID, &ev.Timestamp, &rssiJSON, &ev.TxPower, &durationMS); err != nil {
		return ev, fmt.Errorf("scan contact event failed: %w", err)
	}
	if rssiJSON != "" {
		if err := json.Unmarshal([]byte(rssiJSON), &ev.RSSIValues); err != nil {
			return ev, fmt.Errorf("decode rssi values for %s: %w", ev.ID, err)
		}
	}
	ev.Duration = time.Duration(durationMS) * time.Millisecond
	return ev, nil
}

func encodeRSSI(values []int) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeStatus turns a stored payload back into a state. A missing row loads
// as Ok.
func decodeStatus(payload string, err error) (models.StatusState, error) {
	if err == sql.ErrNoRows {
		return models.Ok{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load status failed: %w", err)
	}
	return models.UnmarshalStatusState([]byte(payload))
}

func decodeMailbox(payload string) (*models.DrawerMessage, error) {
	var msg models.DrawerMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("decode mailbox message failed: %w", err)
	}
	return &msg, nil
}

// utc normalises instants before they are written so both drivers store the
// same representation.
func utc(t time.Time) time.Time {
	return t.UTC()
}
