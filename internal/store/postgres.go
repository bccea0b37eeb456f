package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/StatusPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) LoadStatus(ctx context.Context) (models.StatusState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM status_state WHERE id = 1`).Scan(&payload)
	return decodeStatus(payload, err)
}

func (s *PostgresStore) SaveStatus(ctx context.Context, state models.StatusState) error {
	payload, err := models.MarshalStatusState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO status_state (id, kind, payload, updated_at) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		string(state.Kind()), string(payload), utc(time.Now()),
	)
	if err != nil {
		slog.Error("PostgresStore.SaveStatus failed", "error", err, "kind", state.Kind())
		return fmt.Errorf("save status failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutMailbox(ctx context.Context, msg models.DrawerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mailbox message failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drawer_mailbox (id, kind, payload, posted_at) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, payload = EXCLUDED.payload, posted_at = EXCLUDED.posted_at`,
		string(msg.Kind), string(payload), utc(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put mailbox failed: %w", err)
	}
	return nil
}

// TakeMailbox deletes and returns the slot in one statement.
func (s *PostgresStore) TakeMailbox(ctx context.Context) (*models.DrawerMessage, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `DELETE FROM drawer_mailbox WHERE id = 1 RETURNING payload`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take mailbox failed: %w", err)
	}
	return decodeMailbox(payload)
}

func (s *PostgresStore) AddContactEvent(ctx context.Context, ev ContactEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = newID("contact_")
	}
	rssi, err := encodeRSSI(ev.RSSIValues)
	if err != nil {
		return "", fmt.Errorf("encode rssi values failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contact_events (id, peer_id, timestamp, rssi_values, tx_power, duration_ms) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.PeerID, utc(ev.Timestamp), rssi, ev.TxPower, ev.Duration.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("add contact event failed: %w", err)
	}
	return ev.ID, nil
}

func (s *PostgresStore) ContactEventsSince(ctx context.Context, from time.Time) ([]ContactEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, peer_id, timestamp, rssi_values, tx_power, duration_ms
		 FROM contact_events WHERE timestamp >= $1 ORDER BY timestamp ASC`, utc(from),
	)
	if err != nil {
		return nil, fmt.Errorf("query contact events failed: %w", err)
	}
	defer rows.Close()

	var events []ContactEvent
	for rows.Next() {
		ev, err := scanContactEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact events failed: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) RemoveExpiredContactEvents(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contact_events WHERE timestamp < $1`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("remove expired contact events failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RemoveExpiredContactEvents", "removed", n)
	}
	return int(n), nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
