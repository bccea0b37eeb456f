package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/StatusPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store. The DSN is a file path; its
// directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time keeps claim-then-update sequences atomic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadStatus(ctx context.Context) (models.StatusState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM status_state WHERE id = 1`).Scan(&payload)
	return decodeStatus(payload, err)
}

func (s *SQLiteStore) SaveStatus(ctx context.Context, state models.StatusState) error {
	payload, err := models.MarshalStatusState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO status_state (id, kind, payload, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, payload = excluded.payload, updated_at = excluded.updated_at`,
		string(state.Kind()), string(payload), utc(time.Now()),
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveStatus failed", "error", err, "kind", state.Kind())
		return fmt.Errorf("save status failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveStatus succeeded", "kind", state.Kind())
	return nil
}

func (s *SQLiteStore) PutMailbox(ctx context.Context, msg models.DrawerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mailbox message failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drawer_mailbox (id, kind, payload, posted_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, payload = excluded.payload, posted_at = excluded.posted_at`,
		string(msg.Kind), string(payload), utc(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put mailbox failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TakeMailbox(ctx context.Context) (*models.DrawerMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("take mailbox begin failed: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx, `SELECT payload FROM drawer_mailbox WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take mailbox query failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM drawer_mailbox WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("take mailbox delete failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("take mailbox commit failed: %w", err)
	}
	return decodeMailbox(payload)
}

func (s *SQLiteStore) AddContactEvent(ctx context.Context, ev ContactEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = newID("contact_")
	}
	rssi, err := encodeRSSI(ev.RSSIValues)
	if err != nil {
		return "", fmt.Errorf("encode rssi values failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contact_events (id, peer_id, timestamp, rssi_values, tx_power, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.PeerID, utc(ev.Timestamp), rssi, ev.TxPower, ev.Duration.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("add contact event failed: %w", err)
	}
	return ev.ID, nil
}

func (s *SQLiteStore) ContactEventsSince(ctx context.Context, from time.Time) ([]ContactEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, peer_id, timestamp, rssi_values, tx_power, duration_ms
		 FROM contact_events WHERE timestamp >= ? ORDER BY timestamp ASC`, utc(from),
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

func (s *SQLiteStore) RemoveExpiredContactEvents(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contact_events WHERE timestamp < ?`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("remove expired contact events failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RemoveExpiredContactEvents", "removed", n)
	}
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
