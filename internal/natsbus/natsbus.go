// Package natsbus connects StatusPipe to NATS JetStream. It publishes status
// changes and contact-event upload batches.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const publishTimeout = 5 * time.Second

// Config describes the NATS connection and the stream backing our subjects.
type Config struct {
	URL      string
	Stream   string
	Subjects []string
}

// Client publishes to JetStream.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect dials NATS and makes sure the configured stream captures the
// configured subjects.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("statuspipe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if cfg.Stream != "" && len(cfg.Subjects) > 0 {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.Stream,
			Description: "StatusPipe status changes and contact uploads",
			Subjects:    cfg.Subjects,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
		}
	}

	slog.Info("NATS client initialized", "url", cfg.URL, "stream", cfg.Stream, "subjects", cfg.Subjects)
	return &Client{conn: conn, js: js}, nil
}

// Publish sends data to subject and waits for the JetStream ack.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ack, err := c.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	slog.Debug("Client.Publish: published", logfields.Subject(subject), "seq", ack.Sequence)
	return nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}
