package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/maauso/stemsplit-api/internal/job"
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes terminal job events to NATS.
type NATSNotifier struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// ConnectNATS dials url and returns a notifier that owns the connection.
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("stemsplit-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	n := NewNATSNotifier(nc, subject, logger)
	n.conn = nc
	return n, nil
}

// NewNATSNotifier creates a notifier publishing through pub.
// If subject is empty, DefaultSubject is used.
func NewNATSNotifier(pub Publisher, subject string, logger *slog.Logger) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{pub: pub, subject: subject, logger: logger}
}

// Notify publishes the event for j.
func (n *NATSNotifier) Notify(ctx context.Context, j *job.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(NewEvent(j))
	if err != nil {
		return fmt.Errorf("serialize completion event: %w", err)
	}

	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}

	n.logger.Debug("published completion",
		slog.String("job_id", j.ID),
		slog.String("subject", n.subject),
	)
	return nil
}

// Close flushes pending messages and closes the owned connection, if any.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.FlushTimeout(2 * time.Second)
	n.conn.Close()
	if err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("flush NATS connection: %w", err)
	}
	return nil
}
