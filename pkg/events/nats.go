package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when NATSPublisher is created without a prefix
const DefaultSubjectPrefix = "aegis.widgets"

// Conn is the subset of *nats.Conn used for publishing
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to <prefix>.<widgetID>.<type>
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher on conn
func NewNATSPublisher(conn Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

// Subject returns the subject an event is published on
func (p *NATSPublisher) Subject(event Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(event.WidgetID), event.Type)
}

// Publish implements Publisher
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish widget event",
			zap.String("subject", subject),
			zap.String("widget_id", event.WidgetID),
			zap.Error(err))
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}
	return nil
}

// subjectToken replaces characters that carry meaning in NATS subjects
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}
