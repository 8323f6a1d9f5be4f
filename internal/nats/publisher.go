package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/models"
)

// Publisher handles publishing change events to NATS.
// Events go to <subject>.<table>.<type>; flattened updates to <subject>.<table>.legacy.
type Publisher struct {
	conn    msgConn
	subject string
	logger  *logrus.Logger
}

// msgConn is the part of *nats.Conn the publisher uses
type msgConn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

func newPublisher(c msgConn, subject string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		conn:    c,
		subject: subject,
		logger:  logger,
	}
}

// NewPublisher creates a new NATS publisher
func NewPublisher(url, subject string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("table-monitor"),
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)

	return newPublisher(nc, subject, logger), nil
}

// Subject returns the subject an event of the given type on table is published to
func Subject(prefix, table, kind string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(table), kind)
}

// subjectToken makes a table name safe to use as a single subject token
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Publish publishes a change event to NATS
func (p *Publisher) Publish(event *models.ChangeEvent) error {
	// Use the transformer's payload if there is one
	data := event.RawJSON
	if len(data) == 0 {
		var err error
		data, err = json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}

	subject := Subject(p.subject, event.Table, string(event.Type))
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published %s event for %s to %s", event.Type, event.Table, subject)
	return nil
}

// PublishLegacy publishes the flattened form of an update event
func (p *Publisher) PublishLegacy(event *models.LegacyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal legacy event: %w", err)
	}
	subject := Subject(p.subject, event.TableName, "legacy")
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Flush(); err != nil {
			p.logger.Warnf("Failed to flush NATS connection: %v", err)
		}
		p.conn.Close()
	}
}

// GetConn returns the underlying NATS connection, or nil when not connected to a server
func (p *Publisher) GetConn() *nats.Conn {
	nc, _ := p.conn.(*nats.Conn)
	return nc
}
