// Package nats implements a NATS publisher.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher publishes JSON payloads to NATS subjects.
type Publisher struct {
	conn Conn
	seq  atomic.Uint64
}

// New creates a Publisher over an existing connection.
func New(conn Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Connect dials the NATS server at url.
func Connect(url, name string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return New(conn), nil
}

// Publish marshals payload and publishes it to subject, waiting for the
// server to acknowledge the flush.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if p.conn == nil {
		return "", fmt.Errorf("nats connection is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := fmt.Sprintf("%s-%d", subject, p.seq.Add(1))
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set(nats.MsgIdHdr, id)
	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush nats: %w", err)
	}
	return id, nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
