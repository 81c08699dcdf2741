/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/lfg/seek"
	"github.com/nats-io/nats.go"
)

// NATSBus publishes lobby messages to a NATS subject and subscribes
// coordinators to it. Messages are JSON-encoded seek.Message values.
type NATSBus struct {
	conn    *nats.Conn
	subject string
}

// NewNATSBus connects to NATS with automatic reconnection. Extra options
// (e.g. disconnect/reconnect handlers) are appended to the defaults.
func NewNATSBus(url, subject string, opts ...nats.Option) (*NATSBus, error) {
	defaults := []nats.Option{
		nats.Name("lfg"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSBus{conn: nc, subject: subject}, nil
}

func (b *NATSBus) Publish(_ context.Context, msg seek.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	return b.conn.Publish(b.subject, data)
}

// Subscribe returns a channel of lobby messages. Undecodable payloads are
// skipped. Call the returned cancel function to unsubscribe.
func (b *NATSBus) Subscribe() (<-chan seek.Message, func(), error) {
	q := newQueue()

	sub, err := b.conn.Subscribe(b.subject, func(m *nats.Msg) {
		var msg seek.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		q.push(msg)
	})
	if err != nil {
		q.close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", b.subject, err)
	}
	// Flush so the subscription is registered on the server before any
	// reply to the announcement can be published.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		q.close()
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			q.close()
		})
	}

	return q.out, cancel, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
