/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package chat carries lobby messages to every seek coordinator listening
// for replies, either in-process or over a NATS subject.
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/Seednode/lfg/seek"
)

var ErrClosed = errors.New("chat: feed is closed")

// Publisher accepts lobby messages for delivery to subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg seek.Message) error
	Close() error
}

// Bus is both ends of a lobby feed.
type Bus interface {
	Publisher
	seek.Feed
}

// Broadcaster fans lobby messages out to in-process subscribers. Publish
// never blocks, and each subscriber sees messages in publish order.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*queue]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*queue]struct{})}
}

func (b *Broadcaster) Publish(_ context.Context, msg seek.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for q := range b.subs {
		q.push(msg)
	}
	return nil
}

// Subscribe registers a new subscriber. Cancelling it affects no other
// subscriber.
func (b *Broadcaster) Subscribe() (<-chan seek.Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}

	q := newQueue()
	b.subs[q] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, q)
			b.mu.Unlock()
			q.close()
		})
	}

	return q.out, cancel, nil
}

// subscribers returns the number of live subscriptions.
func (b *Broadcaster) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for q := range b.subs {
		q.close()
		delete(b.subs, q)
	}
	return nil
}
