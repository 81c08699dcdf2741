/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package chat

import (
	"sync"

	"github.com/Seednode/lfg/seek"
)

// queue is an unbounded, ordered mailbox feeding one subscriber channel.
// push never blocks the publisher; a pump goroutine drains into out.
type queue struct {
	mu      sync.Mutex
	pending []seek.Message
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	out     chan seek.Message
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan seek.Message),
	}
	go q.pump()
	return q
}

func (q *queue) push(msg seek.Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, msg)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops delivery; undelivered messages are dropped and out is closed.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	close(q.done)
}

func (q *queue) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		msg := q.pending[0]
		q.pending[0] = seek.Message{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- msg:
		case <-q.done:
			return
		}
	}
}
