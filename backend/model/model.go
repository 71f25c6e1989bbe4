package model

import (
	"sync"

	"github.com/google/uuid"
)

const (
	DefaultOutboxSize = 64
)

// Peer is a handle for one live relay connection. Peers are compared
// by pointer, ID is only there to tell them apart in logs.
type Peer struct {
	ID string

	tx   chan Message
	done chan struct{}
	once sync.Once
}

func NewPeer(outboxSize int) *Peer {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Peer{
		ID:   uuid.NewString(),
		tx:   make(chan Message, outboxSize),
		done: make(chan struct{}),
	}
}

// Send queues msg for delivery without blocking. It returns false if the
// peer is closed or its outbox is full, in which case msg is dropped.
func (p *Peer) Send(msg Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.tx <- msg:
		return true
	default:
		return false
	}
}

// Outbox is drained by the connection writer.
func (p *Peer) Outbox() <-chan Message {
	return p.tx
}

func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Close marks peer as gone. Outbox is left open so concurrent senders never panic.
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
	})
}
