package queue

import (
	"context"
	"sync"
)

// MemoryPublisher is an in-process Publisher for single-node deployments
// and tests. It keeps the published messages in order.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
}

// NewMemoryPublisher creates an in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish appends the message to the in-memory queue.
func (p *MemoryPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return context.Canceled
	}
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns a copy of the published messages.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close marks the publisher closed.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
