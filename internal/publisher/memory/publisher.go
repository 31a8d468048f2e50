// Package memory contains an in-process publisher used in development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	notify   chan struct{}
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{notify: make(chan struct{}, 1)}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	id := fmt.Sprintf("memory-%d", len(p.messages))
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// WaitFor blocks until at least n messages were published or ctx ends.
func (p *Publisher) WaitFor(ctx context.Context, n int) ([]PublishedMessage, error) {
	for {
		if msgs := p.Messages(); len(msgs) >= n {
			return msgs, nil
		}
		select {
		case <-p.notify:
		case <-ctx.Done():
			return p.Messages(), fmt.Errorf("waiting for %d messages: %w", n, ctx.Err())
		}
	}
}
