// Package memory records published payloads in process. It backs the dryrun
// archive mode, where jobs are recorded instead of sent anywhere.
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
	limit    int
	total    int
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a Publisher that keeps every message.
func New() *Publisher {
	return &Publisher{}
}

// NewBounded returns a Publisher that keeps only the most recent limit
// messages. limit <= 0 keeps everything.
func NewBounded(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// FailWith makes subsequent Publish calls return err. nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.total++
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append(p.messages[:0], p.messages[len(p.messages)-p.limit:]...)
	}
	return fmt.Sprintf("memory-%d", p.total), nil
}

// Messages returns a copy of the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Total counts every successful publish, including ones no longer retained.
func (p *Publisher) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}
