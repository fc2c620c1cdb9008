// Package memory records run notifications in process. It is the publisher when no
// Pub/Sub topic is configured, and backs tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	limit    int
	total    int
	messages []any
}

// New returns a memory Publisher that keeps every payload.
func New() *Publisher {
	return &Publisher{}
}

// NewLimited returns a memory Publisher that keeps only the latest limit payloads.
func NewLimited(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// Publish records the payload and returns a pseudo id.
func (p *Publisher) Publish(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.messages = append(p.messages, payload)
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append(p.messages[:0:0], p.messages[len(p.messages)-p.limit:]...)
	}
	return fmt.Sprintf("memory-%d", p.total), nil
}

// Messages returns a copy of the retained payloads, oldest first.
func (p *Publisher) Messages() []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]any, len(p.messages))
	copy(out, p.messages)
	return out
}
