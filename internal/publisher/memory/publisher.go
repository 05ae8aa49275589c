// Package memory holds published batch events in-process for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/price-archive/internal/tracker"
)

// Message is one publish call in its wire form.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher encodes payloads the way the pubsub publisher does and keeps them.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// NewFailing returns a Publisher whose Publish always returns err.
func NewFailing(err error) *Publisher {
	return &Publisher{err: err}
}

// Publish JSON-encodes payload and returns a sequential message id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Events decodes every published message as a batch event.
func (p *Publisher) Events() ([]tracker.BatchEvent, error) {
	msgs := p.Messages()
	events := make([]tracker.BatchEvent, 0, len(msgs))
	for _, msg := range msgs {
		var ev tracker.BatchEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
