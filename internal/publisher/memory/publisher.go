// Package memory records run notifications in memory, for tests and runs
// without a Pub/Sub topic. Payloads are JSON-encoded exactly as the Pub/Sub
// publisher would send them.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded notification.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// Publisher keeps every published notification in order.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it under a sequential ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of the recorded notifications.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Last returns the most recent notification sent to topic.
func (p *Publisher) Last(topic string) (Message, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Topic == topic {
			return p.messages[i], true
		}
	}
	return Message{}, false
}
