package notify

import (
	"context"
	"sync"
)

// Memory records messages; used in tests and when no sink is configured.
type Memory struct {
	mu      sync.Mutex
	msgs    []Message
	cleared []Level
}

func (m *Memory) Notify(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *Memory) Clear(_ context.Context, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.msgs[:0]
	for _, msg := range m.msgs {
		if msg.Level != level {
			kept = append(kept, msg)
		}
	}
	m.msgs = kept
	m.cleared = append(m.cleared, level)
	return nil
}

func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.msgs...)
}

func (m *Memory) Cleared() []Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Level(nil), m.cleared...)
}
