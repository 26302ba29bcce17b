package notify

import (
	"context"
	"sync"
)

// History forwards messages to next and keeps the most recent ones per
// level so they can be listed and cleared locally.
type History struct {
	next  Notifier
	limit int

	mu   sync.Mutex
	msgs map[Level][]Message
}

func NewHistory(next Notifier, limit int) *History {
	if next == nil {
		next = Discard{}
	}
	if limit <= 0 {
		limit = 100
	}
	return &History{next: next, limit: limit, msgs: make(map[Level][]Message)}
}

func (h *History) Notify(ctx context.Context, msg Message) error {
	h.mu.Lock()
	list := append(h.msgs[msg.Level], msg)
	if len(list) > h.limit {
		list = append([]Message(nil), list[len(list)-h.limit:]...)
	}
	h.msgs[msg.Level] = list
	h.mu.Unlock()

	return h.next.Notify(ctx, msg)
}

// Recent returns a copy of the stored messages for level, oldest first.
func (h *History) Recent(level Level) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.msgs[level]...)
}

// Clear drops the stored messages for level and asks next to do the same
// when it supports it. It returns how many local messages were removed.
func (h *History) Clear(ctx context.Context, level Level) (int, error) {
	h.mu.Lock()
	n := len(h.msgs[level])
	delete(h.msgs, level)
	h.mu.Unlock()

	if c, ok := h.next.(Clearer); ok {
		if err := c.Clear(ctx, level); err != nil {
			return n, err
		}
	}
	return n, nil
}
