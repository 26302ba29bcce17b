// Package notify delivers operator notifications (door events, errors,
// fatal failures) to an external channel without blocking the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Level is the channel a message is posted to.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Levels lists every level in ascending severity.
var Levels = []Level{LevelInfo, LevelError, LevelFatal}

var ErrUnknownLevel = errors.New("unknown notification level")

func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelInfo, LevelError, LevelFatal:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// Message is one notification.
type Message struct {
	Level  Level             `json:"level"`
	Source string            `json:"source,omitempty"`
	Text   string            `json:"text"`
	Time   time.Time         `json:"time"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Clearer is implemented by sinks that can drop what they already posted
// on a level.
type Clearer interface {
	Clear(ctx context.Context, level Level) error
}

// Discard accepts and drops every message.
type Discard struct{}

func (Discard) Notify(context.Context, Message) error { return nil }
