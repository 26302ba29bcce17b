package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/notify"
)

// NotifyHandler writes every record to next and additionally forwards info,
// error and fatal records at or above min to a notifier. Warn and debug
// records are never forwarded.
type NotifyHandler struct {
	next     slog.Handler
	notifier notify.Notifier
	min      slog.Level
	attrs    []slog.Attr
	group    string
}

// NewNotifyHandler wraps next. notifyLevel is one of info, error, fatal or
// off; with off next is returned unchanged.
func NewNotifyHandler(next slog.Handler, n notify.Notifier, notifyLevel string) slog.Handler {
	var threshold slog.Level
	switch strings.ToLower(notifyLevel) {
	case "off":
		return next
	case "error":
		threshold = slog.LevelError
	case "fatal":
		threshold = LevelFatal
	default:
		threshold = slog.LevelInfo
	}
	return &NotifyHandler{next: next, notifier: n, min: threshold}
}

func (h *NotifyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level) || (level >= h.min && notifyLevel(level) != "")
}

func (h *NotifyHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}

	lvl := notifyLevel(r.Level)
	if r.Level < h.min || lvl == "" {
		return err
	}

	msg := notify.Message{
		Level: lvl,
		Text:  r.Message,
		Time:  r.Time.UTC(),
		Attrs: make(map[string]string),
	}
	add := func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		if a.Key == "component" {
			msg.Source = a.Value.String()
			return true
		}
		msg.Attrs[key] = fmt.Sprint(a.Value.Any())
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)

	// Notifiers in this tree do not block; the error is ignored so a broken
	// notification channel never affects the caller.
	_ = h.notifier.Notify(ctx, msg)
	return err
}

func (h *NotifyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &cp
}

func (h *NotifyHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.next = h.next.WithGroup(name)
	if cp.group == "" {
		cp.group = name
	} else {
		cp.group += "." + name
	}
	return &cp
}

func notifyLevel(l slog.Level) notify.Level {
	switch {
	case l >= LevelFatal:
		return notify.LevelFatal
	case l >= slog.LevelError:
		return notify.LevelError
	case l >= slog.LevelInfo && l < slog.LevelWarn:
		return notify.LevelInfo
	default:
		return ""
	}
}
