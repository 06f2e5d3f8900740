package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ringCapacity bounds the in-memory log buffer
const ringCapacity = 500

// Entry is one buffered log record
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Ring is a fixed-capacity record buffer. Oldest entries are overwritten
// once the buffer is full.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewRing creates a ring buffer with the given capacity
func NewRing(capacity int) *Ring {
	return &Ring{entries: make([]Entry, capacity)}
}

func (r *Ring) append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Entries returns buffered records, oldest first
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// Len returns the number of buffered records
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

func (r *Ring) handler(level slog.Level) slog.Handler {
	return &ringHandler{ring: r, level: level}
}

// ringHandler adapts the ring buffer to slog.Handler
type ringHandler struct {
	ring  *Ring
	level slog.Level
	attrs []slog.Attr
}

func (h *ringHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ringHandler) Handle(_ context.Context, rec slog.Record) error {
	fields := make(map[string]any, rec.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	if len(fields) == 0 {
		fields = nil
	}

	h.ring.append(Entry{
		Time:    rec.Time,
		Level:   levelString(rec.Level),
		Message: rec.Message,
		Fields:  fields,
	})
	return nil
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	next = append(next, attrs...)
	return &ringHandler{ring: h.ring, level: h.level, attrs: next}
}

func (h *ringHandler) WithGroup(string) slog.Handler {
	return h
}

func levelString(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
