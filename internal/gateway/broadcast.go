package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// LogBroadcaster is a slog.Handler that mirrors every record to subscribed
// sessions as server_log events, in addition to the wrapped handler.
// Subscriber callbacks must not block; slow sessions drop log events.
type LogBroadcaster struct {
	inner slog.Handler
	subs  *subscriberSet
}

type subscriberSet struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(message string)
}

func NewLogBroadcaster(inner slog.Handler) *LogBroadcaster {
	return &LogBroadcaster{
		inner: inner,
		subs:  &subscriberSet{fns: make(map[int]func(string))},
	}
}

// Subscribe registers a callback for formatted log lines and returns the
// function that removes it.
func (b *LogBroadcaster) Subscribe(fn func(message string)) func() {
	b.subs.mu.Lock()
	id := b.subs.next
	b.subs.next++
	b.subs.fns[id] = fn
	b.subs.mu.Unlock()

	return func() {
		b.subs.mu.Lock()
		delete(b.subs.fns, id)
		b.subs.mu.Unlock()
	}
}

func (b *LogBroadcaster) Enabled(ctx context.Context, level slog.Level) bool {
	return b.inner.Enabled(ctx, level)
}

func (b *LogBroadcaster) Handle(ctx context.Context, rec slog.Record) error {
	var sb strings.Builder
	sb.WriteString(rec.Level.String())
	sb.WriteString(" ")
	sb.WriteString(rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
		return true
	})
	line := sb.String()

	b.subs.mu.RLock()
	for _, fn := range b.subs.fns {
		fn(line)
	}
	b.subs.mu.RUnlock()

	return b.inner.Handle(ctx, rec)
}

func (b *LogBroadcaster) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogBroadcaster{inner: b.inner.WithAttrs(attrs), subs: b.subs}
}

func (b *LogBroadcaster) WithGroup(name string) slog.Handler {
	return &LogBroadcaster{inner: b.inner.WithGroup(name), subs: b.subs}
}
