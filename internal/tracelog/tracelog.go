// Package tracelog captures what a test logs while it runs so the lines can be
// returned with its result.
package tracelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type sinkKey struct{}

// Sink collects formatted log lines for one test run.
type Sink struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns the captured lines.
func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *Sink) add(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

// WithSink returns a context carrying a new sink.
func WithSink(ctx context.Context) (context.Context, *Sink) {
	s := &Sink{}
	return context.WithValue(ctx, sinkKey{}, s), s
}

// FromContext returns the sink carried by ctx, if any.
func FromContext(ctx context.Context) *Sink {
	s, _ := ctx.Value(sinkKey{}).(*Sink)
	return s
}

// Logger returns a logger that writes to the default logger and, when ctx
// carries a sink, to the sink as well.
func Logger(ctx context.Context) *slog.Logger {
	base := slog.Default().Handler()
	s := FromContext(ctx)
	if s == nil {
		return slog.New(base)
	}
	return slog.New(&handler{next: base, sink: s})
}

type handler struct {
	next   slog.Handler
	sink   *Sink
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format(time.RFC3339Nano))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", h.qualify(a.Key), a.Value.Resolve())
		return true
	})
	h.sink.add(b.String())

	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

// qualify prefixes key with the groups opened so far.
func (h *handler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

// WithAttrs stores attrs with their keys already qualified, so groups opened
// later do not apply to them.
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &handler{
		next:   h.next.WithAttrs(attrs),
		sink:   h.sink,
		attrs:  merged,
		groups: h.groups,
	}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{
		next:   h.next.WithGroup(name),
		sink:   h.sink,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}
