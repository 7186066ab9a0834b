package target

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// warmupGate runs a target's warm-up once. Concurrent callers share the
// in-flight attempt; a failed attempt is retried by the next caller.
type warmupGate struct {
	fn func(ctx context.Context, client *Client) error

	mu       sync.Mutex
	ready    bool
	inflight chan struct{}
	err      error
}

func (g *warmupGate) wait(ctx context.Context, t *Target) error {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return nil
	}
	done := g.inflight
	if done == nil {
		done = make(chan struct{})
		g.inflight = done
		go g.run(t, done)
	}
	g.mu.Unlock()

	select {
	case <-done:
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.ready {
			return nil
		}
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run uses a background context. Callers stop waiting on their own context.
func (g *warmupGate) run(t *Target, done chan struct{}) {
	err := func() error {
		client, err := t.Client()
		if err != nil {
			return err
		}
		return g.fn(context.Background(), client)
	}()

	g.mu.Lock()
	if err != nil {
		g.err = fmt.Errorf("warming up %s: %w", t, err)
		slog.Warn("Target warm-up failed", "target", t.String(), "error", err)
	} else {
		g.ready = true
		g.err = nil
		slog.Info("Target warmed up", "target", t.String())
	}
	g.inflight = nil
	g.mu.Unlock()

	close(done)
}
