package chat

import (
	"context"
	"log/slog"
	"sync"
)

// taskGroup runs best-effort background work that outlives the request that
// started it. Failures are logged, never returned to a caller.
type taskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newTaskGroup(logger *slog.Logger) *taskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskGroup{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn in the background.
func (g *taskGroup) Go(name string, sessionID int64, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("Background task panicked", "task", name, "session_id", sessionID, "panic", r)
			}
		}()
		if err := fn(g.ctx); err != nil {
			g.logger.Error("Background task failed", "task", name, "session_id", sessionID, "error", err)
		}
	}()
}

// Shutdown waits for running tasks until ctx expires, then cancels them.
func (g *taskGroup) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}
