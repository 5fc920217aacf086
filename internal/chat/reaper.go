package chat

import (
	"context"
	"log/slog"
	"time"
)

// EndCallback is called after the idle reaper ends a session.
type EndCallback func(sessionID int64)

// ExpireIdleSessions ends every open session that has not changed for ttl
// and returns the ids it ended.
func (s *Service) ExpireIdleSessions(ctx context.Context, ttl time.Duration) ([]int64, error) {
	ids, err := s.repo.ListIdleSessions(ctx, s.now().Add(-ttl))
	if err != nil {
		return nil, wrap("expire idle sessions", err)
	}

	ended := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, err := s.EndSession(ctx, id, nil); err != nil {
			s.logger.Warn("Idle reaper failed to end session", "session_id", id, "error", err)
			continue
		}
		ended = append(ended, id)
	}
	return ended, nil
}

// StartIdleReaper runs a background goroutine that periodically ends
// sessions idle for longer than ttl.
func StartIdleReaper(ctx context.Context, svc *Service, ttl, interval time.Duration, onEnd EndCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				reapIdleSessions(ctx, svc, ttl, onEnd)
			case <-ctx.Done():
				slog.Info("Idle reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapIdleSessions(ctx context.Context, svc *Service, ttl time.Duration, onEnd EndCallback) {
	ended, err := svc.ExpireIdleSessions(ctx, ttl)
	if err != nil {
		slog.Error("Idle reaper failed to list sessions", "error", err)
		return
	}
	if len(ended) == 0 {
		return
	}

	for _, id := range ended {
		if onEnd != nil {
			onEnd(id)
		}
	}
	slog.Info("Idle reaper ended sessions", "count", len(ended))
}
