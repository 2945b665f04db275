// Package presence decides whether a user is currently online and keeps a
// session's own presence record fresh with periodic heartbeats.
package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"servchat/internal/model"
)

const (
	DefaultWindow   = 120 * time.Second
	DefaultInterval = 30 * time.Second
	offlineTimeout  = 5 * time.Second
)

// Active reports whether p counts as online at now: the flag must be set and
// the last heartbeat must be within window.
func Active(p model.Presence, now time.Time, window time.Duration) bool {
	if !p.Online {
		return false
	}
	return now.Sub(p.LastSeen) <= window
}

// Reporter is where heartbeats are sent.
type Reporter interface {
	Heartbeat(ctx context.Context) error
	Offline(ctx context.Context) error
}

// Beater sends a heartbeat immediately and then every Interval until its
// context ends, then signals offline once on a detached context.
type Beater struct {
	Reporter Reporter
	Interval time.Duration
	Logger   *zap.Logger
}

func (b *Beater) Run(ctx context.Context) {
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	beat := func() {
		if err := b.Reporter.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("presence heartbeat failed", zap.Error(err))
		}
	}

	beat()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), offlineTimeout)
			if err := b.Reporter.Offline(offCtx); err != nil {
				logger.Debug("presence offline signal failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			beat()
		}
	}
}
