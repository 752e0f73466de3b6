package live

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// WatchedNotifier is what the Poller drives; *Hub satisfies it.
type WatchedNotifier interface {
	Notifier
	Watched() []string
}

// Poller re-reads every watched conversation on a fixed interval. It is the
// change source when no Redis bus is configured; unchanged snapshots are
// dropped by the subscriptions' version check.
type Poller struct {
	hub      WatchedNotifier
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(hub WatchedNotifier, interval time.Duration, logger *slog.Logger) (*Poller, error) {
	if hub == nil {
		return nil, errors.New("live: poller hub must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("live: poll interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{hub: hub, interval: interval, logger: logger}, nil
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("polling watched conversations", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	for _, id := range p.hub.Watched() {
		if ctx.Err() != nil {
			return
		}
		if err := p.hub.Notify(ctx, id); err != nil {
			p.logger.Error("poll conversation failed", "conversation_id", id, "err", err)
		}
	}
}
