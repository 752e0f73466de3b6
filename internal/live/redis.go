package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chatsync/internal/domain"
)

const DefaultChannelPrefix = "chatsync:conversation"

// Event is the change announcement exchanged between processes. Receivers
// re-read the conversation rather than trusting the payload.
type Event struct {
	ConversationID string `json:"conversationId"`
	Version        int    `json:"version"`
}

type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("live: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("live: connect to redis: %w", err)
	}
	return client, nil
}

// Channel returns the pub/sub channel for a conversation.
func Channel(prefix, conversationID string) string {
	return normalizePrefix(prefix) + ":" + conversationID
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return DefaultChannelPrefix
	}
	return prefix
}

// Announcer publishes change events for processes that host live
// subscriptions.
type Announcer struct {
	client redis.UniversalClient
	prefix string
}

func NewAnnouncer(client redis.UniversalClient, prefix string) (*Announcer, error) {
	if client == nil {
		return nil, errors.New("live: redis client must not be nil")
	}
	return &Announcer{client: client, prefix: normalizePrefix(prefix)}, nil
}

func (a *Announcer) ConversationChanged(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(Event{ConversationID: snap.ConversationID, Version: snap.Version()})
	if err != nil {
		return fmt.Errorf("live: marshal event: %w", err)
	}
	if err := a.client.Publish(ctx, Channel(a.prefix, snap.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("live: publish %q: %w", snap.ConversationID, err)
	}
	return nil
}

// Notifier is what the Listener drives; *Hub satisfies it.
type Notifier interface {
	Notify(ctx context.Context, conversationID string) error
}

// Listener turns Redis change events into hub notifications.
type Listener struct {
	client   redis.UniversalClient
	prefix   string
	notifier Notifier
	logger   *slog.Logger
	ready    chan struct{}
}

func NewListener(client redis.UniversalClient, prefix string, notifier Notifier, logger *slog.Logger) (*Listener, error) {
	if client == nil {
		return nil, errors.New("live: redis client must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("live: notifier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		client:   client,
		prefix:   normalizePrefix(prefix),
		notifier: notifier,
		logger:   logger,
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once the pattern subscription is confirmed.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Run blocks until ctx is cancelled or the subscription fails.
func (l *Listener) Run(ctx context.Context) error {
	pattern := l.prefix + ":*"
	ps := l.client.PSubscribe(ctx, pattern)
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("live: psubscribe %q: %w", pattern, err)
	}
	close(l.ready)
	l.logger.Info("listening for conversation changes", "pattern", pattern)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("live: redis subscription closed")
			}
			l.handle(ctx, msg)
		}
	}
}

func (l *Listener) handle(ctx context.Context, msg *redis.Message) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		l.logger.Warn("invalid change event", "channel", msg.Channel, "err", err)
		return
	}
	if ev.ConversationID == "" {
		ev.ConversationID = strings.TrimPrefix(msg.Channel, l.prefix+":")
	}
	if err := l.notifier.Notify(ctx, ev.ConversationID); err != nil {
		l.logger.Error("notify subscribers failed", "conversation_id", ev.ConversationID, "err", err)
	}
}
