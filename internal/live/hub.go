// Package live pushes full conversation snapshots to subscribed clients.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"chatsync/internal/domain"
)

var ErrHubClosed = errors.New("live: hub closed")

// SnapshotReader loads the committed state of a conversation.
// *repository.Client satisfies it.
type SnapshotReader interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Snapshot, error)
}

// Hub fans committed snapshots out to the subscriptions of each conversation.
type Hub struct {
	reader SnapshotReader
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewHub(reader SnapshotReader, logger *slog.Logger) (*Hub, error) {
	if reader == nil {
		return nil, errors.New("live: snapshot reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		reader: reader,
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
	}, nil
}

// Subscribe registers interest in one conversation and immediately offers its
// current snapshot, or an absent snapshot when it does not exist. Registration
// happens before the read, so a commit racing with Subscribe is not missed.
func (h *Hub) Subscribe(ctx context.Context, conversationID string) (*Subscription, error) {
	if conversationID == "" {
		return nil, errors.New("live: conversation id is required")
	}
	s := newSubscription(h, conversationID)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[conversationID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go s.run()

	snap, err := h.reader.GetConversation(ctx, conversationID)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("live: initial snapshot %q: %w", conversationID, err)
	}
	s.offer(snap)

	h.logger.Debug("subscribed", "conversation_id", conversationID, "version", snap.Version())
	return s, nil
}

// Publish delivers a committed snapshot to every subscriber of its
// conversation.
func (h *Hub) Publish(snap domain.Snapshot) {
	for _, s := range h.subscribers(snap.ConversationID) {
		s.offer(snap)
	}
}

// Notify re-reads a conversation that changed elsewhere and publishes it.
// Conversations nobody watches are not read.
func (h *Hub) Notify(ctx context.Context, conversationID string) error {
	if len(h.subscribers(conversationID)) == 0 {
		return nil
	}
	snap, err := h.reader.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("live: notify %q: %w", conversationID, err)
	}
	h.Publish(snap)
	return nil
}

// ConversationChanged publishes a snapshot returned by a successful append.
func (h *Hub) ConversationChanged(_ context.Context, snap domain.Snapshot) error {
	h.Publish(snap)
	return nil
}

// Subscribers returns how many subscriptions watch the conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// Watched returns the ids of conversations with at least one subscriber.
func (h *Hub) Watched() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	return ids
}

// Close ends every subscription and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (h *Hub) subscribers(conversationID string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.subs[conversationID]
	out := make([]*Subscription, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.conversationID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.conversationID)
	}
}
