package live

import (
	"sync"

	"chatsync/internal/domain"
)

// Subscription is one client's view of one conversation. Snapshots arrive on
// C in commit order; when the consumer lags, intermediate snapshots are
// replaced by newer ones, never the other way round.
type Subscription struct {
	hub            *Hub
	conversationID string

	out  chan domain.Snapshot
	wake chan struct{}
	done chan struct{}

	mu       sync.Mutex
	pending  *domain.Snapshot
	accepted int

	closeOnce sync.Once
}

func newSubscription(h *Hub, conversationID string) *Subscription {
	return &Subscription{
		hub:            h,
		conversationID: conversationID,
		out:            make(chan domain.Snapshot),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		accepted:       -2,
	}
}

func (s *Subscription) ConversationID() string {
	return s.conversationID
}

// C yields snapshots until the subscription is closed.
func (s *Subscription) C() <-chan domain.Snapshot {
	return s.out
}

// Close stops delivery. C is closed once the delivery goroutine exits.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

// offer places snap in the one-slot mailbox unless a snapshot at least as new
// was already accepted.
func (s *Subscription) offer(snap domain.Snapshot) bool {
	s.mu.Lock()
	if snap.Version() <= s.accepted {
		s.mu.Unlock()
		return false
	}
	s.accepted = snap.Version()
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) take() (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return domain.Snapshot{}, false
	}
	snap := *s.pending
	s.pending = nil
	return snap, true
}

func (s *Subscription) run() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		snap, ok := s.take()
		if !ok {
			continue
		}
		select {
		case <-s.done:
			return
		case s.out <- snap:
		}
	}
}
