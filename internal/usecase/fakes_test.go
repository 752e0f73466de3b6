package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/integrations/attachments"
	"chatsync/internal/repository"
)

type fakeConversations struct {
	mu        sync.Mutex
	convs     map[string]domain.Snapshot
	appendErr error
	getErr    error
	createErr error
	appends   int
	// acceptOutsiders models a store that does not enforce membership.
	acceptOutsiders bool
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convs: map[string]domain.Snapshot{}}
}

func (f *fakeConversations) CreateConversation(_ context.Context, id string, participants []string, createdAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.convs[id]; ok {
		return repository.ErrConversationExists
	}
	f.convs[id] = domain.Snapshot{
		ConversationID: id,
		Found:          true,
		Participants:   append([]string(nil), participants...),
		CreatedAt:      createdAt,
		Messages:       []domain.Message{},
	}
	return nil
}

func (f *fakeConversations) AppendMessage(_ context.Context, id string, msg domain.Message, receiverID string) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return domain.Snapshot{}, f.appendErr
	}
	s, ok := f.convs[id]
	if !ok {
		return domain.Snapshot{}, repository.ErrConversationNotFound
	}
	if !f.acceptOutsiders && (!s.HasParticipant(msg.SenderID) || !s.HasParticipant(receiverID)) {
		return domain.Snapshot{}, repository.ErrNotParticipant
	}
	msgs := make([]domain.Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, msg)
	f.convs[id] = s
	f.appends++
	return s, nil
}

func (f *fakeConversations) GetConversation(_ context.Context, id string) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Snapshot{}, f.getErr
	}
	s, ok := f.convs[id]
	if !ok {
		return domain.Snapshot{ConversationID: id}, nil
	}
	return s, nil
}

func (f *fakeConversations) seed(id string, participants ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[id] = domain.Snapshot{ConversationID: id, Found: true, Participants: participants, Messages: []domain.Message{}}
}

// fakeSummaries mirrors the repository's version semantics. When gateUser is
// set, the first two reads of that user's index block until both have
// happened, forcing two read-modify-write cycles to interleave.
type fakeSummaries struct {
	mu      sync.Mutex
	indexes map[string]domain.SummaryIndex
	getErr  map[string]error
	putErr  map[string]error
	puts    int

	gateUser     string
	gateArrivals int
	gateOpen     chan struct{}
}

func newFakeSummaries() *fakeSummaries {
	return &fakeSummaries{
		indexes: map[string]domain.SummaryIndex{},
		getErr:  map[string]error{},
		putErr:  map[string]error{},
	}
}

func cloneIndex(idx domain.SummaryIndex) domain.SummaryIndex {
	idx.Chats = append([]domain.ConversationSummary(nil), idx.Chats...)
	return idx
}

func (f *fakeSummaries) interleaveReads(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gateUser = userID
	f.gateArrivals = 0
	f.gateOpen = make(chan struct{})
}

func (f *fakeSummaries) GetSummaryIndex(_ context.Context, userID string) (domain.SummaryIndex, error) {
	f.mu.Lock()
	if err := f.getErr[userID]; err != nil {
		f.mu.Unlock()
		return domain.SummaryIndex{}, err
	}
	idx, ok := f.indexes[userID]
	if !ok {
		idx = domain.SummaryIndex{UserID: userID}
	}
	idx = cloneIndex(idx)

	var wait chan struct{}
	if userID == f.gateUser && f.gateArrivals < 2 {
		f.gateArrivals++
		wait = f.gateOpen
		if f.gateArrivals == 2 {
			close(f.gateOpen)
		}
	}
	f.mu.Unlock()

	if wait != nil {
		<-wait
	}
	return idx, nil
}

func (f *fakeSummaries) PutSummaryIndex(_ context.Context, idx domain.SummaryIndex) (domain.SummaryIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.putErr[idx.UserID]; err != nil {
		return domain.SummaryIndex{}, err
	}
	return f.store(idx), nil
}

func (f *fakeSummaries) CompareAndPutSummaryIndex(_ context.Context, idx domain.SummaryIndex) (domain.SummaryIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.putErr[idx.UserID]; err != nil {
		return domain.SummaryIndex{}, err
	}
	cur, ok := f.indexes[idx.UserID]
	if ok != idx.Found || (ok && cur.Version != idx.Version) {
		return domain.SummaryIndex{}, repository.ErrVersionConflict
	}
	return f.store(idx), nil
}

func (f *fakeSummaries) store(idx domain.SummaryIndex) domain.SummaryIndex {
	next := cloneIndex(idx)
	next.Version = idx.Version + 1
	next.Found = true
	f.indexes[idx.UserID] = next
	f.puts++
	return next
}

func (f *fakeSummaries) seed(userID string, chats ...domain.ConversationSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes[userID] = domain.SummaryIndex{UserID: userID, Found: true, Version: 1, Chats: chats}
}

func (f *fakeSummaries) get(userID string) domain.SummaryIndex {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneIndex(f.indexes[userID])
}

func (f *fakeSummaries) entry(userID, conversationID string) (domain.ConversationSummary, bool) {
	idx := f.get(userID)
	i := idx.Find(conversationID)
	if i < 0 {
		return domain.ConversationSummary{}, false
	}
	return idx.Chats[i], true
}

type fakeNotifier struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
	err   error
}

func (f *fakeNotifier) ConversationChanged(_ context.Context, snap domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return f.err
}

type fakeResolver struct {
	url   string
	err   error
	calls int
	last  attachments.Upload
}

func (f *fakeResolver) Resolve(_ context.Context, up attachments.Upload) (string, error) {
	f.calls++
	f.last = up
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeTranslator struct {
	out   string
	err   error
	calls int
	last  [4]string
}

func (f *fakeTranslator) Translate(_ context.Context, conversationID, messageKey, text, language string) (string, error) {
	f.calls++
	f.last = [4]string{conversationID, messageKey, text, language}
	return f.out, f.err
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return "upstream status" }
func (e *statusErr) HTTPStatusCode() int { return e.code }

var errUnavailable = errors.New("service unavailable")
