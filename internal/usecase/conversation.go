package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/repository"
)

// ConversationService covers conversation lifecycle and summary reads.
type ConversationService struct {
	conversations ConversationStore
	summaries     summaryWriter
	logger        *slog.Logger
	now           func() time.Time
}

// CreateInput names the two users of a new conversation.
type CreateInput struct {
	UserID     string
	ReceiverID string
}

// CreateOutput reports the new conversation and any summary index left
// without its entry.
type CreateOutput struct {
	ConversationID string
	CreatedAt      time.Time
	StaleSummaries []string
}

// NewConversationService wires the conversation use cases.
func NewConversationService(conv ConversationStore, sums SummaryStore, cfg SummaryConfig, logger *slog.Logger) (*ConversationService, error) {
	if conv == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	sw, err := newSummaryWriter(sums, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &ConversationService{
		conversations: conv,
		summaries:     sw,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Create starts an empty conversation between two users and adds an entry to
// each user's summary index, creating the index when the user has none.
func (s *ConversationService) Create(ctx context.Context, in CreateInput) (CreateOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	receiverID := strings.TrimSpace(in.ReceiverID)
	if userID == "" || receiverID == "" {
		return CreateOutput{}, newError(ErrorInvalidInput, "missing_participant", nil)
	}
	if userID == receiverID {
		return CreateOutput{}, newError(ErrorInvalidInput, "self_conversation", nil)
	}

	id := newUUID()
	createdAt := s.now().UTC()
	if err := s.conversations.CreateConversation(ctx, id, []string{userID, receiverID}, createdAt); err != nil {
		return CreateOutput{}, newError(ErrorWriteFailure, "create_failed", err)
	}

	out := CreateOutput{ConversationID: id, CreatedAt: createdAt}
	for _, p := range [2][2]string{{userID, receiverID}, {receiverID, userID}} {
		user, other := p[0], p[1]
		err := s.summaries.update(ctx, user, true, func(idx *domain.SummaryIndex) bool {
			if idx.Find(id) >= 0 {
				return false
			}
			e := upsertEntry(idx, id, other)
			e.UpdatedAt = createdAt
			return true
		})
		if err != nil {
			s.logger.Error("summary index update failed",
				"conversation_id", id,
				"user_id", user,
				"err", err,
			)
			out.StaleSummaries = append(out.StaleSummaries, user)
		}
	}
	return out, nil
}

// Snapshot returns the full committed log, or NOT_FOUND when absent.
func (s *ConversationService) Snapshot(ctx context.Context, conversationID string) (domain.Snapshot, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Snapshot{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	snap, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Snapshot{}, newError(ErrorReadFailure, "snapshot_failed", err)
	}
	if !snap.Found {
		return domain.Snapshot{}, newError(ErrorNotFound, "conversation_not_found", repository.ErrConversationNotFound)
	}
	return snap, nil
}

// Summaries lists the user's conversations, most recently updated first. A
// user without an index has no conversations.
func (s *ConversationService) Summaries(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	idx, err := s.summaries.store.GetSummaryIndex(ctx, userID)
	if err != nil {
		return nil, newError(ErrorReadFailure, "summary_read_failed", err)
	}
	return idx.Sorted(), nil
}

// MarkSeen sets the seen flag of one summary entry.
func (s *ConversationService) MarkSeen(ctx context.Context, userID, conversationID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(conversationID) == "" {
		return newError(ErrorInvalidInput, "missing_id", nil)
	}

	found := false
	err := s.summaries.update(ctx, userID, false, func(idx *domain.SummaryIndex) bool {
		i := idx.Find(conversationID)
		found = i >= 0
		if !found || idx.Chats[i].IsSeen {
			return false
		}
		idx.Chats[i].IsSeen = true
		return true
	})
	switch {
	case errors.Is(err, errSummaryMissing):
		return newError(ErrorNotFound, "summary_not_found", err)
	case errors.Is(err, errSummaryRead):
		return newError(ErrorReadFailure, "summary_read_failed", err)
	case err != nil:
		return newError(ErrorWriteFailure, "summary_write_failed", err)
	case !found:
		return newError(ErrorNotFound, "summary_not_found", nil)
	}
	return nil
}
