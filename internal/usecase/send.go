package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatsync/internal/domain"
	"chatsync/internal/integrations/attachments"
	"chatsync/internal/repository"
)

const (
	defaultMaxTextLength = 4000
	// AttachmentPlaceholder is the summary text of a message that carries
	// only an attachment.
	AttachmentPlaceholder = "[image]"
)

// ConversationStore persists conversation documents. AppendMessage must refuse
// a sender or receiver outside the conversation with repository.ErrNotParticipant.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conversationID string, participants []string, createdAt time.Time) error
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message, receiverID string) (domain.Snapshot, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Snapshot, error)
}

// ChangeNotifier is told about every committed append.
type ChangeNotifier interface {
	ConversationChanged(ctx context.Context, snap domain.Snapshot) error
}

// AttachmentResolver stores a raw upload and returns a URL clients can load.
type AttachmentResolver interface {
	Resolve(ctx context.Context, up attachments.Upload) (string, error)
}

// SendConfig tunes validation and the summary write mode.
type SendConfig struct {
	MaxTextLength int
	Summary       SummaryConfig
}

// SendService appends messages and keeps both participants' summaries in step.
type SendService struct {
	conversations ConversationStore
	summaries     summaryWriter
	notifier      ChangeNotifier
	resolver      AttachmentResolver
	maxTextLen    int
	logger        *slog.Logger
	now           func() time.Time
}

// SendInput is one message from SenderID to ReceiverID. The blocked flags are
// the caller's view of the block lists at send time.
type SendInput struct {
	ConversationID  string
	SenderID        string
	ReceiverID      string
	Text            string
	AttachmentURL   string
	Attachment      *attachments.Upload
	SenderBlocked   bool
	ReceiverBlocked bool
}

// SendOutput is the committed message and the snapshot it produced.
type SendOutput struct {
	Message  domain.Message
	Snapshot domain.Snapshot
	// StaleSummaries lists the participants whose summary index was not
	// updated. The message is delivered regardless.
	StaleSummaries []string
}

// NewSendService wires the orchestrator. notifier and resolver may be nil.
func NewSendService(conv ConversationStore, sums SummaryStore, notifier ChangeNotifier, resolver AttachmentResolver, cfg SendConfig, logger *slog.Logger) (*SendService, error) {
	if conv == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	sw, err := newSummaryWriter(sums, cfg.Summary, logger)
	if err != nil {
		return nil, err
	}
	maxLen := cfg.MaxTextLength
	if maxLen <= 0 {
		maxLen = defaultMaxTextLength
	}
	return &SendService{
		conversations: conv,
		summaries:     sw,
		notifier:      notifier,
		resolver:      resolver,
		maxTextLen:    maxLen,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Send validates and appends one message, notifies live subscribers and then
// updates both participants' summaries. Only the append decides success.
func (s *SendService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	if err := s.validate(in); err != nil {
		return SendOutput{}, err
	}

	attachmentURL := strings.TrimSpace(in.AttachmentURL)
	if in.Attachment != nil && len(in.Attachment.Data) > 0 {
		if s.resolver == nil {
			return SendOutput{}, newError(ErrorResolutionFailure, "attachments_disabled", nil)
		}
		up := *in.Attachment
		if up.Progress == nil {
			up.Progress = s.uploadProgress(in.ConversationID, up.Name)
		}
		url, err := s.resolver.Resolve(ctx, up)
		if err != nil {
			reason := "attachment_resolve_failed"
			if errors.Is(err, attachments.ErrUpload) {
				reason = "attachment_upload_failed"
			}
			return SendOutput{}, newError(ErrorResolutionFailure, reason, err)
		}
		attachmentURL = url
	}

	msg := domain.Message{
		ID:            newUUID(),
		SenderID:      in.SenderID,
		Text:          in.Text,
		AttachmentURL: attachmentURL,
		CreatedAt:     s.now().UTC(),
	}

	snap, err := s.conversations.AppendMessage(ctx, in.ConversationID, msg, in.ReceiverID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return SendOutput{}, newError(ErrorWriteFailure, "conversation_not_found", err)
		}
		if errors.Is(err, repository.ErrNotParticipant) {
			return SendOutput{}, newError(ErrorBlocked, "not_a_participant", err)
		}
		return SendOutput{}, newError(ErrorWriteFailure, "append_failed", err)
	}

	if s.notifier != nil {
		if err := s.notifier.ConversationChanged(ctx, snap); err != nil {
			s.logger.Warn("change notification failed",
				"conversation_id", in.ConversationID,
				"err", err,
			)
		}
	}

	out := SendOutput{Message: msg, Snapshot: snap}
	if !snap.HasParticipant(in.SenderID) || !snap.HasParticipant(in.ReceiverID) {
		// Never write a summary entry into an outsider's index.
		s.logger.Error("committed snapshot does not list both parties, skipping summaries",
			"conversation_id", in.ConversationID,
			"sender_id", in.SenderID,
			"receiver_id", in.ReceiverID,
		)
		out.StaleSummaries = []string{in.SenderID, in.ReceiverID}
		return out, nil
	}
	out.StaleSummaries = s.updateSummaries(ctx, in, msg)
	return out, nil
}

// uploadProgress logs the transfer of one attachment at debug level.
func (s *SendService) uploadProgress(conversationID, name string) attachments.ProgressFunc {
	return func(sent, total int64) {
		s.logger.Debug("attachment upload progress",
			"conversation_id", conversationID,
			"name", name,
			"sent", sent,
			"total", total,
		)
	}
}

func (s *SendService) validate(in SendInput) error {
	if strings.TrimSpace(in.ConversationID) == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if strings.TrimSpace(in.SenderID) == "" || strings.TrimSpace(in.ReceiverID) == "" {
		return newError(ErrorInvalidInput, "missing_participant", nil)
	}
	if in.SenderID == in.ReceiverID {
		return newError(ErrorInvalidInput, "self_conversation", nil)
	}
	hasAttachment := strings.TrimSpace(in.AttachmentURL) != "" || (in.Attachment != nil && len(in.Attachment.Data) > 0)
	if strings.TrimSpace(in.Text) == "" && !hasAttachment {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(in.Text) > s.maxTextLen {
		return newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if in.SenderBlocked {
		return newError(ErrorBlocked, "sender_blocked", nil)
	}
	if in.ReceiverBlocked {
		return newError(ErrorBlocked, "receiver_blocked", nil)
	}
	return nil
}

// updateSummaries runs both participants' read-modify-write cycles
// independently and returns the users whose index was left stale.
func (s *SendService) updateSummaries(ctx context.Context, in SendInput, msg domain.Message) []string {
	lastMessage := msg.Text
	if strings.TrimSpace(lastMessage) == "" {
		lastMessage = AttachmentPlaceholder
	}

	participants := [2]struct{ user, other string }{
		{in.SenderID, in.ReceiverID},
		{in.ReceiverID, in.SenderID},
	}
	failed := make([]bool, len(participants))

	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func(i int, user, other string) {
			defer wg.Done()
			err := s.summaries.update(ctx, user, false, func(idx *domain.SummaryIndex) bool {
				e := upsertEntry(idx, in.ConversationID, other)
				e.LastMessage = lastMessage
				e.IsSeen = user == in.SenderID
				e.UpdatedAt = msg.CreatedAt
				return true
			})
			if err == nil {
				return
			}
			failed[i] = true
			if errors.Is(err, errSummaryMissing) {
				s.logger.Warn("summary index missing, skipping update",
					"conversation_id", in.ConversationID,
					"user_id", user,
				)
				return
			}
			s.logger.Error("summary index update failed",
				"conversation_id", in.ConversationID,
				"user_id", user,
				"err", err,
			)
		}(i, p.user, p.other)
	}
	wg.Wait()

	var stale []string
	for i, p := range participants {
		if failed[i] {
			stale = append(stale, p.user)
		}
	}
	return stale
}
