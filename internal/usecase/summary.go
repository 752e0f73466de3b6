package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatsync/internal/domain"
	"chatsync/internal/repository"
)

// WriteMode selects how a summary index read-modify-write is committed.
type WriteMode string

const (
	// WriteOverwrite writes the whole index back unconditionally. Two writers
	// racing on the same index can silently lose one update.
	WriteOverwrite WriteMode = "overwrite"
	// WriteVersioned writes only if the index version is unchanged since the
	// read, re-reading and re-applying on conflict.
	WriteVersioned WriteMode = "versioned"

	defaultMaxRetries = 3
)

var (
	errSummaryMissing = errors.New("usecase: summary index does not exist")
	errSummaryRead    = errors.New("usecase: summary index read failed")
	errSummaryWrite   = errors.New("usecase: summary index write failed")
)

// ParseWriteMode accepts "overwrite", "versioned" or "" (overwrite), ignoring
// case and surrounding space.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", WriteOverwrite:
		return WriteOverwrite, nil
	case WriteVersioned:
		return WriteVersioned, nil
	default:
		return "", fmt.Errorf("usecase: unknown summary write mode %q", s)
	}
}

// SummaryStore reads and writes whole per-user summary indexes.
// CompareAndPutSummaryIndex fails with repository.ErrVersionConflict when the
// stored version moved since the read.
type SummaryStore interface {
	GetSummaryIndex(ctx context.Context, userID string) (domain.SummaryIndex, error)
	PutSummaryIndex(ctx context.Context, idx domain.SummaryIndex) (domain.SummaryIndex, error)
	CompareAndPutSummaryIndex(ctx context.Context, idx domain.SummaryIndex) (domain.SummaryIndex, error)
}

// SummaryConfig selects the write mode. MaxRetries bounds versioned retries.
type SummaryConfig struct {
	Mode       WriteMode
	MaxRetries int
}

type summaryWriter struct {
	store      SummaryStore
	mode       WriteMode
	maxRetries int
	logger     *slog.Logger
}

func newSummaryWriter(store SummaryStore, cfg SummaryConfig, logger *slog.Logger) (summaryWriter, error) {
	if store == nil {
		return summaryWriter{}, errors.New("usecase: summary store must not be nil")
	}
	mode, err := ParseWriteMode(string(cfg.Mode))
	if err != nil {
		return summaryWriter{}, err
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return summaryWriter{store: store, mode: mode, maxRetries: retries, logger: logger}, nil
}

// update runs one read-modify-write of userID's index. mutate edits the
// freshly read index and returns false when nothing needs writing. In
// versioned mode a conflicting write is retried from a new read.
func (w summaryWriter) update(ctx context.Context, userID string, createMissing bool, mutate func(*domain.SummaryIndex) bool) error {
	attempts := 1
	if w.mode == WriteVersioned {
		attempts += w.maxRetries
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		idx, err := w.store.GetSummaryIndex(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: %w", errSummaryRead, err)
		}
		if !idx.Found && !createMissing {
			return errSummaryMissing
		}
		idx.UserID = userID
		if !mutate(&idx) {
			return nil
		}

		if w.mode == WriteOverwrite {
			if _, err := w.store.PutSummaryIndex(ctx, idx); err != nil {
				return fmt.Errorf("%w: %w", errSummaryWrite, err)
			}
			return nil
		}

		_, err = w.store.CompareAndPutSummaryIndex(ctx, idx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return fmt.Errorf("%w: %w", errSummaryWrite, err)
		}
		w.logger.Debug("summary index changed concurrently, retrying",
			"user_id", userID,
			"attempt", attempt,
		)
	}
	return fmt.Errorf("%w: %w", errSummaryWrite, repository.ErrVersionConflict)
}

// upsertEntry returns the entry for conversationID, appending an empty one
// for receiverID when the index has none.
func upsertEntry(idx *domain.SummaryIndex, conversationID, receiverID string) *domain.ConversationSummary {
	i := idx.Find(conversationID)
	if i < 0 {
		idx.Chats = append(idx.Chats, domain.ConversationSummary{
			ConversationID: conversationID,
			ReceiverID:     receiverID,
		})
		i = len(idx.Chats) - 1
	}
	return &idx.Chats[i]
}
