package domain

import (
	"sort"
	"time"
)

// ConversationSummary is one user's denormalized view of a conversation.
type ConversationSummary struct {
	ConversationID string    `json:"chatId"`
	ReceiverID     string    `json:"receiverId"`
	LastMessage    string    `json:"lastMessage"`
	IsSeen         bool      `json:"isSeen"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SummaryIndex is the per-user list of conversation summaries. Version is the
// document version token; every write increments it.
type SummaryIndex struct {
	UserID  string                `json:"userId"`
	Found   bool                  `json:"-"`
	Version int                   `json:"version"`
	Chats   []ConversationSummary `json:"chats"`
}

// Find returns the position of the entry for conversationID, or -1.
func (idx SummaryIndex) Find(conversationID string) int {
	for i, c := range idx.Chats {
		if c.ConversationID == conversationID {
			return i
		}
	}
	return -1
}

// Sorted returns a copy of the entries, most recently updated first.
func (idx SummaryIndex) Sorted() []ConversationSummary {
	out := make([]ConversationSummary, len(idx.Chats))
	copy(out, idx.Chats)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
