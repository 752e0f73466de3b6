package domain

import "time"

// Message is a single immutable entry of a conversation log.
type Message struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	Text          string    `json:"text,omitempty"`
	AttachmentURL string    `json:"img,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasAttachment reports whether the message references an uploaded attachment.
func (m Message) HasAttachment() bool {
	return m.AttachmentURL != ""
}

// Snapshot is the full state of one conversation as committed by the store.
type Snapshot struct {
	ConversationID string    `json:"conversationId"`
	Found          bool      `json:"found"`
	Participants   []string  `json:"participants,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	Messages       []Message `json:"messages"`
}

// Version orders snapshots of the same conversation. The log is append-only,
// so a larger version is always a later commit. Absent conversations are -1.
func (s Snapshot) Version() int {
	if !s.Found {
		return -1
	}
	return len(s.Messages)
}

// HasParticipant reports whether userID is one of the two participants.
func (s Snapshot) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
