package domain

// ChatMessage is a role-tagged instruction or content entry sent to the
// translation model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
