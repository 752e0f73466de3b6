package translation

import (
	"fmt"
	"strings"

	"chatsync/internal/domain"
)

const systemPromptTemplate = "You are a translator. Please translate the following text into %s. The translation should be grammatically correct."

// Prompt builds the role-tagged instruction/content pair sent upstream.
func Prompt(text, language string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, strings.TrimSpace(language))},
		{Role: "user", Content: text},
	}
}
