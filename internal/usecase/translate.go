package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

const defaultLanguage = "English"

// Translator is the per-message translation memo.
// *translation.Cache satisfies it.
type Translator interface {
	Translate(ctx context.Context, conversationID, messageKey, text, language string) (string, error)
}

// TranslateService translates one message on demand. It never touches the
// conversation store.
type TranslateService struct {
	translator      Translator
	defaultLanguage string
	maxTextLen      int
}

// TranslateInput identifies the message and target language. An empty
// Language uses the service default.
type TranslateInput struct {
	ConversationID string
	MessageID      string
	Text           string
	Language       string
}

// TranslateOutput is the translated text and the language it was produced in.
type TranslateOutput struct {
	Text     string
	Language string
}

// NewTranslateService wires the translate use case. An empty defaultLang
// means English.
func NewTranslateService(t Translator, defaultLang string, maxTextLen int) (*TranslateService, error) {
	if t == nil {
		return nil, errors.New("usecase: translator must not be nil")
	}
	defaultLang = strings.TrimSpace(defaultLang)
	if defaultLang == "" {
		defaultLang = defaultLanguage
	}
	if maxTextLen <= 0 {
		maxTextLen = defaultMaxTextLength
	}
	return &TranslateService{translator: t, defaultLanguage: defaultLang, maxTextLen: maxTextLen}, nil
}

// Translate never reads or writes the conversation; a failure affects only
// the translation of this one message.
func (s *TranslateService) Translate(ctx context.Context, in TranslateInput) (TranslateOutput, error) {
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.MessageID) == "" {
		return TranslateOutput{}, newError(ErrorInvalidInput, "missing_id", nil)
	}
	if strings.TrimSpace(in.Text) == "" {
		return TranslateOutput{}, newError(ErrorInvalidInput, "empty_text", nil)
	}
	if utf8.RuneCountInString(in.Text) > s.maxTextLen {
		return TranslateOutput{}, newError(ErrorInvalidInput, "text_too_long", nil)
	}
	lang := strings.TrimSpace(in.Language)
	if lang == "" {
		lang = s.defaultLanguage
	}

	out, err := s.translator.Translate(ctx, in.ConversationID, in.MessageID, in.Text, lang)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return TranslateOutput{}, newError(ErrorRateLimited, "translator_rate_limited", err)
		}
		return TranslateOutput{}, newError(ErrorTranslationFailure, "translator_error", err)
	}
	return TranslateOutput{Text: out, Language: lang}, nil
}
