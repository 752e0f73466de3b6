// Package translation memoizes per-message translations of conversation text.
package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"

	"chatsync/internal/domain"
)

const defaultTimeout = 20 * time.Second

var ErrEmptyTranslation = errors.New("translation: empty result")

// LLM is the chat completion capability the cache calls on a miss.
// *openai.Client satisfies it.
type LLM interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type Config struct {
	Model   string
	Timeout time.Duration
}

// Key identifies one cached translation.
type Key struct {
	ConversationID string
	MessageKey     string
	Language       string
}

func (k Key) String() string {
	return k.ConversationID + "\x00" + k.MessageKey + "\x00" + NormalizeLanguage(k.Language)
}

// NormalizeLanguage returns the canonical spelling of a language name: words
// separated by single spaces, each capitalized and otherwise lower case.
// "french", " FRENCH " and "French" all become "French".
func NormalizeLanguage(language string) string {
	words := strings.Fields(language)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Cache is a process-local, never-evicted translation memo. Concurrent
// misses on the same key share one upstream call.
type Cache struct {
	llm     LLM
	model   string
	timeout time.Duration
	logger  *slog.Logger

	sf singleflight.Group

	mu      sync.RWMutex
	entries map[string]string
	pending map[string]struct{}
}

func New(llm LLM, cfg Config, logger *slog.Logger) (*Cache, error) {
	if llm == nil {
		return nil, errors.New("translation: llm must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("translation: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		llm:     llm,
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
		logger:  logger,
		entries: map[string]string{},
		pending: map[string]struct{}{},
	}, nil
}

// Translate returns the cached translation for the key or fetches it. The
// language is normalized first, so the entry and the prompt never depend on
// the first caller's casing. A caller whose context ends stops waiting, but
// the shared call keeps running and its result is still stored.
func (c *Cache) Translate(ctx context.Context, conversationID, messageKey, text, language string) (string, error) {
	key := Key{ConversationID: conversationID, MessageKey: messageKey, Language: NormalizeLanguage(language)}
	if v, ok := c.Lookup(key); ok {
		return v, nil
	}

	ks := key.String()
	ch := c.sf.DoChan(ks, func() (interface{}, error) {
		return c.fill(context.WithoutCancel(ctx), key, text)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) fill(ctx context.Context, key Key, text string) (string, error) {
	ks := key.String()
	if v, ok := c.Lookup(key); ok {
		return v, nil
	}

	c.mu.Lock()
	c.pending[ks] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ks)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.llm.Chat(ctx, c.model, Prompt(text, key.Language))
	if err != nil {
		c.logger.Warn("translation failed",
			"conversation_id", key.ConversationID,
			"message_key", key.MessageKey,
			"language", key.Language,
			"err", err,
		)
		return "", fmt.Errorf("translation: translate %q: %w", key.MessageKey, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyTranslation
	}

	c.mu.Lock()
	c.entries[ks] = out
	c.mu.Unlock()

	c.logger.Debug("translation cached",
		"conversation_id", key.ConversationID,
		"message_key", key.MessageKey,
		"language", key.Language,
		"elapsed", time.Since(start),
	)
	return out, nil
}

func (c *Cache) Lookup(key Key) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key.String()]
	return v, ok
}

// Pending reports whether an upstream call for the key is in flight.
func (c *Cache) Pending(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pending[key.String()]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
