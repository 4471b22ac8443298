package app

import (
	"slices"
	"sync"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ChatSnapshot struct {
	Messages []domain.ChatMessage `json:"messages"`
	Unread   int                  `json:"unread"`
}

// ChatStore keeps the chat log of the current room in receipt order.
type ChatStore struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
	unread   int

	changes core.Emitter[ChatSnapshot]
	logger  zerolog.Logger
}

func NewChatStore() *ChatStore {
	return &ChatStore{logger: log.With().Str("module", "app.chat").Logger()}
}

func (c *ChatStore) Subscribe(fn func(ChatSnapshot)) (unsubscribe func()) {
	return c.changes.Subscribe(fn)
}

func (c *ChatStore) update(fn func()) {
	c.mu.Lock()
	fn()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.changes.Emit(snap)
}

// AddMessage appends m. Messages are not deduplicated by id.
func (c *ChatStore) AddMessage(m domain.ChatMessage, incrementUnread bool) {
	c.update(func() {
		c.messages = append(c.messages, m)
		if incrementUnread {
			c.unread++
		}
	})
	c.logger.Debug().Str("sender", string(m.SenderID)).Bool("private", m.IsPrivate).Msg("message added")
}

func (c *ChatStore) MarkAsRead() {
	c.update(func() { c.unread = 0 })
}

func (c *ChatStore) ClearMessages() {
	c.update(func() {
		c.messages = nil
		c.unread = 0
	})
}

func (c *ChatStore) Messages() []domain.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

func (c *ChatStore) Unread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unread
}

func (c *ChatStore) Snapshot() ChatSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *ChatStore) snapshotLocked() ChatSnapshot {
	msgs := slices.Clone(c.messages)
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return ChatSnapshot{Messages: msgs, Unread: c.unread}
}
