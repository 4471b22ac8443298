package orch

import (
	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/google/uuid"
)

func (s *Session) onChatMessage(p core.ChatMessagePayload) {
	m := p.Message()
	if m.SenderID == s.self.ID {
		return
	}
	if m.IsPrivate && m.RecipientID != s.self.ID {
		return
	}
	if err := m.Check(); err != nil {
		s.logger.Warn().Err(err).Str("sender", p.SenderID).Msg("chat message dropped")
		return
	}
	s.Chat.AddMessage(m, !s.chatOpen)
}

// SendChat posts a message to the room, or privately when recipient is set.
func (s *Session) SendChat(content string, recipient domain.ParticipantID) (domain.ChatMessage, error) {
	var sent domain.ChatMessage
	err := s.Do(func() error {
		if !s.joined {
			return ErrNotJoined
		}
		if !s.Room.Settings().AllowChat {
			return app.ErrChatNotAllowed
		}
		self, _ := s.Room.Participant(s.self.ID)
		m := domain.ChatMessage{
			ID:          uuid.NewString(),
			SenderID:    s.self.ID,
			SenderName:  self.DisplayName,
			Content:     content,
			Timestamp:   s.deps.Now(),
			IsPrivate:   recipient != "",
			RecipientID: recipient,
		}
		if err := m.Check(); err != nil {
			return err
		}
		if !s.deps.ChatLimiter.Allow(s.self.ID) {
			return ErrRateLimited
		}
		if err := s.deps.Transport.Emit(core.EventChatMessage, core.ChatMessagePayloadOf(m)); err != nil {
			return err
		}
		s.Chat.AddMessage(m, false)
		sent = m
		return nil
	})
	return sent, err
}

// SetChatOpen records chat panel visibility. Messages arriving while it is
// open do not count as unread.
func (s *Session) SetChatOpen(open bool) error {
	return s.Do(func() error {
		s.chatOpen = open
		if open {
			s.Chat.MarkAsRead()
		}
		return nil
	})
}

func (s *Session) MarkChatRead() error {
	return s.Do(func() error {
		s.Chat.MarkAsRead()
		return nil
	})
}
