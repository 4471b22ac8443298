package domain

import (
	"errors"
	"time"
)

const MaxChatContentLen = 4000

var (
	ErrChatContentEmpty   = errors.New("chat content empty")
	ErrChatContentTooLong = errors.New("chat content too long")
	ErrChatRecipient      = errors.New("recipient must be set iff message is private")
)

type ChatMessage struct {
	ID          string        `json:"id"`
	SenderID    ParticipantID `json:"senderId"`
	SenderName  string        `json:"senderName"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"timestamp"`
	IsPrivate   bool          `json:"isPrivate"`
	RecipientID ParticipantID `json:"recipientId,omitempty"`
}

// Check enforces the message shape. The content length is counted in bytes.
func (m ChatMessage) Check() error {
	if len(m.Content) == 0 {
		return ErrChatContentEmpty
	}
	if len(m.Content) > MaxChatContentLen {
		return ErrChatContentTooLong
	}
	if m.IsPrivate != (m.RecipientID != "") {
		return ErrChatRecipient
	}
	return nil
}
