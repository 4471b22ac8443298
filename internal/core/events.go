package core

import (
	"fmt"
	"time"

	"github.com/dkeye/meet/internal/domain"
	"github.com/go-playground/validator/v10"
)

const (
	EventJoinRoom       EventName = "join-room"
	EventLeaveRoom      EventName = "leave-room"
	EventRequestRoster  EventName = "request-roster"
	EventRoomState      EventName = "room-state"
	EventPeerJoined     EventName = "peer-joined"
	EventPeerLeft       EventName = "peer-left"
	EventPeerUpdated    EventName = "peer-updated"
	EventActiveSpeaker  EventName = "active-speaker"
	EventRoomSettings   EventName = "room-settings"
	EventOffer          EventName = "send-offer"
	EventAnswer         EventName = "send-answer"
	EventICECandidate   EventName = "send-ice-candidate"
	EventChatMessage    EventName = "chat-message"
	EventResyncRequired EventName = "resync-required"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a decoded payload against its validate tags.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

type ParticipantPayload struct {
	ID           string    `json:"id" validate:"required,max=64"`
	DisplayName  string    `json:"displayName" validate:"max=64"`
	AudioEnabled bool      `json:"audioEnabled"`
	VideoEnabled bool      `json:"videoEnabled"`
	IsHost       bool      `json:"isHost"`
	JoinedAt     time.Time `json:"joinedAt"`
	Avatar       string    `json:"avatar,omitempty"`
}

func (p ParticipantPayload) Participant() domain.Participant {
	return domain.Participant{
		ID:           domain.ParticipantID(p.ID),
		DisplayName:  p.DisplayName,
		Avatar:       p.Avatar,
		AudioEnabled: p.AudioEnabled,
		VideoEnabled: p.VideoEnabled,
		IsHost:       p.IsHost,
		JoinedAt:     p.JoinedAt,
		State:        domain.StatePending,
	}
}

func ParticipantPayloadOf(p domain.Participant) ParticipantPayload {
	return ParticipantPayload{
		ID:           string(p.ID),
		DisplayName:  p.DisplayName,
		AudioEnabled: p.AudioEnabled,
		VideoEnabled: p.VideoEnabled,
		IsHost:       p.IsHost,
		JoinedAt:     p.JoinedAt,
		Avatar:       p.Avatar,
	}
}

type JoinRoomPayload struct {
	RoomID      string             `json:"roomId"`
	Participant ParticipantPayload `json:"participant"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	ID     string `json:"id"`
}

type RequestRosterPayload struct {
	RoomID string `json:"roomId"`
}

type RoomStatePayload struct {
	Participants []ParticipantPayload `json:"participants" validate:"dive"`
	Settings     []SettingPatchWire   `json:"settings,omitempty" validate:"dive"`
}

type PeerLeftPayload struct {
	ID string `json:"id" validate:"required"`
}

type ActiveSpeakerPayload struct {
	// ID is empty when nobody is speaking.
	ID string `json:"id"`
}

type ParticipantPatchWire struct {
	Field   string  `json:"field" validate:"required,oneof=audioEnabled videoEnabled isHost displayName avatar"`
	Enabled *bool   `json:"enabled,omitempty"`
	Text    *string `json:"text,omitempty"`
}

type PeerUpdatedPayload struct {
	ID      string                 `json:"id" validate:"required"`
	Patches []ParticipantPatchWire `json:"patches" validate:"required,min=1,dive"`
}

// DomainPatches converts the wire form into tagged patches. A patch whose value
// does not match its field is a malformed payload.
func (p PeerUpdatedPayload) DomainPatches() ([]domain.ParticipantPatch, error) {
	out := make([]domain.ParticipantPatch, 0, len(p.Patches))
	for _, w := range p.Patches {
		f := domain.PatchField(w.Field)
		switch f {
		case domain.PatchAudio, domain.PatchVideo, domain.PatchHost:
			if w.Enabled == nil {
				return nil, fmt.Errorf("patch %s: missing enabled", f)
			}
			out = append(out, domain.ParticipantPatch{Field: f, Enabled: *w.Enabled})
		case domain.PatchDisplayName, domain.PatchAvatar:
			if w.Text == nil {
				return nil, fmt.Errorf("patch %s: missing text", f)
			}
			out = append(out, domain.ParticipantPatch{Field: f, Text: *w.Text})
		default:
			return nil, fmt.Errorf("patch %s: unknown field", f)
		}
	}
	return out, nil
}

func ParticipantPatchWireOf(p domain.ParticipantPatch) ParticipantPatchWire {
	w := ParticipantPatchWire{Field: string(p.Field)}
	switch p.Field {
	case domain.PatchDisplayName, domain.PatchAvatar:
		text := p.Text
		w.Text = &text
	default:
		enabled := p.Enabled
		w.Enabled = &enabled
	}
	return w
}

type SettingPatchWire struct {
	Field string `json:"field" validate:"required,oneof=allowChat allowScreenShare allowAudio allowVideo"`
	Value bool   `json:"value"`
}

type RoomSettingsPayload struct {
	Patches []SettingPatchWire `json:"patches" validate:"required,min=1,dive"`
}

func SettingPatches(ws []SettingPatchWire) []domain.SettingPatch {
	out := make([]domain.SettingPatch, 0, len(ws))
	for _, w := range ws {
		out = append(out, domain.SettingPatch{Field: domain.SettingField(w.Field), Value: w.Value})
	}
	return out
}

type SDPPayload struct {
	To      string `json:"to" validate:"required"`
	From    string `json:"from" validate:"required"`
	SDP     string `json:"sdp" validate:"required"`
	Restart bool   `json:"restart,omitempty"`
}

type ICECandidatePayload struct {
	To            string  `json:"to" validate:"required"`
	From          string  `json:"from" validate:"required"`
	Candidate     string  `json:"candidate" validate:"required"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

type ChatMessagePayload struct {
	ID          string    `json:"id" validate:"required"`
	SenderID    string    `json:"senderId" validate:"required"`
	SenderName  string    `json:"senderName"`
	Content     string    `json:"content" validate:"required"`
	Timestamp   time.Time `json:"timestamp"`
	IsPrivate   bool      `json:"isPrivate"`
	RecipientID string    `json:"recipientId,omitempty" validate:"required_if=IsPrivate true"`
}

func (p ChatMessagePayload) Message() domain.ChatMessage {
	return domain.ChatMessage{
		ID:          p.ID,
		SenderID:    domain.ParticipantID(p.SenderID),
		SenderName:  p.SenderName,
		Content:     p.Content,
		Timestamp:   p.Timestamp,
		IsPrivate:   p.IsPrivate,
		RecipientID: domain.ParticipantID(p.RecipientID),
	}
}

func ChatMessagePayloadOf(m domain.ChatMessage) ChatMessagePayload {
	return ChatMessagePayload{
		ID:          m.ID,
		SenderID:    string(m.SenderID),
		SenderName:  m.SenderName,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		IsPrivate:   m.IsPrivate,
		RecipientID: string(m.RecipientID),
	}
}
