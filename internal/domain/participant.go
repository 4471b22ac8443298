// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrParticipantIDEmpty = errors.New("participant id empty")
)

type ParticipantID string

// ParticipantState tracks where a roster record sits in the reconciliation
// state machine. Departed records never appear in the live roster.
type ParticipantState int

const (
	StateUnknown ParticipantState = iota
	StatePending
	StateActive
	StateDeparted
)

func (s ParticipantState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateDeparted:
		return "departed"
	default:
		return "unknown"
	}
}

func (s ParticipantState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Participant is one roster record. Stream is a snapshot handed over by the
// peer connection manager; the roster never owns connection objects.
type Participant struct {
	ID               ParticipantID    `json:"id"`
	DisplayName      string           `json:"displayName"`
	Avatar           string           `json:"avatar,omitempty"`
	AudioEnabled     bool             `json:"audioEnabled"`
	VideoEnabled     bool             `json:"videoEnabled"`
	IsHost           bool             `json:"isHost"`
	JoinedAt         time.Time        `json:"joinedAt"`
	IsActiveSpeaker  bool             `json:"isActiveSpeaker"`
	State            ParticipantState `json:"state"`
	Placeholder      bool             `json:"placeholder,omitempty"`
	MediaUnavailable bool             `json:"mediaUnavailable,omitempty"`
	Stream           *Stream          `json:"stream,omitempty"`
}

// NewParticipant validates the identity fields signaled for a participant.
func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if len(id) == 0 {
		return nil, ErrParticipantIDEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{ID: id, DisplayName: displayName, State: StatePending}, nil
}

// PatchField enumerates the participant metadata a peer-updated event may touch.
type PatchField string

const (
	// PatchAudio sets AudioEnabled from Enabled.
	PatchAudio PatchField = "audioEnabled"
	// PatchVideo sets VideoEnabled from Enabled.
	PatchVideo PatchField = "videoEnabled"
	// PatchHost sets IsHost from Enabled.
	PatchHost PatchField = "isHost"
	// PatchDisplayName replaces DisplayName with Text when Text is not empty.
	PatchDisplayName PatchField = "displayName"
	// PatchAvatar replaces Avatar with Text.
	PatchAvatar PatchField = "avatar"
)

type ParticipantPatch struct {
	Field   PatchField
	Enabled bool
	Text    string
}
