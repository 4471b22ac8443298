package app

import "github.com/dkeye/meet/internal/domain"

type FailureAction int

const (
	// KeepInRoster leaves the participant listed with MediaUnavailable set.
	KeepInRoster FailureAction = iota
	// RemoveParticipant drops the record without marking it departed.
	RemoveParticipant
)

// Policy decides what a negotiation that gave up means for the roster.
type Policy interface {
	OnConnectionFailed(room *RoomStore, id domain.ParticipantID) FailureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnConnectionFailed(*RoomStore, domain.ParticipantID) FailureAction {
	return KeepInRoster
}

// RemovePolicy removes participants whose media cannot be negotiated.
type RemovePolicy struct{}

func (RemovePolicy) OnConnectionFailed(*RoomStore, domain.ParticipantID) FailureAction {
	return RemoveParticipant
}

// ApplyFailure runs policy for id and applies its decision to room.
func ApplyFailure(policy Policy, room *RoomStore, id domain.ParticipantID) FailureAction {
	if policy == nil {
		policy = SimplePolicy{}
	}
	action := policy.OnConnectionFailed(room, id)
	switch action {
	case RemoveParticipant:
		room.Remove(id)
	default:
		room.MarkMediaUnavailable(id)
	}
	return action
}
