package app

import (
	"errors"

	"github.com/dkeye/meet/internal/domain"
)

var ErrChatNotAllowed = errors.New("chat is disabled in this room")
var ErrScreenShareNotAllowed = errors.New("screen sharing is disabled in this room")

// SettingsEffects are the local actions a settings change demands.
type SettingsEffects struct {
	MuteAudio       bool
	DisableVideo    bool
	StopScreenShare bool
}

func (e SettingsEffects) Any() bool {
	return e.MuteAudio || e.DisableVideo || e.StopScreenShare
}

// EffectsOf maps applied setting patches to local effects. Hosts keep their
// audio and video when those permissions are revoked.
func EffectsOf(applied []domain.SettingPatch, selfIsHost bool) SettingsEffects {
	var e SettingsEffects
	for _, p := range applied {
		if p.Value {
			continue
		}
		switch p.Field {
		case domain.SettingAudio:
			e.MuteAudio = !selfIsHost
		case domain.SettingVideo:
			e.DisableVideo = !selfIsHost
		case domain.SettingScreenShare:
			e.StopScreenShare = true
		}
	}
	return e
}
