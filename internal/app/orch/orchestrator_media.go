package orch

import (
	"context"
	"errors"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
)

var (
	ErrAudioNotAllowed = errors.New("audio is disabled in this room")
	ErrVideoNotAllowed = errors.New("video is disabled in this room")
	ErrUnavailable     = errors.New("local device unavailable")
)

// onPeerEvent maps manager events onto the roster. It runs on the loop.
func (s *Session) onPeerEvent(ev core.PeerEvent) {
	switch ev.Kind {
	case core.StreamAdded:
		s.Room.ApplyStreamAdded(ev.PeerID, ev.Stream)
	case core.StreamRemoved:
		s.Room.ApplyStreamRemoved(ev.PeerID)
	case core.ConnectionFailed:
		action := app.ApplyFailure(s.deps.Policy, s.Room, ev.PeerID)
		s.logger.Warn().Str("peer", string(ev.PeerID)).Int("action", int(action)).Msg("connection failed")
		if action == app.RemoveParticipant {
			s.peers.Close(ev.PeerID)
		}
	case core.StateChanged:
		s.logger.Debug().Str("peer", string(ev.PeerID)).Str("state", ev.State.String()).Msg("peer state")
		switch ev.State {
		case domain.ConnReconnecting, domain.ConnFailed:
			s.capture.Pause(ev.PeerID)
		case domain.ConnConnected:
			s.capture.Resume(ev.PeerID)
		}
	}
}

func (s *Session) call(id domain.ParticipantID) {
	if err := s.peers.Call(id); err != nil {
		s.logger.Error().Err(err).Str("peer", string(id)).Msg("call failed")
	}
}

// relayed reports whether an SDP or ICE message is meant for this session.
func (s *Session) relayed(to, from string) bool {
	if to != string(s.self.ID) || from == string(s.self.ID) {
		return false
	}
	if s.Room.IsDeparted(domain.ParticipantID(from)) {
		s.logger.Debug().Str("peer", from).Msg("signal from departed peer ignored")
		return false
	}
	return true
}

func (s *Session) onOffer(p core.SDPPayload) {
	if !s.relayed(p.To, p.From) {
		return
	}
	if err := s.peers.HandleOffer(p); err != nil {
		s.logger.Warn().Err(err).Str("peer", p.From).Msg("offer failed")
	}
}

func (s *Session) onAnswer(p core.SDPPayload) {
	if !s.relayed(p.To, p.From) {
		return
	}
	if err := s.peers.HandleAnswer(p); err != nil {
		s.logger.Warn().Err(err).Str("peer", p.From).Msg("answer failed")
	}
}

func (s *Session) onCandidate(p core.ICECandidatePayload) {
	if !s.relayed(p.To, p.From) {
		return
	}
	if err := s.peers.HandleCandidate(p); err != nil {
		s.logger.Warn().Err(err).Str("peer", p.From).Msg("candidate failed")
	}
}

// SetAudio publishes or mutes the microphone and tells the room.
func (s *Session) SetAudio(enabled bool) error {
	return s.Do(func() error {
		if !s.joined {
			return ErrNotJoined
		}
		if enabled {
			if !s.Room.Snapshot().Capabilities.AudioAvailable {
				return ErrUnavailable
			}
			if !s.Room.Settings().AllowAudio && !s.isHost() {
				return ErrAudioNotAllowed
			}
		}
		s.setAudio(enabled)
		return nil
	})
}

// SetVideo turns the camera on or off and tells the room.
func (s *Session) SetVideo(enabled bool) error {
	return s.Do(func() error {
		if !s.joined {
			return ErrNotJoined
		}
		if enabled {
			if !s.Room.Snapshot().Capabilities.VideoAvailable {
				return ErrUnavailable
			}
			if !s.Room.Settings().AllowVideo && !s.isHost() {
				return ErrVideoNotAllowed
			}
		}
		s.setVideo(enabled)
		return nil
	})
}

func (s *Session) setAudio(enabled bool) {
	s.capture.SetMuted(domain.KindAudio, !enabled)
	s.patchSelf(domain.ParticipantPatch{Field: domain.PatchAudio, Enabled: enabled})
}

func (s *Session) setVideo(enabled bool) {
	s.capture.SetMuted(domain.KindVideo, !enabled)
	s.patchSelf(domain.ParticipantPatch{Field: domain.PatchVideo, Enabled: enabled})
}

func (s *Session) patchSelf(p domain.ParticipantPatch) {
	if !s.Room.PatchSelf(p) {
		return
	}
	s.emit(core.EventPeerUpdated, core.PeerUpdatedPayload{
		ID:      string(s.self.ID),
		Patches: []core.ParticipantPatchWire{core.ParticipantPatchWireOf(p)},
	})
}

func (s *Session) isHost() bool {
	self, _ := s.Room.Participant(s.self.ID)
	return self.IsHost
}

// StartScreenShare adds a screen track to every connection.
func (s *Session) StartScreenShare(ctx context.Context) error {
	return s.Do(func() error {
		if !s.joined {
			return ErrNotJoined
		}
		if !s.Room.Settings().AllowScreenShare {
			return app.ErrScreenShareNotAllowed
		}
		if s.capture.Sharing() {
			return nil
		}
		if err := s.capture.StartScreen(ctx); err != nil {
			s.Room.SetCapabilities(s.capture.Capabilities())
			return err
		}
		s.peers.RenegotiateAll()
		return nil
	})
}

func (s *Session) StopScreenShare() error {
	return s.Do(func() error {
		if !s.joined {
			return ErrNotJoined
		}
		return s.stopScreen()
	})
}

func (s *Session) stopScreen() error {
	if err := s.capture.StopScreen(); err != nil {
		return err
	}
	s.peers.RenegotiateAll()
	return nil
}

func (s *Session) Sharing() bool {
	return s.capture.Sharing()
}
