package orch

import (
	"context"
	"maps"
	"slices"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
)

// Join acquires local media, subscribes to signaling and announces self.
// Denied devices only clear capability flags.
func (s *Session) Join(ctx context.Context) error {
	return s.Do(func() error {
		if s.joined {
			return ErrAlreadyJoined
		}
		s.epoch.Add(1)

		caps := s.capture.Acquire(ctx)
		self := s.self
		self.JoinedAt = s.deps.Now()
		self.AudioEnabled = self.AudioEnabled && caps.AudioAvailable
		self.VideoEnabled = self.VideoEnabled && caps.VideoAvailable
		s.self = self
		s.capture.SetMuted(domain.KindAudio, !self.AudioEnabled)
		s.capture.SetMuted(domain.KindVideo, !self.VideoEnabled)

		s.Room.SetSelf(self)
		s.Room.SetCapabilities(caps)
		s.subscribe()
		s.joined = true

		s.logger.Info().
			Bool("audio", caps.AudioAvailable).
			Bool("video", caps.VideoAvailable).
			Msg("joining room")
		s.emit(core.EventJoinRoom, core.JoinRoomPayload{
			RoomID:      s.roomID,
			Participant: core.ParticipantPayloadOf(self),
		})
		return nil
	})
}

// Leave tears the session down: peer connections, local capture, signaling
// subscriptions, then the stores. Callbacks still in flight are discarded.
func (s *Session) Leave() error {
	return s.Do(func() error {
		if !s.joined {
			return ErrNotJoined
		}
		s.epoch.Add(1)

		s.peers.CloseAll()
		s.capture.Release()
		for _, unsubscribe := range s.unsubs {
			unsubscribe()
		}
		s.unsubs = nil
		s.emit(core.EventLeaveRoom, core.LeaveRoomPayload{RoomID: s.roomID, ID: string(s.self.ID)})

		s.Room.Clear()
		s.Chat.ClearMessages()
		s.joined = false
		s.resyncing = false
		s.chatOpen = false
		if s.deps.ChatLimiter != nil {
			s.deps.ChatLimiter.Reset()
		}
		s.logger.Info().Msg("left room")
		return nil
	})
}

// on subscribes a typed handler. Payloads are decoded and validated on the
// transport goroutine; the handler runs on the loop in the current epoch.
func on[T any](s *Session, name core.EventName, fn func(T)) func() {
	epoch := s.Epoch()
	return s.deps.Transport.Subscribe(name, func(ev core.Event) {
		var p T
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn().Err(err).Str("event", string(name)).Msg("malformed payload dropped")
			return
		}
		if err := core.Validate(p); err != nil {
			s.logger.Warn().Err(err).Str("event", string(name)).Msg("invalid payload dropped")
			return
		}
		s.Post(epoch, func() { fn(p) })
	})
}

func (s *Session) subscribe() {
	epoch := s.Epoch()
	s.unsubs = append(s.unsubs,
		on(s, core.EventRoomState, s.onRoomState),
		on(s, core.EventPeerJoined, s.onPeerJoined),
		on(s, core.EventPeerLeft, s.onPeerLeft),
		on(s, core.EventPeerUpdated, s.onPeerUpdated),
		on(s, core.EventActiveSpeaker, s.onActiveSpeaker),
		on(s, core.EventRoomSettings, s.onRoomSettings),
		on(s, core.EventOffer, s.onOffer),
		on(s, core.EventAnswer, s.onAnswer),
		on(s, core.EventICECandidate, s.onCandidate),
		on(s, core.EventChatMessage, s.onChatMessage),
		s.deps.Transport.Subscribe(core.EventResyncRequired, func(core.Event) {
			s.Post(epoch, s.onResync)
		}),
	)
}

func (s *Session) onRoomState(p core.RoomStatePayload) {
	if len(p.Settings) > 0 {
		s.applySettings(core.SettingPatches(p.Settings))
	}
	present := make(map[domain.ParticipantID]struct{}, len(p.Participants))
	for _, pp := range p.Participants {
		present[domain.ParticipantID(pp.ID)] = struct{}{}
		s.Room.ApplyPeerJoined(pp.Participant())
	}
	if !s.resyncing {
		return
	}
	s.resyncing = false
	s.reconcile(present)
}

// reconcile aligns connections with a fresh roster after a signaling
// reconnect. Connections to absent peers are treated as departures.
func (s *Session) reconcile(present map[domain.ParticipantID]struct{}) {
	for _, id := range s.peers.IDs() {
		if _, ok := present[id]; !ok {
			s.logger.Info().Str("peer", string(id)).Msg("peer missing after resync")
			s.Room.ApplyPeerLeft(id)
			s.peers.Close(id)
			continue
		}
		if st := s.peers.Stream(id); st != nil {
			s.Room.ApplyStreamAdded(id, st)
		}
	}
	// A peer that joined while we were away never calls us. When both sides
	// call, HandleOffer settles it by id order.
	for _, id := range slices.Sorted(maps.Keys(present)) {
		if id == s.self.ID || s.peers.Has(id) || s.Room.IsDeparted(id) {
			continue
		}
		s.call(id)
	}
}

func (s *Session) onPeerJoined(p core.ParticipantPayload) {
	id := domain.ParticipantID(p.ID)
	if !s.Room.ApplyPeerJoined(p.Participant()) {
		return
	}
	if !s.peers.Has(id) {
		s.call(id)
	}
}

func (s *Session) onPeerLeft(p core.PeerLeftPayload) {
	id := domain.ParticipantID(p.ID)
	if id == s.self.ID {
		return
	}
	s.Room.ApplyPeerLeft(id)
	s.peers.Close(id)
}

func (s *Session) onPeerUpdated(p core.PeerUpdatedPayload) {
	patches, err := p.DomainPatches()
	if err != nil {
		s.logger.Warn().Err(err).Str("peer", p.ID).Msg("bad peer-updated dropped")
		return
	}
	if !s.Room.ApplyPatches(domain.ParticipantID(p.ID), patches) {
		s.logger.Debug().Str("peer", p.ID).Msg("peer-updated was a no-op")
	}
}

func (s *Session) onActiveSpeaker(p core.ActiveSpeakerPayload) {
	s.Room.SetActiveSpeaker(domain.ParticipantID(p.ID))
}

func (s *Session) onRoomSettings(p core.RoomSettingsPayload) {
	s.applySettings(core.SettingPatches(p.Patches))
}

func (s *Session) applySettings(patches []domain.SettingPatch) {
	applied := s.Room.ApplySettings(patches)
	if len(applied) == 0 {
		return
	}
	self, _ := s.Room.Participant(s.self.ID)
	effects := app.EffectsOf(applied, self.IsHost)
	if !effects.Any() {
		return
	}
	s.logger.Info().
		Bool("mute_audio", effects.MuteAudio).
		Bool("disable_video", effects.DisableVideo).
		Bool("stop_screen", effects.StopScreenShare).
		Msg("applying room settings")
	if effects.MuteAudio {
		s.setAudio(false)
	}
	if effects.DisableVideo {
		s.setVideo(false)
	}
	if effects.StopScreenShare && s.capture.Sharing() {
		s.stopScreen()
	}
}

func (s *Session) onResync() {
	if !s.joined {
		return
	}
	s.logger.Info().Msg("signaling reconnected, requesting roster")
	s.Room.Reset()
	s.resyncing = true
	s.emit(core.EventRequestRoster, core.RequestRosterPayload{RoomID: s.roomID})
}
