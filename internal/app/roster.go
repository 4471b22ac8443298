package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RoomSnapshot is a value copy of the room handed to readers.
type RoomSnapshot struct {
	Self          domain.ParticipantID `json:"self"`
	Participants  []domain.Participant `json:"participants"`
	ActiveSpeaker domain.ParticipantID `json:"activeSpeaker,omitempty"`
	Settings      domain.RoomSettings  `json:"settings"`
	Capabilities  domain.Capabilities  `json:"capabilities"`
}

// Participant looks up id in the snapshot.
func (s RoomSnapshot) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// RoomStore is the authoritative roster for one room session. Every Apply*
// method is idempotent and treats unknown or departed ids as no-ops.
type RoomStore struct {
	mu           sync.RWMutex
	self         domain.ParticipantID
	participants map[domain.ParticipantID]*domain.Participant
	departed     map[domain.ParticipantID]struct{}
	speaker      domain.ParticipantID
	settings     domain.RoomSettings
	capabilities domain.Capabilities

	changes core.Emitter[RoomSnapshot]
	logger  zerolog.Logger
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		participants: make(map[domain.ParticipantID]*domain.Participant),
		departed:     make(map[domain.ParticipantID]struct{}),
		settings:     domain.DefaultRoomSettings(),
		logger:       log.With().Str("module", "app.roster").Logger(),
	}
}

// Subscribe registers fn for every committed change.
func (s *RoomStore) Subscribe(fn func(RoomSnapshot)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

// update runs fn under the write lock and publishes a snapshot when fn
// reports a change.
func (s *RoomStore) update(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	var snap RoomSnapshot
	if changed {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()
	if changed {
		s.changes.Emit(snap)
	}
	return changed
}

// SetSelf installs the local participant. It is never departed nor reset.
func (s *RoomStore) SetSelf(p domain.Participant) {
	s.update(func() bool {
		p.State = domain.StateActive
		p.Stream = nil
		s.self = p.ID
		s.participants[p.ID] = &p
		return true
	})
}

func (s *RoomStore) Self() domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// ApplyPeerJoined creates a pending record or merges into an existing one.
func (s *RoomStore) ApplyPeerJoined(p domain.Participant) bool {
	return s.update(func() bool {
		if s.ignoredLocked(p.ID) {
			return false
		}
		cur, ok := s.participants[p.ID]
		if !ok {
			p.State = domain.StatePending
			p.Stream = nil
			p.Placeholder = false
			p.IsActiveSpeaker = false
			s.participants[p.ID] = &p
			s.logger.Debug().Str("peer", string(p.ID)).Msg("participant joined")
			return true
		}
		merge(cur, p)
		s.logger.Debug().Str("peer", string(p.ID)).Msg("participant merged")
		return true
	})
}

// merge backfills metadata without clearing flags that are already set.
func merge(dst *domain.Participant, src domain.Participant) {
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if src.Avatar != "" {
		dst.Avatar = src.Avatar
	}
	dst.AudioEnabled = dst.AudioEnabled || src.AudioEnabled
	dst.VideoEnabled = dst.VideoEnabled || src.VideoEnabled
	dst.IsHost = dst.IsHost || src.IsHost
	if dst.JoinedAt.IsZero() {
		dst.JoinedAt = src.JoinedAt
	}
	dst.Placeholder = false
}

// ApplyStreamAdded attaches stream, creating a placeholder record when the
// stream beat peer-joined.
func (s *RoomStore) ApplyStreamAdded(id domain.ParticipantID, stream *domain.Stream) bool {
	return s.update(func() bool {
		if s.ignoredLocked(id) || stream == nil {
			return false
		}
		cur, ok := s.participants[id]
		if !ok {
			cur = &domain.Participant{ID: id, Placeholder: true}
			s.participants[id] = cur
			s.logger.Debug().Str("peer", string(id)).Msg("placeholder created by stream")
		}
		cur.Stream = stream
		cur.State = domain.StateActive
		cur.MediaUnavailable = false
		cur.IsActiveSpeaker = s.speaker == id
		return true
	})
}

// ApplyStreamRemoved detaches the stream. The record stays.
func (s *RoomStore) ApplyStreamRemoved(id domain.ParticipantID) bool {
	return s.update(func() bool {
		if s.ignoredLocked(id) {
			return false
		}
		cur, ok := s.participants[id]
		if !ok || cur.Stream == nil {
			return false
		}
		cur.Stream = nil
		cur.State = domain.StatePending
		return true
	})
}

// ApplyPeerLeft removes the record and remembers the id as departed, even
// when it was never seen.
func (s *RoomStore) ApplyPeerLeft(id domain.ParticipantID) bool {
	return s.update(func() bool {
		if id == "" || id == s.self {
			return false
		}
		if _, gone := s.departed[id]; gone {
			return false
		}
		s.departed[id] = struct{}{}
		_, existed := s.participants[id]
		delete(s.participants, id)
		if s.speaker == id {
			s.speaker = ""
		}
		s.logger.Debug().Str("peer", string(id)).Bool("existed", existed).Msg("participant departed")
		return existed
	})
}

// ApplyPatches applies tagged metadata patches to a live record.
func (s *RoomStore) ApplyPatches(id domain.ParticipantID, patches []domain.ParticipantPatch) bool {
	return s.update(func() bool {
		if s.ignoredLocked(id) {
			return false
		}
		cur, ok := s.participants[id]
		if !ok {
			return false
		}
		changed := false
		for _, p := range patches {
			changed = applyPatch(cur, p) || changed
		}
		return changed
	})
}

func applyPatch(p *domain.Participant, patch domain.ParticipantPatch) bool {
	switch patch.Field {
	case domain.PatchAudio:
		if p.AudioEnabled == patch.Enabled {
			return false
		}
		p.AudioEnabled = patch.Enabled
	case domain.PatchVideo:
		if p.VideoEnabled == patch.Enabled {
			return false
		}
		p.VideoEnabled = patch.Enabled
	case domain.PatchHost:
		if p.IsHost == patch.Enabled {
			return false
		}
		p.IsHost = patch.Enabled
	case domain.PatchDisplayName:
		if patch.Text == "" || p.DisplayName == patch.Text {
			return false
		}
		p.DisplayName = patch.Text
	case domain.PatchAvatar:
		if p.Avatar == patch.Text {
			return false
		}
		p.Avatar = patch.Text
	default:
		return false
	}
	return true
}

// SetActiveSpeaker swaps the speaker flag. An empty id clears it; an id not
// in the roster is ignored.
func (s *RoomStore) SetActiveSpeaker(id domain.ParticipantID) bool {
	return s.update(func() bool {
		if id != "" {
			if _, ok := s.participants[id]; !ok {
				return false
			}
		}
		if s.speaker == id {
			return false
		}
		if prev, ok := s.participants[s.speaker]; ok {
			prev.IsActiveSpeaker = false
		}
		s.speaker = id
		if next, ok := s.participants[id]; ok {
			next.IsActiveSpeaker = true
		}
		return true
	})
}

func (s *RoomStore) ActiveSpeaker() domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speaker
}

// MarkMediaUnavailable flags a participant whose negotiation gave up.
func (s *RoomStore) MarkMediaUnavailable(id domain.ParticipantID) bool {
	return s.update(func() bool {
		cur, ok := s.participants[id]
		if !ok || s.ignoredLocked(id) || cur.MediaUnavailable {
			return false
		}
		cur.MediaUnavailable = true
		cur.Stream = nil
		cur.State = domain.StatePending
		return true
	})
}

// Remove drops a live record without marking it departed.
func (s *RoomStore) Remove(id domain.ParticipantID) bool {
	return s.update(func() bool {
		if id == s.self {
			return false
		}
		if _, ok := s.participants[id]; !ok {
			return false
		}
		delete(s.participants, id)
		if s.speaker == id {
			s.speaker = ""
		}
		return true
	})
}

// ApplySettings applies setting patches and returns those that changed a value.
func (s *RoomStore) ApplySettings(patches []domain.SettingPatch) []domain.SettingPatch {
	var applied []domain.SettingPatch
	s.update(func() bool {
		for _, p := range patches {
			if setSetting(&s.settings, p) {
				applied = append(applied, p)
			}
		}
		return len(applied) > 0
	})
	return applied
}

func setSetting(rs *domain.RoomSettings, p domain.SettingPatch) bool {
	var field *bool
	switch p.Field {
	case domain.SettingChat:
		field = &rs.AllowChat
	case domain.SettingScreenShare:
		field = &rs.AllowScreenShare
	case domain.SettingAudio:
		field = &rs.AllowAudio
	case domain.SettingVideo:
		field = &rs.AllowVideo
	default:
		return false
	}
	if *field == p.Value {
		return false
	}
	*field = p.Value
	return true
}

func (s *RoomStore) Settings() domain.RoomSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *RoomStore) SetCapabilities(c domain.Capabilities) {
	s.update(func() bool {
		if s.capabilities == c {
			return false
		}
		s.capabilities = c
		return true
	})
}

// PatchSelf applies patches to the local participant.
func (s *RoomStore) PatchSelf(patches ...domain.ParticipantPatch) bool {
	return s.update(func() bool {
		cur, ok := s.participants[s.self]
		if !ok {
			return false
		}
		changed := false
		for _, p := range patches {
			changed = applyPatch(cur, p) || changed
		}
		return changed
	})
}

// Reset discards every remote record ahead of a fresh roster. Departed ids
// stay departed.
func (s *RoomStore) Reset() {
	s.update(func() bool {
		for id := range s.participants {
			if id != s.self {
				delete(s.participants, id)
			}
		}
		if s.speaker != s.self {
			s.speaker = ""
		}
		return true
	})
}

// Clear empties the store when the room is left.
func (s *RoomStore) Clear() {
	s.update(func() bool {
		clear(s.participants)
		clear(s.departed)
		s.self = ""
		s.speaker = ""
		s.settings = domain.DefaultRoomSettings()
		s.capabilities = domain.Capabilities{}
		return true
	})
}

func (s *RoomStore) IsDeparted(id domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.departed[id]
	return ok
}

func (s *RoomStore) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return copyParticipant(p), true
}

// RemoteIDs lists the non-self ids currently in the roster.
func (s *RoomStore) RemoteIDs() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]domain.ParticipantID, 0, len(s.participants))
	for id := range s.participants {
		if id != s.self {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *RoomStore) Snapshot() RoomSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *RoomStore) ignoredLocked(id domain.ParticipantID) bool {
	if id == "" || id == s.self {
		return true
	}
	if _, gone := s.departed[id]; gone {
		s.logger.Debug().Str("peer", string(id)).Msg("event for departed participant ignored")
		return true
	}
	return false
}

func (s *RoomStore) snapshotLocked() RoomSnapshot {
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, copyParticipant(p))
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return RoomSnapshot{
		Self:          s.self,
		Participants:  out,
		ActiveSpeaker: s.speaker,
		Settings:      s.settings,
		Capabilities:  s.capabilities,
	}
}

func copyParticipant(p *domain.Participant) domain.Participant {
	c := *p
	if p.Stream != nil {
		st := domain.Stream{ID: p.Stream.ID, Tracks: slices.Clone(p.Stream.Tracks)}
		c.Stream = &st
	}
	return c
}
