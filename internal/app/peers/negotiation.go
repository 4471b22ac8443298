package peers

import (
	"fmt"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Call opens a connection to id and sends an offer. Calling a peer that
// already has an entry renegotiates instead.
func (m *Manager) Call(id domain.ParticipantID) error {
	if _, ok := m.entries[id]; ok {
		return m.Renegotiate(id)
	}
	e, err := m.ensure(id)
	if err != nil {
		return fmt.Errorf("call %s: %w", id, err)
	}
	return m.offer(e, false)
}

// Renegotiate refreshes the local tracks on the existing connection and
// re-offers. While an offer is outstanding the request waits for its answer.
func (m *Manager) Renegotiate(id domain.ParticipantID) error {
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	switch e.state {
	case domain.ConnReconnecting, domain.ConnFailed:
		// The restart offer picks up the current tracks.
		return nil
	}
	if err := m.syncLocalTracks(e); err != nil {
		m.logger.Warn().Err(err).Str("peer", string(id)).Msg("refresh local tracks")
	}
	return m.offer(e, false)
}

func (m *Manager) RenegotiateAll() {
	for _, id := range m.IDs() {
		if err := m.Renegotiate(id); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(id)).Msg("renegotiate")
		}
	}
}

func (m *Manager) offer(e *entry, restart bool) error {
	if e.makingOffer {
		e.pendingRenegotiate = true
		m.logger.Debug().Str("peer", string(e.id)).Msg("offer outstanding, renegotiation deferred")
		return nil
	}
	desc, err := e.pc.CreateOffer(restart)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", e.id, err)
	}
	e.makingOffer = true
	e.pendingRenegotiate = false
	e.localDesc = desc.SDP
	m.logger.Debug().Str("peer", string(e.id)).Bool("restart", restart).Msg("sending offer")
	m.emit(core.EventOffer, core.SDPPayload{
		To:      string(e.id),
		From:    string(m.cfg.Self),
		SDP:     desc.SDP,
		Restart: restart,
	})
	return nil
}

// HandleOffer answers a remote offer, resolving glare by id order: the
// smaller id rolls back its own offer, the larger id ignores the incoming one.
func (m *Manager) HandleOffer(p core.SDPPayload) error {
	from := domain.ParticipantID(p.From)
	logger := m.logger.With().Str("peer", p.From).Logger()

	e, exists := m.entries[from]
	if exists && p.Restart && e.remoteSet {
		logger.Info().Msg("remote restarted, recreating connection")
		m.detachStream(e)
		if err := m.openPC(e); err != nil {
			return fmt.Errorf("recreate connection for %s: %w", from, err)
		}
		m.setState(e, domain.ConnNegotiating)
	}
	if !exists {
		var err error
		if e, err = m.ensure(from); err != nil {
			return fmt.Errorf("accept offer from %s: %w", from, err)
		}
	}

	if e.makingOffer {
		if m.cfg.Self > from {
			logger.Debug().Msg("glare, ignoring remote offer")
			return nil
		}
		logger.Debug().Msg("glare, rolling back local offer")
		if err := e.pc.Rollback(); err != nil {
			logger.Warn().Err(err).Msg("rollback failed, recreating connection")
			m.detachStream(e)
			if err := m.openPC(e); err != nil {
				return fmt.Errorf("recreate connection for %s: %w", from, err)
			}
		}
		e.makingOffer = false
		e.localDesc = ""
	}

	if err := m.setRemote(e, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		return err
	}
	answer, err := e.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer for %s: %w", from, err)
	}
	e.localDesc = answer.SDP
	m.emit(core.EventAnswer, core.SDPPayload{
		To:   p.From,
		From: string(m.cfg.Self),
		SDP:  answer.SDP,
	})

	if e.pendingRenegotiate {
		return m.offer(e, false)
	}
	return nil
}

// HandleAnswer completes an outstanding local offer.
func (m *Manager) HandleAnswer(p core.SDPPayload) error {
	from := domain.ParticipantID(p.From)
	e, ok := m.entries[from]
	if !ok || !e.makingOffer {
		m.logger.Debug().Str("peer", p.From).Msg("answer without outstanding offer ignored")
		return nil
	}
	if err := m.setRemote(e, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		return err
	}
	e.makingOffer = false
	if e.pendingRenegotiate {
		if err := m.syncLocalTracks(e); err != nil {
			m.logger.Warn().Err(err).Str("peer", p.From).Msg("refresh local tracks")
		}
		return m.offer(e, false)
	}
	return nil
}

// HandleCandidate applies a remote candidate, buffering it until the remote
// description is set.
func (m *Manager) HandleCandidate(p core.ICECandidatePayload) error {
	from := domain.ParticipantID(p.From)
	e, err := m.ensure(from)
	if err != nil {
		return fmt.Errorf("accept candidate from %s: %w", from, err)
	}
	c := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if !e.remoteSet || e.state == domain.ConnReconnecting || e.state == domain.ConnFailed {
		e.pendingCandidates = append(e.pendingCandidates, c)
		return nil
	}
	if err := e.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate from %s: %w", from, err)
	}
	return nil
}

// setRemote applies desc, flushes buffered candidates in arrival order and
// prunes tracks the remote no longer sends.
func (m *Manager) setRemote(e *entry, desc webrtc.SessionDescription) error {
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s from %s: %w", desc.Type, e.id, err)
	}
	e.remoteSet = true
	e.remoteDesc = desc.SDP

	pending := e.pendingCandidates
	e.pendingCandidates = nil
	for _, c := range pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(e.id)).Msg("buffered candidate rejected")
		}
	}

	m.pruneTracks(e, desc.SDP)
	return nil
}

func (m *Manager) sendCandidate(e *entry, c webrtc.ICECandidateInit) {
	m.emit(core.EventICECandidate, core.ICECandidatePayload{
		To:            string(e.id),
		From:          string(m.cfg.Self),
		Candidate:     c.Candidate,
		SDPMLineIndex: c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
	})
}
