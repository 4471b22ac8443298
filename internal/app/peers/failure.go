package peers

import (
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

func (m *Manager) onStateChange(e *entry, s webrtc.PeerConnectionState) {
	m.logger.Debug().Str("peer", string(e.id)).Str("pc_state", s.String()).Msg("connection state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		e.retries = 0
		e.backoff.Reset()
		m.setState(e, domain.ConnConnected)
	case webrtc.PeerConnectionStateFailed:
		m.onFailed(e)
	}
}

// onFailed detaches the remote stream and schedules a restart on a fresh
// connection, or reports the failure once retries are exhausted.
func (m *Manager) onFailed(e *entry) {
	m.detachStream(e)
	if e.retries >= m.cfg.MaxRetries {
		m.logger.Warn().Str("peer", string(e.id)).Int("retries", e.retries).Msg("negotiation failed, giving up")
		m.setState(e, domain.ConnFailed)
		m.events.Emit(core.PeerEvent{Kind: core.ConnectionFailed, PeerID: e.id, State: domain.ConnFailed})
		return
	}
	e.retries++
	m.setState(e, domain.ConnReconnecting)

	delay := e.backoff.NextBackOff()
	id, gen, epoch := e.id, e.gen, m.cfg.Loop.Epoch()
	m.logger.Info().Str("peer", string(id)).Int("attempt", e.retries).Dur("delay", delay).Msg("scheduling restart")
	m.cfg.After(delay, func() {
		m.cfg.Loop.Post(epoch, func() {
			cur, ok := m.entries[id]
			if !ok || cur.gen != gen {
				return
			}
			m.restart(cur)
		})
	})
}

func (m *Manager) restart(e *entry) {
	// Candidates buffered for the failed session are useless to a restart we
	// initiate. A remote restart keeps them: they belong to its new offer.
	if n := len(e.pendingCandidates); n > 0 {
		m.logger.Debug().Str("peer", string(e.id)).Int("dropped", n).Msg("restart: dropping stale candidates")
		e.pendingCandidates = nil
	}
	if err := m.openPC(e); err != nil {
		m.logger.Error().Err(err).Str("peer", string(e.id)).Msg("restart: new connection")
		m.onFailed(e)
		return
	}
	m.setState(e, domain.ConnNegotiating)
	if err := m.offer(e, true); err != nil {
		m.logger.Error().Err(err).Str("peer", string(e.id)).Msg("restart: offer")
		m.onFailed(e)
	}
}
