// Package peers drives one WebRTC peer connection per remote participant.
// Every exported method must run on the session loop; pion callbacks are
// posted back to it.
package peers

import (
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultMaxRetries = 1

type Config struct {
	Self      domain.ParticipantID
	Transport core.Transport
	Loop      core.Loop
	Factory   core.PeerConnectionFactory
	// Media may be nil for a receive-only session.
	Media core.LocalMedia

	MaxRetries int
	RetryDelay time.Duration
	// After schedules fn once d has elapsed. Defaults to time.AfterFunc.
	After func(d time.Duration, fn func())
}

type Manager struct {
	cfg     Config
	entries map[domain.ParticipantID]*entry
	events  core.Emitter[core.PeerEvent]
	logger  zerolog.Logger
}

// entry is the per-peer negotiation record.
type entry struct {
	id  domain.ParticipantID
	pc  core.PeerConnection
	gen uint64

	state      domain.ConnectionState
	localDesc  string
	remoteDesc string
	remoteSet  bool

	makingOffer        bool
	pendingRenegotiate bool
	pendingCandidates  []webrtc.ICECandidateInit

	senders map[string]core.TrackSender
	tracks  map[string]domain.Track

	retries int
	backoff backoff.BackOff
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.After == nil {
		cfg.After = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	return &Manager{
		cfg:     cfg,
		entries: make(map[domain.ParticipantID]*entry),
		logger: log.With().
			Str("module", "peers").
			Str("self", string(cfg.Self)).
			Logger(),
	}
}

// Subscribe registers fn for stream and connection events.
func (m *Manager) Subscribe(fn func(core.PeerEvent)) (unsubscribe func()) {
	return m.events.Subscribe(fn)
}

func (m *Manager) Has(id domain.ParticipantID) bool {
	_, ok := m.entries[id]
	return ok
}

func (m *Manager) State(id domain.ParticipantID) (domain.ConnectionState, bool) {
	e, ok := m.entries[id]
	if !ok {
		return domain.ConnClosed, false
	}
	return e.state, true
}

func (m *Manager) IDs() []domain.ParticipantID {
	ids := make([]domain.ParticipantID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stream returns the current remote stream snapshot for id.
func (m *Manager) Stream(id domain.ParticipantID) *domain.Stream {
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return e.stream()
}

// Close tears down the entry for id and releases its local track clones.
func (m *Manager) Close(id domain.ParticipantID) {
	e, ok := m.entries[id]
	if !ok {
		return
	}
	delete(m.entries, id)
	e.gen++
	if err := e.pc.Close(); err != nil {
		m.logger.Warn().Err(err).Str("peer", string(id)).Msg("close peer connection")
	}
	if m.cfg.Media != nil {
		m.cfg.Media.Detach(id)
	}
	e.state = domain.ConnClosed
	m.logger.Info().Str("peer", string(id)).Msg("peer connection closed")
	m.events.Emit(core.PeerEvent{Kind: core.StateChanged, PeerID: id, State: domain.ConnClosed})
}

func (m *Manager) CloseAll() {
	for _, id := range m.IDs() {
		m.Close(id)
	}
}

// ensure returns the entry for id, creating it with a fresh connection.
func (m *Manager) ensure(id domain.ParticipantID) (*entry, error) {
	if e, ok := m.entries[id]; ok {
		return e, nil
	}
	e := &entry{
		id:      id,
		state:   domain.ConnNegotiating,
		senders: make(map[string]core.TrackSender),
		tracks:  make(map[string]domain.Track),
		backoff: m.newBackoff(),
	}
	if err := m.openPC(e); err != nil {
		return nil, err
	}
	m.entries[id] = e
	m.logger.Info().Str("peer", string(id)).Msg("peer connection created")
	return e, nil
}

func (m *Manager) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryDelay
	b.MaxInterval = 30 * m.cfg.RetryDelay
	return b
}

// openPC replaces the entry's connection with a fresh one carrying the
// current local tracks. Callbacks of the previous connection are dropped.
func (m *Manager) openPC(e *entry) error {
	pc, err := m.cfg.Factory(e.id)
	if err != nil {
		return err
	}
	if e.pc != nil {
		_ = e.pc.Close()
	}
	e.gen++
	e.pc = pc
	e.remoteSet = false
	e.makingOffer = false
	e.localDesc, e.remoteDesc = "", ""
	clear(e.senders)

	m.wire(e)
	if err := m.syncLocalTracks(e); err != nil {
		m.logger.Warn().Err(err).Str("peer", string(e.id)).Msg("local tracks unavailable, receiving only")
	}
	return nil
}

// wire registers pion callbacks that post back to the loop guarded by both
// the session epoch and the connection generation.
func (m *Manager) wire(e *entry) {
	gen, epoch := e.gen, m.cfg.Loop.Epoch()
	id := e.id
	post := func(fn func(e *entry)) {
		m.cfg.Loop.Post(epoch, func() {
			cur, ok := m.entries[id]
			if !ok || cur.gen != gen {
				return
			}
			fn(cur)
		})
	}

	e.pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		post(func(e *entry) { m.sendCandidate(e, c) })
	})
	e.pc.OnTrack(func(t core.RemoteTrack) {
		track := domain.Track{ID: t.ID(), Kind: kindOf(t), StreamID: t.StreamID()}
		post(func(e *entry) { m.onTrack(e, track) })
	})
	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		post(func(e *entry) { m.onStateChange(e, s) })
	})
}

// syncLocalTracks diffs the entry's senders against the current local tracks.
func (m *Manager) syncLocalTracks(e *entry) error {
	if m.cfg.Media == nil {
		return nil
	}
	tracks, err := m.cfg.Media.Attach(e.id)
	if err != nil {
		return err
	}
	want := make(map[string]webrtc.TrackLocal, len(tracks))
	for _, t := range tracks {
		want[t.ID()] = t
	}
	for id, sender := range e.senders {
		if t, ok := want[id]; ok && sender.Track() == t {
			continue
		}
		if err := e.pc.RemoveTrack(sender); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(e.id)).Str("track", id).Msg("remove track")
		}
		delete(e.senders, id)
	}
	for _, t := range tracks {
		if _, ok := e.senders[t.ID()]; ok {
			continue
		}
		sender, err := e.pc.AddTrack(t)
		if err != nil {
			return err
		}
		e.senders[t.ID()] = sender
	}
	return nil
}

func (m *Manager) onTrack(e *entry, t domain.Track) {
	if cur, ok := e.tracks[t.ID]; ok && cur == t {
		return
	}
	e.tracks[t.ID] = t
	m.logger.Debug().
		Str("peer", string(e.id)).
		Str("track", t.ID).
		Str("kind", string(t.Kind)).
		Msg("remote track added")
	m.events.Emit(core.PeerEvent{Kind: core.StreamAdded, PeerID: e.id, Stream: e.stream()})
}

// detachStream drops every remote track and reports the stream gone.
func (m *Manager) detachStream(e *entry) {
	if len(e.tracks) == 0 {
		return
	}
	clear(e.tracks)
	m.events.Emit(core.PeerEvent{Kind: core.StreamRemoved, PeerID: e.id})
}

// stream builds an immutable snapshot of the entry's remote tracks.
func (e *entry) stream() *domain.Stream {
	if len(e.tracks) == 0 {
		return nil
	}
	tracks := make([]domain.Track, 0, len(e.tracks))
	for _, t := range e.tracks {
		tracks = append(tracks, t)
	}
	slices.SortFunc(tracks, func(a, b domain.Track) int { return strings.Compare(a.ID, b.ID) })
	return &domain.Stream{ID: string(e.id), Tracks: tracks}
}

func (m *Manager) setState(e *entry, s domain.ConnectionState) {
	if e.state == s {
		return
	}
	e.state = s
	m.events.Emit(core.PeerEvent{Kind: core.StateChanged, PeerID: e.id, State: s})
}

func (m *Manager) emit(name core.EventName, payload any) {
	if err := m.cfg.Transport.Emit(name, payload); err != nil {
		m.logger.Warn().Err(err).Str("event", string(name)).Msg("emit failed")
	}
}

func kindOf(t core.RemoteTrack) domain.MediaKind {
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	if strings.HasSuffix(t.StreamID(), "-screen") {
		return domain.KindScreen
	}
	return domain.KindVideo
}
