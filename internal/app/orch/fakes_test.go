package orch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meet/internal/adapters/signal"
	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/media"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// fakeTransport is backed by a real dispatcher and records what is emitted.
type fakeTransport struct {
	*signal.Dispatcher
	mu   sync.Mutex
	sent []sentEvent
}

type sentEvent struct {
	name    core.EventName
	payload any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{Dispatcher: signal.NewDispatcher(signal.JSONCodec{})}
}

func (t *fakeTransport) Emit(name core.EventName, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentEvent{name: name, payload: payload})
	return nil
}

func (t *fakeTransport) Status() core.ConnectionStatus { return core.StatusOpen }

func (t *fakeTransport) deliver(tb testing.TB, name core.EventName, payload any) {
	tb.Helper()
	data, err := signal.JSONCodec{}.Encode(name, payload)
	require.NoError(tb, err)
	require.NoError(tb, t.Deliver(data))
}

func (t *fakeTransport) ofName(name core.EventName) []sentEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentEvent
	for _, e := range t.sent {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return t.stream }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

type fakeSender struct{ track webrtc.TrackLocal }

func (s *fakeSender) Track() webrtc.TrackLocal { return s.track }

type fakePC struct {
	mu        sync.Mutex
	closed    bool
	tracks    []string
	removed   []string
	offers    int
	answers   int
	rollbacks int

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (p *fakePC) CreateOffer(bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePC) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (p *fakePC) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }

func (p *fakePC) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollbacks++
	return nil
}

func (p *fakePC) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t.ID())
	return &fakeSender{track: t}, nil
}

func (p *fakePC) RemoveTrack(s core.TrackSender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, s.Track().ID())
	return nil
}

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit))             { p.onICE = fn }
func (p *fakePC) OnTrack(fn func(core.RemoteTrack))                           { p.onTrack = fn }
func (p *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { p.onState = fn }

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePC) publish(peer string) {
	p.onTrack(fakeRemoteTrack{id: "audio", stream: peer, kind: webrtc.RTPCodecTypeAudio})
	p.onTrack(fakeRemoteTrack{id: "video", stream: peer, kind: webrtc.RTPCodecTypeVideo})
}

type fakeSource struct {
	kind   domain.MediaKind
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSource) Kind() domain.MediaKind { return s.kind }

func (s *fakeSource) Codec() webrtc.RTPCodecCapability {
	if s.kind == domain.KindAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, error) {
	<-s.closed
	return nil, media.ErrSourceClosed
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeDevices struct{ deny bool }

func (d fakeDevices) UserMedia(context.Context, domain.MediaConstraints) ([]core.LocalSource, error) {
	if d.deny {
		return nil, core.ErrMediaDenied
	}
	return []core.LocalSource{
		&fakeSource{kind: domain.KindAudio, closed: make(chan struct{})},
		&fakeSource{kind: domain.KindVideo, closed: make(chan struct{})},
	}, nil
}

func (d fakeDevices) DisplayMedia(context.Context, domain.MediaConstraints) (core.LocalSource, error) {
	if d.deny {
		return nil, core.ErrMediaDenied
	}
	return &fakeSource{kind: domain.KindScreen, closed: make(chan struct{})}, nil
}

type env struct {
	t         *testing.T
	s         *Session
	transport *fakeTransport

	mu     sync.Mutex
	pcs    map[domain.ParticipantID][]*fakePC
	timers []func()
}

type option func(*Deps)

func withDevices(d core.Devices) option     { return func(deps *Deps) { deps.Devices = d } }
func withPolicy(p app.Policy) option        { return func(deps *Deps) { deps.Policy = p } }
func withLimiter(l *app.RateLimiter) option { return func(deps *Deps) { deps.ChatLimiter = l } }

func newEnv(t *testing.T, self domain.Participant, opts ...option) *env {
	e := &env{t: t, transport: newFakeTransport(), pcs: make(map[domain.ParticipantID][]*fakePC)}
	deps := Deps{
		Transport: e.transport,
		Devices:   fakeDevices{},
		Factory: func(id domain.ParticipantID) (core.PeerConnection, error) {
			pc := &fakePC{}
			e.mu.Lock()
			e.pcs[id] = append(e.pcs[id], pc)
			e.mu.Unlock()
			return pc, nil
		},
		Constraints: func(kind domain.CaptureKind) domain.MediaConstraints {
			return domain.MediaConstraints{Kind: kind, Video: domain.VideoConstraints{Enabled: true}, Audio: domain.AudioConstraints{Enabled: kind == domain.CaptureCamera}}
		},
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		After: func(_ time.Duration, fn func()) {
			e.mu.Lock()
			e.timers = append(e.timers, fn)
			e.mu.Unlock()
		},
		Now: func() time.Time { return time.Unix(1700000000, 0) },
	}
	for _, o := range opts {
		o(&deps)
	}
	e.s = New("main", self, deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

// sync waits until everything posted so far has run.
func (e *env) sync() {
	e.t.Helper()
	require.NoError(e.t, e.s.Do(func() error { return nil }))
}

func (e *env) deliver(name core.EventName, payload any) {
	e.t.Helper()
	e.transport.deliver(e.t, name, payload)
	e.sync()
}

func (e *env) pc(id domain.ParticipantID) *fakePC {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.pcs[id]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (e *env) pcCount(id domain.ParticipantID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pcs[id])
}

func (e *env) fireTimers() {
	e.mu.Lock()
	timers := e.timers
	e.timers = nil
	e.mu.Unlock()
	for _, fn := range timers {
		fn()
	}
	e.sync()
}

func (e *env) participant(id domain.ParticipantID) (domain.Participant, bool) {
	return e.s.Room.Participant(id)
}

func peer(id string, at int64) core.ParticipantPayload {
	return core.ParticipantPayload{ID: id, DisplayName: "name-" + id, JoinedAt: time.Unix(at, 0).UTC()}
}

// relay hands the SDP and ICE messages from has emitted over to to.
func relay(t *testing.T, from, to *env) {
	t.Helper()
	for _, name := range []core.EventName{core.EventOffer, core.EventAnswer, core.EventICECandidate} {
		for _, ev := range from.transport.ofName(name) {
			to.deliver(name, ev.payload)
		}
	}
	from.transport.reset()
}

func answerFrom(from string) core.SDPPayload {
	return core.SDPPayload{To: "self", From: from, SDP: "answer"}
}
