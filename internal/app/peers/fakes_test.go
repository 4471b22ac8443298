package peers

import (
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type posted struct {
	epoch uint64
	fn    func()
}

// testLoop runs posted closures only when drained.
type testLoop struct {
	epoch uint64
	queue []posted
}

func (l *testLoop) Epoch() uint64 { return l.epoch }

func (l *testLoop) Post(epoch uint64, fn func()) {
	l.queue = append(l.queue, posted{epoch: epoch, fn: fn})
}

func (l *testLoop) drain() {
	for len(l.queue) > 0 {
		p := l.queue[0]
		l.queue = l.queue[1:]
		if p.epoch == l.epoch {
			p.fn()
		}
	}
}

type fakeSender struct{ track webrtc.TrackLocal }

func (s *fakeSender) Track() webrtc.TrackLocal { return s.track }

type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return t.stream }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

// fakePC records every call in order.
type fakePC struct {
	name   string
	calls  []string
	offers int
	closed bool

	// rollbackErr is returned by Rollback when set.
	rollbackErr error

	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    []*fakeSender

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (p *fakePC) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.offers++
	p.calls = append(p.calls, fmt.Sprintf("offer restart=%t", iceRestart))
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", p.name, p.offers)}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	p.calls = append(p.calls, "answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + p.name}, nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.calls = append(p.calls, "remote "+d.Type.String())
	p.remote = append(p.remote, d)
	return nil
}

func (p *fakePC) Rollback() error {
	p.calls = append(p.calls, "rollback")
	return p.rollbackErr
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.calls = append(p.calls, "candidate "+c.Candidate)
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	p.calls = append(p.calls, "add "+t.ID())
	s := &fakeSender{track: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePC) RemoveTrack(s core.TrackSender) error {
	p.calls = append(p.calls, "remove "+s.Track().ID())
	return nil
}

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit))             { p.onICE = fn }
func (p *fakePC) OnTrack(fn func(core.RemoteTrack))                           { p.onTrack = fn }
func (p *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { p.onState = fn }

func (p *fakePC) Close() error {
	p.closed = true
	return nil
}

func (p *fakePC) count(call string) int {
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

type emitted struct {
	name    core.EventName
	payload any
}

type fakeTransport struct {
	sent []emitted
}

func (t *fakeTransport) Subscribe(core.EventName, core.Handler) func() { return func() {} }

func (t *fakeTransport) Emit(name core.EventName, payload any) error {
	t.sent = append(t.sent, emitted{name: name, payload: payload})
	return nil
}

func (t *fakeTransport) Status() core.ConnectionStatus { return core.StatusOpen }

func (t *fakeTransport) take() []emitted {
	out := t.sent
	t.sent = nil
	return out
}

func (t *fakeTransport) ofName(name core.EventName) []emitted {
	var out []emitted
	for _, e := range t.sent {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeMedia struct {
	tracks   []webrtc.TrackLocal
	detached []domain.ParticipantID
}

func newFakeMedia(t *testing.T, ids ...string) *fakeMedia {
	m := &fakeMedia{}
	for _, id := range ids {
		m.add(t, id)
	}
	return m
}

func (m *fakeMedia) add(t *testing.T, id string) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if id == "audio" {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, id, "self")
	require.NoError(t, err)
	m.tracks = append(m.tracks, track)
}

func (m *fakeMedia) remove(id string) {
	out := m.tracks[:0]
	for _, t := range m.tracks {
		if t.ID() != id {
			out = append(out, t)
		}
	}
	m.tracks = out
}

func (m *fakeMedia) Attach(domain.ParticipantID) ([]webrtc.TrackLocal, error) {
	return append([]webrtc.TrackLocal(nil), m.tracks...), nil
}

func (m *fakeMedia) Detach(id domain.ParticipantID) { m.detached = append(m.detached, id) }

type timer struct {
	d  time.Duration
	fn func()
}

// harness is one manager with its fakes.
type harness struct {
	m         *Manager
	loop      *testLoop
	transport *fakeTransport
	media     *fakeMedia
	pcs       map[domain.ParticipantID][]*fakePC
	timers    []timer
	events    []core.PeerEvent
}

func newHarness(t *testing.T, self domain.ParticipantID, maxRetries int) *harness {
	h := &harness{
		loop:      &testLoop{epoch: 1},
		transport: &fakeTransport{},
		media:     newFakeMedia(t, "audio", "video"),
		pcs:       make(map[domain.ParticipantID][]*fakePC),
	}
	h.m = NewManager(Config{
		Self:      self,
		Transport: h.transport,
		Loop:      h.loop,
		Media:     h.media,
		Factory: func(id domain.ParticipantID) (core.PeerConnection, error) {
			pc := &fakePC{name: string(self)}
			h.pcs[id] = append(h.pcs[id], pc)
			return pc, nil
		},
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		After:      func(d time.Duration, fn func()) { h.timers = append(h.timers, timer{d: d, fn: fn}) },
	})
	h.m.Subscribe(func(e core.PeerEvent) { h.events = append(h.events, e) })
	return h
}

func (h *harness) pc(id domain.ParticipantID) *fakePC {
	list := h.pcs[id]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (h *harness) fireTimers() {
	ts := h.timers
	h.timers = nil
	for _, t := range ts {
		t.fn()
	}
	h.loop.drain()
}

func (h *harness) eventsOf(kind core.PeerEventKind) []core.PeerEvent {
	var out []core.PeerEvent
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
