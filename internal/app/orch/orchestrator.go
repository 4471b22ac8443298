// Package orch wires the stores, the peer connection manager and local
// capture of one room session onto a single event loop.
package orch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/media"
	"github.com/dkeye/meet/internal/app/peers"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined     = errors.New("not joined")
	ErrAlreadyJoined = errors.New("already joined")
	ErrStopped       = errors.New("session loop stopped")
	ErrRateLimited   = errors.New("chat rate limit exceeded")
)

type Deps struct {
	Transport core.Transport
	Factory   core.PeerConnectionFactory
	Devices   core.Devices
	// Constraints maps a capture kind to constraints. Required.
	Constraints func(domain.CaptureKind) domain.MediaConstraints
	Policy      app.Policy
	ChatLimiter *app.RateLimiter

	MaxRetries int
	RetryDelay time.Duration
	After      func(time.Duration, func())
	Now        func() time.Time
}

type task struct {
	epoch  uint64
	always bool
	fn     func()
}

// Session is one participant's view of one room. All mutation runs on the
// goroutine executing Run.
type Session struct {
	deps   Deps
	roomID string
	self   domain.Participant

	Room *app.RoomStore
	Chat *app.ChatStore

	peers   *peers.Manager
	capture *media.Capture

	epoch   atomic.Uint64
	qmu     sync.Mutex
	queue   []task
	wake    chan struct{}
	stopped chan struct{}

	joined    bool
	resyncing bool
	chatOpen  bool
	unsubs    []func()

	logger zerolog.Logger
}

func New(roomID string, self domain.Participant, deps Deps) *Session {
	if deps.Policy == nil {
		deps.Policy = app.SimplePolicy{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{
		deps:    deps,
		roomID:  roomID,
		self:    self,
		Room:    app.NewRoomStore(),
		Chat:    app.NewChatStore(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger: log.With().
			Str("module", "orch").
			Str("room", roomID).
			Str("self", string(self.ID)).
			Logger(),
	}
	s.capture = media.NewCapture(deps.Devices, self.ID,
		deps.Constraints(domain.CaptureCamera), deps.Constraints(domain.CaptureScreen))
	s.peers = peers.NewManager(peers.Config{
		Self:       self.ID,
		Transport:  deps.Transport,
		Loop:       s,
		Factory:    deps.Factory,
		Media:      s.capture,
		MaxRetries: deps.MaxRetries,
		RetryDelay: deps.RetryDelay,
		After:      deps.After,
	})
	s.peers.Subscribe(s.onPeerEvent)
	return s
}

func (s *Session) Epoch() uint64 { return s.epoch.Load() }

// Post implements core.Loop.
func (s *Session) Post(epoch uint64, fn func()) {
	s.enqueue(task{epoch: epoch, fn: fn})
}

func (s *Session) enqueue(t task) {
	s.qmu.Lock()
	s.queue = append(s.queue, t)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes posted closures in order until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	for {
		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		s.qmu.Unlock()

		for _, t := range batch {
			s.runTask(t)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

func (s *Session) runTask(t task) {
	if !t.always && t.epoch != s.epoch.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic in session loop")
		}
	}()
	t.fn()
}

// Do runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
func (s *Session) Do(fn func() error) error {
	done := make(chan error, 1)
	s.enqueue(task{always: true, fn: func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered panic in session action")
				err = fmt.Errorf("panic: %v", r)
			}
			done <- err
		}()
		err = fn()
	}})
	select {
	case err := <-done:
		return err
	case <-s.stopped:
		return ErrStopped
	}
}

func (s *Session) SelfID() domain.ParticipantID { return s.self.ID }

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) Status() core.ConnectionStatus { return s.deps.Transport.Status() }

func (s *Session) RoomSnapshot() app.RoomSnapshot { return s.Room.Snapshot() }

func (s *Session) ChatSnapshot() app.ChatSnapshot { return s.Chat.Snapshot() }

// OnRoom registers fn for every roster change. fn runs on the loop and must
// not block.
func (s *Session) OnRoom(fn func(app.RoomSnapshot)) (unsubscribe func()) {
	return s.Room.Subscribe(fn)
}

func (s *Session) OnChat(fn func(app.ChatSnapshot)) (unsubscribe func()) {
	return s.Chat.Subscribe(fn)
}

func (s *Session) Joined() bool {
	var joined bool
	_ = s.Do(func() error {
		joined = s.joined
		return nil
	})
	return joined
}

func (s *Session) ChatOpen() bool {
	var open bool
	_ = s.Do(func() error {
		open = s.chatOpen
		return nil
	})
	return open
}

func (s *Session) emit(name core.EventName, payload any) {
	if err := s.deps.Transport.Emit(name, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", string(name)).Msg("emit failed")
	}
}
