package media

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	TrackAudio  = "audio"
	TrackVideo  = "video"
	TrackScreen = "screen"
)

var ErrNotSharing = errors.New("screen share not active")

// Capture owns the local capture of one session and fans it out to per-peer
// clones. Capture is acquired once, released when the last consumer detaches
// or the room is left, and re-acquired lazily on the next Attach.
type Capture struct {
	devices core.Devices
	self    domain.ParticipantID
	camera  domain.MediaConstraints
	screen  domain.MediaConstraints

	mu        sync.Mutex
	ctx       context.Context
	acquired  bool
	relays    map[string]*Relay
	consumers map[domain.ParticipantID]struct{}
	paused    map[domain.ParticipantID]struct{}
	caps      domain.Capabilities
	muted     map[string]bool

	logger zerolog.Logger
}

func NewCapture(devices core.Devices, self domain.ParticipantID, camera, screen domain.MediaConstraints) *Capture {
	return &Capture{
		devices:   devices,
		self:      self,
		camera:    camera,
		screen:    screen,
		ctx:       context.Background(),
		relays:    make(map[string]*Relay),
		consumers: make(map[domain.ParticipantID]struct{}),
		paused:    make(map[domain.ParticipantID]struct{}),
		muted:     make(map[string]bool),
		logger: log.With().
			Str("module", "media").
			Str("self", string(self)).
			Logger(),
	}
}

// Acquire opens camera and microphone. A denied device clears the matching
// capability and is not an error for the session.
func (c *Capture) Acquire(ctx context.Context) domain.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = context.WithoutCancel(ctx)
	c.acquireLocked()
	return c.caps
}

func (c *Capture) acquireLocked() {
	if c.acquired {
		return
	}
	c.acquired = true

	sources, err := c.devices.UserMedia(c.ctx, c.camera)
	if err != nil {
		c.logger.Warn().Err(err).Msg("user media unavailable, publishing disabled")
	}

	c.caps.AudioAvailable, c.caps.VideoAvailable = false, false
	for _, src := range sources {
		var id string
		switch src.Kind() {
		case domain.KindAudio:
			id = TrackAudio
			c.caps.AudioAvailable = true
		case domain.KindVideo:
			id = TrackVideo
			c.caps.VideoAvailable = true
		default:
			_ = src.Close()
			continue
		}
		c.startRelayLocked(id, string(c.self), src)
	}
	if sc, ok := c.devices.(interface{ CanShareScreen() bool }); ok {
		c.caps.ScreenAvailable = sc.CanShareScreen()
	} else {
		c.caps.ScreenAvailable = true
	}
	c.logger.Info().
		Bool("audio", c.caps.AudioAvailable).
		Bool("video", c.caps.VideoAvailable).
		Msg("local capture acquired")
}

func (c *Capture) startRelayLocked(trackID, streamID string, src core.LocalSource) {
	if old, ok := c.relays[trackID]; ok {
		old.stop()
	}
	r := NewRelay(src, trackID, streamID)
	r.SetMuted(c.muted[trackID])
	c.relays[trackID] = r
	logger := c.logger.With().Str("track", trackID).Logger()
	r.start(c.ctx, &logger)
}

// Release stops every relay and closes the devices behind them.
func (c *Capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
	clear(c.consumers)
	clear(c.paused)
}

func (c *Capture) releaseLocked() {
	if !c.acquired && len(c.relays) == 0 {
		return
	}
	for id, r := range c.relays {
		r.stop()
		delete(c.relays, id)
	}
	c.acquired = false
	c.logger.Info().Msg("local capture released")
}

// Attach implements core.LocalMedia.
func (c *Capture) Attach(consumer domain.ParticipantID) ([]webrtc.TrackLocal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acquireLocked()
	c.consumers[consumer] = struct{}{}

	ids := make([]string, 0, len(c.relays))
	for id := range c.relays {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int { return trackOrder(a) - trackOrder(b) })

	_, paused := c.paused[consumer]
	tracks := make([]webrtc.TrackLocal, 0, len(ids))
	for _, id := range ids {
		ot, err := c.relays[id].OutTrackFor(consumer)
		if err != nil {
			return nil, fmt.Errorf("clone %s track for %s: %w", id, consumer, err)
		}
		if paused {
			ot.MarkMuted()
		}
		tracks = append(tracks, ot.Track)
	}
	return tracks, nil
}

// Detach implements core.LocalMedia. The last consumer leaving releases capture.
func (c *Capture) Detach(consumer domain.ParticipantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[consumer]; !ok {
		return
	}
	delete(c.consumers, consumer)
	delete(c.paused, consumer)
	for _, r := range c.relays {
		r.RemoveOutTrack(consumer)
	}
	if len(c.consumers) == 0 {
		c.releaseLocked()
	}
}

// Pause stops forwarding to one consumer while keeping its clones, so a
// restarted connection resumes on the same tracks.
func (c *Capture) Pause(consumer domain.ParticipantID) { c.setPaused(consumer, true) }

func (c *Capture) Resume(consumer domain.ParticipantID) { c.setPaused(consumer, false) }

func (c *Capture) setPaused(consumer domain.ParticipantID, paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[consumer]; !ok {
		return
	}
	if _, was := c.paused[consumer]; was == paused {
		return
	}
	if paused {
		c.paused[consumer] = struct{}{}
	} else {
		delete(c.paused, consumer)
	}
	for _, r := range c.relays {
		r.SetConsumerPaused(consumer, paused)
	}
	c.logger.Debug().Str("peer", string(consumer)).Bool("paused", paused).Msg("consumer forwarding")
}

func (c *Capture) Paused(consumer domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.paused[consumer]
	return ok
}

// SetMuted silences kind for every consumer without renegotiating.
func (c *Capture) SetMuted(kind domain.MediaKind, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := string(kind)
	c.muted[id] = muted
	if r, ok := c.relays[id]; ok {
		r.SetMuted(muted)
	}
}

func (c *Capture) Muted(kind domain.MediaKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted[string(kind)]
}

// StartScreen adds a screen track. Callers renegotiate afterwards.
func (c *Capture) StartScreen(ctx context.Context) error {
	src, err := c.devices.DisplayMedia(ctx, c.screen)
	if err != nil {
		c.mu.Lock()
		c.caps.ScreenAvailable = false
		c.mu.Unlock()
		return fmt.Errorf("start screen share: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startRelayLocked(TrackScreen, string(c.self)+"-screen", src)
	c.logger.Info().Msg("screen share started")
	return nil
}

// StopScreen removes the screen track. Callers renegotiate afterwards.
func (c *Capture) StopScreen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.relays[TrackScreen]
	if !ok {
		return ErrNotSharing
	}
	r.stop()
	delete(c.relays, TrackScreen)
	c.logger.Info().Msg("screen share stopped")
	return nil
}

func (c *Capture) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.relays[TrackScreen]
	return ok
}

func (c *Capture) Capabilities() domain.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Consumers reports how many peers hold clones.
func (c *Capture) Consumers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

func (c *Capture) Acquired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired
}

func trackOrder(id string) int {
	switch id {
	case TrackAudio:
		return 0
	case TrackVideo:
		return 1
	default:
		return 2
	}
}
