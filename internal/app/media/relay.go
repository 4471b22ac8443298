package media

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Relay copies RTP from one local source into every consumer's clone.
type Relay struct {
	Src      core.LocalSource
	TrackID  string
	StreamID string

	mu        sync.RWMutex
	outTracks map[domain.ParticipantID]*OutTrack
	muted     atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src core.LocalSource, trackID, streamID string) *Relay {
	return &Relay{
		Src:       src,
		TrackID:   trackID,
		StreamID:  streamID,
		outTracks: make(map[domain.ParticipantID]*OutTrack),
		done:      make(chan struct{}),
	}
}

func (r *Relay) start(ctx context.Context, logger *zerolog.Logger) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx, logger)
}

// loop reads RTP packets from the source and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("track", r.TrackID).Msg("relay ctx done")
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			if !errors.Is(err, ErrSourceClosed) {
				logger.Error().Err(err).Str("track", r.TrackID).Msg("relay read RTP error, stopping")
			}
			return
		}
		if r.muted.Load() {
			continue
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.ParticipantID, 0)
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("peer", string(dst)).
					Str("track", r.TrackID).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}

	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

// OutTrackFor returns the consumer's clone, creating it on first use.
func (r *Relay) OutTrackFor(consumer domain.ParticipantID) (*OutTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[consumer]; ok && ot.GetState() != TrackStateDelete {
		return ot, nil
	}
	track, err := webrtc.NewTrackLocalStaticRTP(r.Src.Codec(), r.TrackID, r.StreamID)
	if err != nil {
		return nil, err
	}
	ot := NewOutTrack(track)
	r.outTracks[consumer] = ot
	return ot, nil
}

func (r *Relay) RemoveOutTrack(consumer domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[consumer]; ok {
		ot.MarkDelete()
		delete(r.outTracks, consumer)
	}
}

// SetConsumerPaused stops or resumes writes to one consumer's clone.
func (r *Relay) SetConsumerPaused(consumer domain.ParticipantID, paused bool) {
	r.mu.RLock()
	ot, ok := r.outTracks[consumer]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if paused {
		ot.MarkMuted()
	} else {
		ot.MarkOk()
	}
}

func (r *Relay) SetMuted(muted bool) {
	r.muted.Store(muted)
}

func (r *Relay) Muted() bool {
	return r.muted.Load()
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
	clear(r.outTracks)
}

// stop cancels the loop, closes the source and waits for the loop to exit.
func (r *Relay) stop() {
	r.markAllDelete()
	if r.cancel != nil {
		r.cancel()
	}
	_ = r.Src.Close()
	if r.cancel != nil {
		<-r.done
	}
}
