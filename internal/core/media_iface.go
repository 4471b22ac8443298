package core

import (
	"context"
	"errors"

	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrMediaDenied = errors.New("media access denied")

// PeerConnection is the slice of a WebRTC peer connection the manager drives.
type PeerConnection interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	// Rollback discards an outstanding local offer.
	Rollback() error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (TrackSender, error)
	RemoveTrack(TrackSender) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// TrackSender is satisfied by *webrtc.RTPSender.
type TrackSender interface {
	Track() webrtc.TrackLocal
}

// RemoteTrack is satisfied by *webrtc.TrackRemote.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

type PeerConnectionFactory func(id domain.ParticipantID) (PeerConnection, error)

// LocalSource produces RTP for one locally captured track.
type LocalSource interface {
	Kind() domain.MediaKind
	Codec() webrtc.RTPCodecCapability
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

// Devices acquires local capture. Implementations return ErrMediaDenied
// (possibly wrapped) when a source is unavailable.
type Devices interface {
	UserMedia(ctx context.Context, c domain.MediaConstraints) ([]LocalSource, error)
	DisplayMedia(ctx context.Context, c domain.MediaConstraints) (LocalSource, error)
}

// LocalMedia hands out per-consumer clones of the shared local capture.
type LocalMedia interface {
	// Attach returns the current local tracks for consumer, creating clones
	// for sources it has not seen yet.
	Attach(consumer domain.ParticipantID) ([]webrtc.TrackLocal, error)
	Detach(consumer domain.ParticipantID)
}
