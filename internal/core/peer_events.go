package core

import "github.com/dkeye/meet/internal/domain"

type PeerEventKind int

const (
	StreamAdded PeerEventKind = iota
	StreamRemoved
	ConnectionFailed
	StateChanged
)

func (k PeerEventKind) String() string {
	switch k {
	case StreamAdded:
		return "stream-added"
	case StreamRemoved:
		return "stream-removed"
	case ConnectionFailed:
		return "connection-failed"
	case StateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// PeerEvent is what the peer connection manager reports to the roster.
type PeerEvent struct {
	Kind   PeerEventKind
	PeerID domain.ParticipantID
	Stream *domain.Stream
	State  domain.ConnectionState
}
