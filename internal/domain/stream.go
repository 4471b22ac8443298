package domain

type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

// Track describes one remote media track inside a stream.
type Track struct {
	ID       string    `json:"id"`
	Kind     MediaKind `json:"kind"`
	StreamID string    `json:"streamId"`
}

// Stream is an immutable view of the media a remote participant currently
// delivers. A changed track set is a new Stream value.
type Stream struct {
	ID     string  `json:"id"`
	Tracks []Track `json:"tracks"`
}

// HasKind reports whether any track of the given kind is present.
func (s *Stream) HasKind(kind MediaKind) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// ConnectionState is the lifecycle of a peer connection entry.
type ConnectionState int

const (
	ConnNegotiating ConnectionState = iota
	ConnConnected
	ConnReconnecting
	ConnFailed
	ConnClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnNegotiating:
		return "negotiating"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Capabilities reports which local publish paths are usable.
type Capabilities struct {
	AudioAvailable  bool `json:"audioAvailable"`
	VideoAvailable  bool `json:"videoAvailable"`
	ScreenAvailable bool `json:"screenAvailable"`
}
