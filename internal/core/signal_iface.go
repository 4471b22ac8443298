package core

import "errors"

var ErrNoDecoder = errors.New("event has no decoder")

type EventName string

// Handler receives inbound events. Handlers for one event name are invoked
// sequentially, in the order the transport read them.
type Handler func(Event)

// Event is an inbound signaling message whose payload is decoded lazily by
// the codec it arrived with.
type Event struct {
	Name    EventName
	Payload []byte
	decode  func([]byte, any) error
}

func NewEvent(name EventName, payload []byte, decode func([]byte, any) error) Event {
	return Event{Name: name, Payload: payload, decode: decode}
}

func (e Event) Decode(v any) error {
	if e.decode == nil {
		return ErrNoDecoder
	}
	return e.decode(e.Payload, v)
}

type ConnectionStatus int

const (
	StatusConnecting ConnectionStatus = iota
	StatusOpen
	StatusReconnecting
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s ConnectionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Transport abstracts the signaling channel. It owns reconnection of the
// channel itself, never of peer connections.
type Transport interface {
	Subscribe(name EventName, h Handler) (unsubscribe func())
	Emit(name EventName, payload any) error
	Status() ConnectionStatus
}
