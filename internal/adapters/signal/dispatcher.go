package signal

import (
	"sync"

	"github.com/dkeye/meet/internal/core"
	"github.com/rs/zerolog/log"
)

type subscription struct {
	id uint64
	h  core.Handler
}

// Dispatcher routes inbound events to handlers by name. Handlers run on the
// delivering goroutine, in subscription order.
type Dispatcher struct {
	codec Codec

	mu       sync.RWMutex
	next     uint64
	handlers map[core.EventName][]subscription
}

func NewDispatcher(codec Codec) *Dispatcher {
	return &Dispatcher{
		codec:    codec,
		handlers: make(map[core.EventName][]subscription),
	}
}

func (d *Dispatcher) Subscribe(name core.EventName, h core.Handler) (unsubscribe func()) {
	d.mu.Lock()
	d.next++
	id := d.next
	d.handlers[name] = append(d.handlers[name], subscription{id: id, h: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			subs := d.handlers[name]
			for i, s := range subs {
				if s.id == id {
					d.handlers[name] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(d.handlers[name]) == 0 {
				delete(d.handlers, name)
			}
		})
	}
}

func (d *Dispatcher) Dispatch(ev core.Event) {
	d.mu.RLock()
	subs := append([]subscription(nil), d.handlers[ev.Name]...)
	d.mu.RUnlock()
	if len(subs) == 0 {
		log.Debug().Str("module", "signal").Str("event", string(ev.Name)).Msg("no handler for event")
		return
	}
	for _, s := range subs {
		s.h(ev)
	}
}

// Deliver decodes a raw frame and dispatches it.
func (d *Dispatcher) Deliver(data []byte) error {
	ev, err := d.codec.Decode(data)
	if err != nil {
		return err
	}
	d.Dispatch(ev)
	return nil
}
