package http

import "sync"

type sseEvent struct {
	name string
	data any
}

// feed coalesces snapshots per event name so a slow reader only ever sees
// the latest state of each.
type feed struct {
	mu      sync.Mutex
	order   []string
	pending map[string]any
	notify  chan struct{}
}

func newFeed() *feed {
	return &feed{pending: make(map[string]any), notify: make(chan struct{}, 1)}
}

func (f *feed) put(name string, data any) {
	f.mu.Lock()
	if _, ok := f.pending[name]; !ok {
		f.order = append(f.order, name)
	}
	f.pending[name] = data
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *feed) ready() <-chan struct{} { return f.notify }

func (f *feed) take() []sseEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sseEvent, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, sseEvent{name: name, data: f.pending[name]})
	}
	f.order = f.order[:0]
	clear(f.pending)
	return out
}
