// Package signal is the websocket transport to the signaling service.
package signal

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/meet/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait         = 10 * time.Second
	defaultPingPeriod = 54 * time.Second
	defaultReadLimit  = 64 * 1024
	defaultSendBuffer = 64
)

type Options struct {
	URL        string
	Codec      Codec
	Header     http.Header
	PingPeriod time.Duration
	ReadLimit  int64
	SendBuffer int
	Dialer     *websocket.Dialer
	// NewBackOff paces reconnect attempts. Defaults to exponential backoff.
	NewBackOff func() backoff.BackOff
}

// Client keeps one websocket to the signaling service open, redialing with
// backoff. Outbound frames queue in a buffer that survives reconnects.
type Client struct {
	opts       Options
	dispatcher *Dispatcher
	send       chan []byte

	status  atomic.Int32
	changes core.Emitter[core.ConnectionStatus]
	logger  zerolog.Logger
}

var _ core.Transport = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		}
	}
	c := &Client{
		opts:       opts,
		dispatcher: NewDispatcher(opts.Codec),
		send:       make(chan []byte, opts.SendBuffer),
		logger: log.With().
			Str("module", "signal").
			Str("url", opts.URL).
			Str("codec", opts.Codec.Name()).
			Logger(),
	}
	c.status.Store(int32(core.StatusConnecting))
	return c
}

func (c *Client) Subscribe(name core.EventName, h core.Handler) (unsubscribe func()) {
	return c.dispatcher.Subscribe(name, h)
}

// Emit encodes and queues a frame. It never blocks; a full queue yields
// ErrBackpressure.
func (c *Client) Emit(name core.EventName, payload any) error {
	data, err := c.opts.Codec.Encode(name, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn().Str("event", string(name)).Msg("send queue full")
		return ErrBackpressure
	}
}

func (c *Client) Status() core.ConnectionStatus {
	return core.ConnectionStatus(c.status.Load())
}

// OnStatus registers fn for connectivity changes.
func (c *Client) OnStatus(fn func(core.ConnectionStatus)) (unsubscribe func()) {
	return c.changes.Subscribe(fn)
}

func (c *Client) setStatus(s core.ConnectionStatus) {
	if core.ConnectionStatus(c.status.Swap(int32(s))) == s {
		return
	}
	c.logger.Info().Str("status", s.String()).Msg("signaling status")
	c.changes.Emit(s)
}
