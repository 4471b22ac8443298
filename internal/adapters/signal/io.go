package signal

import (
	"context"
	"time"

	"github.com/dkeye/meet/internal/core"
	"github.com/gorilla/websocket"
)

// Run dials and serves the connection until ctx is done. Every reopen after
// the first dispatches a synthetic resync-required event before any frame
// of the new connection is read.
func (c *Client) Run(ctx context.Context) error {
	b := c.opts.NewBackOff()
	opened := false
	defer c.setStatus(core.StatusClosed)

	for {
		if opened {
			c.setStatus(core.StatusReconnecting)
		} else {
			c.setStatus(core.StatusConnecting)
		}

		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := b.NextBackOff()
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("dial failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()
		c.setStatus(core.StatusOpen)
		if opened {
			c.dispatcher.Dispatch(core.NewEvent(core.EventResyncRequired, nil, nil))
		}
		opened = true

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn().Err(err).Msg("connection lost")
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	shutdown := ctx.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pongWait := c.opts.PingPeriod * 10 / 9
	conn.SetReadLimit(c.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	errc := make(chan error, 2)
	go func() { errc <- c.writePump(ctx, conn, shutdown) }()
	go func() { errc <- c.readPump(conn) }()

	err := <-errc
	cancel()
	_ = conn.Close()
	<-errc
	return err
}

// writePump owns all writes to conn. On shutdown it flushes the queue
// before closing; on a lost connection the queue is kept for the next one.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, shutdown <-chan struct{}) error {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			select {
			case <-shutdown:
				c.drain(conn)
			default:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(c.opts.Codec.MessageType(), data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return err
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Client) drain(conn *websocket.Conn) {
	for {
		select {
		case data := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(c.opts.Codec.MessageType(), data); err != nil {
				c.logger.Warn().Err(err).Int("dropped", len(c.send)+1).Msg("flush on shutdown failed")
				return
			}
		default:
			return
		}
	}
}

// readPump delivers frames in read order. Malformed frames are dropped.
func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.dispatcher.Deliver(data); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
		}
	}
}
