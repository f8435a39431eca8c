package irc

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mdevlamynck/lircd/metrics"
)

// Conn drives one accepted connection end to end: frame lines, parse
// them, dispatch them against shared state, and guarantee cleanup on
// every exit path. It mirrors InboundConnection
// (goms/inboundconnection.go): a per-connection struct whose Serve loop
// owns the socket for its lifetime and always unwinds through the same
// teardown path.
type Conn struct {
	ID      string
	raw     net.Conn
	framer  *Framer
	writer  *Writer
	state   *ConnState
	disp    *Dispatcher
	log     *logrus.Entry
	metrics *metrics.Registry
}

// NewConn wraps an accepted socket for dispatch against disp, recording
// dropped-line counts to m.
func NewConn(raw net.Conn, disp *Dispatcher, log *logrus.Entry, m *metrics.Registry) *Conn {
	id := uuid.NewString()
	writer := NewWriter(raw)
	return &Conn{
		ID:      id,
		raw:     raw,
		framer:  NewFramer(raw),
		writer:  writer,
		state:   NewConnState(id, writer),
		disp:    disp,
		log:     log.WithField("conn", id),
		metrics: m,
	}
}

// Serve reads and dispatches lines until ctx is cancelled, the peer
// disconnects, or an unrecoverable framing error occurs. It always
// unregisters the connection's nickname and closes the socket before
// returning, regardless of which of those three caused the return.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.cleanup()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.raw.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		// An idle connection (no inbound data within config.timeout)
		// is closed from the read side. A zero timeout disables the
		// deadline entirely.
		if timeout := c.disp.State.Config().Timeout(); timeout > 0 {
			c.raw.SetReadDeadline(time.Now().Add(timeout))
		}

		line, err := c.framer.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, ErrLineTooLong):
				c.countDrop("too_long")
				continue
			case errors.Is(err, ErrInvalidEncoding):
				c.countDrop("invalid_encoding")
				continue
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return err
			}
		}

		msg, perr := Parse(line)
		if perr != nil {
			// An empty or prefix-only line is silently ignored: not
			// every byte on the wire is a command.
			c.countDrop("syntax")
			continue
		}

		if shouldClose := c.disp.Dispatch(c.state, msg); shouldClose {
			return nil
		}
	}
}

func (c *Conn) countDrop(reason string) {
	if c.metrics != nil {
		c.metrics.LinesDropped.WithLabelValues(reason).Inc()
	}
}

func (c *Conn) cleanup() {
	snap := c.state.Snapshot()
	if snap.Nickname != "" {
		for _, name := range c.state.ChannelsSnapshot() {
			c.disp.State.PartChannel(name, snap.Nickname)
		}
		c.disp.State.UnregisterNickname(snap.Nickname)
	}
	c.raw.Close()
}
