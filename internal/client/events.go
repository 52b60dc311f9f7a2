package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portalkeep/portalkeep/internal/api"
)

const websocketHandshakeTimeout = 10 * time.Second

// EventStream delivers daemon events until closed or the connection drops.
type EventStream struct {
	conn *websocket.Conn

	events chan api.EventMessage
	errCh  chan error
}

// Events subscribes to the daemon's event feed over the unix socket.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: websocketHandshakeTimeout,
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", c.socketPath)
		},
	}

	conn, resp, err := dialer.DialContext(ctx, "ws://portalkeepd/api/events", nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, wrapDialError("events", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	stream := &EventStream{
		conn:   conn,
		events: make(chan api.EventMessage, 16),
		errCh:  make(chan error, 1),
	}
	go stream.readLoop()

	// Tear the stream down when the context ends so readers unblock.
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	return stream, nil
}

// C returns the channel of incoming events. It is closed when the stream ends.
func (s *EventStream) C() <-chan api.EventMessage {
	return s.events
}

// Err reports why the stream ended, if it ended abnormally.
func (s *EventStream) Err() error {
	select {
	case err, ok := <-s.errCh:
		if ok {
			return err
		}
	default:
	}
	return nil
}

// Close terminates the stream.
func (s *EventStream) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	return s.conn.Close()
}

func (s *EventStream) readLoop() {
	defer close(s.events)
	defer close(s.errCh)

	// Answer server pings so the daemon keeps the connection alive.
	s.conn.SetPingHandler(func(appData string) error {
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		var msg api.EventMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !isNormalClose(err) {
				s.errCh <- fmt.Errorf("events: %w", err)
			}
			return
		}
		s.events <- msg
	}
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
