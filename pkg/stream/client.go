package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// dialTimeout bounds the WebSocket handshake.
const dialTimeout = 15 * time.Second

// Dialer opens streaming connections to the backend. It exists as an
// interface so the session layer can be tested against an in-process
// server.
type Dialer interface {
	Dial(ctx context.Context, req StartRequest) (Conn, error)
}

// Conn is one open streaming session. Messages is closed when the
// socket closes, whatever the reason; Close is the sole cancellation
// primitive and is safe to call more than once.
type Conn interface {
	Messages() <-chan Message
	Close() error
}

// Compile-time interface checks.
var (
	_ Dialer = (*dialer)(nil)
	_ Conn   = (*conn)(nil)
)

type dialer struct {
	log logrus.FieldLogger
	url string
}

// NewDialer creates a Dialer for the given ws:// or wss:// endpoint.
func NewDialer(log logrus.FieldLogger, url string) Dialer {
	return &dialer{
		log: log.WithField("component", "stream"),
		url: url,
	}
}

// Dial opens the socket, sends the start request as the first frame,
// and starts the read pump. Cancelling ctx closes the socket.
func (d *dialer) Dial(ctx context.Context, req StartRequest) (Conn, error) {
	wsDialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
	}

	ws, resp, err := wsDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf(
				"dialing %s (status %d): %w", d.url, resp.StatusCode, err,
			)
		}

		return nil, fmt.Errorf("dialing %s: %w", d.url, err)
	}

	if err := ws.WriteJSON(req); err != nil {
		_ = ws.Close()

		return nil, fmt.Errorf("sending start request: %w", err)
	}

	d.log.WithField("repo", req.Repo).Debug("Stream opened")

	c := &conn{
		log:      d.log,
		ws:       ws,
		messages: make(chan Message, 16),
		done:     make(chan struct{}),
	}

	go c.readPump()
	go c.watchContext(ctx)

	return c, nil
}

type conn struct {
	log       logrus.FieldLogger
	ws        *websocket.Conn
	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Messages() <-chan Message {
	return c.messages
}

// Close shuts the socket down. The read pump notices and closes the
// message channel; any frame still in flight after Close is dropped.
func (c *conn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})

	return err
}

// readPump decodes inbound frames onto the message channel until the
// socket closes.
func (c *conn) readPump() {
	defer close(c.messages)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Deliberate close; not an error.
			default:
				if !websocket.IsCloseError(
					err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
				) {
					c.log.WithError(err).Debug("Stream read ended")
				}
			}

			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.log.WithError(err).Warn("Skipping undecodable frame")

			continue
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// watchContext closes the socket when the caller's context ends.
func (c *conn) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = c.Close()
	case <-c.done:
	}
}
