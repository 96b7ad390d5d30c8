// Package stream is a minimal Socket.IO v4 client for the chat-support
// event stream. It speaks Engine.IO v4 over a websocket only (no long-polling
// transport) on the default namespace.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	eventBufferSize = 64
	sendBufferSize  = 32
	writeWait       = 10 * time.Second
	closeWait       = 2 * time.Second
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("stream closed")

// ErrSendBufferFull is returned by Emit when the outbound queue is full.
var ErrSendBufferFull = errors.New("stream send buffer full")

// Option configures Dial.
type Option func(*dialOptions)

type dialOptions struct {
	logger           zerolog.Logger
	handshakeTimeout time.Duration
	path             string
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *dialOptions) { o.logger = l }
}

// WithHandshakeTimeout bounds the websocket upgrade plus the Socket.IO connect exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *dialOptions) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithPath overrides the Socket.IO endpoint path (default "/socket.io/").
func WithPath(p string) Option {
	return func(o *dialOptions) {
		if p != "" {
			o.path = p
		}
	}
}

// Conn is a live Socket.IO connection. Emit is safe to call from one
// goroutine at a time; frames are written in the order they were emitted.
type Conn struct {
	ws     *websocket.Conn
	sid    string
	log    zerolog.Logger
	events chan Event
	send   chan []byte

	closing   chan struct{}
	readDone  chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	readTimeout time.Duration

	mu  sync.Mutex
	err error
}

// Dial opens the websocket, completes the Engine.IO open and Socket.IO
// namespace connect handshakes (sending {"token": token} as auth), and
// starts the read and write loops.
func Dial(ctx context.Context, baseURL, token string, opts ...Option) (*Conn, error) {
	o := dialOptions{
		logger:           zerolog.Nop(),
		handshakeTimeout: 10 * time.Second,
		path:             "/socket.io/",
	}
	for _, opt := range opts {
		opt(&o)
	}

	endpoint, err := websocketURL(baseURL, o.path)
	if err != nil {
		return nil, fmt.Errorf("stream.Dial: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancel()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // upgrade response body is unused
	}
	if err != nil {
		return nil, fmt.Errorf("stream.Dial: %w", err)
	}

	deadline, _ := ctx.Deadline()
	ws.SetReadDeadline(deadline)  //nolint:errcheck // deadline errors surface on read
	ws.SetWriteDeadline(deadline) //nolint:errcheck

	open, err := readOpen(ws)
	if err != nil {
		ws.Close() //nolint:errcheck
		return nil, fmt.Errorf("stream.Dial: %w", err)
	}

	connect, err := encodeConnect(map[string]string{"token": token})
	if err != nil {
		ws.Close() //nolint:errcheck
		return nil, fmt.Errorf("stream.Dial: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, connect); err != nil {
		ws.Close() //nolint:errcheck
		return nil, fmt.Errorf("stream.Dial: send connect: %w", err)
	}
	if err := awaitConnectAck(ws); err != nil {
		ws.Close() //nolint:errcheck
		return nil, fmt.Errorf("stream.Dial: %w", err)
	}

	readTimeout := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	if readTimeout <= 0 {
		readTimeout = 45 * time.Second
	}
	ws.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck
	ws.SetWriteDeadline(time.Time{})                //nolint:errcheck

	c := &Conn{
		ws:          ws,
		sid:         open.SID,
		log:         o.logger.With().Str("component", "stream").Str("sid", open.SID).Logger(),
		events:      make(chan Event, eventBufferSize),
		send:        make(chan []byte, sendBufferSize),
		closing:     make(chan struct{}),
		readDone:    make(chan struct{}),
		done:        make(chan struct{}),
		readTimeout: readTimeout,
	}
	go c.readLoop()
	go c.writeLoop()

	c.log.Info().Str("url", endpoint).Msg("event stream connected")
	return c, nil
}

// websocketURL maps an http(s) API base URL to the Socket.IO websocket endpoint.
func websocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readOpen(ws *websocket.Conn) (openPacket, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return openPacket{}, fmt.Errorf("read open: %w", err)
	}
	if len(data) == 0 || data[0] != eioOpen {
		return openPacket{}, fmt.Errorf("read open: %w: %q", errMalformedPacket, data)
	}
	var open openPacket
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return openPacket{}, fmt.Errorf("read open: %w", err)
	}
	return open, nil
}

func awaitConnectAck(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await connect: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case eioPing:
			if err := ws.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return fmt.Errorf("await connect: pong: %w", err)
			}
			continue
		case eioMessage:
		default:
			continue
		}
		if len(data) < 2 {
			continue
		}
		switch data[1] {
		case sioConnect:
			return nil
		case sioConnectError:
			return fmt.Errorf("connect rejected: %s", connectErrorMessage(data[2:]))
		}
	}
}

// SID returns the Engine.IO session id.
func (c *Conn) SID() string { return c.sid }

// Events returns the channel of server events. It is closed when the
// connection ends; Err then reports why.
func (c *Conn) Events() <-chan Event { return c.events }

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Emit queues an event for the server. It never blocks.
func (c *Conn) Emit(name string, payload any) error {
	frame, err := encodeEvent(name, payload)
	if err != nil {
		return fmt.Errorf("stream.Emit: %w", err)
	}
	select {
	case <-c.closing:
		return fmt.Errorf("stream.Emit %q: %w", name, ErrClosed)
	case <-c.readDone:
		return fmt.Errorf("stream.Emit %q: %w", name, ErrClosed)
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("stream.Emit %q: %w", name, ErrSendBufferFull)
	}
}

// Close flushes queued events, sends a namespace disconnect and closes the
// websocket. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	select {
	case <-c.done:
	case <-time.After(closeWait):
		c.ws.Close() //nolint:errcheck
		<-c.done
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer close(c.readDone)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.setErr(err)
				c.log.Warn().Err(err).Msg("event stream read failed")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)) //nolint:errcheck
		if len(data) == 0 {
			continue
		}

		switch data[0] {
		case eioPing:
			select {
			case c.send <- []byte{eioPong}:
			case <-c.closing:
			case <-c.done:
				return
			}
		case eioClose:
			c.setErr(errors.New("server closed the session"))
			return
		case eioMessage:
			if len(data) < 2 {
				continue
			}
			switch data[1] {
			case sioEvent:
				ev, err := decodeEvent(data[2:])
				if err != nil {
					c.log.Warn().Err(err).Msg("dropping malformed event")
					continue
				}
				select {
				case c.events <- ev:
				case <-c.closing:
					return
				}
			case sioDisconnect:
				c.setErr(errors.New("server disconnected the namespace"))
				return
			}
		case eioPong, eioNoop:
		}
	}
}

func (c *Conn) writeLoop() {
	defer close(c.done)

	write := func(frame []byte) bool {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.setErr(err)
			c.log.Warn().Err(err).Msg("event stream write failed")
			return false
		}
		return true
	}

	for {
		select {
		case frame := <-c.send:
			if !write(frame) {
				c.ws.Close() //nolint:errcheck
				return
			}
		case <-c.closing:
			for drained := false; !drained; {
				select {
				case frame := <-c.send:
					if !write(frame) {
						drained = true
					}
				default:
					drained = true
				}
			}
			write([]byte{eioMessage, sioDisconnect})
			c.ws.WriteControl(websocket.CloseMessage, //nolint:errcheck // best-effort close frame
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			c.ws.Close() //nolint:errcheck
			c.log.Info().Msg("event stream closed")
			return
		case <-c.readDone:
			c.ws.Close() //nolint:errcheck
			return
		}
	}
}
