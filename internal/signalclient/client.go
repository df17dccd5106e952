package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/dns"
	"github.com/vandervillain/rando/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	queueSize = 64

	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// ErrConnectionClosed is returned once the client has given up for good.
var ErrConnectionClosed = errors.New("signaling connection closed")

// State is the transport connection state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Frame is one item from the connection in arrival order. A nil Msg
// marks a transport state change.
type Frame struct {
	Msg   *protocol.Message
	State State
}

// Options configure a Client.
type Options struct {
	URL      string
	User     protocol.User
	Resolver *dns.Resolver
}

// Client is a reconnecting websocket connection to the signaling server.
// Every connection presents the same user id, so the server treats a
// reconnect as the same logical user.
type Client struct {
	opts   Options
	dialer websocket.Dialer

	incoming chan Frame
	outgoing chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new signaling client
func NewClient(opts Options) *Client {
	c := &Client{
		opts:     opts,
		dialer:   *websocket.DefaultDialer,
		incoming: make(chan Frame, queueSize),
		outgoing: make(chan *protocol.Message, queueSize),
		done:     make(chan struct{}),
	}
	if opts.Resolver != nil {
		c.dialer.NetDialContext = opts.Resolver.DialContext
	}
	return c
}

// Connect dials the server once and keeps the connection alive in the
// background until ctx ends or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	go c.run(ctx, conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	header := http.Header{}
	header.Set("X-User-Id", c.opts.User.ID)
	header.Set("X-User-Name", c.opts.User.Name)

	conn, _, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.incoming)

	backoff := minBackoff
	for {
		c.setState(StateConnected)
		c.serve(ctx, conn)

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		c.setState(StateReconnecting)
		for {
			log.Info().Dur("backoff", backoff).Msg("signaling connection lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(backoff):
			}
			var err error
			if conn, err = c.dial(ctx); err == nil {
				backoff = minBackoff
				break
			}
			log.Warn().Err(err).Msg("reconnect failed")
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// serve pumps one connection until it fails or the client stops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	lost := make(chan struct{})
	go c.readPump(conn, lost)
	c.writePump(ctx, conn, lost)
	conn.Close()
	<-lost
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(conn *websocket.Conn, lost chan<- struct{}) {
	defer close(lost)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			log.Debug().Err(err).Msg("signaling read ended")
			return
		}
		if !c.emit(Frame{Msg: &msg}) {
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, lost <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("type", msg.Type).Msg("signaling write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-lost:
			return

		case <-ctx.Done():
			c.writeClose(conn)
			return

		case <-c.done:
			c.writeClose(conn)
			return
		}
	}
}

func (c *Client) writeClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// setState is queued behind any message already read, so a consumer never
// sees Reconnecting before the last frames of the lost connection.
func (c *Client) setState(s State) {
	c.emit(Frame{State: s})
}

func (c *Client) emit(f Frame) bool {
	select {
	case c.incoming <- f:
		return true
	case <-c.done:
		return false
	}
}

// Send queues msg for delivery. Messages are dropped when the queue is full,
// which only happens while the connection is down.
func (c *Client) Send(msg *protocol.Message) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.outgoing <- msg:
	default:
		log.Warn().Str("type", msg.Type).Msg("signaling queue full, dropping message")
	}
}

// Incoming carries messages and state changes in order. It is closed
// once the client has stopped for good.
func (c *Client) Incoming() <-chan Frame { return c.incoming }

func (c *Client) User() protocol.User { return c.opts.User }

// Close stops the client and closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) JoinRoom(name string, room protocol.Room) {
	c.Send(protocol.MustNew(protocol.TypeJoinRoom, protocol.JoinRoomPayload{Name: name, Room: room}))
}

func (c *Client) LeaveRoom() { c.Send(&protocol.Message{Type: protocol.TypeLeaveRoom}) }
func (c *Client) JoinCall()  { c.Send(&protocol.Message{Type: protocol.TypeJoinCall}) }
func (c *Client) LeaveCall() { c.Send(&protocol.Message{Type: protocol.TypeLeaveCall}) }

// CreateRoom asks the server for a new room id; the reply carries ack.
func (c *Client) CreateRoom(name, ack string) {
	msg := protocol.MustNew(protocol.TypeCreateRoom, protocol.CreateRoomPayload{Name: name})
	msg.Ack = ack
	c.Send(msg)
}

// SendSignal relays an offer, answer or candidate to target.
func (c *Client) SendSignal(kind, target string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	msg, err := protocol.New(kind, protocol.Signal{Target: target, Data: raw})
	if err != nil {
		return err
	}
	c.Send(msg)
	return nil
}
