package signaling

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/vandervillain/rando/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP
)

// ClientOptions tune a single socket.
type ClientOptions struct {
	SendBuffer   int
	MessageRate  float64
	MessageBurst int
}

// Client is one authenticated websocket connection.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn

	// User is the identity presented when the socket was opened.
	User protocol.User

	// Send is the outbound queue drained by WritePump. Only the hub
	// writes to it or closes it.
	Send chan *protocol.Message

	limiter *rate.Limiter

	// closed is owned by the hub goroutine.
	closed bool
}

// inbound is a decoded frame tagged with the socket it arrived on.
type inbound struct {
	msg    *protocol.Message
	client *Client
}

func NewClient(hub *Hub, conn *websocket.Conn, user protocol.User, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	limit := rate.Inf
	if opts.MessageRate > 0 {
		limit = rate.Limit(opts.MessageRate)
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 1
	}
	return &Client{
		Hub:     hub,
		Conn:    conn,
		User:    user,
		Send:    make(chan *protocol.Message, opts.SendBuffer),
		limiter: rate.NewLimiter(limit, opts.MessageBurst),
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", c.User.ID).Msg("read failed")
			}
			return
		}

		// Throttle chatty sockets instead of dropping their messages.
		if err := c.limiter.Wait(context.Background()); err != nil {
			log.Warn().Err(err).Str("user_id", c.User.ID).Msg("rate limiter")
			return
		}

		if !c.Hub.dispatch(inbound{msg: &msg, client: c}) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				log.Warn().Err(err).Str("user_id", c.User.ID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeConn drops the underlying socket; ReadPump then unregisters.
func (c *Client) closeConn() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}
