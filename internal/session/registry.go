package session

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"craft/collab/internal/models"
	"craft/collab/internal/utils"
)

// Hooks receives connection lifecycle events and inbound frames.
//
// OnConnect is called once, before any OnMessage for the client. OnDisconnect is
// called once per admitted client however the connection ended. OnTransportError is
// informational and may be followed by OnDisconnect.
type Hooks interface {
	OnConnect(c *Client)
	OnMessage(c *Client, frame models.InboundFrame)
	OnDisconnect(c *Client)
	OnTransportError(c *Client, err error)
}

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	WriteWait       time.Duration
	PongWait        time.Duration
}

func (o Options) pingPeriod() time.Duration { return (o.PongWait * 9) / 10 }

// Registry admits websocket connections and pumps frames between them and Hooks.
type Registry struct {
	hooks Hooks
	opts  Options
	log   *utils.Logger
	newID func() string
}

func NewRegistry(hooks Hooks, opts Options, log *utils.Logger) *Registry {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	return &Registry{
		hooks: hooks,
		opts:  opts,
		log:   log,
		newID: func() string { return uuid.NewString() },
	}
}

// Serve runs an upgraded connection until it ends. It blocks in the read pump.
func (r *Registry) Serve(ws *websocket.Conn) {
	client := NewClient(r.newID(), ws, r.opts.SendBuffer)
	r.log.Debug("client connected", "connectionId", client.ID(), "remote", ws.RemoteAddr().String())

	r.hooks.OnConnect(client)
	go r.writePump(client)
	r.readPump(client)

	client.close()
	r.hooks.OnDisconnect(client)
	r.log.Debug("client disconnected", "connectionId", client.ID())
}

func (r *Registry) readPump(c *Client) {
	defer c.Conn.Close()

	if r.opts.MaxMessageBytes > 0 {
		c.Conn.SetReadLimit(r.opts.MaxMessageBytes)
	}
	_ = c.Conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!closedLocally(err) {
				r.hooks.OnTransportError(c, err)
			}
			return
		}
		var frame models.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.log.Debug("dropping malformed frame", "connectionId", c.ID(), "error", err)
			continue
		}
		r.hooks.OnMessage(c, frame)
	}
}

func (r *Registry) writePump(c *Client) {
	ticker := time.NewTicker(r.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(r.opts.WriteWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(frame); err != nil {
				if !closedLocally(err) {
					r.hooks.OnTransportError(c, err)
				}
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(r.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !closedLocally(err) {
					r.hooks.OnTransportError(c, err)
				}
				return
			}
		}
	}
}

// closedLocally reports errors caused by this side having already torn the
// connection down; the original failure was reported by whichever pump saw it.
func closedLocally(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
