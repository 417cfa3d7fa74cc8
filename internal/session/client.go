package session

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"craft/collab/internal/models"
)

var (
	ErrSendBufferFull = errors.New("session: send buffer full")
	ErrClientClosed   = errors.New("session: client closed")
)

// Client is one live connection. Send never blocks; frames are queued for the
// connection's write pump.
type Client struct {
	id   string
	Conn *websocket.Conn

	mu     sync.Mutex
	send   chan models.WSFrame
	closed bool
	hook   func(models.WSFrame)
}

func NewClient(id string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{id: id, Conn: conn, send: make(chan models.WSFrame, buffer)}
}

func (c *Client) ID() string { return c.id }

// SetSendHook replaces the queued WebSocket sender (used in tests).
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

func (c *Client) Send(frame models.WSFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hook != nil {
		c.hook(frame)
		return nil
	}
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close stops further sends and lets the write pump drain and exit.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
