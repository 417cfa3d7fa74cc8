package collab

import (
	"context"
	"errors"

	"craft/collab/internal/metrics"
	"craft/collab/internal/models"
	"craft/collab/internal/session"
)

// The coordinator is the registry's hook target: connection callbacks become
// events on the loop, in the order the connection produced them.
var _ session.Hooks = (*Coordinator)(nil)

func (c *Coordinator) OnConnect(client *session.Client) {
	c.enqueue(Connected{Peer: client})
}

func (c *Coordinator) OnMessage(client *session.Client, frame models.InboundFrame) {
	ev, ok := Decode(client.ID(), frame)
	if !ok {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		c.log.Debug("dropping inbound frame", "connectionId", client.ID(), "type", frame.Type)
		return
	}
	c.enqueue(ev)
}

func (c *Coordinator) OnDisconnect(client *session.Client) {
	c.enqueue(Disconnected{ConnID: client.ID()})
}

func (c *Coordinator) OnTransportError(client *session.Client, err error) {
	c.enqueue(TransportFailed{ConnID: client.ID(), Err: err})
}

func (c *Coordinator) enqueue(ev Event) {
	if err := c.Submit(context.Background(), ev); err != nil && !errors.Is(err, ErrStopped) {
		c.log.Error("failed to queue collab event", "kind", ev.kind(), "error", err)
	}
}
