package collab

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"craft/collab/internal/metrics"
	"craft/collab/internal/models"
	"craft/collab/internal/presence"
	"craft/collab/internal/session"
	"craft/collab/internal/utils"
)

var ErrStopped = errors.New("collab: coordinator stopped")

// Coordinator applies events to the room directory one at a time and fans out the
// resulting notifications. All directory access happens on the goroutine running
// Run (or the caller of Handle), so the directory needs no lock.
type Coordinator struct {
	dir      *session.Directory
	peers    map[string]Peer
	events   chan Event
	done     chan struct{}
	log      *utils.Logger
	presence presence.Publisher
	now      func() time.Time
}

func NewCoordinator(log *utils.Logger, pub presence.Publisher, buffer int) *Coordinator {
	if pub == nil {
		pub = presence.Nop{}
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Coordinator{
		dir:      session.NewDirectory(),
		peers:    make(map[string]Peer),
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
		log:      log,
		presence: pub,
		now:      time.Now,
	}
}

// Run processes queued events until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	c.log.Info("collaboration coordinator running")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("collaboration coordinator stopping", "connections", len(c.peers), "rooms", c.dir.RoomCount())
			return ctx.Err()
		case ev := <-c.events:
			c.Handle(ev)
		}
	}
}

// Submit queues ev for the loop. It blocks while the queue is full.
func (c *Coordinator) Submit(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one event synchronously. A panic inside a handler is recovered
// and logged; it never escapes to the caller.
func (c *Coordinator) Handle(ev Event) {
	kind := ev.kind()
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			c.log.Error("collab event handler panicked", "kind", kind, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	metrics.Events.WithLabelValues(kind).Inc()

	switch e := ev.(type) {
	case Connected:
		c.handleConnect(e)
	case JoinRequested:
		c.handleJoin(e)
	case UpdateReceived:
		c.handleUpdate(e)
	case LeaveRequested:
		c.handleLeave(e)
	case Disconnected:
		c.handleDisconnect(e)
	case TransportFailed:
		metrics.TransportErrors.WithLabelValues("connection").Inc()
		c.log.Warn("transport error", "connectionId", e.ConnID, "error", e.Err)
	case membersQuery:
		e.reply <- c.dir.MembersOf(e.scriptID)
	case statsQuery:
		e.reply <- models.Stats{Rooms: c.dir.RoomCount(), Connections: len(c.peers)}
	}
}

// Members returns the connections currently in a script room.
func (c *Coordinator) Members(ctx context.Context, scriptID string) ([]string, error) {
	reply := make(chan []string, 1)
	if err := c.Submit(ctx, membersQuery{scriptID: scriptID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case members := <-reply:
		return members, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) Stats(ctx context.Context) (models.Stats, error) {
	reply := make(chan models.Stats, 1)
	if err := c.Submit(ctx, statsQuery{reply: reply}); err != nil {
		return models.Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return models.Stats{}, ctx.Err()
	}
}

func (c *Coordinator) handleConnect(e Connected) {
	c.peers[e.Peer.ID()] = e.Peer
	metrics.Connections.Set(float64(len(c.peers)))
	c.log.Debug("connection admitted", "connectionId", e.Peer.ID())
}

func (c *Coordinator) handleJoin(e JoinRequested) {
	scriptID := e.Payload.ScriptID
	if scriptID == "" {
		c.drop("empty_script_id", e)
		return
	}
	if _, ok := c.peers[e.ConnID]; !ok {
		c.drop("unknown_connection", e)
		return
	}

	members := c.dir.Join(scriptID, e.ConnID)
	c.syncRoomGauge()
	c.log.Info("joined script", "scriptId", scriptID, "connectionId", e.ConnID, "userId", e.Payload.UserID, "members", len(members))

	c.broadcast(members, "", models.WSFrame{
		Type: models.EventUserJoined,
		Data: models.MembershipChange{UserID: e.ConnID, ActiveUsers: members},
	})
	c.publish(models.PresenceJoined, scriptID, e.ConnID, members)
}

func (c *Coordinator) handleUpdate(e UpdateReceived) {
	scriptID := e.Payload.ScriptID
	if scriptID == "" {
		c.drop("empty_script_id", e)
		return
	}
	c.broadcast(c.dir.MembersOf(scriptID), e.ConnID, models.WSFrame{
		Type: models.EventScriptUpdated,
		Data: models.ScriptUpdated{
			UserID:         e.ConnID,
			Content:        e.Payload.Content,
			CursorPosition: e.Payload.CursorPosition,
		},
	})
}

func (c *Coordinator) handleLeave(e LeaveRequested) {
	scriptID := e.Payload.ScriptID
	if scriptID == "" {
		c.drop("empty_script_id", e)
		return
	}
	remaining := c.dir.Leave(scriptID, e.ConnID)
	if remaining == nil {
		return
	}
	c.syncRoomGauge()
	c.log.Info("left script", "scriptId", scriptID, "connectionId", e.ConnID, "members", len(remaining))

	c.notifyLeft(scriptID, e.ConnID, remaining)
}

func (c *Coordinator) handleDisconnect(e Disconnected) {
	delete(c.peers, e.ConnID)
	metrics.Connections.Set(float64(len(c.peers)))

	rooms := c.dir.RoomsOf(e.ConnID)
	remaining := c.dir.LeaveAll(e.ConnID)
	c.syncRoomGauge()
	c.log.Debug("connection closed", "connectionId", e.ConnID, "rooms", len(rooms))

	for _, scriptID := range rooms {
		members, ok := remaining[scriptID]
		if !ok {
			members = []string{}
		}
		c.notifyLeft(scriptID, e.ConnID, members)
	}
}

// notifyLeft tells the remaining members (if any) that connID left.
func (c *Coordinator) notifyLeft(scriptID, connID string, remaining []string) {
	if len(remaining) > 0 {
		c.broadcast(remaining, "", models.WSFrame{
			Type: models.EventUserLeft,
			Data: models.MembershipChange{UserID: connID, ActiveUsers: remaining},
		})
	}
	c.publish(models.PresenceLeft, scriptID, connID, remaining)
}

func (c *Coordinator) broadcast(members []string, except string, frame models.WSFrame) {
	for _, id := range members {
		if id == except {
			continue
		}
		peer, ok := c.peers[id]
		if !ok {
			continue
		}
		err := peer.Send(frame)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrClientClosed):
			// Closed ahead of its Disconnected event; cleanup is already queued.
			c.log.Debug("skipping frame for closing connection", "connectionId", id, "type", frame.Type)
		default:
			metrics.FramesDropped.Inc()
			c.log.Warn("dropping frame for slow connection", "connectionId", id, "type", frame.Type, "error", err)
		}
	}
}

func (c *Coordinator) publish(typ models.PresenceType, scriptID, connID string, members []string) {
	c.presence.Publish(models.PresenceEvent{
		Type:         typ,
		ScriptID:     scriptID,
		ConnectionID: connID,
		ActiveUsers:  members,
		Timestamp:    c.now(),
	})
}

func (c *Coordinator) drop(reason string, ev Event) {
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	c.log.Debug("dropping collab event", "kind", ev.kind(), "reason", reason)
}

func (c *Coordinator) syncRoomGauge() { metrics.Rooms.Set(float64(c.dir.RoomCount())) }
