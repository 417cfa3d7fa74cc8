// Package presence publishes room membership changes to Redis so other services
// (dashboards, the script store) can observe who is editing what. Nothing in this
// service subscribes; room state never comes back from Redis.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"craft/collab/internal/metrics"
	"craft/collab/internal/models"
	"craft/collab/internal/utils"
)

const publishTimeout = 2 * time.Second

type Publisher interface {
	Publish(ev models.PresenceEvent)
}

// Nop discards presence events.
type Nop struct{}

func (Nop) Publish(models.PresenceEvent) {}

// RedisPublisher queues events and publishes them from a background goroutine.
type RedisPublisher struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	log        *utils.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.PresenceEvent
	done   chan struct{}
}

func NewRedisPublisher(rdb *redis.Client, channel string, buffer int, log *utils.Logger) *RedisPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	p := &RedisPublisher{
		rdb:        rdb,
		channel:    channel,
		instanceID: uuid.NewString(),
		log:        log,
		queue:      make(chan models.PresenceEvent, buffer),
		done:       make(chan struct{}),
	}
	go p.loop()
	log.Info("presence publisher started", "channel", channel, "instanceId", p.instanceID)
	return p
}

func (p *RedisPublisher) InstanceID() string { return p.instanceID }

// Publish never blocks. Events are dropped when the queue is full or the publisher
// is closed.
func (p *RedisPublisher) Publish(ev models.PresenceEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	ev.InstanceID = p.instanceID
	select {
	case p.queue <- ev:
	default:
		metrics.PresenceDropped.Inc()
		p.log.Warn("presence queue full, dropping event", "scriptId", ev.ScriptID, "type", ev.Type)
	}
}

// Close flushes queued events and stops the background goroutine.
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

func (p *RedisPublisher) loop() {
	defer close(p.done)
	for ev := range p.queue {
		data, err := json.Marshal(ev)
		if err != nil {
			p.log.Error("failed to marshal presence event", "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.rdb.Publish(ctx, p.channel, data).Err()
		cancel()
		if err != nil {
			p.log.Warn("failed to publish presence event", "channel", p.channel, "scriptId", ev.ScriptID, "error", err)
		}
	}
}
