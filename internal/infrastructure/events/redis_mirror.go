package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

const mirrorChannel = "nearcast:events"

// mirrorEnvelope wraps hub events with the publishing host so subscribers
// following several broadcasters on one Redis can tell them apart.
type mirrorEnvelope struct {
	InstanceID string       `json:"instance_id"`
	Event      domain.Event `json:"event"`
}

// RedisMirror republishes every hub event onto a Redis channel for dashboards
// running off-host. Purely outbound: nothing is consumed back.
type RedisMirror struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        *Hub
	logger     *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisMirror(client *redis.Client, hub *Hub, instanceID string, logger *zap.SugaredLogger) *RedisMirror {
	return &RedisMirror{
		client:     client,
		channel:    mirrorChannel,
		instanceID: instanceID,
		hub:        hub,
		logger:     logger,
	}
}

func (m *RedisMirror) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done

	eventsCh := m.hub.Subscribe(ctx)
	go m.run(ctx, eventsCh, done)
}

func (m *RedisMirror) run(ctx context.Context, eventsCh <-chan domain.Event, done chan struct{}) {
	defer close(done)
	for event := range eventsCh {
		if ctx.Err() != nil {
			return
		}
		m.forward(ctx, event)
	}
}

func (m *RedisMirror) forward(ctx context.Context, event domain.Event) {
	data, err := json.Marshal(mirrorEnvelope{InstanceID: m.instanceID, Event: event})
	if err != nil {
		m.logger.Warnw("failed to marshal event for mirror", "type", event.Type, "error", err)
		return
	}
	if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
		m.logger.Warnw("failed to mirror event", "type", event.Type, "error", err)
	}
}

func (m *RedisMirror) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}
