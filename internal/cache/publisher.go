package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Redis channels other local processes can subscribe to
const (
	ChannelActivity = "agentdash:activity"
	ChannelTasks    = "agentdash:tasks"
)

// channels maps push event names onto Redis channels
var channels = map[string]string{
	"activity:new": ChannelActivity,
	"tasks:update": ChannelTasks,
}

// ChannelFor returns the Redis channel for a push event
func ChannelFor(event string) (string, bool) {
	ch, ok := channels[event]
	return ch, ok
}

// RedisPublisher republishes dashboard events as JSON on Redis pub/sub
type RedisPublisher struct {
	client  *redis.Client
	timeout time.Duration
	logger  *logrus.Entry
}

// NewRedisPublisher wraps a connected client
func NewRedisPublisher(client *redis.Client, logger *logrus.Entry) *RedisPublisher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RedisPublisher{
		client:  client,
		timeout: 2 * time.Second,
		logger:  logger.WithField("component", "redis-publisher"),
	}
}

// Publish sends data on the channel mapped to event. Unknown events and
// delivery failures are logged only.
func (p *RedisPublisher) Publish(event string, data any) {
	ch, ok := ChannelFor(event)
	if !ok {
		p.logger.Debugf("No Redis channel for event %s", event)
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		p.logger.Errorf("Failed to marshal %s payload: %v", event, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, ch, payload).Err(); err != nil {
		p.logger.Warnf("Failed to publish to %s: %v", ch, err)
	}
}

// Close closes the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
