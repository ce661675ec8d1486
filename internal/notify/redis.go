package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	broadcastChannel  = "pbxlink:actions"
	userChannelPrefix = "pbxlink:actions:"

	// publishTimeout bounds the time a notification may hold up its caller.
	publishTimeout = 2 * time.Second
)

// RedisNotifier publishes notifications over Redis pub/sub. UI clients and
// the CRM bridge subscribe to pbxlink:actions (broadcasts) and
// pbxlink:actions:<user_id> (per-user messages).
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

type wireMessage struct {
	Action       string `json:"action"`
	Model        string `json:"model,omitempty"`
	CallUniqueID string `json:"call_uniqueid,omitempty"`
	Body         string `json:"body,omitempty"`
	Warning      bool   `json:"warning,omitempty"`
	Sticky       bool   `json:"sticky,omitempty"`
}

func (n *RedisNotifier) NotifyUser(ctx context.Context, userID string, msg Message) error {
	return n.publish(ctx, userChannelPrefix+userID, wireMessage{
		Action:  "notify",
		Body:    msg.Body,
		Warning: msg.Warning,
		Sticky:  msg.Sticky,
	})
}

func (n *RedisNotifier) Subscribe(ctx context.Context, userID, callUniqueID string) error {
	return n.publish(ctx, userChannelPrefix+userID, wireMessage{
		Action:       "subscribe_call",
		CallUniqueID: callUniqueID,
	})
}

func (n *RedisNotifier) Broadcast(ctx context.Context, action, model string) error {
	return n.publish(ctx, broadcastChannel, wireMessage{Action: action, Model: model})
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, msg wireMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := n.rdb.Publish(pubCtx, channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", channel, err)
	}
	return nil
}
