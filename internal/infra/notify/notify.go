// Package notify delivers invites and reminders. Delivery is best effort: the service
// logs failures and never rolls back state because a message was not sent.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/logging"

	"github.com/redis/go-redis/v9"
)

const (
	KindInvite   = "invite"
	KindReminder = "reminder"
)

// Message is the JSON document published for downstream mail/SMS workers.
type Message struct {
	Kind        string    `json:"kind"`
	ContactHash string    `json:"contact_hash"`
	Contact     string    `json:"contact"`
	Token       string    `json:"token,omitempty"`
	Body        string    `json:"body,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// LogNotifier writes a line per message. Tokens and contacts are never logged in clear.
type LogNotifier struct {
	Logger logging.Logger
}

func (n LogNotifier) SendInvite(ctx context.Context, contact, token string) error {
	n.logger().Info(ctx, "invite issued", "contact_hash", domain.HashString(contact), "token_hash", domain.HashString(token))
	return nil
}

func (n LogNotifier) SendReminder(ctx context.Context, contact, message string) error {
	n.logger().Info(ctx, "reminder issued", "contact_hash", domain.HashString(contact), "message", message)
	return nil
}

func (n LogNotifier) logger() logging.Logger {
	if n.Logger == nil {
		return logging.Nop()
	}
	return n.Logger
}

type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes each message on a pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
	now     func() time.Time
}

func NewRedisNotifier(client Publisher, channel string, now func() time.Time) (*RedisNotifier, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if channel == "" {
		return nil, errors.New("NOTIFY_CHANNEL is required")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisNotifier{client: client, channel: channel, now: now}, nil
}

func (n *RedisNotifier) SendInvite(ctx context.Context, contact, token string) error {
	return n.publish(ctx, Message{Kind: KindInvite, Contact: contact, Token: token})
}

func (n *RedisNotifier) SendReminder(ctx context.Context, contact, message string) error {
	return n.publish(ctx, Message{Kind: KindReminder, Contact: contact, Body: message})
}

func (n *RedisNotifier) publish(ctx context.Context, msg Message) error {
	msg.ContactHash = domain.HashString(msg.Contact)
	msg.SentAt = n.now().UTC()
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}
