package cache

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"time"

	"profitguard/pkg/utils"
)

// EventPublisher - получатель событий (websocket hub сервера)
type EventPublisher interface {
	Publish(event string, data interface{})
}

type eventMessage struct {
	Type   string             `json:"type"`
	Origin string             `json:"origin"`
	Data   stdjson.RawMessage `json:"data,omitempty"`
}

// EventBus переносит события панели из процессов мониторинга в сервер.
// Доставка не гарантируется: события только ускоряют обновление панели.
type EventBus struct {
	client  *Client
	origin  string
	timeout time.Duration
	log     *utils.Logger
}

// NewEventBus создает шину событий; origin - идентификатор процесса
func NewEventBus(c *Client, origin string) *EventBus {
	return &EventBus{
		client:  c,
		origin:  origin,
		timeout: 500 * time.Millisecond,
		log:     utils.L().WithComponent("event_bus"),
	}
}

func (b *EventBus) channel() string {
	return b.client.key("events")
}

// Publish отправляет событие; ошибки только логируются
func (b *EventBus) Publish(event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.log.Warn("failed to encode event", utils.String("event", event), utils.Err(err))
		return
	}
	payload, err := json.Marshal(eventMessage{Type: event, Origin: b.origin, Data: raw})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.rdb.Publish(ctx, b.channel(), payload).Err(); err != nil {
		b.log.Debug("event publish failed", utils.String("event", event), utils.Err(err))
	}
}

// Relay пересылает события всех процессов в sink до отмены ctx
func (b *EventBus) Relay(ctx context.Context, sink EventPublisher) error {
	pubsub := b.client.rdb.Subscribe(ctx, b.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", b.channel(), err)
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var em eventMessage
			if err := json.Unmarshal([]byte(msg.Payload), &em); err != nil || em.Type == "" {
				continue
			}
			sink.Publish(em.Type, em.Data)
		}
	}
}
