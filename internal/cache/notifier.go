package cache

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"profitguard/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChangeMessage - оповещение о новой версии секции
type ChangeMessage struct {
	Section string `json:"section"`
	Version int64  `json:"version"`
	Origin  string `json:"origin"`
}

// Notifier рассылает изменения параметров через Pub/Sub.
// Оповещение только ускоряет доставку: получатель всё равно читает
// версию из хранилища, поэтому потерянное сообщение безопасно.
type Notifier struct {
	client *Client
	origin string
	log    *utils.Logger
}

// NewNotifier создает оповещатель; origin - идентификатор процесса
func NewNotifier(c *Client, origin string) *Notifier {
	return &Notifier{
		client: c,
		origin: origin,
		log:    utils.L().WithComponent("config_notifier"),
	}
}

func (n *Notifier) channel() string {
	return n.client.key("settings", "changed")
}

// NotifyChange публикует номер новой версии секции
func (n *Notifier) NotifyChange(ctx context.Context, section string, version int64) error {
	payload, err := json.Marshal(ChangeMessage{Section: section, Version: version, Origin: n.origin})
	if err != nil {
		return err
	}
	if err := n.client.rdb.Publish(ctx, n.channel(), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", n.channel(), err)
	}
	return nil
}

// Listen подписывается на оповещения и вызывает onChange для каждого.
// Возвращает ошибку подписки сразу; после подписки блокируется до отмены ctx.
func (n *Notifier) Listen(ctx context.Context, onChange func(ChangeMessage)) error {
	pubsub := n.client.rdb.Subscribe(ctx, n.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", n.channel(), err)
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
			n.dispatch(msg, onChange)
		}
	}
}

func (n *Notifier) dispatch(msg *redis.Message, onChange func(ChangeMessage)) {
	var cm ChangeMessage
	if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
		n.log.Warn("malformed settings notification", utils.Err(err))
		return
	}
	if cm.Origin == n.origin {
		return
	}
	n.log.Debug("settings change notification",
		utils.Section(cm.Section), utils.ConfigVersion(cm.Version), utils.String("origin", cm.Origin))
	onChange(cm)
}
