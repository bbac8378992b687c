package mqtt

import (
	"context"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// IConsumer subscribes to one topic and hands every message to a handler.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(topic string, message paho.Message) error)
}

type Consumer struct {
	client  paho.Client
	topic   string
	qos     byte
	handler func(topic string, message paho.Message) error
	log     *zap.Logger
}

func NewConsumer(client paho.Client, topic string, qos byte, log *zap.Logger) *Consumer {
	return &Consumer{client: client, topic: topic, qos: qos, log: log}
}

func (c *Consumer) SetHandler(handler func(topic string, message paho.Message) error) {
	c.handler = handler
}

// ConsumeMessage subscribes and blocks until ctx is cancelled, then
// unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	token := c.client.Subscribe(c.topic, c.qos, func(_ paho.Client, message paho.Message) {
		if c.handler == nil {
			c.log.Warn("no handler set", zap.String("topic", c.topic))
			return
		}
		if err := c.handler(c.topic, message); err != nil {
			c.log.Warn("message handler failed", zap.String("topic", c.topic), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		c.log.Error("subscribe failed", zap.String("topic", c.topic), zap.Error(token.Error()))
		return
	}
	c.log.Info("subscribed", zap.String("topic", c.topic))

	<-ctx.Done()

	unsub := c.client.Unsubscribe(c.topic)
	unsub.Wait()
}
