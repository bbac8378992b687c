package mqtt

import (
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher publishes messages to one topic.
type IPublisher interface {
	PublishMessage(payload []byte) error
	Topic() string
}

type Publisher struct {
	client paho.Client
	topic  string
	qos    byte
}

func NewPublisher(client paho.Client, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos}
}

func (p *Publisher) Topic() string { return p.topic }

func (p *Publisher) PublishMessage(payload []byte) error {
	token := p.client.Publish(p.topic, p.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, token.Error())
	}
	return nil
}
