// Package feeds republishes the live status, health and reading feeds to the
// MQTT broker for the presentation layer and bridges remote commands back to
// the device.
package feeds

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/pkg/dedup"
	"github.com/aquasense/probelink/pkg/mqtt"
)

// Topics published and consumed by the bridge.
const (
	TopicStatus        = "probelink/status"
	TopicHealth        = "probelink/health"
	TopicReading       = "probelink/reading"
	TopicCommand       = "probelink/command"
	TopicCommandResult = "probelink/command/result"
)

// CommandSender is the orchestrator slice the command bridge needs.
type CommandSender interface {
	SendCommand(ctx context.Context, cmd string) error
}

type Bridge struct {
	statusCh  <-chan model.ConnectionStatus
	healthCh  <-chan model.ConnectionHealth
	readingCh <-chan model.Reading

	statusPub  mqtt.IPublisher
	healthPub  mqtt.IPublisher
	readingPub mqtt.IPublisher
	resultPub  mqtt.IPublisher
	consumer   mqtt.IConsumer

	sender  CommandSender
	deduper *dedup.Deduper
	log     *zap.Logger
}

func NewBridge(
	client paho.Client,
	statusCh <-chan model.ConnectionStatus,
	healthCh <-chan model.ConnectionHealth,
	readingCh <-chan model.Reading,
	sender CommandSender,
	log *zap.Logger,
) *Bridge {
	l := log.Named("feeds")
	return &Bridge{
		statusCh:   statusCh,
		healthCh:   healthCh,
		readingCh:  readingCh,
		statusPub:  mqtt.NewPublisher(client, TopicStatus, 0),
		healthPub:  mqtt.NewPublisher(client, TopicHealth, 0),
		readingPub: mqtt.NewPublisher(client, TopicReading, 0),
		resultPub:  mqtt.NewPublisher(client, TopicCommandResult, 1),
		consumer:   mqtt.NewConsumer(client, TopicCommand, 1, l),
		sender:     sender,
		deduper:    dedup.New(2*time.Minute, 10000),
		log:        l,
	}
}

// Start pumps the three feeds out and consumes remote commands until ctx is
// cancelled. Blocking; run it in its own goroutine.
func (b *Bridge) Start(ctx context.Context) {
	b.consumer.SetHandler(b.handleCommand)
	go b.consumer.ConsumeMessage(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-b.statusCh:
			if !ok {
				return
			}
			b.publishJSON(b.statusPub, map[string]string{"status": string(s)})
		case h, ok := <-b.healthCh:
			if !ok {
				return
			}
			b.publishJSON(b.healthPub, map[string]string{"health": string(h)})
		case r, ok := <-b.readingCh:
			if !ok {
				return
			}
			b.publishJSON(b.readingPub, r)
		}
	}
}

func (b *Bridge) publishJSON(pub mqtt.IPublisher, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := pub.PublishMessage(payload); err != nil {
		b.log.Warn("feed publish failed", zap.String("topic", pub.Topic()), zap.Error(err))
	}
}

type commandResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// handleCommand forwards one remote command line to the device. QoS1
// redeliveries carry the same payload and are dropped by hash.
func (b *Bridge) handleCommand(_ string, msg paho.Message) error {
	if !b.deduper.ShouldProcessPayload(msg.Payload()) {
		return nil
	}

	cmd := strings.TrimSpace(string(msg.Payload()))
	if cmd == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res := commandResult{Command: cmd, OK: true}
	if err := b.sender.SendCommand(ctx, cmd); err != nil {
		res.OK = false
		res.Error = err.Error()
		b.log.Warn("remote command failed", zap.String("command", cmd), zap.Error(err))
	}
	b.publishJSON(b.resultPub, res)
	return nil
}
