package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	xlog "github.com/sweeney/radio-alarm/internal/log"
)

const (
	bufferCapacity = 100
	publishTimeout = 5 * time.Second
)

// RealOptions configures a RealPublisher.
type RealOptions struct {
	Broker   string
	ClientID string
	Topics   Topics
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger zerolog.Logger

	mu      sync.Mutex
	buffer  *outbox
	handler func([]byte)
}

// NewRealPublisher creates a publisher for the given broker. Connecting
// happens in the background and is retried until Close.
func NewRealPublisher(o RealOptions) *RealPublisher {
	p := &RealPublisher{
		topics: o.Topics,
		logger: xlog.WithComponent("mqtt"),
		buffer: newOutbox(bufferCapacity),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline, Reason: "connection lost"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.Topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn().Err(err).Str(xlog.FieldEvent, "mqtt.connection_lost").Msg("broker connection lost")
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	p.logger.Info().Str("broker", o.Broker).Msg("connecting to broker")
	return p
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.logger.Info().Str(xlog.FieldEvent, "mqtt.connected").Msg("connected to broker")

	p.mu.Lock()
	pending := p.buffer.drain()
	handler := p.handler
	p.mu.Unlock()

	if handler != nil {
		p.subscribe(c, handler)
	}
	for _, m := range pending {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str("topic", m.topic).Msg("replaying buffered message failed")
		}
	}
	if len(pending) > 0 {
		p.logger.Info().Int("messages", len(pending)).Msg("replayed buffered messages")
	}
}

func (p *RealPublisher) subscribe(c paho.Client, handler func([]byte)) {
	token := c.Subscribe(p.topics.Command, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.logger.Warn().Err(token.Error()).Str("topic", p.topics.Command).Msg("subscribe failed")
	}
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishStatus sends the retained status snapshot.
func (p *RealPublisher) PublishStatus(payload []byte) error {
	return p.publish(p.topics.Status, 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once): lifecycle events should not be lost.
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// SubscribeCommands registers handler for the command topic. The
// subscription is renewed on every reconnect.
func (p *RealPublisher) SubscribeCommands(handler func([]byte)) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	if p.client.IsConnectionOpen() {
		p.subscribe(p.client, handler)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
