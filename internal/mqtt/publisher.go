// Package mqtt publishes gateway events to an MQTT broker so dashboards and
// other services can follow cache, lifecycle and sync activity.
package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/logger"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
	disconnectQuiesce = 250
)

// client is the subset of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Publisher forwards bus events to MQTT topics below a base topic.
type Publisher struct {
	client client
	topic  string
	log    logger.Logger
}

// NewPublisher builds a Publisher from settings. It does not connect.
func NewPublisher(settings *conf.MQTTSettings, log logger.Logger) *Publisher {
	opts := paho.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	log = log.Module("mqtt")
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", logger.Error(err))
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		log.Info("mqtt connected", logger.String("broker", settings.Broker))
	})

	return newPublisher(paho.NewClient(opts), settings.Topic, log)
}

func newPublisher(c client, topic string, log logger.Logger) *Publisher {
	return &Publisher{
		client: c,
		topic:  strings.TrimSuffix(topic, "/"),
		log:    log,
	}
}

// Connect connects to the broker, honouring ctx cancellation.
func (p *Publisher) Connect(ctx context.Context) error {
	return p.wait(ctx, p.client.Connect(), connectTimeout, "connect")
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
	}
}

// Subscribe forwards every bus event to the broker.
func (p *Publisher) Subscribe(bus *events.Bus) {
	bus.Subscribe(func(event *events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, event); err != nil {
			p.log.Warn("failed to publish event",
				logger.String("type", string(event.Type)),
				logger.Error(err))
		}
	})
}

// TopicFor maps an event type to a topic, e.g. "sync.completed" becomes
// "<base>/sync/completed".
func (p *Publisher) TopicFor(t events.Type) string {
	return p.topic + "/" + strings.ReplaceAll(string(t), ".", "/")
}

// Publish sends event as JSON with QoS 1. Events are dropped while disconnected.
func (p *Publisher) Publish(ctx context.Context, event *events.Event) error {
	if !p.client.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Context("type", string(event.Type)).
			Build()
	}
	return p.wait(ctx, p.client.Publish(p.TopicFor(event.Type), 1, false, payload), publishTimeout, "publish")
}

func (p *Publisher) wait(ctx context.Context, token paho.Token, timeout time.Duration, op string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return errors.Newf("mqtt %s timed out after %s", op, timeout).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("operation", op).
			Build()
	}
	return nil
}
