// Package mqtt subscribes to bin sensor readings published on an MQTT
// broker and feeds them to the ingest router.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"wastewatch/internal/ingest"
	"wastewatch/internal/log"
)

const DefaultTopic = "wastewatch/compartments"

type Config struct {
	Broker   string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// Subscriber forwards every message on the topic as one payload. A bare
// JSON array is taken to be a compartment list.
type Subscriber struct {
	cfg      Config
	receiver ingest.Receiver
	logger   *log.Logger
	client   paho.Client
}

func NewSubscriber(cfg Config, r ingest.Receiver, logger *log.Logger) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Subscriber{
		cfg:      cfg,
		receiver: r,
		logger:   logger.WithComponent(log.ComponentMQTT),
	}, nil
}

func brokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

// Run connects, subscribes and blocks until ctx is done. The subscription
// is renewed on every reconnect.
func (s *Subscriber) Run(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID("wastewatch-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, m paho.Message) {
			s.handle(ctx, m.Payload())
		})
		if token.Wait() && token.Error() != nil {
			s.logger.ErrorContext(ctx, "MQTT subscribe failed", "topic", s.cfg.Topic, log.FieldError, token.Error())
			return
		}
		s.logger.InfoContext(ctx, "Subscribed to sensor topic", "topic", s.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.WarnContext(ctx, "MQTT connection lost", log.FieldError, err)
	})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
	case <-ctx.Done():
		s.client.Disconnect(250)
		return nil
	}

	<-ctx.Done()
	s.Close()
	return nil
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	body := wrapPayload(payload)
	res, err := s.receiver.Receive(ctx, log.TransportMQTT, body)
	if err != nil {
		return
	}
	s.logger.DebugContext(ctx, "Sensor reading applied",
		log.FieldVariant, res.Variant.String(),
		log.FieldUpdateMode, res.Mode.String())
}

// wrapPayload turns a bare compartment array into {"compartments": [...]}.
// Anything else passes through unchanged.
func wrapPayload(payload []byte) []byte {
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsArray() {
		return payload
	}
	out := make([]byte, 0, len(payload)+18)
	out = append(out, `{"compartments":`...)
	out = append(out, payload...)
	return append(out, '}')
}

func (s *Subscriber) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
