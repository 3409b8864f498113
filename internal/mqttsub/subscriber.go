package mqttsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/prudhvinik1/wearsync/internal/services"
	"go.uber.org/zap"
)

const (
	telemetrySuffix  = "telemetry"
	annotationSuffix = "annotation"

	// handleTimeout bounds one message, including waiting for the device lock.
	handleTimeout     = 30 * time.Second
	subscribeQoS      = byte(1)
	disconnectQuiesce = 250
)

var ErrUnknownTopic = errors.New("unknown topic")

type IngestionService interface {
	RegisterAnnotation(ctx context.Context, req models.AnnotationRequest) (*models.PendingAnnotation, error)
	Ingest(ctx context.Context, raw string) (*services.IngestResult, error)
}

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Subscriber feeds MQTT messages into the ingestion service. Devices publish
// CSV batches to <prefix>/<device>/telemetry and the companion app publishes
// annotation JSON to <prefix>/<device>/annotation.
type Subscriber struct {
	client mqtt.Client
	prefix string
	svc    IngestionService
	logger *zap.Logger
}

func NewSubscriber(cfg Config, svc IngestionService, logger *zap.Logger) *Subscriber {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	s := &Subscriber{
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		svc:    svc,
		logger: logger,
	}
	// Re-subscribe after every (re)connect; clean sessions drop subscriptions.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := s.subscribe(c); err != nil {
			s.logger.Error("MQTT subscribe failed", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	return s
}

func (s *Subscriber) Start() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	s.logger.Info("MQTT subscriber started", zap.String("topic_prefix", s.prefix))
	return nil
}

func (s *Subscriber) Stop() {
	s.client.Disconnect(disconnectQuiesce)
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	filters := map[string]byte{
		s.prefix + "/+/" + telemetrySuffix:  subscribeQoS,
		s.prefix + "/+/" + annotationSuffix: subscribeQoS,
	}
	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()

		if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			s.logger.Error("Failed to handle MQTT message", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe: %w", token.Error())
	}
	return nil
}

// HandleMessage routes one message by topic suffix. For annotations the
// device segment of the topic wins over an empty device field in the body.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	device, kind, ok := s.parseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	switch kind {
	case telemetrySuffix:
		result, err := s.svc.Ingest(ctx, string(payload))
		if err != nil {
			return fmt.Errorf("failed to ingest batch: %w", err)
		}
		if !result.Empty && result.Device != device {
			s.logger.Warn("Batch device differs from topic",
				zap.String("topic_device", device),
				zap.String("batch_device", result.Device),
			)
		}
		return nil

	case annotationSuffix:
		var req models.AnnotationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("failed to unmarshal annotation: %w", err)
		}
		if req.Device == "" {
			req.Device = device
		}
		if _, err := s.svc.RegisterAnnotation(ctx, req); err != nil {
			return fmt.Errorf("failed to register annotation: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

// parseTopic splits <prefix>/<device>/<kind>.
func (s *Subscriber) parseTopic(topic string) (device, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, s.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	if parts[1] != telemetrySuffix && parts[1] != annotationSuffix {
		return "", "", false
	}
	return parts[0], parts[1], true
}
