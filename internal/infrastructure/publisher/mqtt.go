package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/utils"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
}

// MQTTPublisher publishes every FrameResult as JSON on <topic>/<run id>.
// The paho client reconnects on its own; Publish fails fast while it is
// down.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	published uint64
	failed    uint64
}

func NewMQTTPublisher(cfg Config, logger *zap.SugaredLogger) *MQTTPublisher {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = utils.GenerateID("roadwatch")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("MQTT connection established", "broker", cfg.Broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	return newPublisher(mqtt.NewClient(opts), cfg, logger)
}

func newPublisher(client mqtt.Client, cfg Config, logger *zap.SugaredLogger) *MQTTPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MQTTPublisher{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: timeout,
		logger:  logger,
	}
}

// Connect waits for the first broker connection until ctx or the publish
// timeout expires.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, result domain.FrameResult) error {
	if !p.client.IsConnected() {
		p.countFailure()
		return ErrNotConnected
	}

	payload, err := json.Marshal(result)
	if err != nil {
		p.countFailure()
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	topic := p.TopicFor(result.RunID)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		p.countFailure()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countFailure()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debugw("Result published", "topic", topic, "frame", result.FrameNumber, "size", len(payload))
	return nil
}

func (p *MQTTPublisher) TopicFor(runID domain.RunID) string {
	return fmt.Sprintf("%s/%s", p.topic, runID)
}

// Stats returns the published and failed message counts.
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.failed
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

func (p *MQTTPublisher) countFailure() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}
