package publish

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// MQTTConfig selects the broker. Frames go to <prefix>/<dataset>/frames.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retained    bool   `yaml:"retained"`
}

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTPublisher struct {
	client   mqttClient
	prefix   string
	qos      byte
	retained bool
}

// DialMQTT connects to cfg.Broker with auto reconnect.
func DialMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "sensor-replay"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("%w: mqtt connect %s: %v", domain.ErrConnection, cfg.Broker, token.Error())
	}
	return newMQTTPublisher(client, cfg), nil
}

func newMQTTPublisher(client mqttClient, cfg MQTTConfig) *MQTTPublisher {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "replay"
	}
	qos := cfg.QoS
	if qos > 2 {
		qos = 2
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, retained: cfg.Retained}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) Topic(datasetID string) string {
	return p.prefix + "/" + datasetID + "/frames"
}

// PublishFrame waits for the broker acknowledgement or for ctx to end.
func (p *MQTTPublisher) PublishFrame(ctx context.Context, datasetID string, frame *domain.SensorFrame) error {
	data, err := encode(datasetID, frame)
	if err != nil {
		return err
	}
	topic := p.Topic(datasetID)
	token := p.client.Publish(topic, p.qos, p.retained, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: mqtt publish %s: %v", domain.ErrTimeout, topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: mqtt publish %s: %v", domain.ErrWrite, topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(uint((250 * time.Millisecond).Milliseconds()))
	return nil
}

var _ ports.FramePublisher = (*MQTTPublisher)(nil)
