package opcua

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Config describes the OPC UA session and the nodes to monitor.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps one monitored node onto a sensor id.
type NodeConfig struct {
	NodeID   string `yaml:"node_id"`
	SensorID string `yaml:"sensor_id"`
	Unit     string `yaml:"unit"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "sensor-replay"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].SensorID == "" {
			c.Nodes[i].SensorID = c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: opcua endpoint is required", domain.ErrConfiguration)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: at least one opcua node must be configured", domain.ErrConfiguration)
	}
	return nil
}

// Collector turns OPC UA data change notifications into generic readings
// carrying the value as a little-endian float64.
type Collector struct {
	cfg       Config
	log       *zap.Logger
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	mu        sync.Mutex
	started   bool
}

func NewCollector(cfg Config, logger *zap.Logger) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cfg: cfg, log: logger.With(zap.String("collector", "opcua"))}, nil
}

// Start connects, subscribes to every configured node and streams readings
// to out until ctx ends or Stop is called.
func (c *Collector) Start(ctx context.Context, out chan<- *domain.SensorReading) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: opcua collector already started", domain.ErrConfiguration)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	client, err := opcua.NewClient(c.cfg.Endpoint, c.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: opcua client: %v", domain.ErrConfiguration, err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("%w: opcua connect %s: %v", domain.ErrConnection, c.cfg.Endpoint, err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: c.cfg.PublishInterval}, notifyCh)
	if err != nil {
		c.abort(ctx, cancel, nil, client)
		return fmt.Errorf("%w: opcua subscribe: %v", domain.ErrConnection, err)
	}

	handleMap := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		handle := uint32(i + 1)
		if err := c.monitor(ctx, sub, node, handle); err != nil {
			c.abort(ctx, cancel, sub, client)
			return err
		}
		handleMap[handle] = node
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.handleMap = handleMap
	c.started = true
	c.mu.Unlock()

	c.log.Info("opcua_subscribed", zap.String("endpoint", c.cfg.Endpoint), zap.Int("nodes", len(handleMap)))
	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription, node NodeConfig, handle uint32) error {
	nodeID, err := ua.ParseNodeID(node.NodeID)
	if err != nil {
		return fmt.Errorf("%w: parse node id %q: %v", domain.ErrConfiguration, node.NodeID, err)
	}
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
	if c.cfg.SamplingInterval > 0 {
		req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
	}
	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return fmt.Errorf("%w: monitor node %q: %v", domain.ErrConnection, node.NodeID, err)
	}
	if len(res.Results) == 0 {
		return fmt.Errorf("%w: monitor node %q: empty result", domain.ErrConnection, node.NodeID)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return fmt.Errorf("%w: monitor node %q: %s", domain.ErrConnection, node.NodeID, res.Results[0].StatusCode)
	}
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, sub, client := c.cancel, c.sub, c.client
	c.started = false
	c.cancel, c.sub, c.client = nil, nil, nil
	c.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- *domain.SensorReading) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.log.Warn("opcua_notification_error", zap.Error(notif.Error))
				continue
			}
			dcn, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, r := range toReadings(c.handleMap, dcn, time.Now(), c.log) {
				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}
}

// toReadings converts one notification. Items with unknown handles or
// non-numeric values are skipped.
func toReadings(handles map[uint32]NodeConfig, dcn *ua.DataChangeNotification, now time.Time, log *zap.Logger) []*domain.SensorReading {
	out := make([]*domain.SensorReading, 0, len(dcn.MonitoredItems))
	for _, item := range dcn.MonitoredItems {
		node, ok := handles[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		v, ok := variantToFloat(item.Value.Value)
		if !ok {
			log.Debug("opcua_unsupported_value", zap.String("node_id", node.NodeID))
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = now
		}

		payload := make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, math.Float64bits(v))
		r := domain.NewSensorReading(node.SensorID, ts.UnixMicro(), domain.GenericData("opcua", len(payload)), payload)
		r.Quality = statusQuality(item.Value.Status)
		r.Metadata["node_id"] = node.NodeID
		if node.Unit != "" {
			r.Metadata["unit"] = node.Unit
		}
		out = append(out, r)
	}
	return out
}

// DecodeValue reads the float64 carried by a collector reading.
func DecodeValue(r *domain.SensorReading) (float64, bool) {
	if r == nil || len(r.Payload) != 8 {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(r.Payload)), true
}

// statusQuality maps the OPC UA severity bits onto a quality score.
func statusQuality(s ua.StatusCode) float64 {
	switch uint32(s) >> 30 {
	case 0:
		return 1.0
	case 1:
		return 0.5
	default:
		return 0.0
	}
}

func (c *Collector) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (c *Collector) abort(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Collector = (*Collector)(nil)
