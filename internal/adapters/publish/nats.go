package publish

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// NATSConfig selects the server and the subject prefix. Frames go to
// <prefix>.<dataset>.frames.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Name          string `yaml:"name"`
}

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// DialNATS connects to cfg.URL with reconnects enabled.
func DialNATS(cfg NATSConfig) (*NATSPublisher, error) {
	name := cfg.Name
	if name == "" {
		name = "sensor-replay"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.PingInterval(5*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: nats connect %s: %v", domain.ErrConnection, cfg.URL, err)
	}
	return newNATSPublisher(nc, cfg.SubjectPrefix), nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "replay"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject frames of datasetID are published on.
func (p *NATSPublisher) Subject(datasetID string) string {
	return p.prefix + "." + datasetID + ".frames"
}

func (p *NATSPublisher) PublishFrame(ctx context.Context, datasetID string, frame *domain.SensorFrame) error {
	data, err := encode(datasetID, frame)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: p.Subject(datasetID),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Frame-Number", strconv.FormatUint(frame.FrameNumber, 10))
	msg.Header.Set("Timestamp-Us", strconv.FormatInt(frame.TimestampUS, 10))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: nats publish %s: %v", domain.ErrWrite, msg.Subject, err)
	}
	return nil
}

// Close drains pending messages before closing the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

var _ ports.FramePublisher = (*NATSPublisher)(nil)
