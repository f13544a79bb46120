package sink

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/pgcdc/pkg/convert"
	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	BrokerURL   string
	TopicPrefix string
	Username    string
	Password    string
	QoS         byte // 0 is treated as the default, 1; QoS 0 cannot be selected
	Retained    bool
}

// MQTTSink publishes the raw-JSON rendering of data-plane changes to
// topic <prefix>/<schema>/<table>/<op>.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client
	cache  *decoder.RelationCache
}

// NewMQTTSink connects to cfg.BrokerURL and returns a ready-to-use sink.
func NewMQTTSink(cfg MQTTConfig, cache *decoder.RelationCache) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("sink: mqtt connect %s: %w", cfg.BrokerURL, token.Error())
	}

	return &MQTTSink{cfg: cfg, client: client, cache: cache}, nil
}

func (s *MQTTSink) WriteChange(_ context.Context, change decoder.Change) error {
	relationID, op, ok := dataRelationOp(change)
	if !ok {
		return nil
	}

	schema, table := relationNameCache(s.cache, relationID)
	topic := fmt.Sprintf("%s/%s/%s/%s", s.cfg.TopicPrefix, schema, table, op)

	qos := s.cfg.QoS
	if qos == 0 {
		qos = 1
	}

	payload := convert.RenderRaw(change, s.cache, false)
	token := s.client.Publish(topic, qos, s.cfg.Retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("sink: mqtt publish %s: %w", topic, token.Error())
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
