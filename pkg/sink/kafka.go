package sink

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/pgcdc/pkg/convert"
	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/xdg-go/scram"
)

// KafkaConfig configures the Kafka sink. SASL fields are optional; when
// SASLUser is set, SASL/SCRAM authentication is enabled using SASLAlgo
// (sha256 or sha512, default sha512).
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	SASLUser    string
	SASLPass    string
	SASLAlgo    string
	Version     string
}

// KafkaSink publishes the raw-JSON rendering of data-plane changes to
// per-table topics via a sarama SyncProducer.
type KafkaSink struct {
	cfg      KafkaConfig
	producer sarama.SyncProducer
	cache    *decoder.RelationCache
}

// NewKafkaSink builds a producer from cfg. A missing broker list is a
// configuration error, fatal at startup.
func NewKafkaSink(cfg KafkaConfig, cache *decoder.RelationCache) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("sink: kafka: brokers required")
	}

	saramaCfg := sarama.NewConfig()
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("sink: kafka: invalid version %q: %w", cfg.Version, err)
		}
		saramaCfg.Version = v
	}
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true

	if cfg.SASLUser != "" {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASLUser
		saramaCfg.Net.SASL.Password = cfg.SASLPass
		saramaCfg.Net.SASL.Handshake = true

		switch cfg.SASLAlgo {
		case "sha256":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scramSHA256}
			}
		case "", "sha512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scramSHA512}
			}
		default:
			return nil, fmt.Errorf("sink: kafka: invalid SASL algorithm %q", cfg.SASLAlgo)
		}
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("sink: kafka: new producer: %w", err)
	}

	return &KafkaSink{cfg: cfg, producer: producer, cache: cache}, nil
}

func (s *KafkaSink) WriteChange(_ context.Context, change decoder.Change) error {
	relationID, op, ok := dataRelationOp(change)
	if !ok {
		return nil
	}

	schema, table := relationNameCache(s.cache, relationID)
	topic := fmt.Sprintf("%s.%s.%s.%s", s.cfg.TopicPrefix, schema, table, op)

	payload := convert.RenderRaw(change, s.cache, false)
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(payload)}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("sink: kafka publish %s: %w", topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.producer.Close() }

func dataRelationOp(change decoder.Change) (relationID uint32, op string, ok bool) {
	switch change.Tag {
	case decoder.TagInsert:
		return change.Insert.RelationID, "insert", true
	case decoder.TagUpdate:
		return change.Update.RelationID, "update", true
	case decoder.TagDelete:
		return change.Delete.RelationID, "delete", true
	case decoder.TagRelation:
		return change.Relation.RelationID, "relation", true
	default:
		return 0, "", false
	}
}

func relationNameCache(cache *decoder.RelationCache, relationID uint32) (schema, table string) {
	if rel, ok := cache.Get(relationID); ok {
		return rel.Schema, rel.Table
	}
	return "?", "?"
}

// scramClient adapts xdg-go/scram to sarama.SCRAMClient. sarama defines the
// interface but ships no implementation; this is the standard wiring shown
// in sarama's own SASL/SCRAM examples.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.Client = client
	c.ClientConversation = c.Client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}

// xdg-go/scram ships a SHA-1 hash generator but leaves SHA-256/SHA-512 to
// the caller; sarama's own SCRAM examples wire these the same way.
var (
	scramSHA256 scram.HashGeneratorFcn = sha256.New
	scramSHA512 scram.HashGeneratorFcn = sha512.New
)
