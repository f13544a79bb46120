package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/edgeflare/pgcdc/pkg/convert"
	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/nats-io/nats.go"
)

// NATSConfig configures the subject-routed message-bus sink.
type NATSConfig struct {
	ServerURL     string
	StreamName    string
	SubjectPrefix string
}

// NATSSink publishes the raw-JSON rendering of each change to a JetStream
// subject derived from its relation and operation; Type changes are dropped.
// It ensures its stream exists on construction, idempotently.
type NATSSink struct {
	cfg   NATSConfig
	nc    *nats.Conn
	js    nats.JetStreamContext
	cache *decoder.RelationCache
}

// NewNATSSink connects to cfg.ServerURL, ensures the stream exists, and
// returns a ready-to-use sink.
func NewNATSSink(cfg NATSConfig, cache *decoder.RelationCache) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.ServerURL, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("sink: nats connect %s: %w", cfg.ServerURL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("sink: nats jetstream context: %w", err)
	}

	s := &NATSSink{cfg: cfg, nc: nc, js: js, cache: cache}
	if err := s.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

func (s *NATSSink) ensureStream() error {
	filter := fmt.Sprintf("%s.*.*.*", s.cfg.SubjectPrefix)
	config := &nats.StreamConfig{
		Name:      s.cfg.StreamName,
		Subjects:  []string{filter},
		Storage:   nats.MemoryStorage,
		Retention: nats.LimitsPolicy,
		MaxMsgs:   1_000_000,
		MaxBytes:  1 << 30,
	}

	if _, err := s.js.StreamInfo(s.cfg.StreamName); err == nil {
		return nil
	} else if err != nats.ErrStreamNotFound {
		return fmt.Errorf("sink: nats stream info: %w", err)
	}

	if _, err := s.js.AddStream(config); err != nil {
		return fmt.Errorf("sink: nats create stream %s: %w", s.cfg.StreamName, err)
	}
	return nil
}

func (s *NATSSink) WriteChange(_ context.Context, change decoder.Change) error {
	if change.Tag == decoder.TagTruncate {
		return s.publishTruncate(change.Truncate)
	}

	subj, ok := s.subjectFor(change)
	if !ok {
		return nil
	}

	payload := bytes.TrimRight(convert.RenderRaw(change, s.cache, false), "\n")
	if _, err := s.js.Publish(subj, payload); err != nil {
		return fmt.Errorf("sink: nats publish %s: %w", subj, err)
	}
	return nil
}

// subjectFor implements the total (schema, table, op) -> subject function
// spec.md's testable property 7 requires. Truncate fans out to one subject
// per affected relation and is handled separately in WriteChange.
func (s *NATSSink) subjectFor(change decoder.Change) (string, bool) {
	prefix := s.cfg.SubjectPrefix
	switch change.Tag {
	case decoder.TagInsert:
		return subject(prefix, s.cache, change.Insert.RelationID, "insert"), true
	case decoder.TagUpdate:
		return subject(prefix, s.cache, change.Update.RelationID, "update"), true
	case decoder.TagDelete:
		return subject(prefix, s.cache, change.Delete.RelationID, "delete"), true
	case decoder.TagRelation:
		rel := change.Relation
		return fmt.Sprintf("%s.%s.%s.relation", prefix, rel.Schema, rel.Table), true
	case decoder.TagBegin:
		return fmt.Sprintf("%s.transactions.begin.event", prefix), true
	case decoder.TagCommit:
		return fmt.Sprintf("%s.transactions.commit.event", prefix), true
	default: // Type is dropped
		return "", false
	}
}

func (s *NATSSink) publishTruncate(t *decoder.Truncate) error {
	change := decoder.Change{Tag: decoder.TagTruncate, Truncate: t}
	payload := bytes.TrimRight(convert.RenderRaw(change, s.cache, false), "\n")
	for _, relID := range t.RelationIDs {
		rel, ok := s.cache.Get(relID)
		if !ok {
			continue
		}
		subj := fmt.Sprintf("%s.%s.%s.truncate", s.cfg.SubjectPrefix, rel.Schema, rel.Table)
		if _, err := s.js.Publish(subj, payload); err != nil {
			return fmt.Errorf("sink: nats publish %s: %w", subj, err)
		}
	}
	return nil
}

func subject(prefix string, cache *decoder.RelationCache, relationID uint32, op string) string {
	schema, table := "?", "?"
	if rel, ok := cache.Get(relationID); ok {
		schema, table = rel.Schema, rel.Table
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, schema, table, op)
}

func (s *NATSSink) Close() error {
	s.nc.Close()
	return nil
}
