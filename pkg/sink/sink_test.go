package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	calls   int
	failAll bool
}

func (f *fakeSink) WriteChange(_ context.Context, _ decoder.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAll {
		return errors.New("synthetic failure")
	}
	return nil
}

func (f *fakeSink) Close() error { return nil }

func insertChange() decoder.Change {
	return decoder.Change{Tag: decoder.TagInsert, Insert: &decoder.Insert{RelationID: 1, New: decoder.Tuple{}}}
}

// Scenario F — composite resilience: one sink fails every call, the other
// still receives all events and the error is reported without stopping the
// stream.
func TestCompositeSink_Resilience(t *testing.T) {
	failing := &fakeSink{failAll: true}
	healthy := &fakeSink{}
	composite := NewCompositeSink(failing, healthy)

	errCount := 0
	for i := 0; i < 10; i++ {
		if err := composite.WriteChange(context.Background(), insertChange()); err != nil {
			errCount++
		}
	}

	assert.Equal(t, 10, errCount)
	assert.Equal(t, 10, failing.calls)
	assert.Equal(t, 10, healthy.calls)
}

func TestCompositeSink_AllSucceed(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{}
	composite := NewCompositeSink(a, b)

	err := composite.WriteChange(context.Background(), insertChange())
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestNATSSink_SubjectDerivation(t *testing.T) {
	cache := decoder.NewRelationCache()
	cache.Put(decoder.RelationInfo{RelationID: 1, Schema: "public", Table: "users"})

	s := &NATSSink{cfg: NATSConfig{SubjectPrefix: "pgcdc"}, cache: cache}

	subj, ok := s.subjectFor(decoder.Change{Tag: decoder.TagInsert, Insert: &decoder.Insert{RelationID: 1}})
	require.True(t, ok)
	assert.Equal(t, "pgcdc.public.users.insert", subj)

	subj, ok = s.subjectFor(decoder.Change{Tag: decoder.TagDelete, Delete: &decoder.Delete{RelationID: 1}})
	require.True(t, ok)
	assert.Equal(t, "pgcdc.public.users.delete", subj)

	subj, ok = s.subjectFor(decoder.Change{Tag: decoder.TagBegin, Begin: &decoder.Begin{}})
	require.True(t, ok)
	assert.Equal(t, "pgcdc.transactions.begin.event", subj)

	_, ok = s.subjectFor(decoder.Change{Tag: decoder.TagType, Type: &decoder.TypeMessage{}})
	assert.False(t, ok)
}

func TestHTTPSink_IngressURLStability(t *testing.T) {
	s := NewHTTPSink(HTTPConfig{BaseURL: "http://localhost:8080", Pipeline: "my pipeline"}, decoder.NewRelationCache())

	url1 := s.ingressURL("public_users")
	url2 := s.ingressURL("public_users")
	assert.Equal(t, url1, url2)
	assert.Contains(t, url1, "my%20pipeline")
	assert.Contains(t, url1, "/ingress/public_users")
	assert.Contains(t, url1, "format=json&update_format=insert_delete&array=true")
}

func TestHTTPSink_TableFilterDropsRequest(t *testing.T) {
	cache := decoder.NewRelationCache()
	cache.Put(decoder.RelationInfo{RelationID: 1, Schema: "public", Table: "orders"})

	cfg := HTTPConfig{BaseURL: "http://localhost:9999", Pipeline: "p", AllowedTables: map[string]struct{}{"public_users": {}}}
	s := NewHTTPSink(cfg, cache)

	// public_orders is not in the allow-list; WriteChange must not attempt a
	// network call (and so must not error even though nothing is listening).
	err := s.WriteChange(context.Background(), decoder.Change{
		Tag:    decoder.TagInsert,
		Insert: &decoder.Insert{RelationID: 1, New: decoder.Tuple{}},
	})
	assert.NoError(t, err)
}
