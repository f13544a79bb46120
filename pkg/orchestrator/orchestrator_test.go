package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	changes []decoder.Change
	failing bool
}

func (s *recordingSink) WriteChange(_ context.Context, change decoder.Change) error {
	s.changes = append(s.changes, change)
	if s.failing {
		return errors.New("boom")
	}
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestOrchestrator_UpdatesCacheBeforeDispatch(t *testing.T) {
	cache := decoder.NewRelationCache()
	s := &recordingSink{}
	o := New(cache, s, nil)

	rel := decoder.RelationInfo{RelationID: 1, Schema: "public", Table: "users"}
	o.Process(context.Background(), decoder.Change{Tag: decoder.TagRelation, Relation: &rel})

	cached, ok := cache.Get(1)
	require.True(t, ok)
	assert.Equal(t, "users", cached.Table)
	assert.Len(t, s.changes, 1)
}

func TestOrchestrator_ContinuesAfterSinkError(t *testing.T) {
	cache := decoder.NewRelationCache()
	s := &recordingSink{failing: true}
	o := New(cache, s, nil)

	for i := 0; i < 5; i++ {
		o.Process(context.Background(), decoder.Change{Tag: decoder.TagBegin, Begin: &decoder.Begin{}})
	}
	assert.Len(t, s.changes, 5)
}
