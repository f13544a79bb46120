package replicate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicationTarget(t *testing.T) {
	assert.True(t, publicationTarget([]string{"*"}).allTables)
	assert.True(t, publicationTarget([]string{"*.*"}).allTables)

	scope := publicationTarget([]string{"public.*", "other.*"})
	assert.Equal(t, []string{"public", "other"}, scope.schemas)

	scope = publicationTarget([]string{"public.users", "public.orders"})
	assert.Equal(t, []string{"public.users", "public.orders"}, scope.tables)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := (&Config{ConnString: "postgres://x"}).withDefaults()
	assert.Equal(t, defaultPublication, cfg.Publication)
	assert.Equal(t, defaultSlot, cfg.Slot)
	assert.Equal(t, defaultStandbyUpdateInterval, cfg.StandbyUpdateInterval)
}

func TestRowExists_RejectsUnknownTable(t *testing.T) {
	_, err := rowExists(context.Background(), nil, "pg_class", "relname", "x")
	require.Error(t, err)
}

func TestRowExists_RejectsUnknownColumn(t *testing.T) {
	_, err := rowExists(context.Background(), nil, "pg_publication", "oid", "x")
	require.Error(t, err)
}
