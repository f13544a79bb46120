package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/edgeflare/pgcdc/pkg/convert"
	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// ClickHouseConfig configures the ClickHouse sink.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
	Table    string // default "pgcdc_changes"
}

// ClickHouseSink batch-inserts one row per data-plane change into a
// sink-owned table, flushing every change (no internal queue).
type ClickHouseSink struct {
	cfg   ClickHouseConfig
	conn  clickhouse.Conn
	cache *decoder.RelationCache
	table string
}

// NewClickHouseSink opens a connection and idempotently creates cfg.Table.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig, cache *decoder.RelationCache) (*ClickHouseSink, error) {
	table := cfg.Table
	if table == "" {
		table = "pgcdc_changes"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("sink: clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("sink: clickhouse: ping: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		schema String,
		table String,
		op String,
		ts_ms Int64,
		payload String
	) ENGINE = MergeTree() ORDER BY ts_ms`, table)
	if err := conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("sink: clickhouse: create table %s: %w", table, err)
	}

	return &ClickHouseSink{cfg: cfg, conn: conn, cache: cache, table: table}, nil
}

func (s *ClickHouseSink) WriteChange(ctx context.Context, change decoder.Change) error {
	relationID, op, ok := dataRelationOp(change)
	if !ok || op == "relation" {
		return nil
	}

	events := convert.RenderInsertDelete(change, s.cache)
	if len(events) == 0 {
		return nil
	}
	schema, table := relationNameCache(s.cache, relationID)

	payload, err := batchBody(events)
	if err != nil {
		return fmt.Errorf("sink: clickhouse: marshal payload: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("sink: clickhouse: prepare batch: %w", err)
	}
	if err := batch.Append(schema, table, op, time.Now().UnixMilli(), string(payload)); err != nil {
		return fmt.Errorf("sink: clickhouse: append row: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("sink: clickhouse: send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error { return s.conn.Close() }
