// Package replicate is the ambient transport collaborator spec.md treats as
// external: it owns the physical replication connection, publication and
// slot lifecycle, and the standby-status handshake. It hands each XLogData
// payload's raw bytes straight to decoder.Decode — it never parses pgoutput
// frames itself.
package replicate

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"
)

const (
	defaultStandbyUpdateInterval = 10 * time.Second
	defaultPublication           = "pgcdc_pub"
	defaultSlot                  = "pgcdc_slot"
	pluginName                   = "pgoutput"
)

// Config configures the replication connection.
type Config struct {
	ConnString            string
	Publication           string
	Slot                  string
	Tables                []string // "*" / "*.*" for all, "schema.*" for a schema, "schema.table" for one table
	StandbyUpdateInterval time.Duration
}

func (c *Config) withDefaults() *Config {
	out := *c
	out.Publication = cmp.Or(out.Publication, defaultPublication)
	out.Slot = cmp.Or(out.Slot, defaultSlot)
	out.StandbyUpdateInterval = cmp.Or(out.StandbyUpdateInterval, defaultStandbyUpdateInterval)
	return &out
}

// Handler receives one decoded Change per pgoutput message, in wire order.
type Handler func(ctx context.Context, change decoder.Change)

// Stream connects, ensures the publication and slot exist, starts
// replication, and loops delivering decoded changes to handle until ctx is
// canceled or an unrecoverable error occurs. cache is shared with the rest
// of the pipeline so converters invoked from handle see relations as soon as
// the decoder populates them.
func Stream(ctx context.Context, cfg *Config, cache *decoder.RelationCache, handle Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.L()
	}
	cfg = cfg.withDefaults()

	conn, err := pgconn.Connect(ctx, cfg.ConnString+"?replication=database")
	if err != nil {
		return fmt.Errorf("replicate: connect: %w", err)
	}
	defer conn.Close(ctx)

	dbName := conn.ParameterStatus("database")

	if err := ensurePublication(ctx, conn, cfg); err != nil {
		return fmt.Errorf("replicate: publication: %w", err)
	}

	sysID, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return fmt.Errorf("replicate: identify system: %w", err)
	}

	if err := ensureSlot(ctx, conn, cfg.Slot); err != nil {
		return fmt.Errorf("replicate: slot: %w", err)
	}

	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", cfg.Publication),
	}
	if err := pglogrepl.StartReplication(ctx, conn, cfg.Slot, sysID.XLogPos, pglogrepl.StartReplicationOptions{
		PluginArgs: pluginArgs,
	}); err != nil {
		return fmt.Errorf("replicate: start replication: %w", err)
	}

	logger.Info("replication started",
		zap.String("slot", cfg.Slot), zap.String("publication", cfg.Publication), zap.String("db", dbName))

	return streamLoop(ctx, conn, cfg, cache, handle, logger)
}

// StreamWithRetry calls Stream in a loop, reconnecting with exponential
// backoff whenever it returns a non-context error, until ctx is canceled.
// The backoff is not reset after a connection succeeds: each drop waits
// longer than the one before, up to MaxInterval.
func StreamWithRetry(ctx context.Context, cfg *Config, cache *decoder.RelationCache, handle Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.L()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry indefinitely; ctx cancellation is the only stop signal

	return backoff.Retry(func() error {
		err := Stream(ctx, cfg, cache, handle, logger)
		if err == nil || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logger.Warn("replication stream dropped, reconnecting", zap.Error(err))
		return err
	}, backoff.WithContext(b, ctx))
}

func streamLoop(ctx context.Context, conn *pgconn.PgConn, cfg *Config, cache *decoder.RelationCache, handle Handler, logger *zap.Logger) error {
	var walPos pglogrepl.LSN
	nextStandby := time.Now().Add(cfg.StandbyUpdateInterval)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Now().After(nextStandby) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: walPos}); err != nil {
				return fmt.Errorf("replicate: standby status update: %w", err)
			}
			nextStandby = time.Now().Add(cfg.StandbyUpdateInterval)
		}

		msgCtx, cancel := context.WithDeadline(ctx, nextStandby)
		msg, err := conn.ReceiveMessage(msgCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			return fmt.Errorf("replicate: receive message: %w", err)
		}

		copyData, ok := msg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		if len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				logger.Warn("malformed keepalive message", zap.Error(err))
				continue
			}
			if pkm.ServerWALEnd > walPos {
				walPos = pkm.ServerWALEnd
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				logger.Warn("malformed XLogData message", zap.Error(err))
				continue
			}
			if xld.WALStart > walPos {
				walPos = xld.WALStart
			}

			change, _, err := decoder.Decode(xld.WALData, cache)
			if err != nil {
				return fmt.Errorf("replicate: decode: %w", err)
			}
			handle(ctx, change)
		}
	}
}

func ensureSlot(ctx context.Context, conn *pgconn.PgConn, name string) error {
	exists, err := rowExists(ctx, conn, "pg_replication_slots", "slot_name", name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = pglogrepl.CreateReplicationSlot(ctx, conn, name, pluginName, pglogrepl.CreateReplicationSlotOptions{Temporary: false})
	return err
}

func ensurePublication(ctx context.Context, conn *pgconn.PgConn, cfg *Config) error {
	exists, err := rowExists(ctx, conn, "pg_publication", "pubname", cfg.Publication)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	var stmt strings.Builder
	fmt.Fprintf(&stmt, "CREATE PUBLICATION %s", cfg.Publication)
	switch target := publicationTarget(cfg.Tables); {
	case target.allTables:
		stmt.WriteString(" FOR ALL TABLES")
	case len(target.schemas) > 0:
		fmt.Fprintf(&stmt, " FOR TABLES IN SCHEMA %s", strings.Join(target.schemas, ", "))
	case len(target.tables) > 0:
		fmt.Fprintf(&stmt, " FOR TABLE %s", strings.Join(target.tables, ", "))
	default:
		stmt.WriteString(" FOR ALL TABLES")
	}

	_, err = conn.Exec(ctx, stmt.String()).ReadAll()
	return err
}

type publicationScope struct {
	allTables bool
	schemas   []string
	tables    []string
}

func publicationTarget(patterns []string) publicationScope {
	var scope publicationScope
	for _, p := range patterns {
		switch {
		case p == "*" || p == "*.*":
			return publicationScope{allTables: true}
		case strings.HasSuffix(p, ".*"):
			scope.schemas = append(scope.schemas, strings.TrimSuffix(p, ".*"))
		default:
			scope.tables = append(scope.tables, p)
		}
	}
	return scope
}

// rowExists is deliberately restricted to the two catalog views the
// publication/slot setup queries, since its inputs feed directly into SQL
// text.
func rowExists(ctx context.Context, conn *pgconn.PgConn, table, column, value string) (bool, error) {
	switch table {
	case "pg_publication", "pg_replication_slots":
	default:
		return false, fmt.Errorf("replicate: invalid catalog table %q", table)
	}
	switch column {
	case "pubname", "slot_name":
	default:
		return false, fmt.Errorf("replicate: invalid catalog column %q", column)
	}

	sanitized := strings.ReplaceAll(value, "'", "''")
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = '%s')", table, column, sanitized)
	result, err := conn.Exec(ctx, query).ReadAll()
	if err != nil {
		return false, fmt.Errorf("replicate: check exists: %w", err)
	}
	return len(result) > 0 && len(result[0].Rows) > 0 && string(result[0].Rows[0][0]) == "t", nil
}
