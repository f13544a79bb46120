package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/edgeflare/pgcdc/pkg/config"
	"github.com/edgeflare/pgcdc/pkg/convert"
	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/orchestrator"
	"github.com/edgeflare/pgcdc/pkg/replicate"
	"github.com/edgeflare/pgcdc/pkg/sink"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start streaming replication changes to the configured sinks",
	RunE:  runE,
}

func runE(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("pgcdc: build logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	cache := decoder.NewRelationCache()

	s, err := buildSink(cfg, cache)
	if err != nil {
		return fmt.Errorf("pgcdc: build sink: %w", err)
	}

	orch := orchestrator.New(cache, s, logger)
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	metrics.StartServer(ctx, &wg, &metrics.ServerOpts{Addr: v.GetString("metrics-addr")}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- replicate.StreamWithRetry(ctx, &replicate.Config{
			ConnString:  cfg.Postgres.ConnString,
			Publication: cfg.Postgres.Publication,
			Slot:        cfg.Postgres.Slot,
			Tables:      []string{"*"},
		}, cache, orch.Process, logger)
	}()

	logger.Info("pgcdc started", zap.Strings("targets", cfg.Targets()))

	select {
	case <-sigCh:
		logger.Info("received termination signal, shutting down")
		cancel()
		<-streamErr
	case err := <-streamErr:
		cancel()
		if err != nil && err != context.Canceled {
			return fmt.Errorf("pgcdc: replication stream: %w", err)
		}
	}

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// buildSink constructs the composite sink from cfg.Targets(), sharing cache
// across every sink. The SourceInfo seed goes to the stdout sink, the only
// sink that renders CDC envelopes.
func buildSink(cfg *config.Config, cache *decoder.RelationCache) (sink.Sink, error) {
	source := convert.SourceInfo{
		Version:   "1.0",
		Connector: "pgcdc",
		Name:      "pgcdc",
		DB:        "postgres",
	}

	var children []sink.Sink
	for _, target := range cfg.Targets() {
		switch target {
		case "stdout":
			format := sink.Format(cfg.Format)
			children = append(children, sink.NewStdoutSink(os.Stdout, format, cache, source))

		case "nats":
			s, err := sink.NewNATSSink(sink.NATSConfig{
				ServerURL:     cfg.NATS.Server,
				StreamName:    cfg.NATS.Stream,
				SubjectPrefix: cfg.NATS.SubjectPrefix,
			}, cache)
			if err != nil {
				return nil, fmt.Errorf("nats sink: %w", err)
			}
			children = append(children, s)

		case "feldera":
			children = append(children, sink.NewHTTPSink(sink.HTTPConfig{
				BaseURL:       cfg.Feldera.URL,
				Pipeline:      cfg.Feldera.Pipeline,
				APIKey:        cfg.Feldera.APIKey,
				AllowedTables: cfg.Feldera.AllowedTables(),
			}, cache))

		case "kafka":
			s, err := sink.NewKafkaSink(sink.KafkaConfig{
				Brokers:     splitCSV(cfg.Kafka.Brokers),
				TopicPrefix: cfg.Kafka.TopicPrefix,
				SASLUser:    cfg.Kafka.SASLUsername,
				SASLPass:    cfg.Kafka.SASLPassword,
				SASLAlgo:    cfg.Kafka.SASLAlgorithm,
			}, cache)
			if err != nil {
				return nil, fmt.Errorf("kafka sink: %w", err)
			}
			children = append(children, s)

		case "mqtt":
			s, err := sink.NewMQTTSink(sink.MQTTConfig{
				BrokerURL:   cfg.MQTT.BrokerURL,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				QoS:         byte(cfg.MQTT.QoS),
			}, cache)
			if err != nil {
				return nil, fmt.Errorf("mqtt sink: %w", err)
			}
			children = append(children, s)

		case "clickhouse":
			s, err := sink.NewClickHouseSink(context.Background(), sink.ClickHouseConfig{
				Addr:     splitCSV(cfg.ClickHouse.Addr),
				Database: cfg.ClickHouse.Database,
				Username: cfg.ClickHouse.Username,
				Password: cfg.ClickHouse.Password,
			}, cache)
			if err != nil {
				return nil, fmt.Errorf("clickhouse sink: %w", err)
			}
			children = append(children, s)
		}
	}

	return sink.NewCompositeSink(children...), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
