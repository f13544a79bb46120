// Command pgcdc streams PostgreSQL logical replication changes to one or
// more configured sinks: stdout, NATS JetStream, a Feldera HTTP ingress
// endpoint, Kafka, MQTT, or ClickHouse.
package main

import (
	"fmt"
	"os"

	"github.com/edgeflare/pgcdc/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "pgcdc",
	Short: "pgcdc streams PostgreSQL logical replication changes to downstream sinks",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/pgcdc.yaml)")

	flags.String("format", "json", "output format: json, json-pretty, text, debezium, feldera")
	flags.String("target", "stdout", "comma-separated sinks: stdout,nats,feldera,kafka,mqtt,clickhouse")

	flags.String("postgres-conn-string", "", "PostgreSQL logical replication connection string")
	flags.String("publication", "", "publication name (default pgcdc_pub)")
	flags.String("slot", "", "replication slot name (default pgcdc_slot)")

	flags.String("nats-server", "", "NATS server URL")
	flags.String("nats-stream", "", "NATS JetStream stream name")
	flags.String("nats-subject-prefix", "", "NATS subject prefix")

	flags.String("feldera-url", "", "Feldera pipeline manager base URL")
	flags.String("feldera-pipeline", "", "Feldera pipeline name")
	flags.String("feldera-api-key", "", "Feldera API key")
	flags.String("feldera-tables", "", "comma-separated schema_table allow-list")

	flags.String("kafka-brokers", "", "comma-separated Kafka broker addresses")
	flags.String("kafka-topic-prefix", "", "Kafka topic prefix")
	flags.String("kafka-sasl-username", "", "Kafka SASL/SCRAM username")
	flags.String("kafka-sasl-password", "", "Kafka SASL/SCRAM password")
	flags.String("kafka-sasl-algorithm", "", "Kafka SASL/SCRAM algorithm: sha256, sha512")

	flags.String("mqtt-broker-url", "", "MQTT broker URL")
	flags.String("mqtt-topic-prefix", "", "MQTT topic prefix")
	flags.String("mqtt-username", "", "MQTT username")
	flags.String("mqtt-password", "", "MQTT password")
	flags.Int("mqtt-qos", 1, "MQTT QoS level")

	flags.String("clickhouse-addr", "", "ClickHouse address")
	flags.String("clickhouse-database", "", "ClickHouse database")
	flags.String("clickhouse-username", "", "ClickHouse username")
	flags.String("clickhouse-password", "", "ClickHouse password")

	flags.String("metrics-addr", ":9100", "Prometheus metrics listen address")

	for _, pair := range [][2]string{
		{"format", "format"},
		{"target", "target"},
		{"postgres-conn-string", "postgres.connString"},
		{"publication", "postgres.publication"},
		{"slot", "postgres.slot"},
		{"nats-server", "nats.server"},
		{"nats-stream", "nats.stream"},
		{"nats-subject-prefix", "nats.subjectPrefix"},
		{"feldera-url", "feldera.url"},
		{"feldera-pipeline", "feldera.pipeline"},
		{"feldera-api-key", "feldera.apiKey"},
		{"feldera-tables", "feldera.tables"},
		{"kafka-brokers", "kafka.brokers"},
		{"kafka-topic-prefix", "kafka.topicPrefix"},
		{"kafka-sasl-username", "kafka.saslUsername"},
		{"kafka-sasl-password", "kafka.saslPassword"},
		{"kafka-sasl-algorithm", "kafka.saslAlgorithm"},
		{"mqtt-broker-url", "mqtt.brokerURL"},
		{"mqtt-topic-prefix", "mqtt.topicPrefix"},
		{"mqtt-username", "mqtt.username"},
		{"mqtt-password", "mqtt.password"},
		{"mqtt-qos", "mqtt.qos"},
		{"clickhouse-addr", "clickhouse.addr"},
		{"clickhouse-database", "clickhouse.database"},
		{"clickhouse-username", "clickhouse.username"},
		{"clickhouse-password", "clickhouse.password"},
		{"metrics-addr", "metrics-addr"},
	} {
		v.BindPFlag(pair[1], flags.Lookup(pair[0]))
	}

	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
	cfg = loaded
}

func main() {
	Execute()
}
