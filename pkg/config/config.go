// Package config loads pgcdc's CLI configuration via Viper, with flags bound
// by cobra in cmd/pgcdc overriding file and environment values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full configuration surface spec.md §6 describes, extended
// with the supplemental sinks' options.
type Config struct {
	Format string `mapstructure:"format"` // json, json-pretty, text, debezium, feldera
	Target string `mapstructure:"target"` // comma-separated subset of {stdout,nats,feldera,kafka,mqtt,clickhouse}

	Postgres Postgres `mapstructure:"postgres"`
	NATS     NATS     `mapstructure:"nats"`
	Feldera  Feldera  `mapstructure:"feldera"`
	Kafka    Kafka    `mapstructure:"kafka"`
	MQTT     MQTT     `mapstructure:"mqtt"`
	ClickHouse ClickHouse `mapstructure:"clickhouse"`
}

type Postgres struct {
	ConnString  string `mapstructure:"connString"`
	Publication string `mapstructure:"publication"`
	Slot        string `mapstructure:"slot"`
}

type NATS struct {
	Server        string `mapstructure:"server"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
}

type Feldera struct {
	URL      string `mapstructure:"url"`
	Pipeline string `mapstructure:"pipeline"`
	APIKey   string `mapstructure:"apiKey"`
	Tables   string `mapstructure:"tables"` // comma-separated schema_table allow-list
}

type Kafka struct {
	Brokers       string `mapstructure:"brokers"`
	TopicPrefix   string `mapstructure:"topicPrefix"`
	SASLUsername  string `mapstructure:"saslUsername"`
	SASLPassword  string `mapstructure:"saslPassword"`
	SASLAlgorithm string `mapstructure:"saslAlgorithm"`
}

type MQTT struct {
	BrokerURL   string `mapstructure:"brokerURL"`
	TopicPrefix string `mapstructure:"topicPrefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         int    `mapstructure:"qos"`
}

type ClickHouse struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Targets splits the comma-separated Target list, trimming whitespace and
// dropping empty entries.
func (c *Config) Targets() []string {
	return splitNonEmpty(c.Target)
}

// AllowedTables parses the comma-separated allow-list into a set; a nil
// return means "no filter" per spec.md §4.4.3.
func (c *Feldera) AllowedTables() map[string]struct{} {
	items := splitNonEmpty(c.Tables)
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads configuration from cfgFile (or the default search path) merged
// with PGCDC_-prefixed environment variables. Flags are bound by the caller
// on the same *viper.Viper passed in as v before Load runs.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcdc")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PGCDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate enforces spec.md §6's required-option rules for the selected
// targets, returning a fatal configuration error naming the first violation.
func (c *Config) Validate() error {
	known := map[string]bool{"stdout": true, "nats": true, "feldera": true, "kafka": true, "mqtt": true, "clickhouse": true}
	targets := c.Targets()
	if len(targets) == 0 {
		return fmt.Errorf("config: target is required")
	}
	for _, t := range targets {
		if !known[t] {
			return fmt.Errorf("config: unknown target %q", t)
		}
	}

	for _, t := range targets {
		switch t {
		case "nats":
			if c.NATS.Server == "" || c.NATS.Stream == "" || c.NATS.SubjectPrefix == "" {
				return fmt.Errorf("config: nats-server, nats-stream, nats-subject-prefix are required for target nats")
			}
		case "feldera":
			if c.Feldera.URL == "" || c.Feldera.Pipeline == "" {
				return fmt.Errorf("config: feldera-url, feldera-pipeline are required for target feldera")
			}
		case "kafka":
			if c.Kafka.Brokers == "" || c.Kafka.TopicPrefix == "" {
				return fmt.Errorf("config: kafka-brokers, kafka-topic-prefix are required for target kafka")
			}
		case "mqtt":
			if c.MQTT.BrokerURL == "" || c.MQTT.TopicPrefix == "" {
				return fmt.Errorf("config: mqtt-broker-url, mqtt-topic-prefix are required for target mqtt")
			}
		case "clickhouse":
			if c.ClickHouse.Addr == "" || c.ClickHouse.Database == "" {
				return fmt.Errorf("config: clickhouse-addr, clickhouse-database are required for target clickhouse")
			}
		}
	}

	if c.Postgres.ConnString == "" {
		return fmt.Errorf("config: postgres-conn-string is required")
	}
	return nil
}
