package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string

	// StorageMode selects the persistence wiring: "memory" keeps everything
	// in-process (dev, tests), "persistent" uses Scylla + Mongo + Redis.
	StorageMode string

	MongoURI string
	MongoDB  string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaUsername    string
	ScyllaPassword    string
	ScyllaTimeout     time.Duration
	ScyllaConsistency gocql.Consistency
	ReplicationFactor int

	RedisURL       string
	AsynqRedisAddr string

	KafkaBrokers     []string
	KafkaTopicPrefix string

	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	PresenceTTL   time.Duration
	PresenceSweep time.Duration

	AllowedOrigins []string
	AuthTokensFile string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StorageMode:      strings.ToLower(getEnv("STORAGE_MODE", "memory")),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "pingme"),
		ScyllaKeyspace:   getEnv("SCYLLA_KEYSPACE", "pingme"),
		ScyllaUsername:   os.Getenv("SCYLLA_USERNAME"),
		ScyllaPassword:   os.Getenv("SCYLLA_PASSWORD"),
		RedisURL:         getEnv("REDIS_URL", ""),
		AsynqRedisAddr:   getEnv("ASYNQ_REDIS_ADDR", ""),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		AuthTokensFile:   getEnv("AUTH_TOKENS_FILE", ""),
	}
	if hosts := getEnv("SCYLLA_HOSTS", ""); hosts != "" {
		cfg.ScyllaHosts = splitList(hosts)
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	cfg.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", "*"))

	scyllaTimeout, err := parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaTimeout = scyllaTimeout

	consistency, err := parseConsistency(getEnv("SCYLLA_CONSISTENCY", "quorum"))
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaConsistency = consistency

	rf, err := parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplicationFactor = rf

	poll, err := parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboxPollInterval = poll

	presenceTTL, err := parseDurationEnv("PRESENCE_TTL", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.PresenceTTL = presenceTTL

	presenceSweep, err := parseDurationEnv("PRESENCE_SWEEP_INTERVAL", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.PresenceSweep = presenceSweep

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}

	switch cfg.StorageMode {
	case "memory":
	case "persistent":
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required in persistent mode")
		}
		if len(cfg.ScyllaHosts) == 0 {
			return Config{}, fmt.Errorf("SCYLLA_HOSTS is required in persistent mode")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL is required in persistent mode")
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_MODE: %s", cfg.StorageMode)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum":
		return gocql.LocalQuorum, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}
