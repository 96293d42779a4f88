package config

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
)

func TestLoadDefaultsToMemoryMode(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageMode != "memory" {
		t.Fatalf("StorageMode = %s, want memory", cfg.StorageMode)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %s", cfg.HTTPAddr)
	}
	if cfg.PresenceTTL != 60*time.Second || cfg.PresenceSweep != 10*time.Second {
		t.Fatalf("presence defaults = %v / %v", cfg.PresenceTTL, cfg.PresenceSweep)
	}
}

func TestLoadPersistentModeRequiresBackends(t *testing.T) {
	t.Setenv("STORAGE_MODE", "persistent")
	if _, err := Load(); err == nil {
		t.Fatal("persistent mode without backends must fail")
	}

	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("SCYLLA_HOSTS", "127.0.0.1,127.0.0.2")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ScyllaHosts) != 2 {
		t.Fatalf("ScyllaHosts = %v", cfg.ScyllaHosts)
	}
}

func TestLoadRejectsUnknownStorageMode(t *testing.T) {
	t.Setenv("STORAGE_MODE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("unknown storage mode must fail")
	}
}

func TestParseConsistency(t *testing.T) {
	cases := map[string]gocql.Consistency{
		"quorum":       gocql.Quorum,
		"ONE":          gocql.One,
		"local_quorum": gocql.LocalQuorum,
		"all":          gocql.All,
	}
	for raw, want := range cases {
		got, err := parseConsistency(raw)
		if err != nil || got != want {
			t.Fatalf("parseConsistency(%q) = (%v, %v), want %v", raw, got, err, want)
		}
	}
	if _, err := parseConsistency("eventual"); err == nil {
		t.Fatal("unsupported consistency must fail")
	}
}

func TestLoadParsesRetryBackoff(t *testing.T) {
	t.Setenv("RETRY_BACKOFF", "100ms, 2s ,1m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 2 * time.Second, time.Minute}
	if len(cfg.RetryBackoff) != len(want) {
		t.Fatalf("RetryBackoff = %v", cfg.RetryBackoff)
	}
	for i := range want {
		if cfg.RetryBackoff[i] != want[i] {
			t.Fatalf("RetryBackoff[%d] = %v, want %v", i, cfg.RetryBackoff[i], want[i])
		}
	}
}
