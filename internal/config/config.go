// Package config binds command-line flags whose defaults come from
// LWS_SCAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "LWS_SCAN_"

type Config struct {
	DBDriver     string
	DBDSN        string
	DBSchema     string
	DBPath       string
	LockAttempts uint64

	Network string

	DaemonRPC     string
	DaemonSub     string
	DaemonTimeout time.Duration

	Workers       int
	BatchSize     uint64
	PollInterval  time.Duration
	MaxReorgDepth uint64
	AutoAccept    bool

	ListenAddr          string
	ConfirmExternalBind bool
	TLSCert             string
	TLSKey              string
	APIToken            string
	FeePerKB            uint64

	LogLevel  string
	LogFormat string

	BrokerDriver       string
	BrokerURL          string
	BrokerTopic        string
	BrokerPollInterval time.Duration
	BrokerBatchSize    int
}

// BindStore registers the storage and network flags every command needs.
func (c *Config) BindStore(fs *pflag.FlagSet) {
	fs.StringVar(&c.DBDriver, "db-driver", getenv("DB_DRIVER", "rocksdb"), "Database driver (rocksdb, postgres, mysql)")
	fs.StringVar(&c.DBDSN, "db-dsn", getenv("DB_DSN", ""), "Database DSN for postgres/mysql")
	fs.StringVar(&c.DBSchema, "db-schema", getenv("DB_SCHEMA", ""), "Postgres schema for lws-scan tables (optional)")
	fs.StringVar(&c.DBPath, "db-path", getenv("DB_PATH", "lws-scan.db"), "RocksDB (Pebble) directory")
	fs.Uint64Var(&c.LockAttempts, "db-lock-attempts", getenvUint64("DB_LOCK_ATTEMPTS", 8), "Retries while waiting for the write lock")
	fs.StringVar(&c.Network, "network", getenv("NETWORK", "mainnet"), "Network (mainnet, testnet, stagenet)")
	fs.StringVar(&c.LogLevel, "log-level", getenv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", getenv("LOG_FORMAT", "console"), "Log encoding (console, json)")
}

// BindRun registers the scanner, REST and broker flags.
func (c *Config) BindRun(fs *pflag.FlagSet) {
	fs.StringVar(&c.DaemonRPC, "daemon", getenv("DAEMON", "tcp://127.0.0.1:18082"), "Node ZMQ RPC endpoint")
	fs.StringVar(&c.DaemonSub, "sub", getenv("SUB", ""), "Node ZMQ pub endpoint for chain notifications (optional)")
	fs.DurationVar(&c.DaemonTimeout, "daemon-timeout", getenvDuration("DAEMON_TIMEOUT", 30*time.Second), "Node request timeout")

	fs.IntVar(&c.Workers, "scan-threads", getenvInt("SCAN_THREADS", 4), "Maximum number of scan workers")
	fs.Uint64Var(&c.BatchSize, "batch-size", getenvUint64("BATCH_SIZE", 100), "Blocks requested per scan pass")
	fs.DurationVar(&c.PollInterval, "poll-interval", getenvDuration("POLL_INTERVAL", 10*time.Second), "Poll interval once caught up")
	fs.Uint64Var(&c.MaxReorgDepth, "max-reorg-depth", getenvUint64("MAX_REORG_DEPTH", 4096), "Deepest reorg walked back before giving up")
	fs.BoolVar(&c.AutoAccept, "auto-accept-creation", getenvBool("AUTO_ACCEPT_CREATION", false), "Approve account creation requests automatically")

	fs.StringVar(&c.ListenAddr, "rest-server", getenv("REST_SERVER", "127.0.0.1:8443"), "REST listen address")
	fs.BoolVar(&c.ConfirmExternalBind, "confirm-external-bind", getenvBool("CONFIRM_EXTERNAL_BIND", false), "Allow plain HTTP on a non-loopback address")
	fs.StringVar(&c.TLSCert, "rest-tls-cert", getenv("REST_TLS_CERT", ""), "TLS certificate file")
	fs.StringVar(&c.TLSKey, "rest-tls-key", getenv("REST_TLS_KEY", ""), "TLS key file")
	fs.StringVar(&c.APIToken, "api-token", getenv("API_TOKEN", ""), "Bearer token for /v1 and /metrics (optional)")
	fs.Uint64Var(&c.FeePerKB, "fee-per-kb", getenvUint64("FEE_PER_KB", 20000), "per_kb_fee reported by get_unspent_outs")

	fs.StringVar(&c.BrokerDriver, "broker-driver", getenv("BROKER_DRIVER", "none"), "Message broker driver (none, kafka, nats, rabbitmq)")
	fs.StringVar(&c.BrokerURL, "broker-url", getenv("BROKER_URL", ""), "Message broker URL/DSN")
	fs.StringVar(&c.BrokerTopic, "broker-topic", getenv("BROKER_TOPIC", "lws.scan.events"), "Message broker topic/subject/queue name")
	fs.DurationVar(&c.BrokerPollInterval, "broker-poll-interval", getenvDuration("BROKER_POLL_INTERVAL", 500*time.Millisecond), "Broker outbox poll interval")
	fs.IntVar(&c.BrokerBatchSize, "broker-batch-size", getenvInt("BROKER_BATCH_SIZE", 1000), "Broker outbox batch size")
}

// TLS reports whether the REST server serves HTTPS.
func (c Config) TLS() bool { return c.TLSCert != "" || c.TLSKey != "" }

// Validate checks the run flags.
func (c Config) Validate() error {
	if c.TLS() && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("config: rest-tls-cert and rest-tls-key must be set together")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: scan-threads must be positive, got %d", c.Workers)
	}
	if c.BatchSize == 0 {
		return errors.New("config: batch-size must be positive")
	}
	if c.BrokerBatchSize <= 0 {
		return fmt.Errorf("config: broker-batch-size must be positive, got %d", c.BrokerBatchSize)
	}

	host, _, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("config: rest-server %q: %w", c.ListenAddr, err)
	}
	if !c.TLS() && !c.ConfirmExternalBind && !loopback(host) {
		return fmt.Errorf("config: refusing plain HTTP on external address %q; use TLS or --confirm-external-bind", c.ListenAddr)
	}
	return nil
}

func loopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(getenv(key, "")); err == nil {
		return d
	}
	return def
}

func getenvInt(key string, def int) int {
	if n, err := strconv.Atoi(getenv(key, "")); err == nil {
		return n
	}
	return def
}

func getenvUint64(key string, def uint64) uint64 {
	if n, err := strconv.ParseUint(getenv(key, ""), 10, 64); err == nil {
		return n
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(getenv(key, "")); err == nil {
		return b
	}
	return def
}
