package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
	Chain   ChainConfig   `yaml:"chain"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// MonitorConfig controls polling cadence and auto-execution behavior.
type MonitorConfig struct {
	PollSeconds   int  `yaml:"poll_seconds"`   // role snapshot refresh cadence
	FeedSeconds   int  `yaml:"feed_seconds"`   // event feed reconciliation cadence
	DegradedAfter int  `yaml:"degraded_after"` // consecutive failed polls before degraded
	AutoExecute   bool `yaml:"auto_execute"`   // arm auto-execution on start
	CacheSeconds  int  `yaml:"cache_seconds"`  // snapshot cache TTL
}

// ChainConfig points the engine at the ledger and the escrow contract.
type ChainConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	Contract       string `yaml:"contract"`
	ChainID        int64  `yaml:"chain_id"`
	LookbackBlocks uint64 `yaml:"lookback_blocks"`

	// PrivateKeyHex is never read from YAML; set ROLEWATCH_PRIVATE_KEY in
	// the environment or .env instead. Empty key means read-only mode.
	PrivateKeyHex string `yaml:"-"`
}

// StorageConfig controls where the attempt journal persists.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9190"; empty disables metrics
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file and the .env file if present. Environment
// values override the YAML for the keys that map to them.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval returns the snapshot polling cadence as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollSeconds) * time.Second
}

// FeedInterval returns the feed reconciliation cadence as a time.Duration.
func (c *Config) FeedInterval() time.Duration {
	return time.Duration(c.Monitor.FeedSeconds) * time.Second
}

// CacheTTL returns the snapshot cache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Monitor.CacheSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROLEWATCH_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKeyHex = v
	}
	if v := os.Getenv("ROLEWATCH_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("ROLEWATCH_CONTRACT"); v != "" {
		cfg.Chain.Contract = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Monitor.PollSeconds <= 0 {
		cfg.Monitor.PollSeconds = 30
	}
	if cfg.Monitor.FeedSeconds <= 0 {
		cfg.Monitor.FeedSeconds = 60
	}
	if cfg.Monitor.DegradedAfter <= 0 {
		cfg.Monitor.DegradedAfter = 3
	}
	if cfg.Monitor.CacheSeconds <= 0 {
		cfg.Monitor.CacheSeconds = 20
	}
	if cfg.Chain.LookbackBlocks == 0 {
		cfg.Chain.LookbackBlocks = 50_000
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "rolewatch.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
