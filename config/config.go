// Package config loads the server configuration from YAML, fills in
// defaults and applies KERDOS_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kerdos/domain/market"
	"kerdos/domain/types"
	"kerdos/logging"
)

type Config struct {
	Log logging.Config `yaml:"log"`

	GRPC struct {
		Addr string `yaml:"addr"`
	} `yaml:"grpc"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Storage Storage `yaml:"storage"`

	Ledger struct {
		Driver string `yaml:"driver"` // memory | sqlite
		Path   string `yaml:"path"`
	} `yaml:"ledger"`

	Broadcaster Broadcaster `yaml:"broadcaster"`

	Markets []MarketConfig `yaml:"markets"`
}

type Storage struct {
	WALDir           string        `yaml:"wal_dir"`
	SegmentSize      int64         `yaml:"segment_size"`
	OutboxDir        string        `yaml:"outbox_dir"`
	SnapshotDir      string        `yaml:"snapshot_dir"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type Broadcaster struct {
	Enabled  bool          `yaml:"enabled"`
	Driver   string        `yaml:"driver"` // sarama | kafka-go
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

// MarketConfig declares a market to create on first boot. Explicit params
// override the named profile field by field.
type MarketConfig struct {
	Name      string        `yaml:"name"`
	Authority string        `yaml:"authority"`
	Profile   string        `yaml:"profile"`
	Params    market.Params `yaml:"params"`
}

// AuthorityID accepts either a 64-char hex owner id or a public key string.
func (m MarketConfig) AuthorityID() types.OwnerID {
	if id, err := types.ParseOwnerID(m.Authority); err == nil {
		return id
	}
	return types.OwnerFromKey(m.Authority)
}

func (m MarketConfig) Resolve() (market.Params, error) {
	var p market.Params
	if m.Profile != "" {
		prof, ok := market.Profile(m.Profile)
		if !ok {
			return p, fmt.Errorf("market %q: unknown profile %q", m.Name, m.Profile)
		}
		p = prof
	}
	e := m.Params
	if e.BaseAsset != "" {
		p.BaseAsset = e.BaseAsset
	}
	if e.QuoteAsset != "" {
		p.QuoteAsset = e.QuoteAsset
	}
	if e.CollateralAsset != "" {
		p.CollateralAsset = e.CollateralAsset
	}
	if e.BidsCapacity != 0 {
		p.BidsCapacity = e.BidsCapacity
	}
	if e.AsksCapacity != 0 {
		p.AsksCapacity = e.AsksCapacity
	}
	if e.EventQueueCapacity != 0 {
		p.EventQueueCapacity = e.EventQueueCapacity
	}
	if e.TickSize != 0 {
		p.TickSize = e.TickSize
	}
	if e.MinBaseQty != 0 {
		p.MinBaseQty = e.MinBaseQty
	}
	if e.FeesBps != 0 {
		p.FeesBps = e.FeesBps
	}
	return p, nil
}

func Default() *Config {
	cfg := &Config{Log: logging.NewDefaultConfig()}
	cfg.GRPC.Addr = ":50051"
	cfg.Metrics.Addr = ":9102"
	cfg.Storage = Storage{
		WALDir:           "./data/wal_entry",
		SegmentSize:      2 << 20,
		OutboxDir:        "./data/wal_exit",
		SnapshotDir:      "./data/snapshots",
		SnapshotInterval: time.Minute,
	}
	cfg.Ledger.Driver = "memory"
	cfg.Broadcaster = Broadcaster{
		Driver:   "sarama",
		Brokers:  []string{"localhost:9092"},
		Topic:    "kerdos.fills",
		Interval: 250 * time.Millisecond,
		Batch:    256,
	}
	return cfg
}

// Load reads path over the defaults. An empty path yields the defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	overrideWithEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrideWithEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("KERDOS_LOG_ENV", &cfg.Log.Environment)
	str("KERDOS_LOG_LEVEL", &cfg.Log.Level)
	str("KERDOS_GRPC_ADDR", &cfg.GRPC.Addr)
	str("KERDOS_METRICS_ADDR", &cfg.Metrics.Addr)
	str("KERDOS_WAL_DIR", &cfg.Storage.WALDir)
	str("KERDOS_OUTBOX_DIR", &cfg.Storage.OutboxDir)
	str("KERDOS_SNAPSHOT_DIR", &cfg.Storage.SnapshotDir)
	str("KERDOS_LEDGER_DRIVER", &cfg.Ledger.Driver)
	str("KERDOS_LEDGER_PATH", &cfg.Ledger.Path)
	str("KERDOS_KAFKA_TOPIC", &cfg.Broadcaster.Topic)
	str("KERDOS_BROADCAST_DRIVER", &cfg.Broadcaster.Driver)
	if v, ok := lookup("KERDOS_KAFKA_BROKERS"); ok && v != "" {
		cfg.Broadcaster.Brokers = strings.Split(v, ",")
	}
	if v, ok := lookup("KERDOS_BROADCAST_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Broadcaster.Enabled = b
		}
	}
}

func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); c.Log.Level != "" && err != nil {
		return err
	}
	if c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required")
	}
	if c.Storage.WALDir == "" || c.Storage.OutboxDir == "" || c.Storage.SnapshotDir == "" {
		return fmt.Errorf("storage dirs are required")
	}
	if c.Storage.SegmentSize <= 0 {
		return fmt.Errorf("storage.segment_size must be positive")
	}
	if c.Storage.SnapshotInterval <= 0 {
		return fmt.Errorf("storage.snapshot_interval must be positive")
	}
	switch c.Ledger.Driver {
	case "memory":
	case "sqlite":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Broadcaster.Enabled {
		switch c.Broadcaster.Driver {
		case "sarama", "kafka-go":
		default:
			return fmt.Errorf("unknown broadcaster driver %q", c.Broadcaster.Driver)
		}
		if len(c.Broadcaster.Brokers) == 0 || c.Broadcaster.Topic == "" {
			return fmt.Errorf("broadcaster needs brokers and a topic")
		}
	}
	seen := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if m.Name == "" {
			return fmt.Errorf("market without a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate market %q", m.Name)
		}
		seen[m.Name] = true
		if m.Authority == "" {
			return fmt.Errorf("market %q: authority is required", m.Name)
		}
		p, err := m.Resolve()
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("market %q: %w", m.Name, err)
		}
	}
	return nil
}
