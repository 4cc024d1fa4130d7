// Package config loads and hot-reloads the exporter's YAML configuration
// file: a plain yaml.v3 unmarshal plus post-load defaulting, with a
// Watcher that wires fsnotify for live reload.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	IPFIX   IPFIXConfig   `yaml:"ipfix"`
	Inputs  InputsConfig  `yaml:"inputs"`
	Logging LoggingConfig `yaml:"logging"`
}

// CacheConfig sizes the flow cache and its timeout policy.
type CacheConfig struct {
	SizeExp         uint          `yaml:"size_exp"`
	LineSizeExp     uint          `yaml:"line_size_exp"`
	ActiveTimeout   time.Duration `yaml:"active_timeout"`
	InactiveTimeout time.Duration `yaml:"inactive_timeout"`
	SplitBiflow     bool          `yaml:"split_biflow"`
	ExportQueueSize int           `yaml:"export_queue_size"`
}

// IPFIXConfig configures the collector connection.
type IPFIXConfig struct {
	Host               string        `yaml:"host"`
	Port               uint16        `yaml:"port"`
	UDP                bool          `yaml:"udp"`
	MTU                int           `yaml:"mtu"`
	ObservationDomain  uint32        `yaml:"observation_domain"`
	ReconnectWait      time.Duration `yaml:"reconnect_wait"`
	TemplateRefresh    time.Duration `yaml:"template_refresh"`
	TemplateRefreshPkt int           `yaml:"template_refresh_packets"`
	RateFPS            float64       `yaml:"rate_fps"`
}

// InputsConfig selects and configures the packet source.
type InputsConfig struct {
	Interface  string   `yaml:"interface"`
	PcapFile   string   `yaml:"pcap_file"`
	TZSPListen string   `yaml:"tzsp_listen"`
	BatchSize  int      `yaml:"batch_size"`
	Plugins    []string `yaml:"plugins"`
}

// LoggingConfig contains application logging settings, unchanged from the
// teacher's shape.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	FilePath      string `yaml:"file_path"`
	ConsoleOutput bool   `yaml:"console_output"`
	ConsoleLevel  string `yaml:"console_level"`
	ConsoleFormat string `yaml:"console_format"`
}

// Load reads and parses the configuration file, filling in defaults the
// teacher's Load() also applied after unmarshalling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Cache.SizeExp == 0 {
		cfg.Cache.SizeExp = 17 // 131072 slots
	}
	if cfg.Cache.LineSizeExp == 0 {
		cfg.Cache.LineSizeExp = 4 // 16 records/line
	}
	if cfg.Cache.ActiveTimeout == 0 {
		cfg.Cache.ActiveTimeout = 300 * time.Second
	}
	if cfg.Cache.InactiveTimeout == 0 {
		cfg.Cache.InactiveTimeout = 30 * time.Second
	}
	if cfg.Cache.ExportQueueSize == 0 {
		cfg.Cache.ExportQueueSize = 1024
	}
	if cfg.IPFIX.Port == 0 {
		cfg.IPFIX.Port = 4739
	}
	if cfg.IPFIX.MTU == 0 {
		cfg.IPFIX.MTU = 1458
	}
	if cfg.Inputs.BatchSize == 0 {
		cfg.Inputs.BatchSize = 64
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
