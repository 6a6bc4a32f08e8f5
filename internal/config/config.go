// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the ZDNS runtime configuration from environment
// variables. Resolver-facing knobs use the DNS_ prefix, control-plane knobs
// the ZDNS_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every runtime setting of the daemon.
type Config struct {
	// Resolver data plane
	DNSListenHost   string  `koanf:"dns_listen_host" validate:"required"`
	DNSListenPort   int     `koanf:"dns_listen_port" validate:"required,gte=1,lte=65535"`
	Upstream        string  `koanf:"dns_upstream" validate:"required"`
	UpstreamTimeout float64 `koanf:"dns_upstream_timeout" validate:"gt=0"`
	ThreatAPI       string  `koanf:"dns_threat_api" validate:"required,url"`
	ThreatTimeout   float64 `koanf:"dns_threat_timeout" validate:"gt=0"`
	BlockMode       string  `koanf:"dns_block_mode" validate:"oneof=SINKHOLE NXDOMAIN"`
	WarnMode        string  `koanf:"dns_warn_mode" validate:"oneof=ALLOW SINKHOLE NXDOMAIN"`
	FailOpen        bool    `koanf:"dns_fail_open"`
	SinkholeIPv4    string  `koanf:"dns_sinkhole_ipv4" validate:"required,ip4_addr"`
	SinkholeIPv6    string  `koanf:"dns_sinkhole_ipv6" validate:"required,ip6_addr"`

	// Control plane
	HTTPListen      string `koanf:"zdns_http_listen" validate:"required"`
	DBPath          string `koanf:"zdns_db_path" validate:"required"`
	ModelPath       string `koanf:"zdns_model_path"`
	TrainCmd        string `koanf:"zdns_train_cmd"`
	TAXIIAPIKey     string `koanf:"zdns_taxii_api_key" validate:"required"`
	SyncIntervalMin int    `koanf:"zdns_stix_sync_interval_min"`
	RPZSinkhole     string `koanf:"zdns_rpz_sinkhole"`
	LogLevel        string `koanf:"zdns_log_level" validate:"oneof=debug info warn error"`
	ActiveWindowMin int    `koanf:"zdns_active_window_min" validate:"gte=1"`

	// Threat intel feeds
	OTXAPIKey  string `koanf:"zdns_otx_api_key"`
	MISPURL    string `koanf:"zdns_misp_url"`
	MISPAPIKey string `koanf:"zdns_misp_api_key"`
}

// Defaults mirrors the documented environment variable defaults.
var Defaults = Config{
	DNSListenHost:   "0.0.0.0",
	DNSListenPort:   53,
	Upstream:        "1.1.1.1:53",
	UpstreamTimeout: 2.0,
	ThreatAPI:       "http://127.0.0.1:8000/dns/query",
	ThreatTimeout:   1.5,
	BlockMode:       "SINKHOLE",
	WarnMode:        "ALLOW",
	FailOpen:        true,
	SinkholeIPv4:    "0.0.0.0",
	SinkholeIPv6:    "::",
	HTTPListen:      ":8000",
	DBPath:          "events.db",
	ModelPath:       "models/naive_bayes.json",
	TAXIIAPIKey:     "zdns-dev-key",
	SyncIntervalMin: 0,
	LogLevel:        "info",
	ActiveWindowMin: 60,
}

func envLoader(k *koanf.Koanf, prefix string) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: prefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(key), strings.TrimSpace(value)
		},
	}), nil)
}

// Load reads defaults, overlays DNS_* and ZDNS_* environment variables,
// normalizes mode strings, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	for _, prefix := range []string{"DNS_", "ZDNS_"} {
		if err := envLoader(k, prefix); err != nil {
			return nil, fmt.Errorf("load env (%s): %w", prefix, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Mode strings are case-insensitive on the wire.
	cfg.BlockMode = strings.ToUpper(cfg.BlockMode)
	cfg.WarnMode = strings.ToUpper(cfg.WarnMode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// UpstreamTimeoutDuration returns the upstream exchange budget.
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout * float64(time.Second))
}

// ThreatTimeoutDuration returns the decision API call budget.
func (c *Config) ThreatTimeoutDuration() time.Duration {
	return time.Duration(c.ThreatTimeout * float64(time.Second))
}

// DNSListenAddr returns the host:port the DNS listeners bind to.
func (c *Config) DNSListenAddr() string {
	return fmt.Sprintf("%s:%d", c.DNSListenHost, c.DNSListenPort)
}

// ActiveWindow returns the sliding window used to count active devices.
func (c *Config) ActiveWindow() time.Duration {
	return time.Duration(c.ActiveWindowMin) * time.Minute
}
