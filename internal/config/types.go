// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides HCL configuration loading for banctl.
package config

// CurrentSchemaVersion is the schema version this binary understands.
const CurrentSchemaVersion = "1.0"

// Config is the top-level banctl configuration.
type Config struct {
	SchemaVersion       string   `hcl:"schema_version"`
	SyncIntervalSeconds int      `hcl:"sync_interval_seconds,optional"`
	MetricsSummaryEvery int      `hcl:"metrics_summary_every,optional"`
	Whitelist           []string `hcl:"whitelist,optional"`

	LAPI        *LAPIConfig        `hcl:"lapi,block"`
	SIEM        *SIEMConfig        `hcl:"siem,block"`
	ClusterSink *ClusterSinkConfig `hcl:"cluster_sink,block"`
	LocalSink   *LocalSinkConfig   `hcl:"local_sink,block"`
	GeoIP       *GeoIPConfig       `hcl:"geoip,block"`
	HTTPAPI     *HTTPAPIConfig     `hcl:"http_api,block"`
}

// LAPIConfig configures the CrowdSec-style Local API source.
type LAPIConfig struct {
	URL          string `hcl:"url"`
	APIKeyEnv    string `hcl:"api_key_env"`
	PollInterval string `hcl:"poll_interval,optional"`
}

// SIEMConfig configures the Wazuh-style SIEM source.
type SIEMConfig struct {
	URL         string `hcl:"url"`
	Username    string `hcl:"username"`
	PasswordEnv string `hcl:"password_env"`
}

// ClusterSinkConfig configures the Proxmox-style cluster IPSet sink.
type ClusterSinkConfig struct {
	BaseURL        string `hcl:"base_url"`
	TokenID        string `hcl:"token_id"`
	TokenSecretEnv string `hcl:"token_secret_env"`
	SetName        string `hcl:"set_name,optional"`
	TLSInsecure    bool   `hcl:"tls_insecure,optional"`
}

// LocalSinkConfig configures the local nftables sink.
type LocalSinkConfig struct {
	Enabled bool   `hcl:"enabled,optional"`
	Table   string `hcl:"table,optional"`
	Chain   string `hcl:"chain,optional"`
	Set     string `hcl:"set,optional"`
}

// GeoIPConfig configures optional MaxMind-backed decision enrichment.
type GeoIPConfig struct {
	DatabasePath string `hcl:"database_path,optional"`
}

// HTTPAPIConfig configures the observability/control HTTP server.
type HTTPAPIConfig struct {
	ListenAddress string `hcl:"listen_address,optional"`
}

// WithDefaults returns a copy of c with zero-valued optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.SyncIntervalSeconds == 0 {
		c.SyncIntervalSeconds = 30
	}
	if c.MetricsSummaryEvery == 0 {
		c.MetricsSummaryEvery = 10
	}
	if c.LAPI != nil && c.LAPI.PollInterval == "" {
		c.LAPI.PollInterval = "15s"
	}
	if c.ClusterSink != nil && c.ClusterSink.SetName == "" {
		c.ClusterSink.SetName = "blocklist"
	}
	if c.LocalSink != nil {
		if c.LocalSink.Table == "" {
			c.LocalSink.Table = "banctl"
		}
		if c.LocalSink.Chain == "" {
			c.LocalSink.Chain = "input"
		}
		if c.LocalSink.Set == "" {
			c.LocalSink.Set = "blocklist"
		}
	}
	if c.HTTPAPI != nil && c.HTTPAPI.ListenAddress == "" {
		c.HTTPAPI.ListenAddress = "127.0.0.1:9469"
	}
	return c
}
