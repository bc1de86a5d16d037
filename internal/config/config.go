package config

import "time"

// Config holds runtime settings for the tagmesh daemon.
//
// Units: all intervals are time.Duration values. CacheTargetBytes bounds the
// unpinned portion of the local block cache.
type Config struct {
	ListenAddr   string
	DatabaseDSN  string
	KeystorePath string
	LogLevel     string

	// S3-compatible content store. Empty Bucket selects the in-memory
	// store, for tests and single-machine use.
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3BaseEndpoint string

	PendingInterval  time.Duration
	RetryInterval    time.Duration
	RefreshInterval  time.Duration
	SweepInterval    time.Duration
	CacheTargetBytes int64
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = "127.0.0.1:8642"
	c.DatabaseDSN = "file:tagmesh.db"
	c.KeystorePath = "tagmesh-keystore.json"
	c.LogLevel = "info"
	c.S3Region = "us-east-1"
	c.PendingInterval = 15 * time.Second
	c.RetryInterval = 30 * time.Second
	c.RefreshInterval = 15 * time.Minute
	c.SweepInterval = time.Hour
	c.CacheTargetBytes = 64 << 20
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
