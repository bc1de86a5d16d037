package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/tagmesh/tagmesh/internal/flagx"
	"github.com/tagmesh/tagmesh/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals
// use timex.Duration so JSON can carry strings like "15s" as well as
// integer nanoseconds.
type JsonConfig struct {
	ListenAddr   string `json:"listen_addr"`
	DatabaseDSN  string `json:"database_dsn"`
	KeystorePath string `json:"keystore_path"`
	LogLevel     string `json:"log_level"`

	S3Region       string `json:"s3_region"`
	S3Bucket       string `json:"s3_bucket"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	PendingInterval  timex.Duration `json:"pending_interval"`
	RetryInterval    timex.Duration `json:"retry_interval"`
	RefreshInterval  timex.Duration `json:"refresh_interval"`
	SweepInterval    timex.Duration `json:"sweep_interval"`
	CacheTargetBytes int64          `json:"cache_target_bytes"`
}

// parseJson overlays cfg with values from the JSON file named by the
// -c/-config flag. Missing file path means no JSON is loaded. Only fields
// present in the file override; zero values are left as configured.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ListenAddr != "" {
		cfg.ListenAddr = jc.ListenAddr
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.KeystorePath != "" {
		cfg.KeystorePath = jc.KeystorePath
	}
	if jc.LogLevel != "" {
		cfg.LogLevel = jc.LogLevel
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3AccessKey != "" {
		cfg.S3AccessKey = jc.S3AccessKey
	}
	if jc.S3SecretKey != "" {
		cfg.S3SecretKey = jc.S3SecretKey
	}
	if jc.S3BaseEndpoint != "" {
		cfg.S3BaseEndpoint = jc.S3BaseEndpoint
	}
	if jc.PendingInterval.Duration != 0 {
		cfg.PendingInterval = time.Duration(jc.PendingInterval.Duration)
	}
	if jc.RetryInterval.Duration != 0 {
		cfg.RetryInterval = time.Duration(jc.RetryInterval.Duration)
	}
	if jc.RefreshInterval.Duration != 0 {
		cfg.RefreshInterval = time.Duration(jc.RefreshInterval.Duration)
	}
	if jc.SweepInterval.Duration != 0 {
		cfg.SweepInterval = time.Duration(jc.SweepInterval.Duration)
	}
	if jc.CacheTargetBytes != 0 {
		cfg.CacheTargetBytes = jc.CacheTargetBytes
	}
}
