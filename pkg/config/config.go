// Package config loads validator node configuration from defaults, a YAML
// file with environment-variable substitution, and environment-variable
// overrides. Environment overrides take precedence over the YAML file, which
// takes precedence over the defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a Handel aggregation validator node.
type Config struct {
	Environment string `yaml:"environment"`

	Validator  ValidatorSettings  `yaml:"validator"`
	Network    NetworkSettings    `yaml:"network"`
	Handel     HandelSettings     `yaml:"handel"`
	Security   SecuritySettings   `yaml:"security"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
}

// ValidatorSettings identifies this validator and its signing key material.
type ValidatorSettings struct {
	ID             string `yaml:"id"`
	Index          int    `yaml:"index"`            // this validator's ValidatorIndex in [0, N)
	BLSKeyPath     string `yaml:"bls_key_path"`
	ValidatorCount int    `yaml:"validator_count"`  // N, the fixed universe size
}

// NetworkSettings contains listen addresses for the node's transport surfaces.
type NetworkSettings struct {
	ListenAddr  string   `yaml:"listen_addr"`  // framed Handel update channel
	MetricsAddr string   `yaml:"metrics_addr"` // Prometheus /metrics
	HealthAddr  string   `yaml:"health_addr"`  // /healthz
	Peers       []string `yaml:"peers"`        // addr per ValidatorIndex, index-aligned
}

// HandelSettings tunes the aggregation driver.
type HandelSettings struct {
	LevelTimeout    Duration `yaml:"level_timeout"`     // T_level(l), applied uniformly
	RequestTimeout  Duration `yaml:"request_timeout"`   // per-request response timeout
	SendInterval    Duration `yaml:"send_interval"`     // round-robin send cadence
	VerifyQueueSize int      `yaml:"verify_queue_size"` // bounded crypto-verification queue
	VerifyWorkers   int      `yaml:"verify_workers"`    // BLS verification worker pool size
	ChainID         string   `yaml:"chain_id"`          // correlates AggregationID across runs
}

// SecuritySettings configures the transport surface.
type SecuritySettings struct {
	TLSEnabled bool   `yaml:"tls_enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
}

// MonitoringSettings configures logging and metrics verbosity.
type MonitoringSettings struct {
	LogLevel      string `yaml:"log_level"`
	MetricsPath   string `yaml:"metrics_path"`
}

// Duration wraps time.Duration so it can be expressed as "30s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with production-sane defaults; callers typically
// load a file over this with LoadFile, or apply env overrides with
// ApplyEnvOverrides.
func Default() *Config {
	return &Config{
		Environment: "development",
		Validator: ValidatorSettings{
			ID:             "validator-0",
			ValidatorCount: 4,
		},
		Network: NetworkSettings{
			ListenAddr:  "0.0.0.0:7200",
			MetricsAddr: "0.0.0.0:9090",
			HealthAddr:  "0.0.0.0:8081",
		},
		Handel: HandelSettings{
			LevelTimeout:    Duration(500 * time.Millisecond),
			RequestTimeout:  Duration(5 * time.Second),
			SendInterval:    Duration(100 * time.Millisecond),
			VerifyQueueSize: 256,
			VerifyWorkers:   4,
			ChainID:         "handel-devnet",
		},
		Monitoring: MonitoringSettings{
			LogLevel:    "info",
			MetricsPath: "/metrics",
		},
	}
}

// LoadFile reads a YAML config file, expanding ${VAR_NAME} / ${VAR_NAME:-default}
// references against the process environment, and overlays it onto Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnvOverrides overlays a fixed set of environment variables onto cfg,
// taking precedence over whatever a YAML file set. Unset variables leave the
// existing value untouched.
func (c *Config) ApplyEnvOverrides() {
	c.Validator.ID = getEnv("VALIDATOR_ID", c.Validator.ID)
	c.Validator.BLSKeyPath = getEnv("BLS_KEY_PATH", c.Validator.BLSKeyPath)
	c.Validator.Index = getEnvInt("VALIDATOR_INDEX", c.Validator.Index)
	c.Validator.ValidatorCount = getEnvInt("VALIDATOR_COUNT", c.Validator.ValidatorCount)

	c.Network.ListenAddr = getEnv("LISTEN_ADDR", c.Network.ListenAddr)
	c.Network.MetricsAddr = getEnv("METRICS_ADDR", c.Network.MetricsAddr)
	c.Network.HealthAddr = getEnv("HEALTH_ADDR", c.Network.HealthAddr)
	if peers := getEnv("PEERS", ""); peers != "" {
		c.Network.Peers = splitCSV(peers)
	}

	c.Handel.LevelTimeout = Duration(getEnvDuration("LEVEL_TIMEOUT", c.Handel.LevelTimeout.Duration()))
	c.Handel.RequestTimeout = Duration(getEnvDuration("REQUEST_TIMEOUT", c.Handel.RequestTimeout.Duration()))
	c.Handel.SendInterval = Duration(getEnvDuration("SEND_INTERVAL", c.Handel.SendInterval.Duration()))
	c.Handel.VerifyQueueSize = getEnvInt("VERIFY_QUEUE_SIZE", c.Handel.VerifyQueueSize)
	c.Handel.VerifyWorkers = getEnvInt("VERIFY_WORKERS", c.Handel.VerifyWorkers)
	c.Handel.ChainID = getEnv("CHAIN_ID", c.Handel.ChainID)

	c.Security.TLSEnabled = getEnvBool("TLS_ENABLED", c.Security.TLSEnabled)
	c.Security.CertFile = getEnv("TLS_CERT_FILE", c.Security.CertFile)
	c.Security.KeyFile = getEnv("TLS_KEY_FILE", c.Security.KeyFile)

	c.Monitoring.LogLevel = getEnv("LOG_LEVEL", c.Monitoring.LogLevel)
}

// Validate checks that the configuration is self-consistent and sufficient to
// start an aggregation driver.
func (c *Config) Validate() error {
	var errs []string

	if c.Validator.ID == "" {
		errs = append(errs, "validator.id is required")
	}
	if c.Validator.ValidatorCount <= 0 {
		errs = append(errs, "validator.validator_count must be positive")
	}
	if c.Validator.Index < 0 || c.Validator.Index >= c.Validator.ValidatorCount {
		errs = append(errs, "validator.index must be in [0, validator_count)")
	}
	if c.Handel.VerifyQueueSize <= 0 {
		errs = append(errs, "handel.verify_queue_size must be positive")
	}
	if c.Handel.VerifyWorkers <= 0 {
		errs = append(errs, "handel.verify_workers must be positive")
	}
	if c.Handel.LevelTimeout.Duration() <= 0 {
		errs = append(errs, "handel.level_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
