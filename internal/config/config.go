// Package config loads and validates the configuration of both processes.
//
// Values come from environment variables. The edge daemon additionally
// accepts a YAML file (EDGE_CONFIG_FILE) whose values act as defaults under
// the environment. Configuration is immutable after startup; validation
// failures are fatal at the entrypoint.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Edge is the edge daemon configuration.
type Edge struct {
	SungrowHost          string `yaml:"sungrow_host"`
	SungrowPort          int    `yaml:"sungrow_port"`
	SungrowSlaveID       int    `yaml:"sungrow_slave_id"`
	PollIntervalS        int    `yaml:"poll_interval_s"`
	InterRegisterDelayMs int    `yaml:"inter_register_delay_ms"`
	VPSBaseURL           string `yaml:"vps_base_url"`
	VPSDeviceToken       string `yaml:"vps_device_token"`
	DeviceID             string `yaml:"device_id"`
	BatchSize            int    `yaml:"batch_size"`
	UploadIntervalS      int    `yaml:"upload_interval_s"`
	MaxBackoffS          int    `yaml:"max_backoff_s"`
	SpoolPath            string `yaml:"spool_path"`
	HealthPath           string `yaml:"health_path"`
	MetricsAddr          string `yaml:"metrics_addr"`
	RawDebugEnabled      bool   `yaml:"raw_debug_enabled"`
	RawDebugEveryNPolls  int    `yaml:"raw_debug_every_n_polls"`
}

func defaultEdge() Edge {
	return Edge{
		SungrowPort:          502,
		SungrowSlaveID:       1,
		PollIntervalS:        5,
		InterRegisterDelayMs: 20,
		BatchSize:            30,
		UploadIntervalS:      10,
		MaxBackoffS:          300,
		SpoolPath:            "/data/spool.db",
		HealthPath:           "/data/health.json",
		RawDebugEveryNPolls:  60,
	}
}

// LoadEdge builds the edge configuration: built-in defaults, then the
// optional YAML file named by EDGE_CONFIG_FILE, then the environment.
func LoadEdge() (*Edge, error) {
	cfg := defaultEdge()

	if path := os.Getenv("EDGE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	var err error
	setString(&cfg.SungrowHost, "SUNGROW_HOST")
	setInt(&cfg.SungrowPort, "SUNGROW_PORT", &err)
	setInt(&cfg.SungrowSlaveID, "SUNGROW_SLAVE_ID", &err)
	setInt(&cfg.PollIntervalS, "POLL_INTERVAL_S", &err)
	setInt(&cfg.InterRegisterDelayMs, "INTER_REGISTER_DELAY_MS", &err)
	setString(&cfg.VPSBaseURL, "VPS_BASE_URL")
	setString(&cfg.VPSDeviceToken, "VPS_DEVICE_TOKEN")
	setString(&cfg.DeviceID, "DEVICE_ID")
	setInt(&cfg.BatchSize, "BATCH_SIZE", &err)
	setInt(&cfg.UploadIntervalS, "UPLOAD_INTERVAL_S", &err)
	setInt(&cfg.MaxBackoffS, "MAX_BACKOFF_S", &err)
	setString(&cfg.SpoolPath, "SPOOL_PATH")
	setString(&cfg.HealthPath, "HEALTH_PATH")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setBool(&cfg.RawDebugEnabled, "RAW_DEBUG_ENABLED", &err)
	setInt(&cfg.RawDebugEveryNPolls, "RAW_DEBUG_EVERY_N_POLLS", &err)
	if err != nil {
		return nil, err
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = cfg.SungrowHost
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Edge) validate() error {
	if c.SungrowHost == "" {
		return fmt.Errorf("SUNGROW_HOST is required")
	}
	if c.SungrowPort < 1 || c.SungrowPort > 65535 {
		return fmt.Errorf("SUNGROW_PORT must be between 1 and 65535")
	}
	if c.SungrowSlaveID < 1 || c.SungrowSlaveID > 247 {
		return fmt.Errorf("SUNGROW_SLAVE_ID must be between 1 and 247")
	}
	// The WiNet-S dongle destabilizes under faster polling.
	if c.PollIntervalS < 5 {
		return fmt.Errorf("POLL_INTERVAL_S must be >= 5")
	}
	if c.InterRegisterDelayMs < 0 {
		return fmt.Errorf("INTER_REGISTER_DELAY_MS must be >= 0")
	}
	if c.VPSBaseURL == "" {
		return fmt.Errorf("VPS_BASE_URL is required")
	}
	if !strings.HasPrefix(strings.ToLower(c.VPSBaseURL), "https://") {
		return fmt.Errorf("VPS_BASE_URL must use https (got %q)", c.VPSBaseURL)
	}
	if c.VPSDeviceToken == "" {
		return fmt.Errorf("VPS_DEVICE_TOKEN is required")
	}
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 1000")
	}
	if c.UploadIntervalS < 1 {
		return fmt.Errorf("UPLOAD_INTERVAL_S must be >= 1")
	}
	if c.MaxBackoffS < 1 {
		return fmt.Errorf("MAX_BACKOFF_S must be >= 1")
	}
	if c.RawDebugEnabled && c.RawDebugEveryNPolls < 1 {
		return fmt.Errorf("RAW_DEBUG_EVERY_N_POLLS must be >= 1")
	}
	return nil
}

// MaskedToken renders a token safe for logging: first four characters
// followed by an ellipsis, or stars when the token is too short to reveal
// any prefix.
func MaskedToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..."
}

// Server is the ingest service configuration.
type Server struct {
	Port                 string
	DatabaseURL          string
	CacheURL             string
	DeviceTokens         string
	MaxSamplesPerRequest int
	MaxRequestBytes      int64
	CacheTTLS            int
	DashboardOrigin      string
}

// LoadServer reads and validates the server environment. All three
// credentials and endpoints are required; the service refuses to start
// without them rather than run open.
func LoadServer() (*Server, error) {
	cfg := &Server{
		Port:                 "8080",
		MaxSamplesPerRequest: 1000,
		MaxRequestBytes:      1 << 20,
		CacheTTLS:            5,
	}

	setString(&cfg.Port, "PORT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.CacheURL, "CACHE_URL")
	setString(&cfg.DeviceTokens, "DEVICE_TOKENS")
	setString(&cfg.DashboardOrigin, "DASHBOARD_ORIGIN")

	var err error
	setInt(&cfg.MaxSamplesPerRequest, "MAX_SAMPLES_PER_REQUEST", &err)
	setInt64(&cfg.MaxRequestBytes, "MAX_REQUEST_BYTES", &err)
	setInt(&cfg.CacheTTLS, "CACHE_TTL_S", &err)
	if err != nil {
		return nil, err
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.CacheURL == "" {
		missing = append(missing, "CACHE_URL")
	}
	if cfg.DeviceTokens == "" {
		missing = append(missing, "DEVICE_TOKENS")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if cfg.MaxSamplesPerRequest < 1 {
		return nil, fmt.Errorf("MAX_SAMPLES_PER_REQUEST must be >= 1")
	}
	if cfg.MaxRequestBytes < 1 {
		return nil, fmt.Errorf("MAX_REQUEST_BYTES must be >= 1")
	}
	if cfg.CacheTTLS < 1 {
		return nil, fmt.Errorf("CACHE_TTL_S must be >= 1")
	}
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string, errOut *error) {
	v := os.Getenv(key)
	if v == "" || *errOut != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errOut = fmt.Errorf("%s: invalid integer %q", key, v)
		return
	}
	*dst = n
}

func setInt64(dst *int64, key string, errOut *error) {
	v := os.Getenv(key)
	if v == "" || *errOut != nil {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errOut = fmt.Errorf("%s: invalid integer %q", key, v)
		return
	}
	*dst = n
}

func setBool(dst *bool, key string, errOut *error) {
	v := os.Getenv(key)
	if v == "" || *errOut != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errOut = fmt.Errorf("%s: invalid boolean %q", key, v)
		return
	}
	*dst = b
}
