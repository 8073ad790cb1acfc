package config

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	Replay  ReplayConfig  `yaml:"replay" mapstructure:"replay"`
	Hooks   HooksConfig   `yaml:"hooks" mapstructure:"hooks"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Events  EventsConfig  `yaml:"events" mapstructure:"events"`
}

// ReplayConfig client replay engine configuration
type ReplayConfig struct {
	// ClientReplay lists capture files (globs allowed) replayed at startup.
	ClientReplay []string `yaml:"client_replay" mapstructure:"client_replay"`
	// Mode is "regular" or "upstream:<url>".
	Mode string `yaml:"mode" mapstructure:"mode"`
	// BodySizeLimit is a human readable byte size, e.g. "10m". Empty = unlimited.
	BodySizeLimit  string    `yaml:"body_size_limit" mapstructure:"body_size_limit"`
	ConnectTimeout int       `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	ReadTimeout    int       `yaml:"read_timeout" mapstructure:"read_timeout"`
	TLS            TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// TLSConfig TLS client options used when replaying https flows
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file" mapstructure:"ca_file"`
	ClientCertFile     string `yaml:"client_cert_file" mapstructure:"client_cert_file"`
	MinVersion         string `yaml:"min_version" mapstructure:"min_version"`
}

// HooksConfig configures the built-in hook chain
type HooksConfig struct {
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules"`
}

// RuleConfig describes an expression rule consulted during replay
type RuleConfig struct {
	Name    string            `yaml:"name" mapstructure:"name"`
	Phase   string            `yaml:"phase" mapstructure:"phase"`
	When    string            `yaml:"when" mapstructure:"when"`
	Action  string            `yaml:"action" mapstructure:"action"`
	Status  int               `yaml:"status" mapstructure:"status"`
	Body    string            `yaml:"body" mapstructure:"body"`
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
}

// APIConfig admin API configuration
type APIConfig struct {
	Enable   bool   `yaml:"enable" mapstructure:"enable"`
	Listen   string `yaml:"listen" mapstructure:"listen"`
	Port     int    `yaml:"port" mapstructure:"port"`
	BasePath string `yaml:"base_path" mapstructure:"base_path"`
	Token    string `yaml:"token" mapstructure:"token"`
	MaxFlows int    `yaml:"max_flows" mapstructure:"max_flows"`
}

// LogConfig log configuration
type LogConfig struct {
	Level       string        `yaml:"level" mapstructure:"level"`
	FileLogging FileLogConfig `yaml:"file_logging" mapstructure:"file_logging"`
}

// FileLogConfig file log configuration
type FileLogConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// OutputConfig controls CLI output style
type OutputConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"`
	Silence bool   `yaml:"silence" mapstructure:"silence"`
	// MaxBodyBytes caps how much of a response body the console printer shows.
	MaxBodyBytes int `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// NotifyConfig webhook delivery of replay results
type NotifyConfig struct {
	URLs          []string `yaml:"urls" mapstructure:"urls"`
	Timeout       int      `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries    int      `yaml:"max_retries" mapstructure:"max_retries"`
	MaxConcurrent int      `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// StorageConfig SQLite capture database parameters
type StorageConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	MaxRecords int    `yaml:"max_records" mapstructure:"max_records"`
}

// EventsConfig event store parameters
type EventsConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// Replay modes
const (
	ModeRegular  = "regular"
	ModeUpstream = "upstream"
)

// LoadConfig load configuration
// If v is nil, a new viper instance will be created
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	// Set default values
	setDefaults(v)

	// Set environment variable prefix
	v.SetEnvPrefix("REPLAYTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set configuration file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Configuration file search paths
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.replaytap")
		v.AddConfigPath("/etc/replaytap")
	}

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("Config file loaded: %s", v.ConfigFileUsed())
	}

	// Unmarshal to struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Unmarshal doesn't apply defaults to zero-value fields
	applyDefaults(&config, v)

	return &config, nil
}

// applyDefaults apply default values to zero-value fields in the struct.
// Command line flags are handled separately in main.go to ensure highest priority.
func applyDefaults(cfg *Config, v *viper.Viper) {
	if len(cfg.Replay.ClientReplay) == 0 {
		cfg.Replay.ClientReplay = v.GetStringSlice("replay.client_replay")
	}
	if cfg.Replay.Mode == "" {
		cfg.Replay.Mode = v.GetString("replay.mode")
	}
	if cfg.Replay.BodySizeLimit == "" {
		cfg.Replay.BodySizeLimit = v.GetString("replay.body_size_limit")
	}
	if cfg.Replay.ConnectTimeout == 0 {
		cfg.Replay.ConnectTimeout = v.GetInt("replay.connect_timeout")
	}
	if cfg.Replay.ReadTimeout == 0 {
		cfg.Replay.ReadTimeout = v.GetInt("replay.read_timeout")
	}
	// Bool fields always come from viper: it resolves file value or default.
	cfg.Replay.TLS.InsecureSkipVerify = v.GetBool("replay.tls.insecure_skip_verify")
	if cfg.Replay.TLS.MinVersion == "" {
		cfg.Replay.TLS.MinVersion = v.GetString("replay.tls.min_version")
	}

	if len(cfg.Hooks.Rules) == 0 {
		var rules []RuleConfig
		if err := v.UnmarshalKey("hooks.rules", &rules); err == nil {
			cfg.Hooks.Rules = rules
		}
	}
	for i := range cfg.Hooks.Rules {
		cfg.Hooks.Rules[i].Headers = canonicalizeHeaders(cfg.Hooks.Rules[i].Headers)
		if cfg.Hooks.Rules[i].Phase == "" {
			cfg.Hooks.Rules[i].Phase = "request"
		}
	}

	cfg.API.Enable = v.GetBool("api.enable")
	if cfg.API.Listen == "" {
		cfg.API.Listen = v.GetString("api.listen")
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = v.GetInt("api.port")
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = v.GetString("api.base_path")
	}
	if cfg.API.MaxFlows == 0 {
		cfg.API.MaxFlows = v.GetInt("api.max_flows")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = v.GetString("log.level")
	}
	cfg.Log.FileLogging.Enable = v.GetBool("log.file_logging.enable")
	cfg.Log.FileLogging.Compress = v.GetBool("log.file_logging.compress")
	if cfg.Log.FileLogging.Path == "" {
		cfg.Log.FileLogging.Path = v.GetString("log.file_logging.path")
	}
	if cfg.Log.FileLogging.MaxSizeMB == 0 {
		cfg.Log.FileLogging.MaxSizeMB = v.GetInt("log.file_logging.max_size_mb")
	}
	if cfg.Log.FileLogging.MaxBackups == 0 {
		cfg.Log.FileLogging.MaxBackups = v.GetInt("log.file_logging.max_backups")
	}
	if cfg.Log.FileLogging.MaxAgeDays == 0 {
		cfg.Log.FileLogging.MaxAgeDays = v.GetInt("log.file_logging.max_age_days")
	}

	if cfg.Output.Mode == "" {
		cfg.Output.Mode = v.GetString("output.mode")
	}
	cfg.Output.Silence = v.GetBool("output.silence")
	if cfg.Output.MaxBodyBytes == 0 {
		cfg.Output.MaxBodyBytes = v.GetInt("output.max_body_bytes")
	}

	if len(cfg.Notify.URLs) == 0 {
		cfg.Notify.URLs = v.GetStringSlice("notify.urls")
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = v.GetInt("notify.timeout")
	}
	if cfg.Notify.MaxRetries == 0 {
		cfg.Notify.MaxRetries = v.GetInt("notify.max_retries")
	}
	if cfg.Notify.MaxConcurrent == 0 {
		cfg.Notify.MaxConcurrent = v.GetInt("notify.max_concurrent")
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = v.GetString("storage.path")
	}
	if cfg.Storage.MaxRecords == 0 {
		cfg.Storage.MaxRecords = v.GetInt("storage.max_records")
	}

	if cfg.Events.MaxEntries == 0 {
		cfg.Events.MaxEntries = v.GetInt("events.max_entries")
	}
}

// setDefaults set default configuration values
func setDefaults(v *viper.Viper) {
	// Replay defaults
	v.SetDefault("replay.client_replay", []string{})
	v.SetDefault("replay.mode", ModeRegular)
	v.SetDefault("replay.body_size_limit", "")
	v.SetDefault("replay.connect_timeout", 10)
	v.SetDefault("replay.read_timeout", 60)
	v.SetDefault("replay.tls.insecure_skip_verify", false)
	v.SetDefault("replay.tls.min_version", "1.2")

	v.SetDefault("hooks.rules", []map[string]interface{}{})

	// Admin API defaults
	v.SetDefault("api.enable", true)
	v.SetDefault("api.listen", "127.0.0.1")
	v.SetDefault("api.port", 38889)
	v.SetDefault("api.base_path", "/api")
	v.SetDefault("api.token", "")
	v.SetDefault("api.max_flows", 500)

	// Log default configuration
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_logging.enable", false)
	v.SetDefault("log.file_logging.path", "./replaytap.log")
	v.SetDefault("log.file_logging.max_size_mb", 10)
	v.SetDefault("log.file_logging.max_backups", 5)
	v.SetDefault("log.file_logging.max_age_days", 30)
	v.SetDefault("log.file_logging.compress", true)

	// Output defaults
	v.SetDefault("output.mode", "console")
	v.SetDefault("output.silence", false)
	v.SetDefault("output.max_body_bytes", 4*1024)

	// Notify defaults
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.timeout", 10)
	v.SetDefault("notify.max_retries", 2)
	v.SetDefault("notify.max_concurrent", 4)

	// Storage defaults
	v.SetDefault("storage.path", "./data/captures.db")
	v.SetDefault("storage.max_records", 100000)

	v.SetDefault("events.max_entries", 10000)
}

// Validate checks the configuration and normalizes optional values
func (c *Config) Validate() error {
	if _, err := ParseMode(c.Replay.Mode); err != nil {
		return err
	}
	if _, err := c.Replay.BodySizeLimitBytes(); err != nil {
		return err
	}
	if c.Replay.ConnectTimeout < 0 {
		return fmt.Errorf("replay connect timeout cannot be negative")
	}
	if c.Replay.ReadTimeout < 0 {
		return fmt.Errorf("replay read timeout cannot be negative")
	}
	switch strings.TrimSpace(c.Replay.TLS.MinVersion) {
	case "", "1.0", "1.1", "1.2", "1.3":
	default:
		return fmt.Errorf("replay tls min_version must be one of 1.0, 1.1, 1.2, 1.3")
	}
	for i, p := range c.Replay.ClientReplay {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("replay client_replay path %d cannot be empty", i+1)
		}
	}

	for i, rule := range c.Hooks.Rules {
		if strings.TrimSpace(rule.When) == "" {
			return fmt.Errorf("hook rule %d when expression cannot be empty", i+1)
		}
		switch strings.ToLower(rule.Phase) {
		case "request", "response":
		default:
			return fmt.Errorf("hook rule %d phase must be request or response", i+1)
		}
		switch strings.ToLower(rule.Action) {
		case "respond":
			if strings.ToLower(rule.Phase) != "request" {
				return fmt.Errorf("hook rule %d action respond is only valid in the request phase", i+1)
			}
			if rule.Status < 100 || rule.Status > 599 {
				return fmt.Errorf("hook rule %d status must be between 100 and 599", i+1)
			}
		case "kill":
		default:
			return fmt.Errorf("hook rule %d action must be respond or kill", i+1)
		}
	}

	if c.API.Enable {
		if c.API.Port < 1 || c.API.Port > 65535 {
			return fmt.Errorf("invalid api port: %d (must be 1-65535)", c.API.Port)
		}
		if c.API.BasePath == "" || !strings.HasPrefix(c.API.BasePath, "/") {
			return fmt.Errorf("api base path must start with '/'")
		}
		if c.API.MaxFlows < 1 {
			return fmt.Errorf("api max flows must be at least 1")
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.FileLogging.Enable {
		if c.Log.FileLogging.Path == "" {
			return fmt.Errorf("log file path cannot be empty when file logging is enabled")
		}
		if c.Log.FileLogging.MaxSizeMB < 1 {
			return fmt.Errorf("log file max size must be at least 1MB")
		}
		if c.Log.FileLogging.MaxBackups < 0 {
			return fmt.Errorf("log file max backups cannot be negative")
		}
		if c.Log.FileLogging.MaxAgeDays < 0 {
			return fmt.Errorf("log file max age cannot be negative")
		}
	}

	switch strings.ToLower(c.Output.Mode) {
	case "", "console", "json":
		if c.Output.Mode == "" {
			c.Output.Mode = "console"
		}
	default:
		return fmt.Errorf("output mode must be 'console' or 'json'")
	}
	if c.Output.MaxBodyBytes < 0 {
		return fmt.Errorf("output max body bytes cannot be negative")
	}

	for i, url := range c.Notify.URLs {
		if url == "" {
			return fmt.Errorf("notify URL %d cannot be empty", i+1)
		}
	}
	if c.Notify.Timeout < 0 {
		return fmt.Errorf("notify timeout cannot be negative")
	}
	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("notify max retries cannot be negative")
	}
	if len(c.Notify.URLs) > 0 && c.Notify.MaxConcurrent < 1 {
		return fmt.Errorf("notify max concurrent must be at least 1")
	}

	if c.Storage.MaxRecords < 0 {
		return fmt.Errorf("storage max_records cannot be negative")
	}
	if c.Events.MaxEntries < 1 {
		return fmt.Errorf("events max entries must be at least 1")
	}

	return nil
}

// BodySizeLimitBytes parses BodySizeLimit. Zero means unlimited.
func (r ReplayConfig) BodySizeLimitBytes() (int64, error) {
	raw := strings.TrimSpace(r.BodySizeLimit)
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid replay body_size_limit %q: %w", raw, err)
	}
	return int64(n), nil
}

// ConnectTimeoutDuration returns the dial timeout.
func (r ReplayConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(r.ConnectTimeout) * time.Second
}

// ReadTimeoutDuration returns the per-replay I/O deadline.
func (r ReplayConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(r.ReadTimeout) * time.Second
}

func canonicalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	canonical := make(map[string]string, len(headers))
	for key, value := range headers {
		canonical[http.CanonicalHeaderKey(key)] = value
	}
	return canonical
}
