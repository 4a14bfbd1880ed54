package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oarkflow/errors"
	"gopkg.in/yaml.v2"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *smpp.Config
}

// fileConfig is the on-disk layout shared by JSON and YAML files.
// Durations are strings such as "30s".
type fileConfig struct {
	Server  serverFile         `json:"server" yaml:"server"`
	Session sessionFile        `json:"session" yaml:"session"`
	Client  clientFile         `json:"client" yaml:"client"`
	Logging smpp.LoggingConfig `json:"logging" yaml:"logging"`
	Metrics smpp.MetricsConfig `json:"metrics" yaml:"metrics"`
	Auth    smpp.AuthConfig    `json:"auth" yaml:"auth"`
	Storage smpp.StorageConfig `json:"storage" yaml:"storage"`
}

type serverFile struct {
	Host             string `json:"host" yaml:"host"`
	Port             int    `json:"port" yaml:"port"`
	MaxConnections   int    `json:"max_connections" yaml:"max_connections"`
	SystemID         string `json:"system_id" yaml:"system_id"`
	InterfaceVersion uint8  `json:"interface_version" yaml:"interface_version"`
	TLSEnabled       bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertFile      string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile       string `json:"tls_key_file" yaml:"tls_key_file"`
}

type sessionFile struct {
	BindTimeout         string  `json:"bind_timeout" yaml:"bind_timeout"`
	EnquireLinkInterval string  `json:"enquire_link_interval" yaml:"enquire_link_interval"`
	EnquireLinkTimeout  string  `json:"enquire_link_timeout" yaml:"enquire_link_timeout"`
	ResponseTimeout     string  `json:"response_timeout" yaml:"response_timeout"`
	HandlerTimeout      string  `json:"handler_timeout" yaml:"handler_timeout"`
	WriteTimeout        string  `json:"write_timeout" yaml:"write_timeout"`
	TickInterval        string  `json:"tick_interval" yaml:"tick_interval"`
	MaxPDUSize          uint32  `json:"max_pdu_size" yaml:"max_pdu_size"`
	WindowSize          int     `json:"window_size" yaml:"window_size"`
	SubmitRate          float64 `json:"submit_rate" yaml:"submit_rate"`
	SubmitBurst         int     `json:"submit_burst" yaml:"submit_burst"`
	MaxDecodeErrors     int     `json:"max_decode_errors" yaml:"max_decode_errors"`
}

type clientFile struct {
	Host                 string `json:"host" yaml:"host"`
	Port                 int    `json:"port" yaml:"port"`
	SystemID             string `json:"system_id" yaml:"system_id"`
	Password             string `json:"password" yaml:"password"`
	SystemType           string `json:"system_type" yaml:"system_type"`
	BindType             string `json:"bind_type" yaml:"bind_type"`
	AddressRange         string `json:"address_range" yaml:"address_range"`
	ConnectTimeout       string `json:"connect_timeout" yaml:"connect_timeout"`
	ReconnectInterval    string `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	TLSEnabled           bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSSkipVerify        bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
	}
}

// LoadConfig loads the file at the manager's path over the defaults. A
// missing file yields the defaults.
func (cm *ConfigManager) LoadConfig() (*smpp.Config, error) {
	config := DefaultConfig()

	if cm.configPath != "" && fileExists(cm.configPath) {
		data, err := os.ReadFile(cm.configPath)
		if err != nil {
			return nil, errors.NewE(err, "failed to read config file", "config:load")
		}

		file := toFile(config)
		if err := unmarshal(cm.configPath, data, &file); err != nil {
			return nil, errors.NewE(err, "failed to parse config file "+cm.configPath, "config:load")
		}
		if err := fromFile(&file, config); err != nil {
			return nil, errors.NewE(err, "failed to convert config", "config:load")
		}
	}

	cm.config = config
	if err := cm.Validate(); err != nil {
		return nil, errors.NewE(err, "invalid configuration", "config:validate")
	}
	return config, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, v interface{}) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v interface{}) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}

// parseDuration accepts "" as "keep the current value".
func parseDuration(field, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}

func fromFile(f *fileConfig, config *smpp.Config) error {
	config.Server = smpp.ServerConfig{
		Host:             f.Server.Host,
		Port:             f.Server.Port,
		MaxConnections:   f.Server.MaxConnections,
		SystemID:         f.Server.SystemID,
		InterfaceVersion: f.Server.InterfaceVersion,
		TLSEnabled:       f.Server.TLSEnabled,
		TLSCertFile:      f.Server.TLSCertFile,
		TLSKeyFile:       f.Server.TLSKeyFile,
	}

	s := &config.Session
	s.MaxPDUSize = f.Session.MaxPDUSize
	s.WindowSize = f.Session.WindowSize
	s.SubmitRate = f.Session.SubmitRate
	s.SubmitBurst = f.Session.SubmitBurst
	s.MaxDecodeErrors = f.Session.MaxDecodeErrors
	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"session.bind_timeout", f.Session.BindTimeout, &s.BindTimeout},
		{"session.enquire_link_interval", f.Session.EnquireLinkInterval, &s.EnquireLinkInterval},
		{"session.enquire_link_timeout", f.Session.EnquireLinkTimeout, &s.EnquireLinkTimeout},
		{"session.response_timeout", f.Session.ResponseTimeout, &s.ResponseTimeout},
		{"session.handler_timeout", f.Session.HandlerTimeout, &s.HandlerTimeout},
		{"session.write_timeout", f.Session.WriteTimeout, &s.WriteTimeout},
		{"session.tick_interval", f.Session.TickInterval, &s.TickInterval},
		{"client.connect_timeout", f.Client.ConnectTimeout, &config.Client.ConnectTimeout},
		{"client.reconnect_interval", f.Client.ReconnectInterval, &config.Client.ReconnectInterval},
	}
	for _, d := range durations {
		if err := parseDuration(d.name, d.src, d.dst); err != nil {
			return err
		}
	}

	c := &config.Client
	c.Host = f.Client.Host
	c.Port = f.Client.Port
	c.SystemID = f.Client.SystemID
	c.Password = f.Client.Password
	c.SystemType = f.Client.SystemType
	c.BindType = f.Client.BindType
	c.AddressRange = f.Client.AddressRange
	c.MaxReconnectAttempts = f.Client.MaxReconnectAttempts
	c.TLSEnabled = f.Client.TLSEnabled
	c.TLSSkipVerify = f.Client.TLSSkipVerify

	config.Logging = f.Logging
	config.Metrics = f.Metrics
	config.Auth = f.Auth
	config.Storage = f.Storage
	return nil
}

func toFile(config *smpp.Config) fileConfig {
	s := config.Session
	return fileConfig{
		Server: serverFile{
			Host:             config.Server.Host,
			Port:             config.Server.Port,
			MaxConnections:   config.Server.MaxConnections,
			SystemID:         config.Server.SystemID,
			InterfaceVersion: config.Server.InterfaceVersion,
			TLSEnabled:       config.Server.TLSEnabled,
			TLSCertFile:      config.Server.TLSCertFile,
			TLSKeyFile:       config.Server.TLSKeyFile,
		},
		Session: sessionFile{
			BindTimeout:         s.BindTimeout.String(),
			EnquireLinkInterval: s.EnquireLinkInterval.String(),
			EnquireLinkTimeout:  s.EnquireLinkTimeout.String(),
			ResponseTimeout:     s.ResponseTimeout.String(),
			HandlerTimeout:      s.HandlerTimeout.String(),
			WriteTimeout:        s.WriteTimeout.String(),
			TickInterval:        s.TickInterval.String(),
			MaxPDUSize:          s.MaxPDUSize,
			WindowSize:          s.WindowSize,
			SubmitRate:          s.SubmitRate,
			SubmitBurst:         s.SubmitBurst,
			MaxDecodeErrors:     s.MaxDecodeErrors,
		},
		Client: clientFile{
			Host:                 config.Client.Host,
			Port:                 config.Client.Port,
			SystemID:             config.Client.SystemID,
			Password:             config.Client.Password,
			SystemType:           config.Client.SystemType,
			BindType:             config.Client.BindType,
			AddressRange:         config.Client.AddressRange,
			ConnectTimeout:       config.Client.ConnectTimeout.String(),
			ReconnectInterval:    config.Client.ReconnectInterval.String(),
			MaxReconnectAttempts: config.Client.MaxReconnectAttempts,
			TLSEnabled:           config.Client.TLSEnabled,
			TLSSkipVerify:        config.Client.TLSSkipVerify,
		},
		Logging: config.Logging,
		Metrics: config.Metrics,
		Auth:    config.Auth,
		Storage: config.Storage,
	}
}

// SaveConfig writes the current configuration to the manager's path, in
// the format its extension selects.
func (cm *ConfigManager) SaveConfig() error {
	if cm.config == nil {
		return errors.New("no configuration to save")
	}
	if cm.configPath == "" {
		return errors.New("no config path specified")
	}
	return writeConfig(cm.configPath, cm.config)
}

func writeConfig(path string, config *smpp.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewE(err, "failed to create config directory", "config:save")
	}
	data, err := marshal(path, toFile(config))
	if err != nil {
		return errors.NewE(err, "failed to marshal configuration", "config:save")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.NewE(err, "failed to write config file", "config:save")
	}
	return nil
}

// Validate validates configuration
func (cm *ConfigManager) Validate() error {
	if cm.config == nil {
		return errors.New("configuration is nil")
	}
	return Validate(cm.config)
}

// Validate checks a configuration tree.
func Validate(config *smpp.Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := validateSessionConfig(&config.Session); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	if err := validateClientConfig(&config.Client); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	if err := validateLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := validateMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if err := validateStorageConfig(&config.Storage); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	return nil
}

func validateStorageConfig(storage *smpp.StorageConfig) error {
	switch storage.Type {
	case "", "memory":
	case "file":
		if storage.DataDir == "" {
			return fmt.Errorf("data directory required for file storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", storage.Type)
	}
	if storage.Retention != "" {
		d, err := time.ParseDuration(storage.Retention)
		if err != nil {
			return fmt.Errorf("invalid retention %q: %w", storage.Retention, err)
		}
		if d < 0 {
			return fmt.Errorf("retention cannot be negative")
		}
	}
	return nil
}

func validateServerConfig(server *smpp.ServerConfig) error {
	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", server.Port)
	}
	if server.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative: %d", server.MaxConnections)
	}
	if len(server.SystemID) >= smpp.MaxSystemIDLength {
		return fmt.Errorf("system ID longer than %d characters", smpp.MaxSystemIDLength-1)
	}
	if v := server.InterfaceVersion; v != 0 && v != 0x33 && v != 0x34 {
		return fmt.Errorf("unsupported interface version: 0x%02X", v)
	}
	if server.TLSEnabled {
		if server.TLSCertFile == "" {
			return fmt.Errorf("TLS cert file required when TLS is enabled")
		}
		if server.TLSKeyFile == "" {
			return fmt.Errorf("TLS key file required when TLS is enabled")
		}
		if !fileExists(server.TLSCertFile) {
			return fmt.Errorf("TLS cert file not found: %s", server.TLSCertFile)
		}
		if !fileExists(server.TLSKeyFile) {
			return fmt.Errorf("TLS key file not found: %s", server.TLSKeyFile)
		}
	}
	return nil
}

func validateSessionConfig(s *smpp.SessionConfig) error {
	timers := map[string]time.Duration{
		"bind timeout":          s.BindTimeout,
		"enquire link interval": s.EnquireLinkInterval,
		"enquire link timeout":  s.EnquireLinkTimeout,
		"response timeout":      s.ResponseTimeout,
		"handler timeout":       s.HandlerTimeout,
		"write timeout":         s.WriteTimeout,
		"tick interval":         s.TickInterval,
	}
	for name, d := range timers {
		if d <= 0 {
			return fmt.Errorf("%s must be positive: %v", name, d)
		}
	}
	if s.MaxPDUSize < smpp.HeaderLength {
		return fmt.Errorf("max PDU size must be at least %d: %d", smpp.HeaderLength, s.MaxPDUSize)
	}
	if s.WindowSize < 1 {
		return fmt.Errorf("window size must be at least 1: %d", s.WindowSize)
	}
	if s.SubmitRate < 0 {
		return fmt.Errorf("submit rate cannot be negative: %v", s.SubmitRate)
	}
	if s.MaxDecodeErrors < 1 {
		return fmt.Errorf("max decode errors must be at least 1: %d", s.MaxDecodeErrors)
	}
	return nil
}

func validateClientConfig(client *smpp.ClientConfig) error {
	if client.Host == "" {
		return fmt.Errorf("client host cannot be empty")
	}
	if client.Port <= 0 || client.Port > 65535 {
		return fmt.Errorf("invalid client port: %d", client.Port)
	}
	if _, err := smpp.ParseBindMode(client.BindType); err != nil {
		return fmt.Errorf("invalid bind type: %s", client.BindType)
	}
	if client.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive: %v", client.ConnectTimeout)
	}
	if client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative: %d", client.MaxReconnectAttempts)
	}
	return nil
}

func validateLoggingConfig(logging *smpp.LoggingConfig) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLevels[logging.Level] {
		return fmt.Errorf("invalid log level: %s", logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[logging.Format] {
		return fmt.Errorf("invalid log format: %s", logging.Format)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[logging.Output] {
		return fmt.Errorf("invalid log output: %s", logging.Output)
	}
	if logging.Output == "file" && logging.File == "" {
		return fmt.Errorf("log file path required when output is file")
	}
	return nil
}

func validateMetricsConfig(metrics *smpp.MetricsConfig) error {
	if metrics.Enabled {
		if metrics.Port <= 0 || metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", metrics.Port)
		}
		if metrics.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}
	return nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *smpp.Config {
	return &smpp.Config{
		Server: smpp.ServerConfig{
			Host:             "0.0.0.0",
			Port:             2775,
			MaxConnections:   100,
			SystemID:         "SMSC",
			InterfaceVersion: smpp.SMPPVersion,
		},
		Session: smpp.DefaultSessionConfig(),
		Client: smpp.ClientConfig{
			Host:                 "localhost",
			Port:                 2775,
			SystemID:             "smppclient1",
			Password:             "password",
			BindType:             "transceiver",
			ConnectTimeout:       10 * time.Second,
			ReconnectInterval:    5 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Logging: smpp.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: smpp.MetricsConfig{
			Enabled:   false,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "smpp",
		},
		Auth: smpp.AuthConfig{
			Users: []smpp.UserConfig{
				{SystemID: "smppclient1", Password: "password"},
			},
		},
		Storage: smpp.StorageConfig{
			Type:      "memory",
			DataDir:   "./data",
			Retention: "72h",
		},
	}
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *smpp.Config {
	return cm.config
}

// CreateDefaultConfigFile writes the defaults to path as JSON or YAML,
// chosen by extension.
func CreateDefaultConfigFile(path string) error {
	return writeConfig(path, DefaultConfig())
}
