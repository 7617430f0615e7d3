package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Receiver ReceiverConfig `toml:"receiver"` // Local Mode S receiver connection
	Server   ServerConfig   `toml:"server"`   // Multilateration server connection
	Results  ResultsConfig  `toml:"results"`  // Result outputs (HTTP API, WebSocket, SQLite)
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
}

// Input types accepted by the receiver section
const (
	InputBeast     = "beast"     // Mode S Beast binary, 12 MHz clock
	InputRadarcape = "radarcape" // Radarcape Beast binary with 1 GHz GPS timestamps
)

// ReceiverConfig contains the local receiver connection settings
type ReceiverConfig struct {
	Host                  string `toml:"host"`                    // Receiver host (e.g., localhost for a local dump1090)
	Port                  int    `toml:"port"`                    // Beast output port (default: 30005)
	InputType             string `toml:"input_type"`              // "beast" or "radarcape"
	ReconnectIntervalSecs int    `toml:"reconnect_interval_secs"` // Minimum time between connection attempts (default: 30)
	IdleTimeoutSecs       int    `toml:"idle_timeout_secs"`       // Drop the connection after this long without data (0 = never, default: 150)
}

// ClockFrequency returns the receiver timestamp frequency in Hz
func (r ReceiverConfig) ClockFrequency() float64 {
	if r.InputType == InputRadarcape {
		return 1e9
	}
	return 12e6
}

// ClockType returns the clock name announced to the server
func (r ReceiverConfig) ClockType() string {
	if r.InputType == InputRadarcape {
		return "radarcape_gps"
	}
	return "dump1090"
}

func (r ReceiverConfig) ReconnectInterval() time.Duration {
	return time.Duration(r.ReconnectIntervalSecs) * time.Second
}

func (r ReceiverConfig) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutSecs) * time.Second
}

// ServerConfig contains the multilateration server connection settings
type ServerConfig struct {
	Host                  string  `toml:"host"`                    // MLAT server host
	Port                  int     `toml:"port"`                    // MLAT server port
	User                  string  `toml:"user"`                    // Station name shown on the server
	Latitude              float64 `toml:"latitude"`                // Receiver antenna latitude in decimal degrees
	Longitude             float64 `toml:"longitude"`               // Receiver antenna longitude in decimal degrees
	AltitudeM             float64 `toml:"altitude_m"`              // Antenna altitude in metres above the WGS84 ellipsoid
	Compression           string  `toml:"compression"`             // "zlib" or "none" (default: zlib)
	ConnectTimeoutSecs    int     `toml:"connect_timeout_secs"`    // Dial and handshake timeout (default: 30)
	HeartbeatIntervalSecs int     `toml:"heartbeat_interval_secs"` // Keepalive interval (default: 30)
	InitialBackoffSecs    int     `toml:"initial_backoff_secs"`    // First reconnect delay (default: 5)
	MaxBackoffSecs        int     `toml:"max_backoff_secs"`        // Reconnect delay cap (default: 300)
}

func (s ServerConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSecs) * time.Second
}

func (s ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSecs) * time.Second
}

// ResultsConfig contains settings for the outputs that receive MLAT results
type ResultsConfig struct {
	HTTPHost         string `toml:"http_host"`          // Host address to bind the API to (e.g., 127.0.0.1 for localhost only)
	HTTPPort         int    `toml:"http_port"`          // API port (0 disables the HTTP API and WebSocket)
	WebSocketEnabled bool   `toml:"websocket_enabled"`  // Stream results to WebSocket clients at /ws
	SQLitePath       string `toml:"sqlite_path"`        // Results database file (empty disables persistence)
	MaxResultsInAPI  int    `toml:"max_results_in_api"` // Upper bound for the /results limit parameter (default: 500)
	StaticDir        string `toml:"static_dir"`         // Optional directory served at / (e.g., a map viewer)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`        // Log level: "debug", "info", "warn", or "error"
	Format     string `toml:"format"`       // Log format: "json" (structured) or "console" (human-readable)
	File       string `toml:"file"`         // Optional log file, rotated by size
	MaxSizeMB  int    `toml:"max_size_mb"`  // Rotate after this many megabytes (default: 50)
	MaxBackups int    `toml:"max_backups"`  // Rotated files to keep (default: 5)
	MaxAgeDays int    `toml:"max_age_days"` // Days to keep rotated files (default: 14)
}

// Load loads the configuration from a TOML file
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return &config, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	if err := c.validateReceiver(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateResults(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateReceiver() error {
	r := &c.Receiver
	if r.Host == "" {
		r.Host = "localhost"
	}
	if r.Port == 0 {
		r.Port = 30005
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("invalid receiver port: %d", r.Port)
	}

	if r.InputType == "" {
		r.InputType = InputBeast
	}
	if r.InputType != InputBeast && r.InputType != InputRadarcape {
		return fmt.Errorf("invalid receiver input_type: %s (must be '%s' or '%s')", r.InputType, InputBeast, InputRadarcape)
	}

	if r.ReconnectIntervalSecs <= 0 {
		r.ReconnectIntervalSecs = 30
	}
	if r.IdleTimeoutSecs < 0 {
		return fmt.Errorf("invalid receiver idle_timeout_secs: %d (must be >= 0)", r.IdleTimeoutSecs)
	}
	if r.IdleTimeoutSecs == 0 {
		r.IdleTimeoutSecs = 150
	}
	return nil
}

func (c *Config) validateServer() error {
	s := &c.Server
	if s.Host == "" {
		return fmt.Errorf("server host is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}
	if s.User == "" {
		return fmt.Errorf("server user is required")
	}

	// Validate Latitude
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("invalid receiver latitude: %f", s.Latitude)
	}

	// Validate Longitude
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("invalid receiver longitude: %f", s.Longitude)
	}

	// Altitude can be negative, check it is within a plausible range
	if s.AltitudeM < -1000 || s.AltitudeM > 10000 {
		return fmt.Errorf("receiver altitude out of range: %.0f m", s.AltitudeM)
	}

	switch s.Compression {
	case "":
		s.Compression = "zlib"
	case "zlib", "none":
	default:
		return fmt.Errorf("invalid server compression: %s (must be 'zlib' or 'none')", s.Compression)
	}

	if s.ConnectTimeoutSecs <= 0 {
		s.ConnectTimeoutSecs = 30
	}
	if s.HeartbeatIntervalSecs <= 0 {
		s.HeartbeatIntervalSecs = 30
	}
	if s.InitialBackoffSecs <= 0 {
		s.InitialBackoffSecs = 5
	}
	if s.MaxBackoffSecs <= 0 {
		s.MaxBackoffSecs = 300
	}
	if s.MaxBackoffSecs < s.InitialBackoffSecs {
		return fmt.Errorf("max_backoff_secs (%d) must be >= initial_backoff_secs (%d)", s.MaxBackoffSecs, s.InitialBackoffSecs)
	}
	return nil
}

func (c *Config) validateResults() error {
	r := &c.Results
	if r.HTTPPort < 0 || r.HTTPPort > 65535 {
		return fmt.Errorf("invalid results http_port: %d", r.HTTPPort)
	}
	if r.HTTPHost == "" {
		r.HTTPHost = "127.0.0.1"
	}
	if r.MaxResultsInAPI <= 0 {
		r.MaxResultsInAPI = 500
	}
	if r.WebSocketEnabled && r.HTTPPort == 0 {
		return fmt.Errorf("websocket_enabled requires http_port to be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	l := &c.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format == "" {
		l.Format = "console"
	}
	if l.Format != "console" && l.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", l.Format)
	}

	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 50
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 14
	}
	return nil
}
