// Package config provides configuration management for hydrodl.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/oceanhydro/hydrodl/internal/constants"
)

// Config is the persisted tool configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\hydrodl\config.ini
//   - Unix: ~/.config/hydrodl/config.ini
//
// INI format:
//
//	[onc]
//	base_url = https://data.oceannetworks.ca/api/
//	token = <onc-token>
//	timeout_seconds = 60
//	download_timeout_seconds = 300
//	requests_per_second = 5
//
//	[download]
//	output_dir = ./onc_data
//	overwrite = false
//	include_metadata = false
//	fallback_retries = 12
//	fallback_wait_seconds = 5
//	workers = 10
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 8080
//	user =
//	no_proxy =
//	warmup = false
type Config struct {
	Token             string
	BaseURL           string
	Timeout           time.Duration
	DownloadTimeout   time.Duration
	RequestsPerSecond float64

	OutputDir       string
	Overwrite       bool
	IncludeMetadata bool
	FallbackRetries int
	FallbackWait    time.Duration
	Workers         int

	Proxy ProxyConfig
}

// ProxyConfig holds outbound proxy settings.
type ProxyConfig struct {
	// Mode is one of no-proxy, system, basic, ntlm.
	Mode string
	Host string
	Port int
	User string
	// Password is never written to disk; it comes from the environment or a prompt.
	Password string
	// NoProxy is a comma-separated bypass list (hosts, domains, CIDRs).
	NoProxy string
	Warmup  bool
}

// Validation errors
var (
	ErrMissingToken           = errors.New("ONC token is required (set ONC_TOKEN, pass --token, or run 'hydrodl config init')")
	ErrMissingBaseURL         = errors.New("base_url is required")
	ErrInvalidFallbackRetries = errors.New("fallback_retries must be between 0 and 100")
	ErrInvalidWorkers         = errors.New("workers must be between 1 and 64")
	ErrInvalidProxyMode       = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrInvalidTimeout         = errors.New("timeouts must be positive")
)

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() (string, error) {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("USERPROFILE")
		if base == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = home
	}
	return filepath.Join(base, ".config", "hydrodl", "config.ini"), nil
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		BaseURL:           constants.DefaultBaseURL,
		Timeout:           constants.APITimeout,
		DownloadTimeout:   constants.SlowProductTimeout,
		RequestsPerSecond: constants.ONCRequestsPerSecond,
		OutputDir:         "onc_data",
		FallbackRetries:   constants.FallbackRetries,
		FallbackWait:      constants.FallbackWait,
		Workers:           constants.DiscoveryWorkers,
		Proxy: ProxyConfig{
			Mode: "no-proxy",
			Port: 8080,
		},
	}
}

// LoadConfig loads configuration from an INI file.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	onc := iniFile.Section("onc")
	cfg.BaseURL = onc.Key("base_url").MustString(cfg.BaseURL)
	cfg.Token = strings.TrimSpace(onc.Key("token").String())
	cfg.Timeout = time.Duration(onc.Key("timeout_seconds").MustInt(int(cfg.Timeout/time.Second))) * time.Second
	cfg.DownloadTimeout = time.Duration(onc.Key("download_timeout_seconds").MustInt(int(cfg.DownloadTimeout/time.Second))) * time.Second
	cfg.RequestsPerSecond = onc.Key("requests_per_second").MustFloat64(cfg.RequestsPerSecond)

	dl := iniFile.Section("download")
	cfg.OutputDir = dl.Key("output_dir").MustString(cfg.OutputDir)
	cfg.Overwrite = dl.Key("overwrite").MustBool(false)
	cfg.IncludeMetadata = dl.Key("include_metadata").MustBool(false)
	cfg.FallbackRetries = dl.Key("fallback_retries").MustInt(cfg.FallbackRetries)
	cfg.FallbackWait = time.Duration(dl.Key("fallback_wait_seconds").MustFloat64(cfg.FallbackWait.Seconds()) * float64(time.Second))
	cfg.Workers = dl.Key("workers").MustInt(cfg.Workers)

	px := iniFile.Section("proxy")
	cfg.Proxy.Mode = px.Key("mode").MustString(cfg.Proxy.Mode)
	cfg.Proxy.Host = px.Key("host").String()
	cfg.Proxy.Port = px.Key("port").MustInt(cfg.Proxy.Port)
	cfg.Proxy.User = px.Key("user").String()
	cfg.Proxy.NoProxy = px.Key("no_proxy").String()
	cfg.Proxy.Warmup = px.Key("warmup").MustBool(false)

	return cfg, nil
}

// SaveConfig saves configuration to an INI file.
// Creates parent directories if they don't exist. The token is stored in the
// file, so the file is written with user-only permissions.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	onc, err := iniFile.NewSection("onc")
	if err != nil {
		return fmt.Errorf("failed to create onc section: %w", err)
	}
	onc.Key("base_url").SetValue(cfg.BaseURL)
	onc.Key("token").SetValue(cfg.Token)
	onc.Key("timeout_seconds").SetValue(fmt.Sprintf("%d", int(cfg.Timeout/time.Second)))
	onc.Key("download_timeout_seconds").SetValue(fmt.Sprintf("%d", int(cfg.DownloadTimeout/time.Second)))
	onc.Key("requests_per_second").SetValue(fmt.Sprintf("%g", cfg.RequestsPerSecond))

	dl, err := iniFile.NewSection("download")
	if err != nil {
		return fmt.Errorf("failed to create download section: %w", err)
	}
	dl.Key("output_dir").SetValue(cfg.OutputDir)
	dl.Key("overwrite").SetValue(fmt.Sprintf("%t", cfg.Overwrite))
	dl.Key("include_metadata").SetValue(fmt.Sprintf("%t", cfg.IncludeMetadata))
	dl.Key("fallback_retries").SetValue(fmt.Sprintf("%d", cfg.FallbackRetries))
	dl.Key("fallback_wait_seconds").SetValue(fmt.Sprintf("%g", cfg.FallbackWait.Seconds()))
	dl.Key("workers").SetValue(fmt.Sprintf("%d", cfg.Workers))

	px, err := iniFile.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	px.Key("mode").SetValue(cfg.Proxy.Mode)
	px.Key("host").SetValue(cfg.Proxy.Host)
	px.Key("port").SetValue(fmt.Sprintf("%d", cfg.Proxy.Port))
	px.Key("user").SetValue(cfg.Proxy.User)
	px.Key("no_proxy").SetValue(cfg.Proxy.NoProxy)
	px.Key("warmup").SetValue(fmt.Sprintf("%t", cfg.Proxy.Warmup))

	// temp file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks everything except the token.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	if cfg.Timeout <= 0 || cfg.DownloadTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if cfg.FallbackRetries < 0 || cfg.FallbackRetries > 100 {
		return ErrInvalidFallbackRetries
	}
	if cfg.Workers < 1 || cfg.Workers > 64 {
		return ErrInvalidWorkers
	}
	switch strings.ToLower(cfg.Proxy.Mode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// ValidateForConnection additionally requires a token.
func (cfg *Config) ValidateForConnection() error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// MaskedToken returns the token with all but the last four characters hidden.
func (cfg *Config) MaskedToken() string {
	t := cfg.Token
	if len(t) <= 4 {
		return strings.Repeat("*", len(t))
	}
	return strings.Repeat("*", len(t)-4) + t[len(t)-4:]
}
