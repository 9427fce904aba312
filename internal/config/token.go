package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// TokenEnvVar is the environment variable holding the ONC API token.
const TokenEnvVar = "ONC_TOKEN"

// ProxyPasswordEnvVar supplies the proxy password, which is never persisted.
const ProxyPasswordEnvVar = "HYDRODL_PROXY_PASSWORD"

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ResolveToken returns a token by checking sources in priority order:
//  1. flagToken (e.g. --token)
//  2. ONC_TOKEN environment variable (including values loaded from .env)
//  3. the token stored in the config file
//
// Returns an empty string if no token is found.
func ResolveToken(flagToken string, cfg *Config) string {
	if t := strings.TrimSpace(flagToken); t != "" {
		return t
	}
	if t := strings.TrimSpace(os.Getenv(TokenEnvVar)); t != "" {
		return t
	}
	if cfg != nil {
		return strings.TrimSpace(cfg.Token)
	}
	return ""
}

// ApplyEnvironment fills secrets that only live in the environment.
func (cfg *Config) ApplyEnvironment() {
	if cfg.Proxy.Password == "" {
		cfg.Proxy.Password = os.Getenv(ProxyPasswordEnvVar)
	}
}
