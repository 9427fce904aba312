package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/oceanhydro/hydrodl/internal/api"
	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/http"
	"github.com/oceanhydro/hydrodl/internal/models"
)

// loadConfig reads the config file and applies environment and flag
// overrides. The token is resolved but not required here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvironment()
	cfg.Token = config.ResolveToken(token, cfg)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// getAPIClient loads configuration and creates an API client.
// This is the standard way to get an API client in CLI commands.
func getAPIClient() (*api.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateForConnection(); err != nil {
		return nil, nil, err
	}

	if http.NeedsProxyPassword(cfg.Proxy) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, nil, fmt.Errorf("proxy user %s needs a password: set %s", cfg.Proxy.User, config.ProxyPasswordEnvVar)
		}
		pw, err := readSecret(fmt.Sprintf("Proxy password for %s: ", cfg.Proxy.User))
		if err != nil {
			return nil, nil, err
		}
		cfg.Proxy.Password = pw
	}

	client, err := api.NewClient(cfg, GetLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, cfg, nil
}

// parseWindow parses --start/--end into a UTC window.
func parseWindow(start, end string) (models.TimeWindow, error) {
	if start == "" || end == "" {
		return models.TimeWindow{}, fmt.Errorf("--start and --end are required")
	}
	w, err := models.ParseTimeWindow(start, end)
	if err != nil {
		return models.TimeWindow{}, fmt.Errorf("invalid time window: %w", err)
	}
	return w, nil
}

// normalizeExtensions lowercases, strips dots and de-duplicates, keeping order.
func normalizeExtensions(exts []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
