package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage hydrodl configuration",
		Long: `Configuration management commands for hydrodl.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test API connection
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for hydrodl.

The configuration is saved to ~/.config/hydrodl/config.ini with
user-only permissions. The token is read without echo.

Use --force to overwrite existing configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			path, err := configPath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				cfg = config.NewConfig()
			}

			fmt.Println("hydrodl Configuration Setup")
			fmt.Println("===========================")
			fmt.Println()

			reader := bufio.NewReader(os.Stdin)

			var tok string
			for tok == "" {
				tok, err = readSecret("ONC token (required, input hidden): ")
				if err != nil {
					return err
				}
				if tok == "" {
					fmt.Println("  Error: a token is required (get one from your ONC profile page)")
				}
			}
			cfg.Token = tok

			cfg.BaseURL = promptLine(reader, "API base URL", cfg.BaseURL)
			cfg.OutputDir = promptLine(reader, "Output directory", cfg.OutputDir)
			cfg.Overwrite = promptYesNo(reader, "Overwrite existing files by default?")

			fmt.Println()
			if promptYesNo(reader, "Configure proxy?") {
				fmt.Println("Proxy modes: no-proxy, system, basic, ntlm")
				cfg.Proxy.Mode = promptLine(reader, "Proxy mode", "system")
				if cfg.Proxy.Mode != "no-proxy" && cfg.Proxy.Mode != "system" {
					cfg.Proxy.Host = promptLine(reader, "Proxy host", cfg.Proxy.Host)
					if port, err := strconv.Atoi(promptLine(reader, "Proxy port", strconv.Itoa(cfg.Proxy.Port))); err == nil && port > 0 {
						cfg.Proxy.Port = port
					}
					cfg.Proxy.User = promptLine(reader, "Proxy user", cfg.Proxy.User)
					cfg.Proxy.NoProxy = promptLine(reader, "No-proxy list", cfg.Proxy.NoProxy)
				}
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			logger.Info().Str("path", path).Msg("Configuration saved")

			fmt.Println()
			fmt.Printf("✓ Configuration saved to: %s\n", path)
			if cfg.Proxy.User != "" {
				fmt.Printf("  The proxy password is never stored; set %s or enter it when asked.\n", config.ProxyPasswordEnvVar)
			}
			fmt.Println("Test your configuration with: hydrodl config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

Priority: flags > environment (ONC_TOKEN, .env) > config file > defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, _ := configPath()
			printConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "ONC:")
	fmt.Fprintf(w, "  Base URL:         %s\n", cfg.BaseURL)
	if cfg.Token != "" {
		fmt.Fprintf(w, "  Token:            %s\n", cfg.MaskedToken())
	} else {
		fmt.Fprintln(w, "  Token:            <not set>")
	}
	fmt.Fprintf(w, "  API timeout:      %s\n", cfg.Timeout)
	fmt.Fprintf(w, "  Download timeout: %s\n", cfg.DownloadTimeout)
	fmt.Fprintf(w, "  Requests/second:  %g\n", cfg.RequestsPerSecond)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Download:")
	fmt.Fprintf(w, "  Output dir:       %s\n", cfg.OutputDir)
	fmt.Fprintf(w, "  Overwrite:        %t\n", cfg.Overwrite)
	fmt.Fprintf(w, "  Include metadata: %t\n", cfg.IncludeMetadata)
	fmt.Fprintf(w, "  Fallback:         %d polls, %s apart\n", cfg.FallbackRetries, cfg.FallbackWait)
	fmt.Fprintf(w, "  Workers:          %d\n", cfg.Workers)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(w, "  Host: %s:%d\n", cfg.Proxy.Host, cfg.Proxy.Port)
	}
	if cfg.Proxy.User != "" {
		fmt.Fprintf(w, "  User: %s\n", cfg.Proxy.User)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test API connection",
		Long: `Test the API connection with current configuration.

Lists the hydrophone catalog to verify the token and network path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}
			fmt.Printf("API URL: %s\n", cfg.BaseURL)
			fmt.Println("Testing connection...")

			ctx, cancel := context.WithTimeout(GetContext(), 30*time.Second)
			defer cancel()

			devices, err := client.ListDevices(ctx, constants.HydrophoneCategory)
			if err != nil {
				logger.Error().Err(err).Msg("Connection test failed")
				fmt.Println("✗ Connection FAILED")
				return fmt.Errorf("connection test failed: %w", err)
			}

			fmt.Println("✓ Connection SUCCESSFUL")
			fmt.Printf("  %d hydrophones visible with this token\n", len(devices))
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
