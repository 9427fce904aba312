// Package cli provides the command-line interface for hydrodl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/logging"
	"github.com/oceanhydro/hydrodl/internal/version"
)

var (
	// Global flags
	cfgFile  string
	token    string
	baseURL  string
	logFile  string
	verbose  bool
	envFiles []string

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// ErrJobsFailed is returned by commands when at least one job Failed.
// main turns it into a non-zero exit code without printing it again.
var ErrJobsFailed = errors.New("one or more jobs failed")

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hydrodl",
		Short: "Download hydrophone data from Ocean Networks Canada",
		Long: `hydrodl ` + version.Version + ` - Built: ` + version.BuildTime + `
Finds hydrophone deployments for a time window, requests data products
(spectrograms, audio, metadata) from the ONC data-product service and
downloads the results, falling back to file-by-file retrieval when the
bulk download is incomplete. Archived files can be listed and downloaded
directly as an alternative.

The ONC token is read from --token, the ONC_TOKEN environment variable
(a .env file in the working directory is honoured) or the config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return fmt.Errorf("failed to load environment file: %w", err)
			}
			logger = logging.NewLogger(logging.Options{LogFile: logFile})
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default ~/.config/hydrodl/config.ini)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "ONC API token (overrides ONC_TOKEN and the config file)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "api-url", "", "ONC API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Environment files to load (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// A second signal while cleanup is running is swallowed by the loop.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, cancelling...\n", sig)
				fmt.Fprintf(os.Stderr, "   Remaining jobs will be reported as cancelled.\n\n")
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newDeploymentsCmd())
	rootCmd.AddCommand(newProductsCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newArchiveCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hydrodl %s (built %s)\n", version.Version, version.BuildTime)
		},
	}
}
