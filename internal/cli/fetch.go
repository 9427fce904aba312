package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/core"
	"github.com/oceanhydro/hydrodl/internal/deployment"
	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/logging"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/products"
	"github.com/oceanhydro/hydrodl/internal/progress"
	"github.com/oceanhydro/hydrodl/internal/report"
	"github.com/oceanhydro/hydrodl/internal/util/humansize"
)

func newFetchCmd() *cobra.Command {
	var (
		devices         []string
		product         string
		exts            []string
		start, end      string
		outDir          string
		presetsFile     string
		reportPath      string
		listOnly        bool
		overwrite       bool
		includeMetadata bool
		parallel        bool
		noProgress      bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Request data products and download the results",
		Long: `Build one data-product request per device and extension, submit them,
wait for each run and download its files. When the bulk download is
inconclusive the files are fetched one by one.

Without --device every hydrophone deployed during the window is used.

Examples:
  hydrodl fetch --device ICLISTENHF1251 --product HSD --ext png,mat --start 2023-06-01 --end 2023-06-02
  hydrodl fetch --device ICLISTENHF1251 --product AD --ext flac --start 2023-06-01T00:00 --end 2023-06-01T01:00 --list-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWindow(start, end)
			if err != nil {
				return err
			}
			exts = normalizeExtensions(exts)
			if len(exts) == 0 {
				return fmt.Errorf("at least one --ext is required")
			}
			presets, err := loadPresets(presetsFile)
			if err != nil {
				return err
			}

			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}
			log := GetLogger()
			ctx := GetContext()

			d := deployment.NewDiscoverer(client, log, deployment.WithWorkers(cfg.Workers))
			deps, err := selectDeployments(ctx, d, devices, w, parallel)
			if err != nil {
				return err
			}

			reqs, warnings := products.NewBuilder(presets, log).BuildAll(uniqueDevices(deps), product, exts, w)
			logWarnings(log, warnings)

			if outDir == "" {
				outDir = cfg.OutputDir
			}
			opts := []config.RunOption{config.WithListOnly(listOnly)}
			if cmd.Flags().Changed("overwrite") {
				opts = append(opts, config.WithOverwrite(overwrite))
			}
			if cmd.Flags().Changed("include-metadata") {
				opts = append(opts, config.WithIncludeMetadata(includeMetadata))
			}
			rc := config.NewRunContext(cfg, opts...)

			bus := events.NewEventBus(0)
			defer bus.Close()
			engine := core.NewEngine(client, rc, log, core.WithEventBus(bus))
			log.Info().Str("run_id", engine.Run().RunID).Int("requests", len(reqs)).Str("window", w.String()).
				Str("out", outDir).Msg("starting fetch")

			agg := report.NewAggregator()
			jobs, outcomes := engine.PrepareJobs(ctx, reqs)
			agg.RecordAll(outcomes)

			out := cmd.OutOrStdout()
			if rc.ListOnly() {
				writeEstimates(out, jobs)
				if agg.Len() > 0 {
					fmt.Fprintln(out)
					_ = agg.WriteSummary(out)
				}
				return nil
			}

			board := startBoard(bus, noProgress)
			_, outcomes = engine.ProcessJobs(ctx, jobs, outDir)
			agg.RecordAll(outcomes)
			bus.Close()
			finishBoard(board)
			if n := bus.GetDroppedEventCount(); n > 0 {
				log.Debug().Int64("dropped", n).Msg("progress events dropped")
			}

			fmt.Fprintln(out)
			if err := agg.WriteSummary(out); err != nil {
				return err
			}
			if reportPath != "" {
				if err := writeReport(reportPath, agg); err != nil {
					return err
				}
			}
			if !agg.AllSucceeded() {
				return ErrJobsFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&devices, "device", "d", nil, "Device code(s); default: every hydrophone deployed in the window")
	cmd.Flags().StringVarP(&product, "product", "p", "HSD", "Data product code (e.g. HSD, AD, HSPD, SHV)")
	cmd.Flags().StringSliceVarP(&exts, "ext", "e", []string{"png"}, "Extension(s): "+strings.Join(products.SupportedExtensions, ", "))
	cmd.Flags().StringVar(&start, "start", "", "Window start (ISO-8601, UTC if no offset)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (ISO-8601, UTC if no offset)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default from config)")
	cmd.Flags().StringVar(&presetsFile, "presets", "", "YAML file overriding the built-in product presets")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the outcome of every job to this JSON file")
	cmd.Flags().BoolVar(&listOnly, "list-only", false, "Submit requests and print size estimates without running them")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite files that already exist")
	cmd.Flags().BoolVar(&includeMetadata, "include-metadata", false, "Also download the run's metadata file")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Discover deployments with a bounded worker pool")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bars")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

// selectDeployments returns the deployments of the named devices, or of
// every hydrophone when none are named.
func selectDeployments(ctx context.Context, d *deployment.Discoverer, devices []string, w models.TimeWindow, parallel bool) ([]models.Deployment, error) {
	if len(devices) == 0 {
		res, err := d.FindOverlapping(ctx, w, parallel)
		return res.Matched, err
	}

	var deps []models.Deployment
	for _, dev := range devices {
		dev = strings.ToUpper(strings.TrimSpace(dev))
		res, err := d.ForDevice(ctx, dev, w)
		if errors.Is(err, deployment.ErrNoData) {
			GetLogger().Warn().Str("device", dev).Str("window", w.String()).Msg("device has no deployment in the window")
			continue
		}
		if err != nil {
			return nil, err
		}
		deps = append(deps, res.Matched...)
	}
	if len(deps) == 0 {
		return nil, deployment.ErrNoData
	}
	return deps, nil
}

// uniqueDevices keeps the first deployment of each device. Requests are
// per device, so a device that moved during the window is requested once.
func uniqueDevices(deps []models.Deployment) []models.Deployment {
	seen := make(map[string]bool)
	var out []models.Deployment
	for _, d := range deps {
		if seen[d.DeviceCode] {
			continue
		}
		seen[d.DeviceCode] = true
		out = append(out, d)
	}
	return out
}

func writeEstimates(out io.Writer, jobs []*models.Job) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tPRODUCT\tESTIMATE")
	var total int64
	for _, j := range jobs {
		est := "unknown"
		if j.EstimatedBytes > 0 {
			est = humansize.Format(j.EstimatedBytes)
			total += j.EstimatedBytes
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			report.JobKey(j.RequestID, j.Request.DeviceCode, j.Request.Extension), j.Request.ProductCode, est)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\n%d requests prepared, estimated total %s\n", len(jobs), humansize.Format(total))
}

// startBoard attaches a job board to bus. On a terminal, log lines are
// routed through the board so they do not tear the bars.
func startBoard(bus *events.EventBus, disabled bool) *progress.Board {
	if disabled {
		return nil
	}
	board := progress.NewBoard(os.Stderr)
	board.Follow(bus.SubscribeAll())
	if board.IsTerminal() {
		GetLogger().SetOutput(board.Writer())
	}
	return board
}

func finishBoard(board *progress.Board) {
	if board == nil {
		return
	}
	board.Wait()
	if board.IsTerminal() {
		GetLogger().SetOutput(os.Stdout)
	}
}

func writeReport(path string, agg *report.Aggregator) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := agg.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// logWarnings logs each distinct request-building warning once.
func logWarnings(log *logging.Logger, warnings []string) {
	seen := make(map[string]bool, len(warnings))
	for _, msg := range warnings {
		if !seen[msg] {
			seen[msg] = true
			log.Warn().Msg(msg)
		}
	}
}
