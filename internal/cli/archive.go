package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/core"
	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/progress"
	"github.com/oceanhydro/hydrodl/internal/report"
	"github.com/oceanhydro/hydrodl/internal/util/filter"
	"github.com/oceanhydro/hydrodl/internal/util/humansize"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "List and download archived files",
		Long: `Work with files ONC has already archived for a device, without
requesting a data product. Reduced PNG renditions (-small, -thumb) are
always ignored.`,
	}
	cmd.AddCommand(newArchiveListCmd())
	cmd.AddCommand(newArchiveDownloadCmd())
	return cmd
}

type archiveFlags struct {
	device     string
	start, end string
	include    string
	exclude    string
}

func (f *archiveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.device, "device", "d", "", "Device code (required)")
	cmd.Flags().StringVar(&f.start, "start", "", "Window start (ISO-8601, UTC if no offset)")
	cmd.Flags().StringVar(&f.end, "end", "", "Window end (ISO-8601, UTC if no offset)")
	cmd.Flags().StringVar(&f.include, "include", "", "Only files matching these comma-separated globs (e.g. \"*T00*.flac\")")
	cmd.Flags().StringVar(&f.exclude, "exclude", "", "Skip files matching these comma-separated globs")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

func (f *archiveFlags) filter() (filter.Config, error) {
	fc := filter.Config{
		Include: filter.ParsePatternList(f.include),
		Exclude: filter.ParsePatternList(f.exclude),
	}
	if err := filter.ValidatePatterns(fc.Include); err != nil {
		return fc, err
	}
	if err := filter.ValidatePatterns(fc.Exclude); err != nil {
		return fc, err
	}
	return fc, nil
}

func newArchiveListCmd() *cobra.Command {
	var (
		af        archiveFlags
		ext       string
		showFiles bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Summarize archived files per extension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWindow(af.start, af.end)
			if err != nil {
				return err
			}
			fc, err := af.filter()
			if err != nil {
				return err
			}
			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}

			engine := core.NewEngine(client, config.NewRunContext(cfg), GetLogger(), core.WithArchiveFilter(fc))
			device := strings.ToUpper(af.device)
			files, err := engine.ListArchive(GetContext(), device, w, normalizeExt(ext))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintf(out, "No archived files for %s in %s\n", device, w)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if showFiles {
				for _, f := range files {
					fmt.Fprintf(tw, "%s\t%s\n", f.Filename, humansize.Format(f.SizeBytes))
				}
				fmt.Fprintln(tw)
			}
			fmt.Fprintln(tw, "EXT\tFILES\tSIZE")
			var total int64
			for _, s := range core.GroupByExtension(files) {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Extension, s.Count, humansize.Format(s.TotalBytes))
				total += s.TotalBytes
			}
			fmt.Fprintf(tw, "total\t%d\t%s\n", len(files), humansize.Format(total))
			return tw.Flush()
		},
	}

	af.register(cmd)
	cmd.Flags().StringVarP(&ext, "ext", "e", "", "Only this extension (default: all)")
	cmd.Flags().BoolVar(&showFiles, "files", false, "Print every file name")
	return cmd
}

func newArchiveDownloadCmd() *cobra.Command {
	var (
		af         archiveFlags
		exts       []string
		outDir     string
		reportPath string
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download archived files that are not already present",
		Long: `Download the archived files of each extension into the output directory.
Files that already exist are never overwritten, so an interrupted
download can simply be run again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWindow(af.start, af.end)
			if err != nil {
				return err
			}
			exts = normalizeExtensions(exts)
			if len(exts) == 0 {
				return fmt.Errorf("at least one --ext is required")
			}
			fc, err := af.filter()
			if err != nil {
				return err
			}
			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.OutputDir
			}

			bus := events.NewEventBus(0)
			defer bus.Close()

			var done <-chan struct{}
			if !noProgress {
				done = progress.TrackFiles(bus.SubscribeAll(), progress.NewReporter(os.Stderr), outDir)
			}

			engine := core.NewEngine(client, config.NewRunContext(cfg), GetLogger(),
				core.WithEventBus(bus), core.WithArchiveFilter(fc))
			_, outcomes := engine.ProcessArchive(GetContext(), strings.ToUpper(af.device), w, exts, outDir)
			bus.Close()
			if done != nil {
				<-done
			}

			agg := report.NewAggregator()
			agg.RecordAll(outcomes)
			out := cmd.OutOrStdout()
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

	af.register(cmd)
	cmd.Flags().StringSliceVarP(&exts, "ext", "e", nil, "Extension(s) to download (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default from config)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the outcome of every extension to this JSON file")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	_ = cmd.MarkFlagRequired("ext")
	return cmd
}
