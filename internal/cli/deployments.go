package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanhydro/hydrodl/internal/deployment"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/util/humansize"
)

func newDeploymentsCmd() *cobra.Command {
	var (
		start, end   string
		parallel     bool
		checkArchive bool
		archiveExt   string
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "List hydrophone deployments overlapping a time window",
		Long: `List every hydrophone deployment that overlaps the window, grouped by
parent location. Ongoing deployments are treated as ending now.

Examples:
  hydrodl deployments --start 2023-06-01 --end 2023-06-02
  hydrodl deployments --start 2023-06-01 --end 2023-06-02 --parallel --check-archive --ext flac`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWindow(start, end)
			if err != nil {
				return err
			}
			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Workers
			}

			ctx := GetContext()
			d := deployment.NewDiscoverer(client, GetLogger(), deployment.WithWorkers(workers))
			res, err := d.FindOverlapping(ctx, w, parallel)
			if errors.Is(err, deployment.ErrNoData) {
				fmt.Fprintf(cmd.OutOrStdout(), "No hydrophone deployments overlap %s\n", w)
				return nil
			}
			if err != nil {
				return err
			}
			var avail map[string]deployment.ArchiveAvailability
			if checkArchive {
				avail = make(map[string]deployment.ArchiveAvailability)
				for _, a := range d.CheckArchiveAvailability(ctx, client, res.Matched, w, normalizeExt(archiveExt)) {
					avail[deploymentID(a.Deployment)] = a
				}
			}

			writeDeployments(cmd.OutOrStdout(), res.Matched, avail)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start (ISO-8601, UTC if no offset)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (ISO-8601, UTC if no offset)")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Fetch deployments with a bounded worker pool")
	cmd.Flags().BoolVar(&checkArchive, "check-archive", false, "Also count archived files for each deployment")
	cmd.Flags().StringVar(&archiveExt, "ext", "", "Extension for --check-archive (default: all types)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker count for --parallel and --check-archive (default from config)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func normalizeExt(ext string) string {
	if exts := normalizeExtensions([]string{ext}); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func deploymentID(d models.Deployment) string {
	return d.DeviceCode + "@" + d.LocationCode + "@" + d.Begin.Format(time.RFC3339)
}

func formatDeploymentEnd(d models.Deployment) string {
	if d.End == nil {
		return "ongoing"
	}
	return d.End.Format("2006-01-02 15:04")
}

// writeDeployments prints deployments grouped by parent location. avail
// adds an archive column when non-nil.
func writeDeployments(out io.Writer, deps []models.Deployment, avail map[string]deployment.ArchiveAvailability) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, g := range deployment.GroupByParentLocation(deps) {
		fmt.Fprintf(tw, "%s\n", g.ParentLocation)
		for _, d := range g.Deployments {
			line := fmt.Sprintf("  %s\t%s\t%s\t%s\t%s",
				d.DeviceCode, d.LocationCode, d.Begin.Format("2006-01-02 15:04"), formatDeploymentEnd(d), d.CitationName())
			if avail != nil {
				a := avail[deploymentID(d)]
				switch {
				case a.Err != nil:
					line += "\tarchive: error"
				case a.HasFiles():
					line += fmt.Sprintf("\tarchive: %d files, %s", a.FileCount, humansize.Format(a.TotalBytes))
				default:
					line += "\tarchive: none"
				}
			}
			fmt.Fprintln(tw, line)
		}
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\n%d deployments\n", len(deps))
}
