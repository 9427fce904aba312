package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oceanhydro/hydrodl/internal/deployment"
	"github.com/oceanhydro/hydrodl/internal/products"
)

func newProductsCmd() *cobra.Command {
	var (
		device      string
		presetsFile string
	)

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List the data products a device offers",
		Long: `List the data products of a device. The PRESET column shows whether
hydrodl carries request parameters for the product and extension.
Without --device the built-in preset table is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets, err := loadPresets(presetsFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if device == "" {
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "PRESET\tPARAMETERS")
				for _, k := range presets.Keys() {
					params, _ := presets.Lookup(k.ProductCode, k.Extension)
					fmt.Fprintf(tw, "%s\t%s\n", k, formatParams(params))
				}
				return tw.Flush()
			}

			client, _, err := getAPIClient()
			if err != nil {
				return err
			}
			d := deployment.NewDiscoverer(client, GetLogger())
			list, err := d.ListProducts(GetContext(), strings.ToUpper(device))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tEXT\tNAME\tPRESET")
			for _, p := range list {
				_, ok := presets.Lookup(p.ProductCode, p.Extension)
				mark := "-"
				if ok {
					mark = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ProductCode, p.Extension, p.ProductName, mark)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "Device code, e.g. ICLISTENHF1251")
	cmd.Flags().StringVar(&presetsFile, "presets", "", "YAML file overriding the built-in product presets")
	return cmd
}

// loadPresets returns the built-in presets, merged with path when set.
func loadPresets(path string) (*products.Presets, error) {
	if path == "" {
		return products.DefaultPresets(), nil
	}
	return products.LoadOverrides(path)
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}
