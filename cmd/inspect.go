package cmd

import (
	"github.com/spf13/cobra"

	"github.com/brensch/arxivrefs/internal/inspector"
)

var inspectFile string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarise run reports by month and outcome",
	Long: `Reads every <output-base-dir>/<YYYY-MM>/reports/*.parquet with DuckDB and prints
document counts and reference totals per month and status. With --file, prints
the rows of a single report instead.`,
	Annotations: map[string]string{skipState: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectFile != "" {
			return inspector.PrintReport(inspectFile, cmd.OutOrStdout())
		}
		return inspector.Summarize(cmd.Context(), getConfig(), cmd.OutOrStdout(), getLogger())
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFile, "file", "", "Print a single report file")
}
