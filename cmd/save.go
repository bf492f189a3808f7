package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brensch/arxivrefs/internal/saver"
)

var saveOut string

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Export the state event log to a Parquet file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		out := saveOut
		if out == "" {
			out = filepath.Join(cfg.OutputBaseDir, "archive_event_log.parquet")
		}
		n, err := saver.ExportEventLog(cmd.Context(), getDB(), cfg.DBDriver, out, getLogger())
		if err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d events to %s\n", n, out)
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveOut, "out", "", "Output file (default <output-base-dir>/archive_event_log.parquet)")
}
