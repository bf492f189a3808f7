package cmd

import (
	"github.com/spf13/cobra"

	"github.com/brensch/arxivrefs/internal/db"
)

var stateLimit int
var stateFilterEvent string

var stateCmd = &cobra.Command{
	Use:   "state [archive]",
	Short: "View the event log history of archives",
	Long: `Queries the state database and displays the event log, newest first.
Pass an archive id (e.g. pdf/arXiv_pdf_2003_001.tar) to show only its history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		archive := ""
		if len(args) > 0 {
			archive = args[0]
		}
		logger.Debug("Querying database event log", "archive", archive, "event", stateFilterEvent, "limit", stateLimit)
		if err := db.DisplayHistory(cmd.Context(), getDB(), cmd.OutOrStdout(), archive, stateFilterEvent, stateLimit); err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g. extract_end, extract_partial, error)")
}
