package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/arxivrefs/internal/extractor"
)

var extractOneOpts struct {
	outputDir string
	maxPages  int
}

// extractOneCmd is the child side of process isolation: one document per
// process, the summary as the last line of stdout, logs on stderr.
var extractOneCmd = &cobra.Command{
	Use:         "extract-one PDF",
	Short:       "Extract the references of a single PDF",
	Hidden:      true,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipState: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger().With("document", extractor.DocumentID(args[0]))
		summary, err := extractor.Run(cmd.Context(), extractor.PDF{MaxPages: extractOneOpts.maxPages}, args[0], extractOneOpts.outputDir)
		if err != nil {
			return err
		}
		logger.Debug("Record written", "path", summary.OutputPath, "references", summary.References)
		line, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(line))
		return err
	},
}

func init() {
	extractOneCmd.Flags().StringVar(&extractOneOpts.outputDir, "output-dir", ".", "Directory the record is written to")
	extractOneCmd.Flags().IntVar(&extractOneOpts.maxPages, "max-pages", 0, "Read at most this many pages (0 = all)")
}
