package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/brensch/arxivrefs/internal/app"
	"github.com/brensch/arxivrefs/internal/config"
	"github.com/brensch/arxivrefs/internal/db"
	"github.com/brensch/arxivrefs/internal/downloader"
	"github.com/brensch/arxivrefs/internal/extractor"
	"github.com/brensch/arxivrefs/internal/orchestrator"
	"github.com/brensch/arxivrefs/internal/processor"
	"github.com/brensch/arxivrefs/internal/util"
)

const (
	isolationProcess = "process"
	isolationNone    = "none"
)

var extractOpts struct {
	window             util.Window
	redownloadManifest bool
	skipFile           string
	force              bool
	isolation          string
	tui                bool
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract references from every archive in a month range",
	Long: `Processes the months [from, until) in order. For each month the archives
stamped with that month in the manifest are downloaded, verified and
unpacked, and the reference list of every PDF is written to
<output-base-dir>/<YYYY-MM>/refs/<id>-refs.json.gz.

Archives listed in --already-downloaded-tars, or already fully extracted
according to the state log (unless --force), are skipped. A document that
exceeds --extract-timeout is killed and reported; the run carries on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		conn := getDB()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		window := extractOpts.window
		if err := window.Validate(); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		entries, err := loadManifest(ctx, st, cfg, cfg.ManifestCachePath(), extractOpts.redownloadManifest, logger)
		if err != nil {
			return err
		}

		skip, err := buildSkipSet(ctx, cfg, extractOpts.skipFile, extractOpts.force, logger)
		if err != nil {
			return err
		}

		executor, err := newExecutor(cfg, extractOpts.isolation, logger)
		if err != nil {
			return err
		}

		runID := uuid.NewString()
		oc := orchestrator.Config{
			App: cfg,
			Fetcher: downloader.New(st, downloader.Options{
				Attempts:  cfg.Retries,
				BaseDelay: cfg.RetryBaseDelay,
				MaxDelay:  cfg.RetryMaxDelay,
				Rate:      cfg.DownloadRate,
			}, logger),
			Executor: executor,
			DB:       conn,
			RunID:    runID,
			Logger:   logger.With(slog.String("run_id", runID)),
		}

		var report orchestrator.RunReport
		work := func(ctx context.Context, obs orchestrator.Observer) error {
			oc.Observer = obs
			var err error
			report, err = orchestrator.New(oc).Run(ctx, entries, window, skip)
			return err
		}

		if extractOpts.tui {
			err = app.Run(ctx, "arxivrefs extract", work)
		} else {
			err = work(ctx, orchestrator.NopObserver{})
		}
		printRunReport(cmd, report)
		return err
	},
}

// buildSkipSet merges the ids listed in skipFile with the archives the
// state log already records as fully extracted.
func buildSkipSet(ctx context.Context, cfg config.Config, skipFile string, force bool, logger *slog.Logger) (map[string]struct{}, error) {
	skip := make(map[string]struct{})
	if skipFile != "" {
		f, err := os.Open(skipFile)
		if err != nil {
			return nil, fmt.Errorf("open skip list: %w", err)
		}
		ids, err := util.ReadIdentifiers(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("skip list %s: %w", skipFile, err)
		}
		for id := range ids {
			skip[id] = struct{}{}
		}
		logger.Info("Loaded skip list", "path", skipFile, "archives", len(ids))
	}
	if force || getDB() == nil {
		return skip, nil
	}
	completed, err := db.CompletedArchives(ctx, getDB())
	if err != nil {
		return nil, err
	}
	for id := range completed {
		skip[id] = struct{}{}
	}
	logger.Info("Archives already extracted according to state log", "archives", len(completed))
	return skip, nil
}

func newExecutor(cfg config.Config, isolation string, logger *slog.Logger) (processor.Executor, error) {
	switch isolation {
	case isolationProcess:
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate own executable for child extraction: %w", err)
		}
		args := []string{"extract-one", "--log-level", cfg.LogLevel, "--log-format", cfg.LogFormat}
		return processor.NewExecExecutor(self, args, logger), nil
	case isolationNone:
		logger.Warn("Extracting in-process; timed-out documents keep running until the run ends")
		return processor.InProcessExecutor{Extractor: extractor.PDF{}}, nil
	}
	return nil, fmt.Errorf("unknown isolation %q (use %q or %q)", isolation, isolationProcess, isolationNone)
}

func printRunReport(cmd *cobra.Command, r orchestrator.RunReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "--- Run %s ---\n", r.RunID)
	for _, m := range r.Months {
		ok, timeouts, failures, docs := 0, 0, 0, 0
		for _, a := range m.Archives {
			ok += a.OK
			timeouts += a.Timeouts
			failures += a.Failures
			docs += a.Documents
		}
		fmt.Fprintf(w, "%s: %d archives (%d skipped), %d documents: %d ok, %d timeout, %d failed\n",
			m.Month, len(m.Archives), m.Skipped, docs, ok, timeouts, failures)
	}
	fmt.Fprintf(w, "Archives: %d extracted, %d fetch failed, %d unpack failed, %d skipped\n",
		r.Extracted, r.FetchFailed, r.UnpackFailed, r.Skipped)
	fmt.Fprintf(w, "Documents: %d total, %d ok, %d timeout, %d failed\n", r.Documents, r.OK, r.Timeouts, r.Failures)
}

func init() {
	f := extractCmd.Flags()
	f.IntVar(&extractOpts.window.FromYear, "from-year", 0, "First year of the range")
	f.IntVar(&extractOpts.window.FromMonth, "from-month", 0, "First month of the range (1-12)")
	f.IntVar(&extractOpts.window.UntilYear, "until-year", 0, "Year the range stops before")
	f.IntVar(&extractOpts.window.UntilMonth, "until-month", 0, "Month the range stops before (1-12, exclusive)")
	f.BoolVar(&extractOpts.redownloadManifest, "redownload-manifest", false, "Fetch the manifest even when a cached copy exists")
	f.StringVar(&extractOpts.skipFile, "already-downloaded-tars", "", "File listing archives to skip, one per line")
	f.BoolVar(&extractOpts.force, "force", false, "Process archives the state log already records as extracted")
	f.StringVar(&extractOpts.isolation, "isolation", isolationProcess, "Where documents are extracted: process (child per document) or none")
	f.BoolVar(&extractOpts.tui, "tui", false, "Show a live progress view")
	for _, name := range []string{"from-year", "from-month", "until-year", "until-month"} {
		extractCmd.MarkFlagRequired(name)
	}
}
