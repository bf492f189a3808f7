package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/brensch/arxivrefs/internal/downloader"
	"github.com/brensch/arxivrefs/internal/manifest"
)

var downloadOpts struct {
	manifestFile       string
	redownloadManifest bool
	year               int
	month              int
	dest               string
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and verify the archives of one month or year without extracting them",
	Long: `Selects the manifest entries stamped with --year/--month (the whole year when
--month is omitted) and downloads each archive tarball into --dest, verifying its md5 checksum. Failed archives are
logged and recorded in the state log; the remaining ones are still fetched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		if downloadOpts.month < 0 || downloadOpts.month > 12 {
			return fmt.Errorf("--month must be between 1 and 12, got %d", downloadOpts.month)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		cachePath := downloadOpts.manifestFile
		if cachePath == "" {
			cachePath = cfg.ManifestCachePath()
		}
		entries, err := loadManifest(ctx, st, cfg, cachePath, downloadOpts.redownloadManifest, logger)
		if err != nil {
			return err
		}

		selected := manifest.SelectYearMonth(entries, downloadOpts.year, downloadOpts.month)
		logger.Info("Selected archives", "year", downloadOpts.year, "month", downloadOpts.month, "archives", len(selected))
		if len(selected) == 0 {
			return nil
		}

		dest := downloadOpts.dest
		if dest == "" {
			dest = filepath.Join(cfg.OutputBaseDir, "tars")
		}
		f := downloader.New(st, downloader.Options{
			Attempts:  cfg.Retries,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
			Rate:      cfg.DownloadRate,
		}, logger)
		if err := downloader.DownloadArchives(ctx, f, selected, dest, getDB(), uuid.NewString(), logger); err != nil {
			// Per-archive failures are recorded; only cancellation fails the command.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Some archives failed to download", "error", err)
		}
		return nil
	},
}

func init() {
	f := downloadCmd.Flags()
	f.StringVar(&downloadOpts.manifestFile, "manifest-filename", "", "Local manifest cache (default <output-base-dir>/manifest.xml)")
	f.BoolVar(&downloadOpts.redownloadManifest, "redownload-manifest", false, "Fetch the manifest even when a cached copy exists")
	f.IntVar(&downloadOpts.year, "year", 0, "Year of the archives to download")
	f.IntVar(&downloadOpts.month, "month", 0, "Month of the archives to download (1-12, default the whole year)")
	f.StringVar(&downloadOpts.dest, "dest", "", "Directory the tarballs are written to (default <output-base-dir>/tars)")
	downloadCmd.MarkFlagRequired("year")
}
