// Package orchestrator drives a batch run: month by month over a window,
// archives of a month in parallel, documents of an archive on an isolated
// extraction pool.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/brensch/arxivrefs/internal/config"
	"github.com/brensch/arxivrefs/internal/db"
	"github.com/brensch/arxivrefs/internal/downloader"
	"github.com/brensch/arxivrefs/internal/manifest"
	"github.com/brensch/arxivrefs/internal/processor"
	"github.com/brensch/arxivrefs/internal/util"
)

// ErrArchiveUnpack marks an archive whose tarball could not be unpacked.
var ErrArchiveUnpack = errors.New("archive unpack failed")

// ArchiveStatus is the terminal state of one archive.
type ArchiveStatus string

const (
	StatusExtracted    ArchiveStatus = "extracted"
	StatusFetchFailed  ArchiveStatus = "fetch_failed"
	StatusUnpackFailed ArchiveStatus = "unpack_failed"
)

// ArchiveReport summarises one archive.
type ArchiveReport struct {
	Archive   string
	Month     util.YearMonth
	Status    ArchiveStatus
	Documents int
	OK        int
	Timeouts  int
	Failures  int
	Outcomes  []processor.Outcome
	Duration  time.Duration
	Err       error
}

// Complete reports whether every document of the archive produced a record.
func (r ArchiveReport) Complete() bool {
	return r.Status == StatusExtracted && r.Timeouts == 0 && r.Failures == 0
}

// MonthReport summarises one month of the window.
type MonthReport struct {
	Month    util.YearMonth
	Archives []ArchiveReport
	Skipped  int
	// Err joins the archive errors of the month, for logging only.
	Err error
}

// RunReport aggregates a whole run.
type RunReport struct {
	RunID        string
	Months       []MonthReport
	Archives     int
	Extracted    int
	FetchFailed  int
	UnpackFailed int
	Skipped      int
	Documents    int
	OK           int
	Timeouts     int
	Failures     int
}

func (r *RunReport) add(m MonthReport) {
	r.Months = append(r.Months, m)
	r.Skipped += m.Skipped
	for _, a := range m.Archives {
		r.Archives++
		switch a.Status {
		case StatusExtracted:
			r.Extracted++
		case StatusFetchFailed:
			r.FetchFailed++
		case StatusUnpackFailed:
			r.UnpackFailed++
		}
		r.Documents += a.Documents
		r.OK += a.OK
		r.Timeouts += a.Timeouts
		r.Failures += a.Failures
	}
}

// Observer receives progress notifications. Methods are called from many
// goroutines.
type Observer interface {
	MonthStarted(ym util.YearMonth, archives int)
	ArchiveStarted(archive string)
	ArchiveFinished(rep ArchiveReport)
	DocumentFinished(archive string, outcome processor.Outcome)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) MonthStarted(util.YearMonth, int)           {}
func (NopObserver) ArchiveStarted(string)                      {}
func (NopObserver) ArchiveFinished(ArchiveReport)              {}
func (NopObserver) DocumentFinished(string, processor.Outcome) {}

// Config wires an Orchestrator.
type Config struct {
	App      config.Config
	Fetcher  *downloader.Fetcher
	Executor processor.Executor
	// DB receives state events when non-nil.
	DB     *sql.DB
	RunID  string
	Logger *slog.Logger
	// Observer defaults to NopObserver.
	Observer Observer
	// TempDir is the parent of per-archive workspaces; empty uses os.TempDir.
	TempDir string
}

// Orchestrator runs batches. It holds no state between runs besides its
// configuration.
type Orchestrator struct {
	cfg Config
}

// New returns an Orchestrator for cfg.
func New(cfg Config) *Orchestrator {
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	// errgroup.SetLimit(0) would block every archive forever.
	if cfg.App.DownloadWorkers < 1 {
		cfg.App.DownloadWorkers = config.DefaultDownloadWorkers
	}
	if cfg.App.ExtractWorkers < 1 {
		cfg.App.ExtractWorkers = config.DefaultExtractWorkers
	}
	return &Orchestrator{cfg: cfg}
}

// Run processes every month of window in order. Archive and document
// failures are recorded in the report; the returned error is non-nil only
// when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, entries []manifest.Entry, window util.Window, skip map[string]struct{}) (RunReport, error) {
	report := RunReport{RunID: o.cfg.RunID}
	start := time.Now()
	o.cfg.Logger.Info("Starting run.",
		slog.String("run_id", o.cfg.RunID),
		slog.Int("months", window.Len()),
		slog.Int("manifest_entries", len(entries)),
		slog.Int("skip", len(skip)))

	for ym := range window.Months() {
		if err := ctx.Err(); err != nil {
			o.cfg.Logger.Warn("Run cancelled.", "month", ym.String(), "error", err)
			return report, err
		}
		month := o.ExtractMonth(ctx, entries, ym, skip)
		report.add(month)
		if err := ctx.Err(); err != nil {
			o.cfg.Logger.Warn("Run cancelled.", "month", ym.String(), "error", err)
			return report, err
		}
	}

	o.cfg.Logger.Info("Run finished.",
		slog.Int("archives", report.Archives),
		slog.Int("extracted", report.Extracted),
		slog.Int("fetch_failed", report.FetchFailed),
		slog.Int("unpack_failed", report.UnpackFailed),
		slog.Int("skipped", report.Skipped),
		slog.Int("documents", report.Documents),
		slog.Int("ok", report.OK),
		slog.Int("timeouts", report.Timeouts),
		slog.Int("failures", report.Failures),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return report, nil
}

func (o *Orchestrator) record(ctx context.Context, l *slog.Logger, ev db.Event) {
	if o.cfg.DB == nil {
		return
	}
	ev.RunID = o.cfg.RunID
	if err := db.LogEvent(context.WithoutCancel(ctx), o.cfg.DB, ev); err != nil {
		l.Warn("Failed to record state event", "event", ev.Event, "error", err)
	}
}
