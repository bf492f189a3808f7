package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/arxivrefs/internal/db"
	"github.com/brensch/arxivrefs/internal/manifest"
	"github.com/brensch/arxivrefs/internal/util"
)

// ExtractMonth processes the archives stamped with ym that are not in skip,
// at most DownloadWorkers at a time, and returns once all of them are done.
func (o *Orchestrator) ExtractMonth(ctx context.Context, entries []manifest.Entry, ym util.YearMonth, skip map[string]struct{}) MonthReport {
	start := time.Now()
	l := o.cfg.Logger.With(slog.String("month", ym.String()))
	report := MonthReport{Month: ym}

	selected := manifest.SelectMonth(entries, ym, skip)
	for _, e := range manifest.SelectMonth(entries, ym, nil) {
		if _, ok := skip[e.ID()]; ok {
			report.Skipped++
			o.record(ctx, l, db.Event{Archive: e.ID(), Event: db.EventSkip, Month: ym.String(), Message: "already downloaded"})
		}
	}
	l.Info("Processing month.", slog.Int("archives", len(selected)), slog.Int("skipped", report.Skipped))
	o.cfg.Observer.MonthStarted(ym, len(selected))

	// Every month in the window gets its refs dir, even an empty one.
	if err := os.MkdirAll(o.cfg.App.RefsDir(ym), 0o755); err != nil {
		report.Err = fmt.Errorf("create refs dir for %s: %w", ym, err)
		l.Error("Cannot create output directory, skipping month.", "error", err)
		return report
	}
	if len(selected) == 0 {
		return report
	}

	archives := make([]ArchiveReport, len(selected))
	launched := 0
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.App.DownloadWorkers)
	for i, entry := range selected {
		if ctx.Err() != nil {
			break
		}
		launched++
		g.Go(func() error {
			archives[i] = o.ExtractArchive(ctx, ym, entry)
			return nil
		})
	}
	_ = g.Wait()

	report.Archives = archives[:launched]
	var errs []error
	for _, a := range report.Archives {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	report.Err = errors.Join(errs...)

	attrs := []any{
		slog.Int("archives", len(report.Archives)),
		slog.Int("errors", len(errs)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)),
	}
	if report.Err != nil {
		l.Warn("Month finished with errors.", append(attrs, "error", report.Err)...)
	} else {
		l.Info("Month finished.", attrs...)
	}
	return report
}
