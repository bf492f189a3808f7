package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/arxivrefs/internal/db"
	"github.com/brensch/arxivrefs/internal/extractor"
	"github.com/brensch/arxivrefs/internal/manifest"
	"github.com/brensch/arxivrefs/internal/processor"
	"github.com/brensch/arxivrefs/internal/report"
	"github.com/brensch/arxivrefs/internal/util"
)

// ExtractArchive fetches, verifies and unpacks one archive in a private
// temporary workspace, extracts every PDF in it and writes the archive's
// report. The workspace is gone by the time it returns.
func (o *Orchestrator) ExtractArchive(ctx context.Context, ym util.YearMonth, entry manifest.Entry) (rep ArchiveReport) {
	start := time.Now()
	rep = ArchiveReport{Archive: entry.ID(), Month: ym}
	l := o.cfg.Logger.With(slog.String("month", ym.String()), slog.String("archive", entry.ID()))
	month := ym.String()

	o.cfg.Observer.ArchiveStarted(entry.ID())
	defer func() {
		rep.Duration = time.Since(start)
		o.cfg.Observer.ArchiveFinished(rep)
	}()

	workspace, err := os.MkdirTemp(o.cfg.TempDir, "arxivrefs-*")
	if err != nil {
		rep.Status = StatusFetchFailed
		rep.Err = fmt.Errorf("create workspace for %s: %w", entry.ID(), err)
		l.Error("Failed to create workspace.", "error", err)
		o.record(ctx, l, db.Event{Archive: entry.ID(), Event: db.EventError, Month: month, Message: rep.Err.Error()})
		return rep
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			l.Warn("Failed to remove workspace.", "path", workspace, "error", err)
		}
	}()

	// Fetch and verify.
	tarPath := filepath.Join(workspace, "pdfs.tar")
	o.record(ctx, l, db.Event{Archive: entry.ID(), Event: db.EventDownloadStart, Month: month})
	res, err := o.cfg.Fetcher.Fetch(ctx, entry, tarPath)
	if err != nil {
		rep.Status = StatusFetchFailed
		rep.Err = err
		l.Error("Archive fetch failed.", "error", err)
		o.record(ctx, l, db.Event{Archive: entry.ID(), Event: db.EventError, Month: month, Message: err.Error()})
		return rep
	}
	o.record(ctx, l, db.Event{Archive: entry.ID(), Event: db.EventDownloadEnd, Month: month, MD5Sum: res.MD5Sum, Duration: &res.Duration})

	// Unpack and enumerate.
	pdfDir := filepath.Join(workspace, "pdfs")
	documents, err := unpackDocuments(tarPath, pdfDir)
	if err != nil {
		rep.Status = StatusUnpackFailed
		rep.Err = fmt.Errorf("%w: %s: %w", ErrArchiveUnpack, entry.ID(), err)
		l.Error("Archive unpack failed.", "error", err)
		o.record(ctx, l, db.Event{Archive: entry.ID(), Event: db.EventError, Month: month, Message: rep.Err.Error()})
		return rep
	}
	if err := os.Remove(tarPath); err != nil {
		l.Debug("Could not remove tarball after unpack.", "error", err)
	}
	rep.Documents = len(documents)
	l.Info("Archive unpacked.", slog.Int("documents", len(documents)))

	// Extract.
	refsDir := o.cfg.App.RefsDir(ym)
	o.record(ctx, l, db.Event{Archive: entry.ID(), Event: db.EventExtractStart, Month: month, OutputPath: refsDir, Documents: len(documents)})
	tasks := make([]processor.Task, 0, len(documents))
	for _, doc := range documents {
		tasks = append(tasks, processor.Task{DocumentPath: doc, OutputDir: refsDir})
	}
	pool := processor.NewPool(o.cfg.Executor, processor.Config{
		Workers: o.cfg.App.ExtractWorkers,
		Timeout: o.cfg.App.ExtractTimeout,
		Logger:  l,
		OnOutcome: func(outcome processor.Outcome) {
			o.cfg.Observer.DocumentFinished(entry.ID(), outcome)
		},
	})
	rep.Outcomes = pool.Run(ctx, tasks)
	rep.OK, rep.Timeouts, rep.Failures = processor.Counts(rep.Outcomes)
	sweepTempRecords(l, rep.Outcomes)
	rep.Status = StatusExtracted

	reportPath := report.Path(o.cfg.App.ReportsDir(ym), entry.Base())
	if err := report.Write(reportPath, report.Rows(entry.ID(), month, rep.Outcomes)); err != nil {
		l.Warn("Failed to write archive report.", "path", reportPath, "error", err)
		reportPath = ""
	}

	elapsed := time.Since(start)
	ev := db.Event{
		Archive:    entry.ID(),
		Event:      db.EventExtractEnd,
		Month:      month,
		OutputPath: reportPath,
		MD5Sum:     res.MD5Sum,
		Documents:  rep.Documents,
		OK:         rep.OK,
		Timeouts:   rep.Timeouts,
		Failures:   rep.Failures,
		Duration:   &elapsed,
	}
	attrs := []any{
		slog.Int("documents", rep.Documents),
		slog.Int("ok", rep.OK),
		slog.Int("timeouts", rep.Timeouts),
		slog.Int("failures", rep.Failures),
		slog.Duration("duration", elapsed.Round(time.Millisecond)),
	}
	if !rep.Complete() {
		ev.Event = db.EventExtractPartial
		l.Warn("Archive extracted with missing records.", attrs...)
	} else {
		l.Info("Archive extracted.", attrs...)
	}
	o.record(ctx, l, ev)
	return rep
}

// sweepTempRecords removes partial record files left by children that were
// killed mid-write. Only this archive's documents are touched, since other
// archives of the month share the refs dir.
func sweepTempRecords(l *slog.Logger, outcomes []processor.Outcome) {
	for _, o := range outcomes {
		if o.Status == processor.StatusOK {
			continue
		}
		n, err := extractor.RemoveTempRecords(o.Task.OutputDir, o.Task.DocumentPath)
		if err != nil {
			l.Warn("Failed to remove partial record.", "document", o.Task.DocumentPath, "error", err)
		}
		if n > 0 {
			l.Debug("Removed partial record files.", "document", o.Task.DocumentPath, "files", n)
		}
	}
}
