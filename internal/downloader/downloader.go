// Package downloader fetches archive tarballs from the object store onto
// local disk, verifying their checksum and retrying transient failures.
package downloader

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/brensch/arxivrefs/internal/db"
	"github.com/brensch/arxivrefs/internal/manifest"
	"github.com/brensch/arxivrefs/internal/store"
	"github.com/brensch/arxivrefs/internal/util"
)

var (
	// ErrArchiveFetch wraps every failure to produce a verified local copy.
	ErrArchiveFetch = errors.New("archive fetch failed")
	// ErrChecksumMismatch is returned (wrapped in ErrArchiveFetch) when the
	// downloaded bytes do not match the manifest md5sum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Options tune retries and throttling.
type Options struct {
	// Attempts is the total number of tries per archive, at least 1.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Rate limits archive fetches per second across all callers; 0 disables.
	Rate float64
}

// Result describes a verified local archive.
type Result struct {
	Path     string
	Bytes    int64
	MD5Sum   string
	Attempts int
	Duration time.Duration
}

// Fetcher downloads archives. It is safe for concurrent use.
type Fetcher struct {
	store   store.ObjectStore
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns a Fetcher reading from st.
func New(st store.ObjectStore, opts Options, logger *slog.Logger) *Fetcher {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return &Fetcher{store: st, opts: opts, limiter: limiter, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is the delay before retry number attempt (1-based): base doubled
// per attempt and capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Fetch downloads entry into dest. The file only appears at dest once the
// checksum (when the manifest has one) has been verified.
func (f *Fetcher) Fetch(ctx context.Context, entry manifest.Entry, dest string) (Result, error) {
	start := time.Now()
	l := f.logger.With(slog.String("archive", entry.ID()))

	var lastErr error
	for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt-1, f.opts.BaseDelay, f.opts.MaxDelay)
			l.Warn("Retrying archive fetch", "attempt", attempt, "max_attempts", f.opts.Attempts, "delay", delay, "error", lastErr)
			if err := f.sleep(ctx, delay); err != nil {
				return Result{}, fmt.Errorf("%w: %s: %w", ErrArchiveFetch, entry.ID(), err)
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrArchiveFetch, entry.ID(), err)
		}

		res, err := f.fetchOnce(ctx, entry, dest)
		if err == nil {
			res.Attempts = attempt
			res.Duration = time.Since(start)
			l.Info("Archive fetched",
				slog.String("size", humanize.Bytes(uint64(res.Bytes))),
				slog.Int("attempts", attempt),
				slog.Duration("duration", res.Duration.Round(time.Millisecond)))
			return res, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return Result{}, fmt.Errorf("%w: %s: %w", ErrArchiveFetch, entry.ID(), lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	// Only 429 and 5xx responses are worth another attempt.
	var statusErr *util.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func (f *Fetcher) fetchOnce(ctx context.Context, entry manifest.Entry, dest string) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, fmt.Errorf("create destination dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := md5.New()
	n, err := f.store.Fetch(ctx, entry.Filename, io.MultiWriter(tmp, h))
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err != nil {
		return Result{}, err
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if entry.MD5Sum != "" && sum != entry.MD5Sum {
		return Result{}, fmt.Errorf("%w: want %s, got %s (%d bytes)", ErrChecksumMismatch, entry.MD5Sum, sum, n)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return Result{}, fmt.Errorf("move archive into place: %w", err)
	}
	return Result{Path: dest, Bytes: n, MD5Sum: sum}, nil
}

// DownloadArchives fetches entries one after another into destDir without
// extracting them. Failures are logged, recorded in the state log when conn
// is non-nil, and joined into the returned error; remaining entries are
// still attempted.
func DownloadArchives(ctx context.Context, f *Fetcher, entries []manifest.Entry, destDir string, conn *sql.DB, runID string, logger *slog.Logger) error {
	var finalErr error
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			logger.Warn("Download cancelled.")
			return errors.Join(finalErr, err)
		}
		l := logger.With(slog.String("archive", entry.ID()), slog.Int("archive_num", i+1), slog.Int("total", len(entries)))
		dest := filepath.Join(destDir, filepath.Base(entry.Filename))
		logEvent(ctx, conn, l, db.Event{RunID: runID, Archive: entry.ID(), Event: db.EventDownloadStart, OutputPath: dest})

		res, err := f.Fetch(ctx, entry, dest)
		if err != nil {
			l.Error("Download failed.", "error", err)
			logEvent(ctx, conn, l, db.Event{RunID: runID, Archive: entry.ID(), Event: db.EventError, OutputPath: dest, Message: err.Error()})
			finalErr = errors.Join(finalErr, err)
			continue
		}
		logEvent(ctx, conn, l, db.Event{RunID: runID, Archive: entry.ID(), Event: db.EventDownloadEnd, OutputPath: res.Path, MD5Sum: res.MD5Sum, Duration: &res.Duration})
	}
	return finalErr
}

func logEvent(ctx context.Context, conn *sql.DB, l *slog.Logger, ev db.Event) {
	if conn == nil {
		return
	}
	if err := db.LogEvent(context.WithoutCancel(ctx), conn, ev); err != nil {
		l.Warn("Failed to record state event", "event", ev.Event, "error", err)
	}
}
