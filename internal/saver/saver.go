// Package saver exports the state event log to a parquet file.
package saver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/arxivrefs/internal/db"
)

// EventRow is the parquet layout used when the state DB cannot export
// itself. Columns match archive_event_log.
type EventRow struct {
	RunID          string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Archive        string `parquet:"name=archive, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Event          string `parquet:"name=event, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	EventTimestamp int64  `parquet:"name=event_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Month          string `parquet:"name=month, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutputPath     string `parquet:"name=output_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	Message        string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	MD5Sum         string `parquet:"name=md5sum, type=BYTE_ARRAY, convertedtype=UTF8"`
	Documents      int64  `parquet:"name=documents, type=INT64"`
	OK             int64  `parquet:"name=ok, type=INT64"`
	Timeouts       int64  `parquet:"name=timeouts, type=INT64"`
	Failures       int64  `parquet:"name=failures, type=INT64"`
	DurationMs     int64  `parquet:"name=duration_ms, type=INT64"`
}

// ExportEventLog writes the whole archive_event_log to path and returns the
// number of rows exported. DuckDB copies the table natively; other drivers
// go through the parquet writer.
func ExportEventLog(ctx context.Context, conn *sql.DB, driver, path string, logger *slog.Logger) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	defer os.Remove(tmp)

	var (
		n   int64
		err error
	)
	if driver == db.DriverDuckDB {
		n, err = copyDuckDB(ctx, conn, tmp, logger)
	} else {
		n, err = writeRows(ctx, conn, tmp)
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("move export into place: %w", err)
	}
	logger.Info("Event log exported.", slog.String("path", path), slog.Int64("rows", n), slog.String("driver", driver))
	return n, nil
}

func copyDuckDB(ctx context.Context, conn *sql.DB, path string, logger *slog.Logger) (int64, error) {
	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_event_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count event log rows: %w", err)
	}
	// DuckDB wants forward slashes.
	duckdbPath := strings.ReplaceAll(filepath.ToSlash(path), "'", "''")
	copySQL := fmt.Sprintf(`COPY (SELECT * EXCLUDE (log_id) FROM archive_event_log ORDER BY log_id) TO '%s' (FORMAT PARQUET);`, duckdbPath)
	logger.Debug("Executing COPY TO command.", slog.String("output_path", path))
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return 0, fmt.Errorf("failed to copy event log to parquet: %w", err)
	}
	return n, nil
}

func writeRows(ctx context.Context, conn *sql.DB, path string) (int64, error) {
	events, err := db.History(ctx, conn, "", "", math.MaxInt32)
	if err != nil {
		return 0, err
	}
	slices.Reverse(events)

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("create parquet file %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(EventRow), 4)
	if err != nil {
		fw.Close()
		return 0, fmt.Errorf("create parquet writer %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, ev := range events {
		row := EventRow{
			RunID:          ev.RunID,
			Archive:        ev.Archive,
			Event:          ev.Event,
			EventTimestamp: ev.Timestamp.UnixMilli(),
			Month:          ev.Month,
			OutputPath:     ev.OutputPath,
			Message:        ev.Message,
			MD5Sum:         ev.MD5Sum,
			Documents:      int64(ev.Documents),
			OK:             int64(ev.OK),
			Timeouts:       int64(ev.Timeouts),
			Failures:       int64(ev.Failures),
		}
		if ev.Duration != nil {
			row.DurationMs = ev.Duration.Milliseconds()
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			fw.Close()
			return 0, fmt.Errorf("write event row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return 0, fmt.Errorf("finish parquet %s: %w", path, err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("close parquet %s: %w", path, err)
	}
	return int64(len(events)), nil
}
