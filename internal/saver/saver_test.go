package saver

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/arxivrefs/internal/db"
)

func seed(t *testing.T, conn *sql.DB) {
	t.Helper()
	ctx := context.Background()
	d := 1500 * time.Millisecond
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.LogEvent(ctx, conn, db.Event{RunID: "r1", Archive: "pdf/arXiv_pdf_2003_001.tar", Event: db.EventExtractStart, Month: "2020-03", Timestamp: base}))
	require.NoError(t, db.LogEvent(ctx, conn, db.Event{RunID: "r1", Archive: "pdf/arXiv_pdf_2003_001.tar", Event: db.EventExtractEnd, Month: "2020-03",
		Documents: 3, OK: 3, Duration: &d, Timestamp: base.Add(time.Second)}))
}

func readBack(t *testing.T, path string) []EventRow {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(EventRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	rows := make([]EventRow, int(pr.GetNumRows()))
	require.NoError(t, pr.Read(&rows))
	return rows
}

func TestExportEventLogSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	conn, err := db.Open(ctx, db.DriverSQLite, filepath.Join(dir, "state.sqlite"))
	require.NoError(t, err)
	defer conn.Close()
	seed(t, conn)

	out := filepath.Join(dir, "export", "events.parquet")
	n, err := ExportEventLog(ctx, conn, db.DriverSQLite, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoFileExists(t, out+".tmp")

	rows := readBack(t, out)
	require.Len(t, rows, 2)
	assert.Equal(t, db.EventExtractStart, rows[0].Event)
	assert.Equal(t, db.EventExtractEnd, rows[1].Event)
	assert.Equal(t, int64(3), rows[1].OK)
	assert.Equal(t, int64(1500), rows[1].DurationMs)
	assert.Equal(t, "2020-03", rows[1].Month)
}

func TestExportEventLogDuckDB(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	conn, err := db.Open(ctx, db.DriverDuckDB, filepath.Join(dir, "state.duckdb"))
	require.NoError(t, err)
	defer conn.Close()
	seed(t, conn)

	out := filepath.Join(dir, "events.parquet")
	n, err := ExportEventLog(ctx, conn, db.DriverDuckDB, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.FileExists(t, out)
}
