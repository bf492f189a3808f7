package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Driver
	_ "modernc.org/sqlite"              // Driver
)

// Constants for event types
const (
	EventDownloadStart  = "download_start"
	EventDownloadEnd    = "download_end"
	EventExtractStart   = "extract_start"
	EventExtractEnd     = "extract_end"     // every document produced a record
	EventExtractPartial = "extract_partial" // some documents timed out or failed
	EventSkip           = "skip"
	EventError          = "error"
)

// Driver names accepted by Open and InitializeSchema.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

const duckdbSchemaSQL = `
CREATE SEQUENCE IF NOT EXISTS archive_event_log_id_seq;
CREATE TABLE IF NOT EXISTS archive_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('archive_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    archive         VARCHAR NOT NULL,      -- manifest filename, e.g. pdf/arXiv_pdf_2003_001.tar
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    month           VARCHAR,               -- YYYY-MM
    output_path     VARCHAR,
    message         VARCHAR,
    md5sum          VARCHAR,
    documents       INTEGER,
    ok              INTEGER,
    timeouts        INTEGER,
    failures        INTEGER,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_archive_event_log_archive ON archive_event_log (archive);
CREATE INDEX IF NOT EXISTS idx_archive_event_log_event_time ON archive_event_log (event, event_timestamp);
`

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS archive_event_log (
    log_id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id          TEXT NOT NULL,
    archive         TEXT NOT NULL,
    event           TEXT NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    month           TEXT,
    output_path     TEXT,
    message         TEXT,
    md5sum          TEXT,
    documents       INTEGER,
    ok              INTEGER,
    timeouts        INTEGER,
    failures        INTEGER,
    duration_ms     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_archive_event_log_archive ON archive_event_log (archive);
CREATE INDEX IF NOT EXISTS idx_archive_event_log_event_time ON archive_event_log (event, event_timestamp);
`

// Open connects to the state database, checks the connection and creates
// the schema.
func Open(ctx context.Context, driver, path string) (*sql.DB, error) {
	if driver != DriverDuckDB && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported state db driver %q", driver)
	}
	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database (%s): %w", driver, path, err)
	}
	if driver == DriverSQLite {
		// Writers from many archive goroutines share one connection.
		conn.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s database (%s): %w", driver, path, err)
	}
	if err := InitializeSchema(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return conn, nil
}

// InitializeSchema creates the event log for the given dialect. Safe to call
// on an existing database.
func InitializeSchema(db *sql.DB, driver string) error {
	schema := duckdbSchemaSQL
	if driver == DriverSQLite {
		schema = sqliteSchemaSQL
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Event is one row of the archive event log.
type Event struct {
	RunID      string
	Archive    string
	Event      string
	Timestamp  time.Time
	Month      string
	OutputPath string
	Message    string
	MD5Sum     string
	Documents  int
	OK         int
	Timeouts   int
	Failures   int
	Duration   *time.Duration
}

// LogEvent inserts a new event record into the log. A zero Timestamp is
// replaced by the current time.
func LogEvent(ctx context.Context, db *sql.DB, ev Event) error {
	query := `
        INSERT INTO archive_event_log (run_id, archive, event, event_timestamp, month, output_path, message, md5sum, documents, ok, timeouts, failures, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var durationMs sql.NullInt64
	if ev.Duration != nil {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}
	counted := ev.Documents > 0 || ev.OK > 0 || ev.Timeouts > 0 || ev.Failures > 0

	_, err := db.ExecContext(ctx, query,
		ev.RunID,
		ev.Archive,
		ev.Event,
		ts,
		nullString(ev.Month),
		nullString(ev.OutputPath),
		nullString(ev.Message),
		nullString(ev.MD5Sum),
		sql.NullInt64{Int64: int64(ev.Documents), Valid: counted},
		sql.NullInt64{Int64: int64(ev.OK), Valid: counted},
		sql.NullInt64{Int64: int64(ev.Timeouts), Valid: counted},
		sql.NullInt64{Int64: int64(ev.Failures), Valid: counted},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", ev.Event, ev.Archive, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// History returns events newest first, optionally filtered by archive and
// event type.
func History(ctx context.Context, db *sql.DB, archiveFilter, eventFilter string, limit int) ([]Event, error) {
	query := `
        SELECT run_id, archive, event, event_timestamp, month, output_path, message, md5sum, documents, ok, timeouts, failures, duration_ms
        FROM archive_event_log
    `
	conditions := []string{}
	args := []any{}
	if archiveFilter != "" {
		conditions = append(conditions, "archive = ?")
		args = append(args, archiveFilter)
	}
	if eventFilter != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, eventFilter)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY event_timestamp DESC, log_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var month, outputPath, message, md5sum sql.NullString
		var documents, ok, timeouts, failures, durationMs sql.NullInt64
		if err := rows.Scan(&ev.RunID, &ev.Archive, &ev.Event, &ev.Timestamp, &month, &outputPath, &message, &md5sum,
			&documents, &ok, &timeouts, &failures, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan event log row: %w", err)
		}
		ev.Month = month.String
		ev.OutputPath = outputPath.String
		ev.Message = message.String
		ev.MD5Sum = md5sum.String
		ev.Documents = int(documents.Int64)
		ev.OK = int(ok.Int64)
		ev.Timeouts = int(timeouts.Int64)
		ev.Failures = int(failures.Int64)
		if durationMs.Valid {
			d := time.Duration(durationMs.Int64) * time.Millisecond
			ev.Duration = &d
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log rows: %w", err)
	}
	return events, nil
}

// DisplayHistory prints the event log to w.
func DisplayHistory(ctx context.Context, db *sql.DB, w io.Writer, archiveFilter, eventFilter string, limit int) error {
	events, err := History(ctx, db, archiveFilter, eventFilter, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "--- Event Log History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-32s | %-15s | %-7s | %-25s | %-10s | %-14s | %s\n", "Archive", "Event", "Month", "Timestamp (UTC)", "DurationMS", "ok/to/fail", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 150))
	for _, ev := range events {
		durationStr := ""
		if ev.Duration != nil {
			durationStr = fmt.Sprintf("%d", ev.Duration.Milliseconds())
		}
		counts := ""
		if ev.Documents > 0 {
			counts = fmt.Sprintf("%d/%d/%d", ev.OK, ev.Timeouts, ev.Failures)
		}
		details := ev.Message
		if ev.OutputPath != "" {
			details += fmt.Sprintf(" (Output: %s)", ev.OutputPath)
		}
		fmt.Fprintf(w, "%-32s | %-15s | %-7s | %-25s | %-10s | %-14s | %s\n",
			ev.Archive, ev.Event, ev.Month, ev.Timestamp.UTC().Format(time.RFC3339), durationStr, counts, strings.TrimSpace(details))
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(events))
	return nil
}
