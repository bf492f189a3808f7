// Package inspector summarises the per-archive run reports.
package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // Driver

	"github.com/brensch/arxivrefs/internal/config"
	"github.com/brensch/arxivrefs/internal/report"
)

// ErrNoReports is returned when no report files exist under the output base.
var ErrNoReports = errors.New("no run reports found")

// MonthStatus is one line of the summary.
type MonthStatus struct {
	Month      string
	Status     string
	Archives   int64
	Documents  int64
	References int64
}

// ReportsGlob matches every report written under base.
func ReportsGlob(base string) string {
	return filepath.Join(base, "*", "reports", "*.parquet")
}

// Query aggregates the reports under cfg.OutputBaseDir by month and status
// using an in-memory DuckDB.
func Query(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]MonthStatus, error) {
	glob := ReportsGlob(cfg.OutputBaseDir)
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("glob reports: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoReports, cfg.OutputBaseDir)
	}
	logger.Debug("Inspecting reports", slog.Int("files", len(files)), slog.String("glob", glob))

	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory duckdb: %w", err)
	}
	defer conn.Close()

	query := fmt.Sprintf(`
        SELECT month, status,
               COUNT(DISTINCT archive) AS archives,
               COUNT(*) AS documents,
               CAST(COALESCE(SUM("references"), 0) AS BIGINT) AS refs
        FROM read_parquet('%s')
        GROUP BY month, status
        ORDER BY month, status;`, strings.ReplaceAll(glob, "'", "''"))

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []MonthStatus
	for rows.Next() {
		var ms MonthStatus
		if err := rows.Scan(&ms.Month, &ms.Status, &ms.Archives, &ms.Documents, &ms.References); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}
	return out, nil
}

// Summarize prints the month/status summary to w.
func Summarize(ctx context.Context, cfg config.Config, w io.Writer, logger *slog.Logger) error {
	summary, err := Query(ctx, cfg, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "--- Run Reports (%s) ---\n", cfg.OutputBaseDir)
	fmt.Fprintf(w, "%-8s | %-8s | %8s | %10s | %12s\n", "Month", "Status", "Archives", "Documents", "References")
	fmt.Fprintln(w, strings.Repeat("-", 58))
	var docs, refs int64
	for _, ms := range summary {
		fmt.Fprintf(w, "%-8s | %-8s | %8d | %10d | %12d\n", ms.Month, ms.Status, ms.Archives, ms.Documents, ms.References)
		docs += ms.Documents
		refs += ms.References
	}
	fmt.Fprintln(w, strings.Repeat("-", 58))
	fmt.Fprintf(w, "Total: %d documents, %d references.\n", docs, refs)
	return nil
}

// PrintReport prints every row of a single report file.
func PrintReport(path string, w io.Writer) error {
	rows, err := report.Read(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "--- %s (%d documents) ---\n", filepath.Base(path), len(rows))
	fmt.Fprintf(w, "%-24s | %-8s | %10s | %10s | %s\n", "Document", "Status", "References", "DurationMS", "Error")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, r := range rows {
		fmt.Fprintf(w, "%-24s | %-8s | %10d | %10d | %s\n", r.DocumentID, r.Status, r.References, r.DurationMs, r.Error)
	}
	return nil
}
