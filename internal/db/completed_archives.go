package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CompletedArchives returns the archives with at least one extract_end
// event: every document of the archive produced a record in some run.
func CompletedArchives(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT archive FROM archive_event_log WHERE event = ?;`, EventExtractEnd)
	if err != nil {
		return nil, fmt.Errorf("query completed archives: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]struct{})
	var scanErrors error
	for rows.Next() {
		var archive string
		if err := rows.Scan(&archive); err != nil {
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan completed archive: %w", err))
			continue
		}
		if archive != "" {
			completed[archive] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return completed, errors.Join(scanErrors, fmt.Errorf("iterate completed archives: %w", err))
	}
	return completed, scanErrors
}
