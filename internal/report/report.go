// Package report writes one parquet file per archive describing what
// happened to each of its documents.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/arxivrefs/internal/processor"
)

// Row is the outcome of one document.
type Row struct {
	Archive    string `parquet:"name=archive, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Month      string `parquet:"name=month, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	DocumentID string `parquet:"name=document_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status     string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	References int64  `parquet:"name=references, type=INT64"`
	DurationMs int64  `parquet:"name=duration_ms, type=INT64"`
	Error      string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Rows converts pool outcomes into report rows.
func Rows(archive, month string, outcomes []processor.Outcome) []Row {
	rows := make([]Row, 0, len(outcomes))
	for _, o := range outcomes {
		row := Row{
			Archive:    archive,
			Month:      month,
			DocumentID: o.DocumentID,
			Status:     string(o.Status),
			References: int64(o.References),
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// Path is <reportsDir>/<archive base>.parquet.
func Path(reportsDir, archiveBase string) string {
	return filepath.Join(reportsDir, archiveBase+".parquet")
}

// Write stores rows at path, replacing any previous report.
func Write(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create parquet file %s: %w", tmp, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(Row), 4)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("create parquet writer %s: %w", tmp, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			pw.WriteStop()
			fw.Close()
			os.Remove(tmp)
			return fmt.Errorf("write report row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("finish parquet %s: %w", tmp, err)
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close parquet %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move report into place: %w", err)
	}
	return nil
}

// Read loads every row of the report at path.
func Read(path string) ([]Row, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Row), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader %s: %w", path, err)
	}
	defer pr.ReadStop()

	rows := make([]Row, int(pr.GetNumRows()))
	if len(rows) == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
