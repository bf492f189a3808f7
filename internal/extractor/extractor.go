// Package extractor turns a single PDF into a reference record and writes
// it as gzip-compressed JSON next to the other records of its month.
package extractor

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Extractor finds the bibliographic references of one document.
type Extractor interface {
	Extract(ctx context.Context, pdfPath string) ([]Reference, error)
}

// Reference is one bibliography entry.
type Reference struct {
	Raw      string   `json:"raw"`
	ArxivIDs []string `json:"arxiv_ids,omitempty"`
	DOIs     []string `json:"dois,omitempty"`
	Year     int      `json:"year,omitempty"`
}

// Record is the persisted output for one document.
type Record struct {
	DocumentID string      `json:"arxiv_id"`
	References []Reference `json:"references"`
}

// Summary is what a finished extraction reports back to the pool. The
// extract-one command prints it as a single JSON line.
type Summary struct {
	DocumentID string `json:"document_id"`
	OutputPath string `json:"output_path"`
	References int    `json:"references"`
}

// DocumentID is the file name without the .pdf extension, e.g. 2003.00001v2.
func DocumentID(documentPath string) string {
	return strings.TrimSuffix(filepath.Base(documentPath), ".pdf")
}

// OutputPath is where the record for documentPath lives inside outputDir.
func OutputPath(outputDir, documentPath string) string {
	return filepath.Join(outputDir, DocumentID(documentPath)+"-refs.json.gz")
}

// Run extracts documentPath with ex and writes its record into outputDir.
func Run(ctx context.Context, ex Extractor, documentPath, outputDir string) (Summary, error) {
	refs, err := ex.Extract(ctx, documentPath)
	if err != nil {
		return Summary{}, fmt.Errorf("extract %s: %w", documentPath, err)
	}
	// An extractor that ignores ctx may finish after its deadline; the
	// document has already been counted as a timeout and gets no record.
	if err := ctx.Err(); err != nil {
		return Summary{}, fmt.Errorf("extract %s: %w", documentPath, err)
	}
	if refs == nil {
		refs = []Reference{}
	}
	rec := Record{DocumentID: DocumentID(documentPath), References: refs}
	out := OutputPath(outputDir, documentPath)
	if err := writeRecord(ctx, out, rec); err != nil {
		return Summary{}, err
	}
	return Summary{DocumentID: rec.DocumentID, OutputPath: out, References: len(refs)}, nil
}

// WriteRecord writes rec to path through a temp file in the same directory,
// so readers only ever see complete records and re-runs replace the file.
func WriteRecord(path string, rec Record) error {
	return writeRecord(context.Background(), path, rec)
}

// writeRecord skips the final rename once ctx is done.
func writeRecord(ctx context.Context, path string, rec Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(rec); err != nil {
		tmp.Close()
		return fmt.Errorf("encode record %s: %w", rec.DocumentID, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush gzip for %s: %w", rec.DocumentID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write record %s: %w", rec.DocumentID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move record into place: %w", err)
	}
	return nil
}

// RemoveTempRecords deletes temp files WriteRecord left for documentPath in
// outputDir, e.g. after its process was killed mid-write. It returns how many
// were removed.
func RemoveTempRecords(outputDir, documentPath string) (int, error) {
	pattern := filepath.Join(outputDir, "."+filepath.Base(OutputPath(outputDir, documentPath))+".tmp-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// ReadRecord decodes a record written by WriteRecord.
func ReadRecord(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return Record{}, fmt.Errorf("open gzip %s: %w", path, err)
	}
	defer zr.Close()
	var rec Record
	if err := json.NewDecoder(zr).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", path, err)
	}
	return rec, nil
}
