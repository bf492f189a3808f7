package report

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/arxivrefs/internal/processor"
)

func TestWriteRead(t *testing.T) {
	outcomes := []processor.Outcome{
		{DocumentID: "2003.00001", Status: processor.StatusOK, References: 31, Duration: 1200 * time.Millisecond},
		{DocumentID: "2003.00002", Status: processor.StatusTimeout, Duration: 5 * time.Minute, Err: processor.ErrExtractionTimeout},
		{DocumentID: "2003.00003", Status: processor.StatusFailed, Err: errors.New("bad xref")},
	}
	rows := Rows("pdf/arXiv_pdf_2003_001.tar", "2020-03", outcomes)
	path := Path(filepath.Join(t.TempDir(), "2020-03", "reports"), "arXiv_pdf_2003_001")

	require.NoError(t, Write(path, rows))
	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, rows, got)
	assert.Equal(t, int64(1200), got[0].DurationMs)
	assert.Equal(t, "timeout", got[1].Status)
	assert.Equal(t, "bad xref", got[2].Error)

	// A second write replaces the first.
	require.NoError(t, Write(path, rows[:1]))
	got, err = Read(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoFileExists(t, path+".tmp")
}

func TestWriteEmptyReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	require.NoError(t, Write(path, nil))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}
