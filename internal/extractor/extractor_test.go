package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bracketed = `Some body text mentioning references in passing.

References

[1] A. Author and B. Author. Deep things. arXiv:2003.00001v2, 2020.
[2] C. Writer. A journal paper. Phys. Rev. D 99, 1 (2019). doi:10.1103/PhysRevD.99.000001.
[3] D. Someone. Old style preprint, arXiv:hep-th/9901001.
[4] x
`

func TestParseReferencesBracketed(t *testing.T) {
	refs := ParseReferences(bracketed)
	require.Len(t, refs, 3)

	assert.Equal(t, []string{"2003.00001"}, refs[0].ArxivIDs)
	assert.Equal(t, 2020, refs[0].Year)

	assert.Equal(t, []string{"10.1103/PhysRevD.99.000001"}, refs[1].DOIs)
	assert.Equal(t, 2019, refs[1].Year)
	assert.Empty(t, refs[1].ArxivIDs)

	assert.Equal(t, []string{"hep-th/9901001"}, refs[2].ArxivIDs)
	assert.Zero(t, refs[2].Year)
}

func TestParseReferencesUsesLastHeading(t *testing.T) {
	text := "Bibliography\n\n[1] Early table of contents entry here.\n[2] Another early entry here.\n\nIntro...\n\nREFERENCES\n\n1. Final list entry one, 2018.\n2. Final list entry two, 2021.\n"
	refs := ParseReferences(text)
	require.Len(t, refs, 2)
	assert.Equal(t, "Final list entry one, 2018.", refs[0].Raw)
	assert.Equal(t, 2021, refs[1].Year)
}

func TestParseReferencesBlankLineSplit(t *testing.T) {
	text := "Bibliography\n\nFirst, A. Title of the first work.\n  Journal, 2001.\n\nSecond, B. Title of the second work. 1999.\n"
	refs := ParseReferences(text)
	require.Len(t, refs, 2)
	assert.Equal(t, "First, A. Title of the first work. Journal, 2001.", refs[0].Raw)
	assert.Equal(t, 1999, refs[1].Year)
}

func TestParseReferencesWithoutHeading(t *testing.T) {
	assert.Nil(t, ParseReferences("just an abstract, no bibliography"))
}

func TestOutputPathIsDeterministic(t *testing.T) {
	a := OutputPath("out/2020-03/refs", "/tmp/x/pdfs/2003/2003.00001v1.pdf")
	b := OutputPath("out/2020-03/refs", "/var/other/2003.00001v1.pdf")
	assert.Equal(t, filepath.Join("out/2020-03/refs", "2003.00001v1-refs.json.gz"), a)
	assert.Equal(t, a, b)
	assert.Equal(t, "2003.00001v1", DocumentID("/tmp/2003.00001v1.pdf"))
}

type stubExtractor struct {
	refs []Reference
	err  error
}

func (s stubExtractor) Extract(context.Context, string) ([]Reference, error) {
	return s.refs, s.err
}

func TestRunOverwritesRecord(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(t.TempDir(), "2003.00001v1.pdf")
	ctx := context.Background()

	first, err := Run(ctx, stubExtractor{refs: []Reference{{Raw: "one"}, {Raw: "two"}}}, doc, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, first.References)

	second, err := Run(ctx, stubExtractor{}, doc, dir)
	require.NoError(t, err)
	assert.Equal(t, first.OutputPath, second.OutputPath)

	rec, err := ReadRecord(second.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "2003.00001v1", rec.DocumentID)
	assert.NotNil(t, rec.References)
	assert.Empty(t, rec.References)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	_, err := Run(context.Background(), stubExtractor{err: boom}, "/x/2003.00002.pdf", dir)
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, OutputPath(dir, "/x/2003.00002.pdf"))
}

func TestRunAfterDeadlineWritesNothing(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, stubExtractor{refs: []Reference{{Raw: "one"}}}, "/x/2003.00003.pdf", dir)
	assert.ErrorIs(t, err, context.Canceled)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveTempRecords(t *testing.T) {
	dir := t.TempDir()
	doc := "/x/2003.00004v1.pdf"
	for _, name := range []string{
		".2003.00004v1-refs.json.gz.tmp-1",
		".2003.00004v1-refs.json.gz.tmp-2",
		".2003.00005-refs.json.gz.tmp-1",
		"2003.00004v1-refs.json.gz",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	n, err := RemoveTempRecords(dir, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.FileExists(t, filepath.Join(dir, ".2003.00005-refs.json.gz.tmp-1"))
	assert.FileExists(t, OutputPath(dir, doc))

	n, err = RemoveTempRecords(dir, doc)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPDFExtractRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))
	_, err := PDF{}.Extract(context.Background(), path)
	assert.Error(t, err)
}
