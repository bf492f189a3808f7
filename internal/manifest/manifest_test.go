package manifest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/arxivrefs/internal/store"
	"github.com/brensch/arxivrefs/internal/util"
)

const sampleManifest = `<?xml version='1.0' standalone='yes'?>
<arXivPDF>
  <file>
    <content_md5sum>cacbfede21d5dfef26f367ec99384546</content_md5sum>
    <filename>pdf/arXiv_pdf_2002_009.tar</filename>
    <first_item>2002.08001</first_item>
    <last_item>2002.09000</last_item>
    <md5sum>D1D6A8A48A5CD5C4D44A0AA3C1B7B8A2</md5sum>
    <num_items>1000</num_items>
    <seq_num>9</seq_num>
    <size>526124853</size>
    <timestamp>2020-02-29 10:33:56</timestamp>
    <yymm>2002</yymm>
  </file>
  <file>
    <filename>pdf/arXiv_pdf_2003_001.tar</filename>
    <md5sum>0b1c2d</md5sum>
    <seq_num>1</seq_num>
    <timestamp>2020-03-02 08:00:00</timestamp>
    <yymm>2003</yymm>
  </file>
  <file>
    <filename>pdf/arXiv_pdf_2003_002.tar</filename>
    <seq_num>2</seq_num>
    <timestamp>2020-03-15 08:00:00</timestamp>
    <yymm>2003</yymm>
  </file>
  <file>
    <filename>pdf/arXiv_pdf_2002_010.tar</filename>
    <seq_num>10</seq_num>
    <timestamp>2020-03-20 08:00:00</timestamp>
    <yymm>2002</yymm>
  </file>
</arXivPDF>`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	first := entries[0]
	assert.Equal(t, "pdf/arXiv_pdf_2002_009.tar", first.Filename)
	assert.Equal(t, "d1d6a8a48a5cd5c4d44a0aa3c1b7b8a2", first.MD5Sum)
	assert.EqualValues(t, 526124853, first.Size)
	assert.Equal(t, 1000, first.NumItems)
	assert.Equal(t, "arXiv_pdf_2002_009", first.Base())
	assert.Empty(t, entries[2].MD5Sum)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(strings.NewReader("<arXivPDF><file>"))
	assert.Error(t, err)
}

func TestSelectMonth(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	march := util.YearMonth{Year: 2020, Month: 3}

	got := SelectMonth(entries, march, nil)
	require.Len(t, got, 3)
	// The timestamp decides the month, not yymm.
	assert.Equal(t, "pdf/arXiv_pdf_2002_010.tar", got[2].Filename)

	skip := map[string]struct{}{"pdf/arXiv_pdf_2003_001.tar": {}}
	got = SelectMonth(entries, march, skip)
	require.Len(t, got, 2)
	assert.Equal(t, "pdf/arXiv_pdf_2003_002.tar", got[0].Filename)

	assert.Empty(t, SelectMonth(entries, util.YearMonth{Year: 2020, Month: 4}, nil))
	assert.Len(t, SelectYearMonth(entries, 2020, 2), 1)
}

func TestSelectYearMonthWholeYear(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	assert.Len(t, SelectYearMonth(entries, 2020, 0), 4)
	assert.Empty(t, SelectYearMonth(entries, 2019, 0))
	assert.Empty(t, SelectYearMonth(entries, 202, 0))
}

func TestSelectMonthIsCaseSensitivePrefix(t *testing.T) {
	entries := []Entry{
		{Filename: "a", Timestamp: "2020-03-01 00:00:00"},
		{Filename: "b", Timestamp: " 2020-03-01"},
		{Filename: "c", Timestamp: "x2020-03"},
		{Filename: "d", Timestamp: "2020-030"},
	}
	got := SelectMonth(entries, util.YearMonth{Year: 2020, Month: 3}, nil)
	var names []string
	for _, e := range got {
		names = append(names, e.Filename)
	}
	assert.Equal(t, []string{"a", "d"}, names)
}

func TestProviderCachesAndRefreshes(t *testing.T) {
	st := store.NewMemory()
	st.Put("pdf/arXiv_PDF_manifest.xml", []byte(sampleManifest))
	cache := filepath.Join(t.TempDir(), "nested", "manifest.xml")
	p := NewProvider(st, "pdf/arXiv_PDF_manifest.xml", discardLogger())
	ctx := context.Background()

	entries, err := p.Get(ctx, cache, false)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.FileExists(t, cache)

	_, err = p.Get(ctx, cache, false)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Fetches("pdf/arXiv_PDF_manifest.xml"))

	_, err = p.Get(ctx, cache, true)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Fetches("pdf/arXiv_PDF_manifest.xml"))
}

func TestProviderUnavailable(t *testing.T) {
	p := NewProvider(store.NewMemory(), "pdf/arXiv_PDF_manifest.xml", discardLogger())
	cache := filepath.Join(t.TempDir(), "manifest.xml")

	_, err := p.Get(context.Background(), cache, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifestUnavailable))
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.NoFileExists(t, cache)

	require.NoError(t, os.WriteFile(cache, []byte("not xml"), 0o644))
	_, err = p.Get(context.Background(), cache, false)
	assert.ErrorIs(t, err, ErrManifestUnavailable)
}

func TestDiscover(t *testing.T) {
	st := store.NewMemory()
	for _, k := range []string{
		"pdf/arXiv_pdf_2003_002.tar",
		"pdf/arXiv_pdf_2003_001.tar",
		"pdf/arXiv_pdf_9912_001.tar",
		"pdf/README.txt",
		"pdf/arXiv_src_2003_001.tar",
	} {
		st.Put(k, nil)
	}

	entries, err := Discover(context.Background(), st, "pdf/", discardLogger())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1999-12-01 00:00:00", entries[0].Timestamp)
	assert.Equal(t, "pdf/arXiv_pdf_2003_001.tar", entries[1].Filename)
	assert.Equal(t, 2, entries[2].SeqNum)
	assert.Len(t, SelectYearMonth(entries, 2020, 3), 2)
}
