// Package manifest reads the arXiv bulk PDF manifest: the XML index of every
// archive tarball in the bucket, with its month, checksum and size.
package manifest

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/brensch/arxivrefs/internal/store"
	"github.com/brensch/arxivrefs/internal/util"
)

// ErrManifestUnavailable wraps every failure to obtain or parse the manifest.
var ErrManifestUnavailable = errors.New("manifest unavailable")

// Entry is one archive tarball listed in the manifest.
type Entry struct {
	Filename   string `xml:"filename"`
	Timestamp  string `xml:"timestamp"`
	YYMM       string `xml:"yymm"`
	MD5Sum     string `xml:"md5sum"`
	ContentMD5 string `xml:"content_md5sum"`
	Size       int64  `xml:"size"`
	NumItems   int    `xml:"num_items"`
	SeqNum     int    `xml:"seq_num"`
	FirstItem  string `xml:"first_item"`
	LastItem   string `xml:"last_item"`
}

// ID is the archive identifier used in skip lists and the state log: the
// object key as listed in the manifest.
func (e Entry) ID() string {
	return e.Filename
}

// Base is the archive file name without directory or extension,
// e.g. arXiv_pdf_2003_001.
func (e Entry) Base() string {
	return strings.TrimSuffix(filepath.Base(e.Filename), filepath.Ext(e.Filename))
}

type document struct {
	XMLName xml.Name `xml:"arXivPDF"`
	Files   []Entry  `xml:"file"`
}

// Parse decodes a manifest document, keeping file order.
func Parse(r io.Reader) ([]Entry, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest xml: %w", err)
	}
	for i := range doc.Files {
		e := &doc.Files[i]
		e.Filename = strings.TrimSpace(e.Filename)
		e.Timestamp = strings.TrimSpace(e.Timestamp)
		e.YYMM = strings.TrimSpace(e.YYMM)
		e.MD5Sum = strings.ToLower(strings.TrimSpace(e.MD5Sum))
	}
	return doc.Files, nil
}

// SelectMonth keeps entries whose timestamp begins with ym ("YYYY-MM") and
// whose id is not in skip. The match is a case-sensitive prefix; manifest
// order is preserved.
func SelectMonth(entries []Entry, ym util.YearMonth, skip map[string]struct{}) []Entry {
	return selectPrefix(entries, ym.String(), skip)
}

// SelectYearMonth is SelectMonth without a skip set, for direct downloads.
// Month 0 selects the whole year.
func SelectYearMonth(entries []Entry, year, month int) []Entry {
	if month == 0 {
		return selectPrefix(entries, fmt.Sprintf("%04d-", year), nil)
	}
	return SelectMonth(entries, util.YearMonth{Year: year, Month: month}, nil)
}

func selectPrefix(entries []Entry, prefix string, skip map[string]struct{}) []Entry {
	var out []Entry
	for _, e := range entries {
		if !strings.HasPrefix(e.Timestamp, prefix) {
			continue
		}
		if _, ok := skip[e.ID()]; ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Provider fetches the manifest from an object store and caches it on disk.
type Provider struct {
	store  store.ObjectStore
	key    string
	logger *slog.Logger
}

// NewProvider reads the manifest from key in st.
func NewProvider(st store.ObjectStore, key string, logger *slog.Logger) *Provider {
	return &Provider{store: st, key: key, logger: logger}
}

// Get returns the manifest entries, fetching the remote manifest into
// cachePath first when the cache is missing or refresh is set.
func (p *Provider) Get(ctx context.Context, cachePath string, refresh bool) ([]Entry, error) {
	_, statErr := os.Stat(cachePath)
	switch {
	case refresh:
		p.logger.Info("Refreshing manifest", "key", p.key, "cache", cachePath)
	case errors.Is(statErr, os.ErrNotExist):
		p.logger.Info("Manifest not cached, fetching", "key", p.key, "cache", cachePath)
	case statErr != nil:
		return nil, fmt.Errorf("%w: stat %s: %w", ErrManifestUnavailable, cachePath, statErr)
	default:
		p.logger.Debug("Using cached manifest", "cache", cachePath)
		return p.parseFile(cachePath)
	}

	if err := p.fetch(ctx, cachePath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
	}
	return p.parseFile(cachePath)
}

func (p *Provider) fetch(ctx context.Context, cachePath string) error {
	var buf bytes.Buffer
	if _, err := p.store.Fetch(ctx, p.key, &buf); err != nil {
		return fmt.Errorf("fetch %s: %w", p.key, err)
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(cachePath), ".manifest-*.xml")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		return fmt.Errorf("move manifest into place: %w", err)
	}
	p.logger.Info("Manifest cached", "cache", cachePath, "bytes", buf.Len())
	return nil
}

func (p *Provider) parseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrManifestUnavailable, path, err)
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestUnavailable, path, err)
	}
	p.logger.Info("Manifest loaded", "entries", len(entries))
	return entries, nil
}
