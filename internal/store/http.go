package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/brensch/arxivrefs/internal/util"
)

const userAgent = "arxivrefs/0.3 (+bulk reference extraction)"

// HTTP reads objects from a plain HTTP mirror laid out like the bucket:
// <base>/<key>.
type HTTP struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewHTTP parses the mirror base URL. A nil client uses util.DefaultHTTPClient.
func NewHTTP(baseURL string, client *http.Client, logger *slog.Logger) (*HTTP, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse mirror url %s: %w", baseURL, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if client == nil {
		client = util.DefaultHTTPClient()
	}
	return &HTTP{base: u, client: client, logger: logger}, nil
}

func (h *HTTP) resolve(key string) string {
	return h.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(key, "/")}).String()
}

// Fetch implements ObjectStore.
func (h *HTTP) Fetch(ctx context.Context, key string, w io.Writer) (int64, error) {
	target := h.resolve(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request %s: %w", target, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/x-tar,application/octet-stream,*/*")

	l := h.logger.With(slog.String("url", target))
	n, err := util.DownloadTo(h.client, req, w, func(copied, total int64) {
		if total > 0 {
			l.Debug("Download progress", slog.String("copied", humanize.Bytes(uint64(copied))), slog.String("total", humanize.Bytes(uint64(total))))
		} else {
			l.Debug("Download progress", slog.String("copied", humanize.Bytes(uint64(copied))))
		}
	})
	if err != nil {
		var statusErr *util.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return n, fmt.Errorf("%s: %w", target, ErrNotFound)
		}
		return n, err
	}
	return n, nil
}

// List returns the keys linked from the directory listing at <base>/<prefix>.
// Keys are returned relative to the base, e.g. "pdf/arXiv_pdf_2003_001.tar".
func (h *HTTP) List(ctx context.Context, prefix string) ([]string, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	if dir == "/" {
		dir = ""
	}
	target := h.resolve(dir)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", target, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list GET %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list status %s: %s", resp.Status, target)
	}

	hrefs, err := util.ParseLinks(resp.Body, func(string) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", target, err)
	}
	listURL, _ := url.Parse(target)
	keys := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		abs, err := listURL.Parse(href)
		if err != nil {
			h.logger.Warn("Failed to resolve listing link", "link", href, "error", err)
			continue
		}
		if !strings.HasPrefix(abs.Path, h.base.Path) {
			continue
		}
		key := strings.TrimPrefix(abs.Path, h.base.Path)
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		keys = append(keys, path.Clean(key))
	}
	return keys, nil
}

// String names the mirror for logs.
func (h *HTTP) String() string {
	return h.base.String()
}
