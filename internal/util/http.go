package util

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProgressFunc receives the bytes copied so far and the expected total
// (-1 when the server did not send a length).
type ProgressFunc func(copied, total int64)

// DownloadTo executes a pre-built request and streams the body into w.
// Non-200 responses are returned as *StatusError with a short body excerpt.
// The caller owns the request (context, headers).
func DownloadTo(client *http.Client, req *http.Request, w io.Writer, progress ProgressFunc) (int64, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http do request for %s: %w", req.URL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode, Status: resp.Status, Body: string(excerpt)}
	}

	var dst io.Writer = w
	if progress != nil {
		dst = &progressWriter{w: w, total: resp.ContentLength, fn: progress, every: 8 << 20}
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed reading body from %s: %w", req.URL.String(), err)
	}
	return n, nil
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status '%s' fetching %s: %s", e.Status, e.URL, e.Body)
}

// Temporary reports whether retrying the request could succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type progressWriter struct {
	w       io.Writer
	total   int64
	copied  int64
	every   int64
	lastHit int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.copied += int64(n)
	if p.copied-p.lastHit >= p.every {
		p.lastHit = p.copied
		p.fn(p.copied, p.total)
	}
	return n, err
}

// DefaultHTTPClient creates a default http.Client. Archive tarballs are
// hundreds of megabytes, so the overall timeout is generous.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Minute}
}
