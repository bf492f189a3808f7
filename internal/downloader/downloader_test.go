package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/arxivrefs/internal/manifest"
	"github.com/brensch/arxivrefs/internal/store"
	"github.com/brensch/arxivrefs/internal/util"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// flakyStore fails the first n fetches of every key, with err when set.
type flakyStore struct {
	inner *store.Memory
	mu    sync.Mutex
	fails map[string]int
	n     int
	err   error
}

func (s *flakyStore) Fetch(ctx context.Context, key string, w io.Writer) (int64, error) {
	s.mu.Lock()
	s.fails[key]++
	failing := s.fails[key] <= s.n
	s.mu.Unlock()
	if failing {
		if s.err != nil {
			return 0, s.err
		}
		return 0, errors.New("connection reset")
	}
	return s.inner.Fetch(ctx, key, w)
}

func newFetcher(st store.ObjectStore, attempts int) (*Fetcher, *[]time.Duration) {
	f := New(st, Options{Attempts: attempts, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}, discardLogger())
	var delays []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return f, &delays
}

func TestBackoff(t *testing.T) {
	base, max := 2*time.Second, 30*time.Second
	assert.Equal(t, 2*time.Second, Backoff(1, base, max))
	assert.Equal(t, 4*time.Second, Backoff(2, base, max))
	assert.Equal(t, 16*time.Second, Backoff(4, base, max))
	assert.Equal(t, 30*time.Second, Backoff(5, base, max))
	assert.Equal(t, 30*time.Second, Backoff(12, base, max))
}

func TestFetchVerifiesChecksum(t *testing.T) {
	payload := []byte("tar payload")
	mem := store.NewMemory()
	mem.Put("pdf/a.tar", payload)
	f, _ := newFetcher(mem, 1)
	dest := filepath.Join(t.TempDir(), "pdfs.tar")

	res, err := f.Fetch(context.Background(), manifest.Entry{Filename: "pdf/a.tar", MD5Sum: md5hex(payload)}, dest)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), res.Bytes)
	assert.Equal(t, 1, res.Attempts)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetchChecksumMismatchRetriesThenFails(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("pdf/a.tar", []byte("corrupt"))
	f, delays := newFetcher(mem, 3)
	dir := t.TempDir()
	dest := filepath.Join(dir, "pdfs.tar")

	_, err := f.Fetch(context.Background(), manifest.Entry{Filename: "pdf/a.tar", MD5Sum: md5hex([]byte("good"))}, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArchiveFetch))
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
	assert.Equal(t, 3, mem.Fetches("pdf/a.tar"))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
	assert.NoFileExists(t, dest)

	leftovers, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFetchRecoversAfterTransientErrors(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("pdf/a.tar", []byte("ok"))
	st := &flakyStore{inner: mem, fails: map[string]int{}, n: 2}
	f, _ := newFetcher(st, 3)

	res, err := f.Fetch(context.Background(), manifest.Entry{Filename: "pdf/a.tar"}, filepath.Join(t.TempDir(), "a.tar"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
}

func TestFetchDoesNotRetryMissingOrCancelled(t *testing.T) {
	mem := store.NewMemory()
	f, _ := newFetcher(mem, 3)

	_, err := f.Fetch(context.Background(), manifest.Entry{Filename: "pdf/missing.tar"}, filepath.Join(t.TempDir(), "x.tar"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, mem.Fetches("pdf/missing.tar"))

	mem.Put("pdf/a.tar", []byte("ok"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, manifest.Entry{Filename: "pdf/a.tar"}, filepath.Join(t.TempDir(), "a.tar"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrArchiveFetch)
}

func TestFetchRetriesOnlyTemporaryStatuses(t *testing.T) {
	for _, tc := range []struct {
		code     int
		attempts int
		ok       bool
	}{
		{code: http.StatusForbidden, attempts: 1},
		{code: http.StatusBadRequest, attempts: 1},
		{code: http.StatusTooManyRequests, attempts: 2, ok: true},
		{code: http.StatusServiceUnavailable, attempts: 2, ok: true},
	} {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			mem := store.NewMemory()
			mem.Put("pdf/a.tar", []byte("ok"))
			statusErr := &util.StatusError{URL: "https://mirror/pdf/a.tar", StatusCode: tc.code, Status: http.StatusText(tc.code)}
			st := &flakyStore{inner: mem, fails: map[string]int{}, n: 1, err: fmt.Errorf("fetch: %w", statusErr)}
			f, _ := newFetcher(st, 3)

			res, err := f.Fetch(context.Background(), manifest.Entry{Filename: "pdf/a.tar"}, filepath.Join(t.TempDir(), "a.tar"))
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.attempts, res.Attempts)
			} else {
				assert.ErrorAs(t, err, &statusErr)
				assert.ErrorIs(t, err, ErrArchiveFetch)
			}
			assert.Equal(t, tc.attempts, st.fails["pdf/a.tar"])
		})
	}
}

func TestDownloadArchivesContinuesPastFailures(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("pdf/a.tar", []byte("a"))
	mem.Put("pdf/c.tar", []byte("c"))
	f, _ := newFetcher(mem, 1)
	dest := t.TempDir()

	entries := []manifest.Entry{{Filename: "pdf/a.tar"}, {Filename: "pdf/b.tar"}, {Filename: "pdf/c.tar"}}
	err := DownloadArchives(context.Background(), f, entries, dest, nil, "run", discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.FileExists(t, filepath.Join(dest, "a.tar"))
	assert.FileExists(t, filepath.Join(dest, "c.tar"))
}
