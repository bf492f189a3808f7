package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMirror(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/arxiv/pdf/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/arxiv/pdf/":
			_, _ = io.WriteString(w, `<html><a href="../">up</a><a href="arXiv_pdf_2003_001.tar">a</a><a href="/arxiv/pdf/arXiv_pdf_2003_002.tar">b</a><a href="sub/">dir</a></html>`)
		case "/arxiv/pdf/arXiv_pdf_2003_001.tar":
			_, _ = io.WriteString(w, "tarbytes")
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetch(t *testing.T) {
	srv := newMirror(t)
	h, err := NewHTTP(srv.URL+"/arxiv", srv.Client(), discardLogger())
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := h.Fetch(context.Background(), "pdf/arXiv_pdf_2003_001.tar", &buf)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
	assert.Equal(t, "tarbytes", buf.String())

	_, err = h.Fetch(context.Background(), "pdf/missing.tar", &buf)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHTTPList(t *testing.T) {
	srv := newMirror(t)
	h, err := NewHTTP(srv.URL+"/arxiv/", srv.Client(), discardLogger())
	require.NoError(t, err)

	keys, err := h.List(context.Background(), "pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf/arXiv_pdf_2003_001.tar", "pdf/arXiv_pdf_2003_002.tar"}, keys)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	m.Put("pdf/a.tar", []byte("abc"))

	var buf bytes.Buffer
	_, err := m.Fetch(context.Background(), "pdf/a.tar", &buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", buf.String())
	assert.Equal(t, 1, m.Fetches("pdf/a.tar"))

	_, err = m.Fetch(context.Background(), "pdf/b.tar", &buf)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := m.List(context.Background(), "pdf/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf/a.tar"}, keys)
}
