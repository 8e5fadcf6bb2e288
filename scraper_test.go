package main

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

func Test_collyFetcher(t *testing.T) {
	htmlContent := readTestdata(t, "category.html")

	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/categories/1":
			gotUA = r.Header.Get("User-Agent")
			w.Write(htmlContent)
		case "/slow":
			time.Sleep(500 * time.Millisecond)
			w.Write(htmlContent)
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := newCollyFetcher(100 * time.Millisecond)

	t.Run("returns page markup", func(t *testing.T) {
		html, err := f.Fetch(context.Background(), server.URL+"/categories/1")
		require.NoError(t, err)
		assert.Equal(t, string(htmlContent), html)
		assert.Equal(t, userAgent, gotUA)
	})

	t.Run("same url can be fetched again", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), server.URL+"/categories/1")
		require.NoError(t, err)
		_, err = f.Fetch(context.Background(), server.URL+"/categories/1")
		require.NoError(t, err)
	})

	t.Run("non success status", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), server.URL+"/missing")
		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), server.URL+"/slow")
		assert.Error(t, err)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), server.URL+"/empty")
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.Fetch(ctx, server.URL+"/categories/1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func Test_scrapeSource(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://example.com/categories/1": string(readTestdata(t, "category.html")),
	}}

	records, rows, err := scrapeSource(context.Background(), f, "https://example.com/categories/1")
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Len(t, rows, 4)

	_, _, err = scrapeSource(context.Background(), f, "https://example.com/categories/2")
	assert.ErrorIs(t, err, ErrNoDocument)
}
