package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(maxImageBytes int64) *Fetcher {
	return NewFetcher(FetcherOptions{MaxImageBytes: maxImageBytes})
}

func TestFetcherGetPage(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "Text/HTML; charset=utf-8")
		_, _ = w.Write([]byte("<title>hi</title>"))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(1024).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "text/html", doc.ContentType)
	assert.Equal(t, "<title>hi</title>", string(doc.Body))
	assert.Equal(t, int64(len("<title>hi</title>")), doc.Size)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.False(t, doc.IsImage())
}

func TestFetcherLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		declared    bool
		bytes       int
		maxImage    int64
		wantErr     error
	}{
		{name: "page at cap", contentType: "text/html", bytes: int(PageLimitBytes)},
		{name: "page over cap streamed", contentType: "text/html", bytes: int(PageLimitBytes) + 1, wantErr: ErrTooLarge},
		{name: "page over cap declared", contentType: "text/html", declared: true, bytes: int(PageLimitBytes) + 1, wantErr: ErrTooLarge},
		{name: "unknown type uses page cap", contentType: "application/octet-stream", bytes: int(PageLimitBytes) + 10, wantErr: ErrTooLarge},
		{name: "image under image cap", contentType: "image/png", bytes: 100 * 1024, maxImage: 200 * 1024},
		{name: "image over image cap", contentType: "image/png", bytes: 300 * 1024, maxImage: 200 * 1024, wantErr: ErrTooLarge},
		{name: "image declared over cap", contentType: "image/jpeg", declared: true, bytes: 2048, maxImage: 1024, wantErr: ErrTooLarge},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := strings.Repeat("a", tt.bytes)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				if tt.declared {
					w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
				} else if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
				_, _ = w.Write([]byte(payload))
			}))
			defer srv.Close()

			doc, err := newTestFetcher(tt.maxImage).Get(context.Background(), srv.URL)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(tt.bytes), doc.Size)
			if doc.IsImage() {
				assert.Nil(t, doc.Body)
			}
		})
	}
}

func TestFetcherAbortsStreamingBody(t *testing.T) {
	t.Parallel()

	stopped := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		flusher := w.(http.Flusher)
		chunk := []byte(strings.Repeat("x", 1024))
		written := 0
		defer func() { stopped <- written }()
		for written < 64*1024*1024 {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
			written += len(chunk)
			select {
			case <-r.Context().Done():
				return
			default:
			}
		}
	}))
	defer srv.Close()

	_, err := newTestFetcher(0).Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrTooLarge)

	select {
	case written := <-stopped:
		assert.Less(t, written, 64*1024*1024)
	case <-time.After(5 * time.Second):
		t.Fatalf("server kept streaming after abort")
	}
}

func TestFetcherSharedDownloadKeepsCallerDeadlines(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	arrived := make(chan struct{}, 4)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		arrived <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<title>slow</title>"))
	}))
	defer srv.Close()

	f := newTestFetcher(0)

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	shortErr := make(chan error, 1)
	go func() {
		_, err := f.Get(shortCtx, srv.URL)
		shortErr <- err
	}()
	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatalf("download never started")
	}

	type outcome struct {
		doc Document
		err error
	}
	long := make(chan outcome, 1)
	go func() {
		doc, err := f.Get(context.Background(), srv.URL)
		long <- outcome{doc: doc, err: err}
	}()

	select {
	case err := <-shortErr:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatalf("short caller ignored its deadline")
	}

	// Give the second caller time to join the download still in flight.
	time.Sleep(200 * time.Millisecond)
	close(release)

	select {
	case got := <-long:
		require.NoError(t, got.err)
		assert.Equal(t, "<title>slow</title>", string(got.doc.Body))
	case <-time.After(5 * time.Second):
		t.Fatalf("second caller never got the shared download")
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcherStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(1024).Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrBadStatus)
}

func TestFetcherRedirects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hops    int
		wantErr bool
	}{
		{name: "five hops followed", hops: MaxRedirects},
		{name: "six hops rejected", hops: MaxRedirects + 1, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/"))
				if n < tt.hops {
					http.Redirect(w, r, fmt.Sprintf("/%d", n+1), http.StatusFound)
					return
				}
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<title>end</title>"))
			}))
			defer srv.Close()

			_, err := newTestFetcher(1024).Get(context.Background(), srv.URL+"/0")
			if tt.wantErr {
				require.ErrorIs(t, err, ErrTooManyRedirects)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMediaType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "text/html", mediaType(" text/html ; charset=utf-8"))
	assert.Equal(t, "image/png", mediaType("IMAGE/PNG"))
	assert.Equal(t, "", mediaType(""))
	assert.True(t, isImageType("image/webp"))
	assert.False(t, isImageType("image/"))
	assert.False(t, isImageType("text/html"))
}
