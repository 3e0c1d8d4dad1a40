package preview

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// MaxRedirects is the longest redirect chain a fetch follows.
	MaxRedirects = 5
	// ConnectTimeout bounds dialing, the TLS handshake and the wait for
	// response headers.
	ConnectTimeout = 5 * time.Second
	// PageLimitBytes caps the download of any non-image response. Metadata
	// tags live in the document head, well inside this window.
	PageLimitBytes int64 = 50 * 1024
	// DefaultUserAgent identifies preview requests.
	DefaultUserAgent = "Mozilla/5.0 (compatible; Relay link preview; +https://github.com/memohai/relay)"

	readChunkBytes = 32 * 1024
)

// Document is the outcome of one bounded GET. Body is kept for non-image
// responses only.
type Document struct {
	URL         string
	ContentType string
	Size        int64
	Body        []byte
}

// IsImage reports whether the document declared an image/* content type.
func (d Document) IsImage() bool {
	return isImageType(d.ContentType)
}

// FetcherOptions configure a Fetcher.
type FetcherOptions struct {
	// MaxImageBytes caps image/* responses.
	MaxImageBytes int64
	UserAgent     string
	// SharedTimeout bounds a download shared by concurrent callers; zero
	// uses DefaultJobTimeout.
	SharedTimeout time.Duration
	// Client overrides the default bounded client. A nil CheckRedirect is
	// replaced with the MaxRedirects policy.
	Client *http.Client
}

// Fetcher performs bounded, streaming GETs. Concurrent requests for the same
// URL share one download.
type Fetcher struct {
	client        *http.Client
	userAgent     string
	maxImageBytes int64
	sharedTimeout time.Duration
	group         singleflight.Group
}

// NewFetcher builds a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		client = NewHTTPClient()
	} else if client.CheckRedirect == nil {
		c := *client
		c.CheckRedirect = limitRedirects
		client = &c
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	sharedTimeout := opts.SharedTimeout
	if sharedTimeout <= 0 {
		sharedTimeout = DefaultJobTimeout
	}
	return &Fetcher{
		client:        client,
		userAgent:     ua,
		maxImageBytes: opts.MaxImageBytes,
		sharedTimeout: sharedTimeout,
	}
}

// NewHTTPClient returns a client with the connect and redirect bounds used
// for previews.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ConnectTimeout,
			MaxIdleConns:          32,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: limitRedirects,
	}
}

func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) > MaxRedirects {
		return ErrTooManyRedirects
	}
	return nil
}

// MaxImageBytes returns the image cap.
func (f *Fetcher) MaxImageBytes() int64 {
	return f.maxImageBytes
}

// Get downloads rawURL. The request is aborted, and ErrTooLarge returned, as
// soon as the declared or streamed size passes the cap for its content type.
// Concurrent callers share one download that runs detached from any single
// caller and is bounded by the shared timeout; each caller still returns as
// soon as its own ctx is done.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (Document, error) {
	ch := f.group.DoChan(rawURL, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.sharedTimeout)
		defer cancel()
		return f.get(shared, rawURL)
	})
	select {
	case <-ctx.Done():
		return Document{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Document{}, res.Err
		}
		return res.Val.(Document), nil
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (Document, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Document{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	contentType := mediaType(resp.Header.Get("Content-Type"))
	image := isImageType(contentType)
	limit := PageLimitBytes
	if image {
		limit = f.maxImageBytes
	}
	if resp.ContentLength > limit {
		return Document{}, fmt.Errorf("%w: declared %d, max %d bytes", ErrTooLarge, resp.ContentLength, limit)
	}

	var body bytes.Buffer
	var sink io.Writer = &body
	if image {
		sink = io.Discard
	}
	read, err := copyWithLimit(sink, resp.Body, limit, cancel)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		URL:         rawURL,
		ContentType: contentType,
		Size:        max(resp.ContentLength, read),
	}
	if !image {
		doc.Body = body.Bytes()
	}
	return doc, nil
}

// copyWithLimit streams src into dst and calls abort once more than limit
// bytes have arrived.
func copyWithLimit(dst io.Writer, src io.Reader, limit int64, abort context.CancelFunc) (int64, error) {
	buf := make([]byte, readChunkBytes)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				abort()
				return total, fmt.Errorf("%w: max %d bytes", ErrTooLarge, limit)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read body: %w", err)
		}
	}
}

func mediaType(header string) string {
	mime := strings.TrimSpace(header)
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return strings.ToLower(mime)
}

func isImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") && len(contentType) > len("image/")
}
