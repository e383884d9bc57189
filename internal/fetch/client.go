package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const userAgent = "vapr-companion/fetch"

// Options configures the HTTP client.
type Options struct {
	// ConnectTimeout bounds dialing the remote host.
	// Default: 30s
	ConnectTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers. The body
	// itself has no deadline; game archives can take hours.
	// Default: 30s
	ResponseHeaderTimeout time.Duration

	// Transport replaces the base round tripper. Used by tests.
	Transport http.RoundTripper
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:        30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// Response is an open transfer. The caller must close Body.
type Response struct {
	Body io.ReadCloser

	// Offset is the byte position the body starts at. It is zero when the
	// server ignored the requested range.
	Offset int64

	// Remaining is the response Content-Length, or -1 when unknown.
	Remaining int64
}

// Total is Offset+Remaining, or 0 while the size is not determined.
func (r *Response) Total() int64 {
	if r.Remaining < 0 {
		return 0
	}

	return r.Offset + r.Remaining
}

// Client performs resumable GETs for large archives.
type Client struct {
	client *http.Client
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
			ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true, // byte offsets must refer to the raw body
		}
	}

	return &Client{
		client: &http.Client{Transport: otelhttp.NewTransport(base)},
	}
}

// Get requests url starting at offset.
func (c *Client) Get(ctx context.Context, url string, offset int64) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "request", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, _, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			resp.Body.Close()

			return nil, &NetworkError{
				Operation:  "request",
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("unexpected content range %q for offset %d", resp.Header.Get("Content-Range"), offset),
			}
		}
	case resp.StatusCode == http.StatusOK:
		offset = 0
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 &&
		completeLength(resp.Header.Get("Content-Range")) == offset:
		// The partial file already holds every byte.
		resp.Body.Close()

		return &Response{Body: http.NoBody, Offset: offset, Remaining: 0}, nil
	default:
		resp.Body.Close()

		return nil, &NetworkError{
			Operation:  "request",
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	return &Response{
		Body:      resp.Body,
		Offset:    offset,
		Remaining: resp.ContentLength,
	}, nil
}

// parseContentRange reads "bytes <first>-<last>/<size>". size is -1 when the
// header carries "*".
func parseContentRange(v string) (first, size int64, ok bool) {
	spec, found := strings.CutPrefix(v, "bytes ")
	if !found {
		return 0, 0, false
	}

	rng, total, found := strings.Cut(spec, "/")
	if !found {
		return 0, 0, false
	}

	firstStr, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}

	first, err := strconv.ParseInt(strings.TrimSpace(firstStr), 10, 64)
	if err != nil || first < 0 {
		return 0, 0, false
	}

	size = -1
	if total != "*" {
		if size, err = strconv.ParseInt(strings.TrimSpace(total), 10, 64); err != nil {
			return 0, 0, false
		}
	}

	return first, size, true
}

// completeLength reads the size from an unsatisfied range reply,
// "bytes */<size>", or returns -1.
func completeLength(v string) int64 {
	total, found := strings.CutPrefix(v, "bytes */")
	if !found {
		return -1
	}

	size, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return -1
	}

	return size
}
