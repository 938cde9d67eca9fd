package submission

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader correlates a submission with server-side logs.
const RequestIDHeader = "X-Request-ID"

// maxResponseBody caps how much of the server reply is kept for display.
const maxResponseBody = 64 << 10

// Response is what the server answered to a submission.
type Response struct {
	StatusCode int
	Body       string
	RequestID  string
}

// Client posts one serialized form. It is acquired per submission and
// closed when the submission ends.
type Client interface {
	Post(ctx context.Context, body []byte, contentType string) (*Response, error)
	Close() error
}

// Dialer acquires a Client for a submit URL.
type Dialer interface {
	Open(submitURL string) (Client, error)
}

// DialerFunc is a function adapter for Dialer.
type DialerFunc func(submitURL string) (Client, error)

func (f DialerFunc) Open(submitURL string) (Client, error) {
	return f(submitURL)
}

// HTTPDialerOption configures an HTTPDialer.
type HTTPDialerOption func(*HTTPDialer)

// WithHTTPClient overrides the client used for submissions.
func WithHTTPClient(c *http.Client) HTTPDialerOption {
	return func(d *HTTPDialer) { d.httpClient = c }
}

// WithTimeout sets the timeout of the default client.
func WithTimeout(timeout time.Duration) HTTPDialerOption {
	return func(d *HTTPDialer) { d.timeout = timeout }
}

// HTTPDialer opens plain HTTP(S) clients.
type HTTPDialer struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPDialer creates a dialer with a 30 second timeout unless overridden.
func NewHTTPDialer(opts ...HTTPDialerOption) *HTTPDialer {
	d := &HTTPDialer{timeout: 30 * time.Second}
	for _, o := range opts {
		o(d)
	}
	return d
}

// validateSubmitURL checks that the URL is non-empty and uses http or https.
func validateSubmitURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("submit url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid submit url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("submit url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("submit url %q has no host", rawURL)
	}
	return nil
}

func (d *HTTPDialer) Open(submitURL string) (Client, error) {
	if err := validateSubmitURL(submitURL); err != nil {
		return nil, err
	}
	hc := d.httpClient
	owned := false
	if hc == nil {
		hc = &http.Client{Timeout: d.timeout}
		owned = true
	}
	return &httpClient{url: submitURL, http: hc, owned: owned}, nil
}

type httpClient struct {
	url   string
	http  *http.Client
	owned bool
}

func (c *httpClient) Post(ctx context.Context, body []byte, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	rid := uuid.New().String()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(RequestIDHeader, rid)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: string(data), RequestID: rid}, nil
}

// Close drops idle connections of clients this dialer created.
func (c *httpClient) Close() error {
	if c.owned {
		c.http.CloseIdleConnections()
	}
	return nil
}
