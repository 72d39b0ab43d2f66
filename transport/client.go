package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/vinayprograms/servicemonitor/errors"
	"github.com/vinayprograms/servicemonitor/telemetry"
)

// HeaderAPIKey carries the dashboard credential.
const HeaderAPIKey = "X-API-Key"

// DefaultTimeout bounds a single request when the caller sets no deadline.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// NewHTTPClient returns an http.Client with connection pooling and HTTP/2
// enabled on its transport. timeout <= 0 uses DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	// ConfigureTransports only fails if t was already configured for h2.
	_, _ = http2.ConfigureTransports(t)
	return &http.Client{Transport: t, Timeout: timeout}
}

// Client posts JSON to one dashboard.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Client for the dashboard at baseURL.
// A nil httpClient gets NewHTTPClient(DefaultTimeout).
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// BaseURL returns the dashboard base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON marshals body, POSTs it to path, and decodes the response into
// out. When out is nil the response body is discarded.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding request body", errors.WithPath(path))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building request", errors.WithPath(path))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAPIKey, c.apiKey)
	telemetry.InjectHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return requestError(ctx, err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.TransportFailure(
			fmt.Sprintf("dashboard returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			errors.WithStatusCode(resp.StatusCode),
			errors.WithPath(path),
		)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestError(ctx, err, path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.ProtocolFailure("empty response body", errors.WithPath(path))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.ProtocolFailure("malformed response body",
			errors.WithPath(path), errors.WithCause(err))
	}
	return nil
}

func requestError(ctx context.Context, err error, path string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, "request aborted", errors.WithPath(path))
	}
	// Includes http.Client.Timeout expiring while ctx is still live.
	return errors.TransportFailure("request failed", errors.WithPath(path), errors.WithCause(err))
}
