package tailscale

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client defaults.
const (
	// DefaultBaseURL is the public Tailscale control plane.
	DefaultBaseURL = "https://api.tailscale.com"

	// DefaultTimeout bounds every request.
	DefaultTimeout = 30 * time.Second

	// apiPrefix is prepended to every request path.
	apiPrefix = "/api/v2"

	// maxResponseSize caps how much of a response body is read (8MB).
	maxResponseSize = 8 << 20
)

// HTTPDoer is the subset of *http.Client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds optional settings for a Client.
type ClientConfig struct {
	// BaseURL is the API root without the /api/v2 suffix.
	// Default: DefaultBaseURL.
	BaseURL string

	// Timeout bounds each call, including reading the body.
	// Default: DefaultTimeout.
	Timeout time.Duration

	// HTTPClient performs the requests. Default: a new http.Client.
	HTTPClient HTTPDoer
}

// Client talks to the Tailscale v2 REST API for a single tailnet.
//
// Every call is single-shot: there is no internal retry. Callers decide
// what a failure means (the poller counts consecutive failures).
//
// Thread Safety: safe for concurrent use.
type Client struct {
	creds      Credentials
	baseURL    string
	timeout    time.Duration
	httpClient HTTPDoer
}

// NewClient creates a client bound to the given credentials.
func NewClient(creds Credentials, cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		creds:      creds,
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// TailnetID returns the tailnet this client reads.
func (c *Client) TailnetID() string {
	return c.creds.TailnetID
}

// Validate reports whether the credentials can list devices.
// Any failure yields false; the error itself is discarded.
func (c *Client) Validate(ctx context.Context) bool {
	_, err := c.ListDevices(ctx)
	return err == nil
}

// Validate is a convenience for checking credentials before they are stored.
func Validate(ctx context.Context, creds Credentials, cfg ClientConfig) bool {
	if !creds.Valid() {
		return false
	}
	return NewClient(creds, cfg).Validate(ctx)
}

// do performs one request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: building request: %w", ErrTransport, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %s: reading body: %w", ErrTransport, op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newAPIError(op, resp.StatusCode, body)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, op, err)
	}
	return nil
}

// tailnetPath builds /tailnet/{id}/{suffix}.
func (c *Client) tailnetPath(suffix string) string {
	return "/tailnet/" + url.PathEscape(c.creds.TailnetID) + "/" + suffix
}

// devicePath builds /device/{nodeId}[/suffix].
func devicePath(nodeID, suffix string) string {
	p := "/device/" + url.PathEscape(nodeID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}
