// Package upstream is the per-request Nextcloud HTTP client. A fresh client
// is built for every inbound request from the caller's resolved credential;
// nothing here is shared across users.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextbridge/nextcloud-mcp/pkg/errors"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

const (
	// maxRetryAttempts caps 429 retries, initial attempt included.
	maxRetryAttempts = 5
	// defaultRetryDelay is the fixed wait between 429 retries.
	defaultRetryDelay = 5 * time.Second

	maxErrorBodySize = 4096
)

var tracer = otel.Tracer("github.com/nextbridge/nextcloud-mcp/pkg/upstream")

// Credential authenticates one outbound request.
type Credential interface {
	apply(req *http.Request)
}

// BasicAuth authenticates with a username/password pair.
type BasicAuth struct {
	Username string
	Password string
}

func (c BasicAuth) apply(req *http.Request) {
	req.SetBasicAuth(c.Username, c.Password)
}

// Anonymous sends no credentials. Used for public endpoints such as the
// status probe.
type Anonymous struct{}

func (Anonymous) apply(*http.Request) {}

// Bearer authenticates with an access token.
type Bearer struct {
	Token string
}

func (c Bearer) apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.Token)
}

// CallObserver receives one callback per completed upstream call.
type CallObserver func(app, method string, status int, d time.Duration)

// Client issues authenticated requests against one Nextcloud deployment.
type Client struct {
	baseURL    string
	cred       Credential
	httpClient *http.Client
	observe    CallObserver
	username   string // DAV path user, set in Basic modes
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver installs a per-call metrics callback.
func WithObserver(fn CallObserver) Option {
	return func(c *Client) { c.observe = fn }
}

// WithDAVUser sets the username used in WebDAV paths. Required in Basic
// modes; in OAuth mode the token's sub is used instead.
func WithDAVUser(username string) Option {
	return func(c *Client) { c.username = username }
}

// WithRetryDelay overrides the fixed wait between 429 retries.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New creates a client for the given deployment and credential.
func New(baseURL string, cred Credential, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		cred:       cred,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a fully read upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// request carries one upstream call through the retry loop.
type request struct {
	app    string // app label for metrics ("webdav", "ocs", "notes", ...)
	method string
	path   string
	header http.Header
	body   []byte
}

// do performs one upstream call with 429-aware retry. 404 comes back as a
// routine not-found error; other error statuses are terminal and carry the
// (truncated) body.
func (c *Client) do(ctx context.Context, r request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "upstream."+r.app,
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("url.path", r.path),
		))
	defer span.End()

	start := time.Now()
	status := 0
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if c.observe != nil {
			c.observe(r.app, r.method, status, time.Since(start))
		}
	}()

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		resp, err := c.doOnce(ctx, r)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		status = resp.Status

		switch {
		case resp.Status == http.StatusTooManyRequests:
			logger.Warnf("Upstream rate limited %s %s (attempt %d/%d)",
				r.method, r.path, attempt, maxRetryAttempts)
			return nil, errors.NewRateLimitedError(int(c.retryDelay.Seconds()))
		case resp.Status == http.StatusNotFound:
			return nil, backoff.Permanent(errors.NewNotFoundError(
				fmt.Sprintf("%s %s", r.method, r.path), nil))
		case resp.Status >= 400:
			return nil, backoff.Permanent(errors.NewUpstreamHTTPError(
				resp.Status, truncateBody(resp.Body)))
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(maxRetryAttempts),
	)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, r request) (*Response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.cred.apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodySize {
		body = body[:maxErrorBodySize]
	}
	return string(body)
}
