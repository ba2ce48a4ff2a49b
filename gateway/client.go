// Package gateway performs JSON calls against a remote REST service and
// translates transport failures and non-2xx responses into typed errors.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	http    *http.Client
	baseURL *url.URL
	timeout time.Duration
	headers http.Header
	logger  zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds every call. Zero or negative values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the service rooted at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: base URL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: parse base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("gateway: base URL %q must be absolute", baseURL)
	}

	c := &Client{
		http:    http.DefaultClient,
		baseURL: u,
		timeout: DefaultTimeout,
		headers: http.Header{},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// URL resolves p against the base URL and attaches q
func (c *Client) URL(p string, q url.Values) string {
	u := *c.baseURL
	u.Path = path.Join("/", u.Path, p)
	u.RawQuery = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Do sends body (if any) as JSON and decodes the response into out (if
// any). An empty response body leaves out untouched.
func (c *Client) Do(ctx context.Context, method, p string, q url.Values, body, out any) error {
	target := c.URL(p, q)

	var reader io.Reader
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s", method, target)
		}
		reader = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, target)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Str("method", method).Str("url", target).Err(err).Msg("remote call failed")
		return newNetworkError(method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return newNetworkError(method, target, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("remote call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newRemoteError(method, target, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, target)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, p string, q url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, p, q, nil, out)
}

func (c *Client) Post(ctx context.Context, p string, body, out any) error {
	return c.Do(ctx, http.MethodPost, p, nil, body, out)
}

func (c *Client) Put(ctx context.Context, p string, body, out any) error {
	return c.Do(ctx, http.MethodPut, p, nil, body, out)
}

func (c *Client) Patch(ctx context.Context, p string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, p, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, p string, out any) error {
	return c.Do(ctx, http.MethodDelete, p, nil, nil, out)
}
