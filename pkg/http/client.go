package http

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientOption configures Client.
type ClientOption func(*Client)

// Client is a thin resty wrapper bound to one base URL.
type Client struct {
	rc      *resty.Client
	timeout time.Duration
	baseURL string
	headers map[string]string
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout: 30 * time.Second,
		headers: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.rc = resty.New().
		SetBaseURL(c.baseURL).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetHeaders(c.headers)
	return c
}

// Get performs a GET and reads the body. Only transport failures, including
// timeouts, are returned as errors; callers interpret the status.
func (c *Client) Get(ctx context.Context, path string, query map[string]string) (*Response, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return &Response{Status: resp.StatusCode(), Body: resp.Body()}, nil
}

// WithTimeout sets the per-request deadline.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		if value != "" {
			c.headers[key] = value
		}
	}
}
