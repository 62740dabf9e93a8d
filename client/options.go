package client

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.Named("a2a-client")
		}
	}
}

// WithHTTPClient sets a custom HTTP client. Defaults to http.DefaultClient.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithHeader adds a header sent on every request (e.g. authorization).
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithInterceptors appends interceptors to the call chain.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(c *Client) {
		c.interceptors = append(c.interceptors, interceptors...)
	}
}

// WithPreferredTransport forces a transport variant ("JSONRPC" or
// "HTTP+JSON") instead of following the card's preference. Selection fails
// when the agent does not advertise it.
func WithPreferredTransport(transport string) Option {
	return func(c *Client) {
		c.preferredTransport = transport
	}
}

// WithPollInterval sets the tasks/get polling cadence used by
// WaitForCompletion. Defaults to one second.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}
