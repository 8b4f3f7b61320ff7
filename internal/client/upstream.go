// Package client provides the shared outbound HTTP client for backend calls.
package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"service-gateway/internal/config"
	"service-gateway/internal/metrics"
	"service-gateway/internal/model"
)

// DefaultTimeout bounds a backend call when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// UpstreamClient sends requests to backends. One instance is shared by every
// forwarding call for the lifetime of the process.
type UpstreamClient struct {
	httpClient *http.Client
	transport  *http.Transport
	logger     *slog.Logger
	metrics    *metrics.Metrics
	closeOnce  sync.Once
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and a
// bounded per-call timeout.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// Redirects are the backend's answer and go back to the caller as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		transport: transport,
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
	}
}

// Send issues exactly one attempt of req and reads the full response body.
// The provided context controls the lifetime of the call: when it is canceled
// (e.g. the inbound client disconnects) the backend call is abandoned.
// Failures are returned as *UpstreamError.
func (c *UpstreamClient) Send(ctx context.Context, req *model.OutboundRequest) (*model.OutboundResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &UpstreamError{Kind: KindProtocol, Backend: req.Backend, Cause: err}
	}
	httpReq.Header = req.Header

	c.logger.Debug("upstream request",
		"backend", req.Backend,
		"method", req.Method,
		"path", httpReq.URL.Path,
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.fail(req.Backend, method, start, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The body is drained before the pooled connection is released; a body
	// that cannot be read in full is a failed call, not a short response.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(req.Backend, method, start, err)
	}
	body, err = decodeContent(resp.Header, body)
	if err != nil {
		return nil, c.fail(req.Backend, method, start, err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method, req.Backend).Observe(time.Since(start).Seconds())
		c.metrics.UpstreamResponses.WithLabelValues(method, req.Backend, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.OutboundResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *UpstreamClient) fail(backend, method string, start time.Time, err error) error {
	uerr := newUpstreamError(backend, err)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method, backend).Observe(time.Since(start).Seconds())
		c.metrics.UpstreamErrors.WithLabelValues(backend, string(uerr.Kind)).Inc()
	}
	return uerr
}

// Timeout returns the per-call timeout.
func (c *UpstreamClient) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// Close releases pooled connections. It is safe to call more than once;
// only the first call has an effect.
func (c *UpstreamClient) Close() {
	c.closeOnce.Do(func() {
		c.transport.CloseIdleConnections()
		c.logger.Info("upstream client closed")
	})
}
