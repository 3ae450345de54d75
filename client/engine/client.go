package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Request describes one call against the target host.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte

	// Name groups the request in the statistics. Defaults to "METHOD path".
	Name string
}

func (r Request) statsName() string {
	if r.Name != "" {
		return r.Name
	}

	return r.Method + " " + r.Path
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// OK reports whether the response counts as a successful request.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode > 0 && r.StatusCode < 400
}

// HTTPClient sends requests to the target host and records every outcome
// in the StatsCollector.
type HTTPClient struct {
	base       *url.URL
	httpClient *http.Client
	collector  StatsCollector
	logger     *slog.Logger
}

// NewHTTPClient creates a client for cfg.Host.
func NewHTTPClient(cfg *Config, collector StatsCollector, logger *slog.Logger) (*HTTPClient, error) {
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", cfg.Host, err)
	}

	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid host %q: scheme and host are required", cfg.Host)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = max(cfg.Users, transport.MaxIdleConnsPerHost)

	return &HTTPClient{
		base: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		collector: collector,
		logger:    logger,
	}, nil
}

// URL resolves path against the target host.
func (c *HTTPClient) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimRight(c.base.String(), "/") + path
	}

	if strings.HasPrefix(path, "/") && c.base.Path != "" && c.base.Path != "/" {
		ref.Path = strings.TrimRight(c.base.Path, "/") + ref.Path
	}

	return c.base.ResolveReference(ref).String()
}

// Do sends req. A transport failure is recorded and returned as a
// *RequestError. HTTP error statuses are recorded as failures but are not
// errors; check Response.OK. Requests abandoned because ctx ended are not
// recorded at all.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	name := req.statsName()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.URL(req.Path), body)
	if err != nil {
		return nil, &RequestError{Name: name, Err: err}
	}

	for k, v := range req.Header {
		for _, vv := range v {
			httpReq.Header.Add(k, vv)
		}
	}

	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		latency := time.Since(start)

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, &RequestError{Name: name, Err: ctx.Err()}
		}

		c.collector.AddSample(Sample{Name: name, Latency: latency, Err: trimURLError(err)})
		c.logger.Debug("Request failed", slog.String("name", name), slog.String("error", err.Error()))

		return nil, &RequestError{Name: name, Err: err}
	}

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, &RequestError{Name: name, Err: ctx.Err()}
		}

		c.collector.AddSample(Sample{Name: name, Latency: latency, StatusCode: resp.StatusCode, Err: err})

		return nil, &RequestError{Name: name, Err: err}
	}

	c.collector.AddSample(Sample{Name: name, Latency: latency, StatusCode: resp.StatusCode, Size: len(respBody)})

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		Latency:    latency,
	}, nil
}

// HTTPClient exposes the underlying client, e.g. for the metrics poller.
func (c *HTTPClient) HTTPClient() *http.Client {
	return c.httpClient
}

// Stop closes idle keep-alive connections.
func (c *HTTPClient) Stop() {
	c.httpClient.CloseIdleConnections()
}

// trimURLError drops the URL from *url.Error so failures group by cause.
func trimURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}

	return err
}
