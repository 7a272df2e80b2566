package api

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

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every request when Config.Timeout is zero
	DefaultTimeout = 10 * time.Second

	errorBodyLimit = 256
)

// Config contains the settings for a Client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// LogRequests logs method, URL and status of every call at debug level
	LogRequests bool
	// Transport overrides the underlying round tripper. It is still wrapped
	// with OpenTelemetry instrumentation.
	Transport http.RoundTripper
}

// Client talks to the climate backend REST API. Construct one with New and
// pass it to every consumer.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	logger      *zap.Logger
	logRequests bool
	requests    metric.Int64Counter
}

// New validates cfg and builds a Client
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q: must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	requests, err := otel.Meter("climatetwin/api").Int64Counter("climate_twin.api.requests",
		metric.WithDescription("Backend API requests by path and outcome"))
	if err != nil {
		logger.Warn("failed to create API request counter", zap.Error(err))
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(base,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "api " + r.Method + " " + r.URL.Path
				}),
			),
		},
		logger:      logger,
		logRequests: cfg.LogRequests,
		requests:    requests,
	}, nil
}

// BaseURL returns the resolved base URL without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get issues a GET and decodes the JSON body into result
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.doRequest(ctx, http.MethodGet, path, query, nil, result)
}

// doRequest performs one API call. Query values that are empty are dropped.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, result any) error {
	reqURL := c.baseURL + path
	if encoded := encodeQuery(query); encoded != "" {
		reqURL += "?" + encoded
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindDecode, Method: method, Path: path, Message: "failed to encode request body", Err: err}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return &Error{Kind: KindTransport, Method: method, Path: path, Message: "failed to create request", Err: err}
	}

	requestID := uuid.NewString()
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(ctx, path, "transport")
		c.logRequest(method, reqURL, 0, time.Since(start), requestID)
		return &Error{Kind: KindTransport, Method: method, Path: path, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	c.logRequest(method, reqURL, resp.StatusCode, time.Since(start), requestID)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record(ctx, path, "status")
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &Error{
			Kind:       KindStatus,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			c.record(ctx, path, "decode")
			return &Error{Kind: KindDecode, Method: method, Path: path, Message: "failed to decode response", Err: err}
		}
	}

	c.record(ctx, path, "ok")
	return nil
}

func (c *Client) logRequest(method, reqURL string, status int, elapsed time.Duration, requestID string) {
	if !c.logRequests {
		return
	}
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("url", reqURL),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.String("request_id", requestID),
	)
}

func (c *Client) record(ctx context.Context, path, outcome string) {
	if c.requests == nil {
		return
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	))
}

// errorMessage prefers the backend's {"detail": "..."} message over the raw body
func errorMessage(raw []byte, status string) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return status
}

func encodeQuery(query url.Values) string {
	clean := url.Values{}
	for key, values := range query {
		for _, v := range values {
			if v != "" {
				clean.Add(key, v)
			}
		}
	}
	return clean.Encode()
}
