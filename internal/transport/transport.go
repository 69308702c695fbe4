// Package transport issues JSON requests against the todo backend.
//
// A Client attaches ambient credentials to every request (its cookie jar,
// plus an optional bearer token source), bounds every call with a
// timeout, and maps every failure to an *apperr.Error: non-2xx responses
// by status code with the server's message, timeouts to RequestTimeout,
// and network failures to TransportFailure.
//
// Request URLs are built by concatenating the base URL and the path so
// that a base carrying a path prefix ("http://host/api") is preserved.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/idilsaglam/tada/internal/apperr"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

// CredentialSource supplies an Authorization header value for each
// request. An empty value means no header.
type CredentialSource interface {
	Authorization(ctx context.Context) (string, error)
}

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8080/api".
	BaseURL string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient is used for all requests. If nil, a client with a
	// cookie jar is created.
	HTTPClient *http.Client
	// Credentials, if set, is consulted before every request.
	Credentials CredentialSource
	// Header is added to every request (e.g. an API key).
	Header http.Header
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL     string
	timeout     time.Duration
	httpClient  *http.Client
	credentials CredentialSource
	header      http.Header
	logger      *slog.Logger
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("transport: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transport: BaseURL %q must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("transport: cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     timeout,
		httpClient:  httpClient,
		credentials: cfg.Credentials,
		header:      cfg.Header.Clone(),
		logger:      logger,
	}, nil
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET and decodes the response into out (if non-nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodDelete, path, query, nil, out)
}

// Do performs one request. On 2xx the body is decoded into out when out
// is non-nil. Every returned error is an *apperr.Error.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, "could not encode request", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, method, requestURL, bodyReader)
	if err != nil {
		return apperr.Wrap(apperr.KindTransportFailure, err.Error(), err)
	}

	requestID := uuid.NewString()
	request.Header.Set("Accept", "application/json")
	request.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.header {
		for _, v := range vs {
			request.Header.Add(k, v)
		}
	}
	if c.credentials != nil {
		auth, err := c.credentials.Authorization(callCtx)
		if err != nil {
			return apperr.Wrap(apperr.KindUnauthorized, "could not load credentials", err)
		}
		if auth != "" {
			request.Header.Set("Authorization", auth)
		}
	}

	start := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return c.networkError(ctx, callCtx, method, path, requestID, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return c.networkError(ctx, callCtx, method, path, requestID, err)
	}

	c.logger.Debug("request completed",
		"method", method,
		"path", path,
		"status", response.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(responseBody, out); err != nil {
			return &apperr.Error{
				Kind:    apperr.KindServer,
				Status:  response.StatusCode,
				Message: "malformed response from server",
				Err:     err,
			}
		}
		return nil
	}

	return statusError(response.StatusCode, responseBody)
}

// networkError distinguishes our own timeout from caller cancellation and
// plain network failure.
func (c *Client) networkError(parent, callCtx context.Context, method, path, requestID string, err error) error {
	c.logger.Warn("request failed",
		"method", method,
		"path", path,
		"request_id", requestID,
		"error", err,
	)
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindRequestTimeout, "Request timeout", err)
	}
	if errors.Is(parent.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindRequestTimeout, "Request timeout", err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() && parent.Err() == nil {
		return apperr.Wrap(apperr.KindRequestTimeout, "Request timeout", err)
	}
	msg := err.Error()
	if ue != nil && ue.Err != nil {
		msg = ue.Err.Error()
	}
	return apperr.Wrap(apperr.KindTransportFailure, msg, err)
}

// errorBody covers the error shapes seen from the todo API and from
// GoTrue-style identity providers.
type errorBody struct {
	Error            json.RawMessage `json:"error"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	ErrorDescription string          `json:"error_description"`
}

func (b errorBody) text() string {
	if len(b.Error) > 0 {
		var s string
		if err := json.Unmarshal(b.Error, &s); err == nil && s != "" {
			if b.ErrorDescription != "" {
				return b.ErrorDescription
			}
			return s
		}
	}
	for _, s := range []string{b.Message, b.Msg, b.ErrorDescription} {
		if s != "" {
			return s
		}
	}
	return ""
}

func statusError(status int, body []byte) *apperr.Error {
	msg := ""
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		msg = eb.text()
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = "Request failed"
	}
	kind := apperr.KindForStatus(status)
	return &apperr.Error{Kind: kind, Status: status, Message: msg}
}
