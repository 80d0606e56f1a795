package providers

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

	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

// APIError is a non-2xx response from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if sent again
func (e *APIError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// ErrorDecoder turns a provider error body into an APIError
type ErrorDecoder func(provider string, status int, body []byte) *APIError

// RequestOption mutates an outgoing request
type RequestOption func(r *http.Request)

// WithHeader sets a request header
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// WithBasicAuth sets HTTP basic credentials
func WithBasicAuth(username, password string) RequestOption {
	return func(r *http.Request) { r.SetBasicAuth(username, password) }
}

// WithQuery appends query parameters
func WithQuery(values url.Values) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, vs := range values {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		r.URL.RawQuery = q.Encode()
	}
}

// HTTPClient is the JSON client adapters use to talk to provider APIs.
// Transport failures, 429 and 5xx responses are retried with a linear backoff.
type HTTPClient struct {
	provider    string
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	headers     map[string]string
	decodeError ErrorDecoder
	logger      *zap.Logger
}

// NewHTTPClient builds a client from the adapter config
func NewHTTPClient(provider string, cfg ProviderConfig, decodeError ErrorDecoder, logger *zap.Logger) *HTTPClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if decodeError == nil {
		decodeError = DecodeGenericError
	}
	return &HTTPClient{
		provider:    provider,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      client,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		headers:     cfg.Headers,
		decodeError: decodeError,
		logger:      logger,
	}
}

// BaseURL returns the resolved provider endpoint
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends a JSON request and decodes the response into out (when non-nil).
// Decoded payloads are checked against their validate tags.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body, out interface{}, opts ...RequestOption) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", c.provider, err)
		}
		payload = data
	}

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := c.newRequest(ctx, method, path, payload, opts)
		if err != nil {
			return err
		}

		resp, lastErr = c.client.Do(req)
		if lastErr == nil && !retryableStatus(resp.StatusCode) {
			break
		}
		if resp != nil && attempt < c.maxRetries {
			resp.Body.Close()
			resp = nil
		}

		c.logger.Debug("provider request failed, retrying",
			zap.String("provider", c.provider),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	if lastErr != nil {
		return fmt.Errorf("%s request %s %s: %w", c.provider, method, path, lastErr)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(c.provider, resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", c.provider, err)
	}
	if err := utils.ValidatePayload(out); err != nil {
		return fmt.Errorf("invalid %s response: %w", c.provider, err)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, payload []byte, opts []RequestOption) (*http.Request, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, opt := range opts {
		opt(req)
	}
	return req, nil
}

// DecodeGenericError reads the common {"message": ...} / {"error": ...} error shapes
func DecodeGenericError(provider string, status int, body []byte) *APIError {
	apiErr := &APIError{Provider: provider, StatusCode: status, Body: string(body)}

	var generic struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &generic); err == nil {
		apiErr.Message = generic.Message
		apiErr.Code = strings.Trim(string(generic.Code), `"`)
		if apiErr.Message == "" && len(generic.Error) > 0 {
			var s string
			if json.Unmarshal(generic.Error, &s) == nil {
				apiErr.Message = s
			} else {
				var nested struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				}
				if json.Unmarshal(generic.Error, &nested) == nil {
					apiErr.Code = nested.Code
					apiErr.Message = nested.Message
				}
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
