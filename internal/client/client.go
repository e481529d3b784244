// Package client talks to the admin API. It implements the service
// collaborators so a remote Service can validate locally and persist through
// the daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mixproxy/proxyadmin/internal/admin"
	apierrors "github.com/mixproxy/proxyadmin/internal/errors"
	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"go.uber.org/zap"
)

// StatusError is a non-2xx response the client does not map to a more
// specific error.
type StatusError struct {
	Code    int
	Message string
	Details string
}

func (e *StatusError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("admin api: %d %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("admin api: %d %s", e.Code, e.Message)
}

// Client is an admin API client. Transport errors and 5xx responses are
// retried with exponential backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	initial    time.Duration
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets the retry budget and first backoff interval.
func WithRetries(max uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.initial = initial
	}
}

// New creates a client for the admin API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		initial:    200 * time.Millisecond,
		logger:     logging.Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the daemon's current configuration.
func (c *Client) Fetch(ctx context.Context) (proxyconfig.Config, error) {
	var cfg proxyconfig.Config
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return proxyconfig.Config{}, err
	}
	return cfg, nil
}

// Submit stores cfg on the daemon. A 422 response becomes a
// *proxyconfig.ValidationError.
func (c *Client) Submit(ctx context.Context, cfg proxyconfig.Config) error {
	return c.do(ctx, http.MethodPut, "/api/config", cfg, nil)
}

// Validate asks the daemon to validate cfg without storing it.
func (c *Client) Validate(ctx context.Context, cfg proxyconfig.Config) (admin.ValidateResponse, error) {
	var out admin.ValidateResponse
	err := c.do(ctx, http.MethodPost, "/api/config/validate", cfg, &out)
	return out, err
}

// SetListEnabled switches a list for scope; the empty scope is the root domain.
func (c *Client) SetListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string, enabled bool) error {
	return c.do(ctx, http.MethodPut, listPath(kind, "enabled", scope), admin.EnabledRequest{Enabled: enabled}, nil)
}

// ListEnabled reports whether a list is on for scope.
func (c *Client) ListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string) (bool, error) {
	var out admin.EnabledRequest
	err := c.do(ctx, http.MethodGet, listPath(kind, "enabled", scope), nil, &out)
	return out.Enabled, err
}

// Reload asks the daemon to re-read and re-apply its configuration.
func (c *Client) Reload(ctx context.Context) (admin.ReloadResult, error) {
	var out admin.ReloadResult
	err := c.do(ctx, http.MethodPost, "/api/reload", nil, &out)
	return out, err
}

func listPath(kind proxyconfig.ListKind, resource, scope string) string {
	if scope == "" {
		scope = admin.RootScope
	}
	return "/api/" + kind.String() + "/" + resource + "/" + url.PathEscape(scope)
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	bo.MaxInterval = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		}

		apiErr := decodeError(resp)
		if resp.StatusCode >= 500 {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("admin api request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, c.newBackOff(ctx), notify)
}

// decodeError maps an error response to an error value.
func decodeError(resp *http.Response) error {
	var body apierrors.APIError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Details: strings.TrimSpace(string(data))}
	}

	if resp.StatusCode == http.StatusUnprocessableEntity && len(body.Violations) > 0 {
		vs := make(proxyconfig.Violations, len(body.Violations))
		for i, msg := range body.Violations {
			vs[i] = proxyconfig.Violation{
				Location: proxyconfig.Location{Entry: -1, Backend: -1, Path: -1},
				Message:  msg,
			}
		}
		return &proxyconfig.ValidationError{Violations: vs}
	}
	return &StatusError{Code: resp.StatusCode, Message: body.Message, Details: body.Details}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
