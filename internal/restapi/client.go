// Package restapi is the client for the backend's message and notification
// REST endpoints.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ErrNoIdentity is returned when a request is made with nobody signed in.
var ErrNoIdentity = errors.New("no user identity; log in first")

// APIError is a non-2xx response. Detail comes from the body's "detail"
// field when present.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Detail)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Identity supplies the user_id query parameter.
type Identity interface {
	UserID() string
}

// Client calls the REST API. It is safe for concurrent use.
type Client struct {
	base     string
	identity Identity
	http     *fasthttp.Client
	timeout  time.Duration
	logger   *zap.Logger
}

// BaseURL returns the API origin for host.
func BaseURL(host string, secure bool) string {
	for _, prefix := range []string{"https://", "http://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	host = strings.TrimRight(host, "/")
	if secure {
		return "https://" + host
	}
	return "http://" + host
}

// NewClient creates a client for the API at host.
func NewClient(host string, secure bool, identity Identity, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:     BaseURL(host, secure),
		identity: identity,
		http: &fasthttp.Client{
			Name:                "inbox",
			MaxIdleConnDuration: time.Minute,
		},
		timeout: timeout,
		logger:  logger,
	}
}

// do sends one request. query may be nil; user_id is always added. body,
// when non-nil, is sent as JSON. out, when non-nil, receives the decoded
// response body.
//
// fasthttp takes no context, so ctx is checked once up front and its
// deadline caps the request. Cancelling ctx without a deadline does not
// abort a request already in flight; it runs until the client timeout.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userID := c.identity.UserID()
	if userID == "" {
		return ErrNoIdentity
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("user_id", userID)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path + "?" + query.Encode())
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	status := resp.StatusCode()
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("took", time.Since(start)),
	)

	if status < 200 || status >= 300 {
		return &APIError{Status: status, Detail: parseDetail(resp.Body())}
	}
	if out == nil {
		return nil
	}
	if err := out(resp.Body()); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// DefaultTimeout applies when the client was built without a timeout.
const DefaultTimeout = 15 * time.Second

func (c *Client) deadline(ctx context.Context) time.Time {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

// parseDetail extracts the "detail" field. Validation errors carry a list
// instead of a string; those are returned as raw JSON.
func parseDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	return string(env.Detail)
}

// into decodes a response body straight into v.
func into(v any) func([]byte) error {
	return func(data []byte) error { return json.Unmarshal(data, v) }
}

// listInto decodes either a bare JSON array or an object holding the array
// under one of keys.
func listInto[T any](v *[]T, keys ...string) func([]byte) error {
	return func(data []byte) error {
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			return json.Unmarshal(data, v)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		for _, k := range keys {
			if raw, ok := obj[k]; ok {
				return json.Unmarshal(raw, v)
			}
		}
		return fmt.Errorf("no %s list in response", strings.Join(keys, "/"))
	}
}

// objectInto decodes an object that may be wrapped under key.
func objectInto(v any, key string) func([]byte) error {
	return func(data []byte) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if raw, ok := obj[key]; ok && strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
			return json.Unmarshal(raw, v)
		}
		return json.Unmarshal(data, v)
	}
}
