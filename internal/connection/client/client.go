package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/mordomozap/internal/connection/domain"
	"github.com/smallbiznis/mordomozap/internal/observability/tracing"
	"go.opentelemetry.io/otel/propagation"
)

// Client calls a remote connection proxy over HTTP and satisfies
// domain.Service, so callers can swap it for the in-process service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = strings.TrimSpace(key) }
}

// New targets the proxy mounted at baseURL, e.g. http://localhost:8080/api/uaz.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		// gateway timeout plus headroom for the store
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a proxy failure carrying the remote code and message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error { return domain.ErrorFromCode(e.Code) }

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type successBody struct {
	Success bool `json:"success"`
}

func (c *Client) Status(ctx context.Context, tenantID string) (domain.StatusResult, error) {
	var out domain.StatusResult
	err := c.post(ctx, "/status", domain.TenantRequest{TenantID: tenantID}, &out)
	return out, err
}

func (c *Client) StartConnection(ctx context.Context, tenantID string) (domain.StartResult, error) {
	var out domain.StartResult
	err := c.post(ctx, "/start-connection", domain.TenantRequest{TenantID: tenantID}, &out)
	return out, err
}

func (c *Client) Reconnect(ctx context.Context, tenantID string) (domain.ReconnectResult, error) {
	var out domain.ReconnectResult
	err := c.post(ctx, "/reconnect", domain.TenantRequest{TenantID: tenantID}, &out)
	return out, err
}

func (c *Client) Disconnect(ctx context.Context, tenantID string) error {
	var out successBody
	return c.post(ctx, "/disconnect", domain.TenantRequest{TenantID: tenantID}, &out)
}

func (c *Client) SendTest(ctx context.Context, req domain.SendTestRequest) error {
	var out successBody
	return c.post(ctx, "/send-test", req, &out)
}

func (c *Client) EnsureConnected(ctx context.Context, tenantID string) (domain.StatusResult, error) {
	var out domain.StatusResult
	err := c.post(ctx, "/ensure-connected", domain.TenantRequest{TenantID: tenantID}, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	if c.baseURL == "" {
		return errors.New("proxy base url is required")
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("proxy %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("proxy %s: read body: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		code := strings.TrimSpace(eb.Error)
		if code == "" {
			code = domain.ErrInternal.Error()
		}
		return &Error{StatusCode: resp.StatusCode, Code: code, Message: strings.TrimSpace(eb.Message)}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("proxy %s: decode response: %w", path, err)
	}
	return nil
}

var _ domain.Service = (*Client)(nil)
