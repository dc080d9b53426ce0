package uazapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/smallbiznis/mordomozap/internal/gateway/domain"
	"github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"github.com/smallbiznis/mordomozap/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	opInit      = "init"
	opConnect   = "connect"
	opStatus    = "status"
	opLogout    = "logout"
	opSendText  = "send_text"
	maxBodySize = 1 << 20
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Policy  *config.ConnectionPolicyHolder `optional:"true"`
	Metrics *metrics.ConnectionMetrics     `optional:"true"`
}

// Client is the uazapi implementation of domain.Client.
type Client struct {
	baseURL    string
	adminToken string
	systemName string
	timeout    time.Duration
	policy     *config.ConnectionPolicyHolder
	http       *http.Client
	log        *zap.Logger
	metrics    *metrics.ConnectionMetrics
}

func New(p Params) domain.Client {
	return NewClient(p.Cfg.Gateway, p.Policy, p.Log, p.Metrics)
}

// NewClient builds a client for tools that run without fx.
func NewClient(cfg config.GatewayConfig, policy *config.ConnectionPolicyHolder, log *zap.Logger, m *metrics.ConnectionMetrics) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	systemName := strings.TrimSpace(cfg.SystemName)
	if systemName == "" {
		systemName = "apilocal"
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		adminToken: strings.TrimSpace(cfg.AdminToken),
		systemName: systemName,
		timeout:    timeout,
		policy:     policy,
		// per-call deadlines come from the context
		http:    &http.Client{},
		log:     log.Named("gateway.uazapi"),
		metrics: m,
	}
}

type initRequest struct {
	Name       string `json:"name"`
	SystemName string `json:"systemName"`
}

type initResponse struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Instance struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	} `json:"instance"`
}

type connectResponse struct {
	Base64   string `json:"base64"`
	QRCode   string `json:"qrcode"`
	Instance struct {
		QRCode string `json:"qrcode"`
	} `json:"instance"`
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) InitializeInstance(ctx context.Context, name string) (domain.InstanceCredentials, error) {
	resp, err := c.do(ctx, opInit, http.MethodPost, "/instance/init", map[string]string{"admintoken": c.adminToken}, initRequest{
		Name:       name,
		SystemName: c.systemName,
	})
	if err != nil {
		return domain.InstanceCredentials{}, c.transportError(opInit, err, domain.ErrGatewayInit)
	}
	if !resp.ok() {
		c.observe(opInit, metrics.OutcomeError, resp.elapsed)
		c.log.Warn("instance init rejected", zap.Int("status", resp.status), zap.String("instance", name))
		return domain.InstanceCredentials{}, fmt.Errorf("%w: status %d", domain.ErrGatewayInit, resp.status)
	}

	var body initResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		c.observe(opInit, metrics.OutcomeError, resp.elapsed)
		return domain.InstanceCredentials{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayInit, err)
	}
	creds := domain.InstanceCredentials{
		Token: firstNonEmpty(body.Instance.Token, body.Token),
		Name:  firstNonEmpty(body.Instance.Name, body.Name),
	}
	if creds.Token == "" || creds.Name == "" {
		c.observe(opInit, metrics.OutcomeError, resp.elapsed)
		return domain.InstanceCredentials{}, fmt.Errorf("%w: response missing token or name", domain.ErrGatewayInit)
	}
	c.observe(opInit, metrics.OutcomeOK, resp.elapsed)
	return creds, nil
}

func (c *Client) RequestPairingArtifact(ctx context.Context, token string) (string, error) {
	resp, err := c.do(ctx, opConnect, http.MethodPost, "/instance/connect", tokenHeader(token), struct{}{})
	if err != nil {
		return "", c.transportError(opConnect, err, domain.ErrGatewayConnect)
	}
	if resp.unauthorized() {
		c.observe(opConnect, metrics.OutcomeInvalidToken, resp.elapsed)
		return "", domain.ErrInvalidToken
	}
	if !resp.ok() {
		c.observe(opConnect, metrics.OutcomeError, resp.elapsed)
		return "", fmt.Errorf("%w: status %d", domain.ErrGatewayConnect, resp.status)
	}

	var body connectResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		c.observe(opConnect, metrics.OutcomeError, resp.elapsed)
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrGatewayConnect, err)
	}
	artifact := domain.StripDataURI(firstNonEmpty(body.Base64, body.QRCode, body.Instance.QRCode))
	if artifact == "" {
		c.observe(opConnect, metrics.OutcomeError, resp.elapsed)
		return "", fmt.Errorf("%w: response missing pairing artifact", domain.ErrGatewayConnect)
	}
	c.observe(opConnect, metrics.OutcomeOK, resp.elapsed)
	return artifact, nil
}

// QueryStatus reports not connected, without error, for any non-auth gateway
// failure status.
func (c *Client) QueryStatus(ctx context.Context, token string) (domain.StatusReport, error) {
	resp, err := c.do(ctx, opStatus, http.MethodGet, "/instance/status", tokenHeader(token), nil)
	if err != nil {
		return domain.StatusReport{}, c.transportError(opStatus, err, nil)
	}
	if resp.unauthorized() {
		c.observe(opStatus, metrics.OutcomeInvalidToken, resp.elapsed)
		return domain.StatusReport{}, domain.ErrInvalidToken
	}
	if !resp.ok() {
		c.observe(opStatus, metrics.OutcomeError, resp.elapsed)
		return domain.StatusReport{Connected: false}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		c.observe(opStatus, metrics.OutcomeError, resp.elapsed)
		return domain.StatusReport{Connected: false}, nil
	}
	c.observe(opStatus, metrics.OutcomeOK, resp.elapsed)

	report := domain.StatusReport{
		Connected: domain.NormalizeStatus(payload),
		Profile:   domain.ExtractProfile(payload),
	}
	if !report.Connected {
		report.Artifact = domain.ExtractArtifact(payload)
	}
	return report, nil
}

func (c *Client) TerminateSession(ctx context.Context, token string) error {
	resp, err := c.do(ctx, opLogout, http.MethodPost, "/instance/logout", tokenHeader(token), struct{}{})
	if err != nil {
		return c.transportError(opLogout, err, nil)
	}
	if resp.unauthorized() {
		c.observe(opLogout, metrics.OutcomeInvalidToken, resp.elapsed)
		return domain.ErrInvalidToken
	}
	if !resp.ok() {
		c.observe(opLogout, metrics.OutcomeError, resp.elapsed)
		return fmt.Errorf("logout failed with status %d", resp.status)
	}
	c.observe(opLogout, metrics.OutcomeOK, resp.elapsed)
	return nil
}

func (c *Client) SendMessage(ctx context.Context, token, to, body string) error {
	resp, err := c.do(ctx, opSendText, http.MethodPost, "/send/text", tokenHeader(token), sendTextRequest{
		Number: to,
		Text:   body,
	})
	if err != nil {
		return c.transportError(opSendText, err, domain.ErrGatewaySend)
	}
	if resp.unauthorized() {
		c.observe(opSendText, metrics.OutcomeInvalidToken, resp.elapsed)
		return domain.ErrInvalidToken
	}
	if !resp.ok() {
		c.observe(opSendText, metrics.OutcomeError, resp.elapsed)
		return &domain.SendError{StatusCode: resp.status, Message: gatewayMessage(resp)}
	}
	c.observe(opSendText, metrics.OutcomeOK, resp.elapsed)
	return nil
}

type response struct {
	status  int
	body    []byte
	elapsed time.Duration
}

func (r response) ok() bool {
	return r.status >= http.StatusOK && r.status < http.StatusMultipleChoices
}

func (r response) unauthorized() bool {
	return r.status == http.StatusUnauthorized || r.status == http.StatusForbidden
}

// do performs one request under the configured gateway timeout. No retries.
func (c *Client) do(ctx context.Context, operation, method, path string, headers map[string]string, payload any) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.currentTimeout())
	defer cancel()

	ctx, span := otel.Tracer("mordomozap/gateway").Start(ctx, "uazapi."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.operation", operation),
		attribute.String("http.method", method),
	)

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return response{}, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport error")
		return response{elapsed: time.Since(start)}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	elapsed := time.Since(start)
	if err != nil {
		span.SetStatus(codes.Error, "read body")
		return response{elapsed: elapsed}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return response{status: resp.StatusCode, body: body, elapsed: elapsed}, nil
}

// transportError classifies a failed round trip. Deadlines become ErrTimeout;
// anything else is wrapped in fallback when given.
func (c *Client) transportError(operation string, err error, fallback error) error {
	if isTimeout(err) {
		c.observe(operation, metrics.OutcomeTimeout, c.currentTimeout())
		c.log.Warn("gateway call timed out", zap.String("operation", operation), zap.Duration("timeout", c.currentTimeout()))
		return fmt.Errorf("%w: %s", domain.ErrTimeout, operation)
	}
	c.observe(operation, metrics.OutcomeError, 0)
	c.log.Warn("gateway call failed", zap.String("operation", operation), zap.Error(err))
	if fallback == nil {
		return err
	}
	return fmt.Errorf("%w: %v", fallback, err)
}

func (c *Client) currentTimeout() time.Duration {
	if c.policy != nil {
		if t := c.policy.Get().GatewayTimeout; t > 0 {
			return t
		}
	}
	return c.timeout
}

func (c *Client) observe(operation, outcome string, elapsed time.Duration) {
	c.metrics.ObserveGatewayRequest(operation, outcome, elapsed)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func gatewayMessage(resp response) string {
	var body errorResponse
	if err := json.Unmarshal(resp.body, &body); err == nil {
		if msg := firstNonEmpty(body.Error, body.Message); msg != "" {
			return msg
		}
	}
	return http.StatusText(resp.status)
}

func tokenHeader(token string) map[string]string {
	return map[string]string{"token": token}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
