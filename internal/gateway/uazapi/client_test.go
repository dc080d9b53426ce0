package uazapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/smallbiznis/mordomozap/internal/gateway/domain"
	"github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*Client, *prometheus.Registry) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	registry := prometheus.NewRegistry()
	m := metrics.NewConnectionMetrics(registry, metrics.Config{})
	c := NewClient(config.GatewayConfig{
		BaseURL:    srv.URL + "/",
		AdminToken: "admin-secret",
		Timeout:    timeout,
	}, nil, nil, m)
	return c, registry
}

func TestInitializeInstance(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/instance/init", r.URL.Path)
		require.Equal(t, "admin-secret", r.Header.Get("admintoken"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mordomozap-T1", body["name"])
		assert.Equal(t, "apilocal", body["systemName"])

		_, _ = w.Write([]byte(`{"instance": {"token": "tok-1", "name": "mordomozap-T1"}}`))
	}, time.Second)

	creds, err := c.InitializeInstance(context.Background(), "mordomozap-T1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceCredentials{Token: "tok-1", Name: "mordomozap-T1"}, creds)
}

func TestInitializeInstanceFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"non 2xx": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"missing token": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"instance": {"name": "mordomozap-T1"}}`))
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, handler, time.Second)
			_, err := c.InitializeInstance(context.Background(), "mordomozap-T1")
			require.ErrorIs(t, err, domain.ErrGatewayInit)
		})
	}
}

func TestRequestPairingArtifactStripsPrefix(t *testing.T) {
	c, registry := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/instance/connect", r.URL.Path)
		require.Equal(t, "tok-1", r.Header.Get("token"))
		_, _ = w.Write([]byte(`{"base64": "data:image/png;base64,QRDATA=="}`))
	}, time.Second)

	artifact, err := c.RequestPairingArtifact(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "QRDATA==", artifact)

	count, err := testutil.GatherAndCount(registry, "mordomozap_gateway_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRequestPairingArtifactErrors(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, time.Second)
	_, err := c.RequestPairingArtifact(context.Background(), "tok-1")
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	c, _ = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, time.Second)
	_, err = c.RequestPairingArtifact(context.Background(), "tok-1")
	require.ErrorIs(t, err, domain.ErrGatewayConnect)

	c, _ = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)
	_, err = c.RequestPairingArtifact(context.Background(), "tok-1")
	require.ErrorIs(t, err, domain.ErrGatewayConnect)
}

func TestQueryStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/instance/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"instance": {"status": "connected", "profileName": "Loja"}, "status": {"connected": true}}`))
	}, time.Second)

	report, err := c.QueryStatus(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, report.Connected)
	assert.Equal(t, "Loja", report.Profile.Name)
	assert.Empty(t, report.Artifact)
}

func TestQueryStatusRefreshedArtifact(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"instance": {"status": "connecting", "qrcode": "data:image/png;base64,NEWQR=="}}`))
	}, time.Second)

	report, err := c.QueryStatus(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.False(t, report.Connected)
	assert.Equal(t, "NEWQR==", report.Artifact)
}

func TestQueryStatusNon2xxIsNotConnected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)

	report, err := c.QueryStatus(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.False(t, report.Connected)

	c, _ = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, time.Second)
	_, err = c.QueryStatus(context.Background(), "tok-1")
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTimeoutIsDistinguishable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	_, err := c.QueryStatus(context.Background(), "tok-1")
	require.ErrorIs(t, err, domain.ErrTimeout)

	_, err = c.InitializeInstance(context.Background(), "mordomozap-T1")
	require.ErrorIs(t, err, domain.ErrTimeout)
	require.NotErrorIs(t, err, domain.ErrGatewayInit)
}

func TestPolicyTimeoutOverridesConfig(t *testing.T) {
	policy := config.DefaultConnectionPolicy()
	policy.GatewayTimeout = 3 * time.Second
	c := NewClient(config.GatewayConfig{Timeout: time.Second}, config.NewStaticConnectionPolicyHolder(policy), nil, nil)
	assert.Equal(t, 3*time.Second, c.currentTimeout())

	c = NewClient(config.GatewayConfig{}, nil, nil, nil)
	assert.Equal(t, 15*time.Second, c.currentTimeout())
}

func TestSendMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/send/text", r.URL.Path)
		assert.Equal(t, "tok-1", r.Header.Get("token"))
		assert.Empty(t, r.Header.Get("admintoken"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"number": "5511999990000", "text": "hello"}, body)
		w.WriteHeader(http.StatusOK)
	}, time.Second)

	require.NoError(t, c.SendMessage(context.Background(), "tok-1", "5511999990000", "hello"))
}

func TestSendMessageRejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		c, registry := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error": "invalid token"}`))
		}, time.Second)

		err := c.SendMessage(context.Background(), "tok-1", "5511999990000", "hello")
		require.ErrorIs(t, err, domain.ErrInvalidToken, "status %d", status)
		var sendErr *domain.SendError
		assert.False(t, errors.As(err, &sendErr))

		count, err := testutil.GatherAndCount(registry, "mordomozap_gateway_requests_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}

func TestSendMessageCarriesGatewayText(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "number not on whatsapp"}`))
	}, time.Second)

	err := c.SendMessage(context.Background(), "tok-1", "123", "hello")
	var sendErr *domain.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "number not on whatsapp", sendErr.Message)
	assert.ErrorIs(t, err, domain.ErrGatewaySend)

	c, _ = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, time.Second)
	err = c.SendMessage(context.Background(), "tok-1", "123", "hello")
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "Service Unavailable", sendErr.Message)
}

func TestTerminateSession(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/instance/logout", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}, time.Second)
	require.NoError(t, c.TerminateSession(context.Background(), "tok-1"))

	c, _ = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)
	require.Error(t, c.TerminateSession(context.Background(), "tok-1"))
}
