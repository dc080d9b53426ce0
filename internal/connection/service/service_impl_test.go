package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mordomozap/internal/clock"
	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/smallbiznis/mordomozap/internal/connection/domain"
	gatewaydomain "github.com/smallbiznis/mordomozap/internal/gateway/domain"
	integrationdomain "github.com/smallbiznis/mordomozap/internal/integration/domain"
	"github.com/smallbiznis/mordomozap/internal/integration/repository"
	"github.com/smallbiznis/mordomozap/internal/integration/sealer"
	"github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"github.com/smallbiznis/mordomozap/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitializeInstance(ctx context.Context, name string) (gatewaydomain.InstanceCredentials, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(gatewaydomain.InstanceCredentials), args.Error(1)
}

func (m *mockGateway) RequestPairingArtifact(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) QueryStatus(ctx context.Context, token string) (gatewaydomain.StatusReport, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(gatewaydomain.StatusReport), args.Error(1)
}

func (m *mockGateway) TerminateSession(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockGateway) SendMessage(ctx context.Context, token, to, body string) error {
	args := m.Called(ctx, token, to, body)
	return args.Error(0)
}

type stubGuard struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (g *stubGuard) Acquire(ctx context.Context, tenantID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.acquired++
	return func() {
		g.mu.Lock()
		g.released++
		g.mu.Unlock()
	}, nil
}

type fixture struct {
	svc   *Service
	gw    *mockGateway
	db    *gorm.DB
	clock *clock.FakeClock
	guard *stubGuard
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&integrationdomain.Integration{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	gw := &mockGateway{}
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	guard := &stubGuard{}
	svc := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repository.Provide(),
		Sealer:  sealer.NewWithSecret("test-secret"),
		Gateway: gw,
		Clock:   fc,
		Cfg:     config.Config{Gateway: config.GatewayConfig{InstanceTag: "mordomozap"}},
		Guard:   guard,
	}).(*Service)

	return &fixture{svc: svc, gw: gw, db: conn, clock: fc, guard: guard}
}

func (f *fixture) load(t *testing.T, tenantID string) *integrationdomain.Integration {
	t.Helper()
	rec, err := repository.Provide().Get(context.Background(), f.db, tenantID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) seed(t *testing.T, tenantID string, status integrationdomain.Status, token string) {
	t.Helper()
	rec := &integrationdomain.Integration{
		ID:           f.svc.genID.Generate().Int64(),
		TenantID:     tenantID,
		InstanceName: "mordomozap-" + tenantID,
		Status:       status,
	}
	if token != "" {
		sealed, err := f.svc.sealer.Seal(token)
		require.NoError(t, err)
		rec.APIKey = &sealed
	}
	if status == integrationdomain.StatusPending {
		qr := "OLDQR=="
		rec.QRCodeBase64 = &qr
	}
	rec.Normalize(f.clock.Now())
	require.NoError(t, repository.Provide().Upsert(context.Background(), f.db, rec))
}

func (f *fixture) token(t *testing.T, rec *integrationdomain.Integration) string {
	t.Helper()
	require.True(t, rec.HasToken())
	plain, err := f.svc.sealer.Open(*rec.APIKey)
	require.NoError(t, err)
	return plain
}

func TestStartConnectionPersistsPendingRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.gw.On("InitializeInstance", mock.Anything, "mordomozap-T1").
		Return(gatewaydomain.InstanceCredentials{Token: "tok-1", Name: "mordomozap-T1"}, nil).Once()
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("QRDATA==", nil).Once()

	res, err := f.svc.StartConnection(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StartResult{InstanceName: "mordomozap-T1", APIKey: "tok-1", QRCodeBase64: "QRDATA=="}, res)

	rec := f.load(t, "T1")
	require.NotNil(t, rec)
	assert.Equal(t, integrationdomain.StatusPending, rec.Status)
	assert.Equal(t, "QRDATA==", *rec.QRCodeBase64)
	assert.Equal(t, "tok-1", f.token(t, rec))
	assert.NotEqual(t, "tok-1", *rec.APIKey, "token is sealed at rest")
	assert.Equal(t, "mordomozap-T1", rec.InstanceName)
	assert.Equal(t, integrationdomain.ProviderUazapi, rec.Provider)
	require.NotNil(t, rec.PairingAttemptID)
	assert.Nil(t, rec.ConnectedAt)
	assert.Equal(t, 1, f.guard.acquired)
	assert.Equal(t, 1, f.guard.released)
	f.gw.AssertExpectations(t)
}

func TestStartConnectionInitFailurePersistsNothing(t *testing.T) {
	f := setup(t)
	f.gw.On("InitializeInstance", mock.Anything, "mordomozap-T1").
		Return(gatewaydomain.InstanceCredentials{}, gatewaydomain.ErrGatewayInit).Once()

	_, err := f.svc.StartConnection(context.Background(), "T1")
	require.ErrorIs(t, err, gatewaydomain.ErrGatewayInit)
	assert.Nil(t, f.load(t, "T1"))
	f.gw.AssertNotCalled(t, "RequestPairingArtifact", mock.Anything, mock.Anything)
}

func TestStartConnectionPairingFailurePersistsNothing(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusDisconnected, "")
	f.gw.On("InitializeInstance", mock.Anything, "mordomozap-T1").
		Return(gatewaydomain.InstanceCredentials{Token: "tok-1", Name: "mordomozap-T1"}, nil).Once()
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("", gatewaydomain.ErrInvalidToken).Once()

	_, err := f.svc.StartConnection(context.Background(), "T1")
	require.ErrorIs(t, err, gatewaydomain.ErrGatewayConnect)
	require.NotErrorIs(t, err, gatewaydomain.ErrInvalidToken)

	rec := f.load(t, "T1")
	assert.Equal(t, integrationdomain.StatusDisconnected, rec.Status)
	assert.False(t, rec.HasToken())
}

func TestStartConnectionTimeout(t *testing.T) {
	f := setup(t)
	f.gw.On("InitializeInstance", mock.Anything, "mordomozap-T1").
		Return(gatewaydomain.InstanceCredentials{}, gatewaydomain.ErrTimeout).Once()

	_, err := f.svc.StartConnection(context.Background(), "T1")
	require.ErrorIs(t, err, gatewaydomain.ErrTimeout)
	assert.Equal(t, "gateway_timeout", domain.Code(err))
}

func TestStartConnectionRejectedByGuard(t *testing.T) {
	f := setup(t)
	f.guard.err = domain.ErrPairingInProgress

	_, err := f.svc.StartConnection(context.Background(), "T1")
	require.ErrorIs(t, err, domain.ErrPairingInProgress)
	f.gw.AssertNotCalled(t, "InitializeInstance", mock.Anything, mock.Anything)
}

func TestPairingGuardDecisionsAreCounted(t *testing.T) {
	f := setup(t)
	reader := sdkmetric.NewManualReader()
	mt, err := metrics.New(metrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	f.svc.metrics = mt

	f.gw.On("InitializeInstance", mock.Anything, "mordomozap-T1").
		Return(gatewaydomain.InstanceCredentials{Name: "mordomozap-T1", Token: "tok-1"}, nil).Once()
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("QRDATA==", nil).Once()

	_, err = f.svc.StartConnection(context.Background(), "T1")
	require.NoError(t, err)

	f.guard.err = domain.ErrRateLimited
	_, err = f.svc.StartConnection(context.Background(), "T1")
	require.ErrorIs(t, err, domain.ErrRateLimited)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(1), counterValue(rm, "mordomozap_pairing_allowed_total", "endpoint", "start_connection"))
	assert.Equal(t, int64(1), counterValue(rm, "mordomozap_pairing_denied_total", "reason", "rate_limited"))
}

func counterValue(rm metricdata.ResourceMetrics, name, key, value string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTenantRequired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Status(ctx, "  ")
	require.ErrorIs(t, err, domain.ErrTenantRequired)
	_, err = f.svc.StartConnection(ctx, "")
	require.ErrorIs(t, err, domain.ErrTenantRequired)
	_, err = f.svc.Reconnect(ctx, "")
	require.ErrorIs(t, err, domain.ErrTenantRequired)
	require.ErrorIs(t, f.svc.Disconnect(ctx, ""), domain.ErrTenantRequired)
	require.ErrorIs(t, f.svc.SendTest(ctx, domain.SendTestRequest{To: "1", Message: "x"}), domain.ErrTenantRequired)
	_, err = f.svc.EnsureConnected(ctx, "")
	require.ErrorIs(t, err, domain.ErrTenantRequired)
}

func TestStatusWithoutRecordOrToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, err := f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResult{Connected: false, Status: "disconnected"}, st)

	f.seed(t, "T2", integrationdomain.StatusConnected, "")
	st, err = f.svc.Status(ctx, "T2")
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.False(t, st.HasCredentials)

	f.gw.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
}

func TestStatusConnectedPersistsAndIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "T1", integrationdomain.StatusPending, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").
		Return(gatewaydomain.StatusReport{Connected: true, Profile: gatewaydomain.Profile{Name: "Loja"}}, nil)

	first, err := f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, first.Connected)
	assert.Equal(t, "connected", first.Status)
	assert.Equal(t, "Loja", first.ProfileName)

	rec := f.load(t, "T1")
	assert.Equal(t, integrationdomain.StatusConnected, rec.Status)
	assert.Nil(t, rec.QRCodeBase64)
	require.NotNil(t, rec.ConnectedAt)
	connectedAt := *rec.ConnectedAt
	profile, ok := rec.Profile()
	require.True(t, ok)
	assert.Equal(t, "Loja", profile.Name)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rec = f.load(t, "T1")
	assert.True(t, rec.ConnectedAt.Equal(connectedAt))
}

func TestStatusNotConnectedKeepsPendingAndRefreshesArtifact(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusPending, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").
		Return(gatewaydomain.StatusReport{Connected: false, Artifact: "NEWQR=="}, nil).Once()

	st, err := f.svc.Status(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, st.Connected)
	assert.Equal(t, "pending", st.Status)
	assert.Equal(t, "NEWQR==", st.QRCodeBase64)
	assert.True(t, st.HasCredentials)

	rec := f.load(t, "T1")
	assert.Equal(t, integrationdomain.StatusPending, rec.Status)
	assert.Equal(t, "NEWQR==", *rec.QRCodeBase64)
}

func TestStatusDroppedSessionBecomesDisconnected(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").Return(gatewaydomain.StatusReport{Connected: false}, nil).Once()

	st, err := f.svc.Status(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResult{Connected: false, Status: "disconnected", HasCredentials: true}, st)

	rec := f.load(t, "T1")
	assert.Equal(t, integrationdomain.StatusDisconnected, rec.Status)
	assert.Nil(t, rec.ConnectedAt)
	assert.True(t, rec.HasToken())
}

func TestStatusGatewayFailureIsNotAnError(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").Return(gatewaydomain.StatusReport{}, gatewaydomain.ErrTimeout).Once()

	st, err := f.svc.Status(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, st.Connected)

	// the stored record is left alone on a transport failure
	assert.Equal(t, integrationdomain.StatusConnected, f.load(t, "T1").Status)
}

func TestUnreadableTokenClearsCredentials(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.seed(t, "T2", integrationdomain.StatusConnected, "tok-2")
	// the secret rotated after the tokens were sealed
	f.svc.sealer = sealer.NewWithSecret("rotated-secret")

	st, err := f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResult{Connected: false, Status: "disconnected", HasCredentials: false}, st)

	rec := f.load(t, "T1")
	assert.Equal(t, integrationdomain.StatusDisconnected, rec.Status)
	assert.False(t, rec.HasToken())
	assert.Nil(t, rec.QRCodeBase64)

	err = f.svc.SendTest(ctx, domain.SendTestRequest{TenantID: "T2", To: "5511999990000", Message: "hi"})
	require.ErrorIs(t, err, gatewaydomain.ErrInvalidToken)
	assert.False(t, f.load(t, "T2").HasToken())

	f.gw.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
	f.gw.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInvalidTokenOnStatusThenReconnectNeedsNoNetwork(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").Return(gatewaydomain.StatusReport{}, gatewaydomain.ErrInvalidToken).Once()

	st, err := f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResult{Connected: false, Status: "disconnected"}, st)

	rec := f.load(t, "T1")
	assert.False(t, rec.HasToken())
	assert.Nil(t, rec.QRCodeBase64)
	assert.Equal(t, integrationdomain.StatusDisconnected, rec.Status)

	_, err = f.svc.Reconnect(ctx, "T1")
	require.ErrorIs(t, err, domain.ErrMissingCredentials)
	f.gw.AssertNotCalled(t, "RequestPairingArtifact", mock.Anything, mock.Anything)
}

func TestReconnect(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusDisconnected, "tok-1")
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("data-free-QR==", nil).Once()

	res, err := f.svc.Reconnect(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "data-free-QR==", res.QRCodeBase64)

	rec := f.load(t, "T1")
	assert.Equal(t, integrationdomain.StatusPending, rec.Status)
	assert.Equal(t, "data-free-QR==", *rec.QRCodeBase64)
	assert.Equal(t, "tok-1", f.token(t, rec))
}

func TestReconnectInvalidTokenClearsCredentials(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusPending, "tok-1")
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("", gatewaydomain.ErrInvalidToken).Once()

	_, err := f.svc.Reconnect(context.Background(), "T1")
	require.ErrorIs(t, err, gatewaydomain.ErrInvalidToken)

	rec := f.load(t, "T1")
	assert.False(t, rec.HasToken())
	assert.Nil(t, rec.QRCodeBase64)
	assert.Equal(t, integrationdomain.StatusDisconnected, rec.Status)
}

func TestReconnectOtherFailureKeepsRecord(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusPending, "tok-1")
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("", gatewaydomain.ErrGatewayConnect).Once()

	_, err := f.svc.Reconnect(context.Background(), "T1")
	require.ErrorIs(t, err, gatewaydomain.ErrGatewayConnect)

	rec := f.load(t, "T1")
	assert.True(t, rec.HasToken())
	assert.Equal(t, "OLDQR==", *rec.QRCodeBase64)
}

func TestDisconnectAlwaysSucceeds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("TerminateSession", mock.Anything, "tok-1").Return(errors.New("gateway down")).Once()

	require.NoError(t, f.svc.Disconnect(ctx, "T1"))

	rec := f.load(t, "T1")
	assert.Equal(t, integrationdomain.StatusDisconnected, rec.Status)
	assert.False(t, rec.HasToken())
	assert.Nil(t, rec.QRCodeBase64)
	assert.Nil(t, rec.ConnectedAt)

	// idempotent, and no gateway call without a token
	require.NoError(t, f.svc.Disconnect(ctx, "T1"))
	f.gw.AssertNumberOfCalls(t, "TerminateSession", 1)
}

func TestDisconnectUnknownTenantCreatesDisconnectedRecord(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.svc.Disconnect(context.Background(), "T9"))

	rec := f.load(t, "T9")
	require.NotNil(t, rec)
	assert.Equal(t, integrationdomain.StatusDisconnected, rec.Status)
	f.gw.AssertNotCalled(t, "TerminateSession", mock.Anything, mock.Anything)
}

func TestSendTestWithoutTokenMakesNoGatewayCall(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusDisconnected, "")

	err := f.svc.SendTest(context.Background(), domain.SendTestRequest{TenantID: "T1", To: "5511999990000", Message: "hi"})
	require.ErrorIs(t, err, domain.ErrMissingCredentials)
	f.gw.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendTestValidation(t *testing.T) {
	f := setup(t)
	err := f.svc.SendTest(context.Background(), domain.SendTestRequest{TenantID: "T1", To: " ", Message: "hi"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSendTest(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("SendMessage", mock.Anything, "tok-1", "5511999990000", "hi").Return(nil).Once()

	require.NoError(t, f.svc.SendTest(context.Background(), domain.SendTestRequest{CompanyID: "T1", To: "5511999990000", Message: "hi"}))
	f.gw.AssertExpectations(t)
}

func TestSendTestGatewayErrors(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	sendErr := &gatewaydomain.SendError{StatusCode: 400, Message: "number not on whatsapp"}
	f.gw.On("SendMessage", mock.Anything, "tok-1", "123", "hi").Return(sendErr).Once()

	err := f.svc.SendTest(context.Background(), domain.SendTestRequest{TenantID: "T1", To: "123", Message: "hi"})
	require.ErrorIs(t, err, gatewaydomain.ErrGatewaySend)
	assert.True(t, f.load(t, "T1").HasToken())

	f.gw.On("SendMessage", mock.Anything, "tok-1", "456", "hi").Return(gatewaydomain.ErrInvalidToken).Once()
	err = f.svc.SendTest(context.Background(), domain.SendTestRequest{TenantID: "T1", To: "456", Message: "hi"})
	require.ErrorIs(t, err, gatewaydomain.ErrInvalidToken)
	assert.False(t, f.load(t, "T1").HasToken())
}

func TestEnsureConnectedReconnectsWhenDropped(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").Return(gatewaydomain.StatusReport{Connected: false}, nil).Once()
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("QRDATA==", nil).Once()

	st, err := f.svc.EnsureConnected(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "pending", st.Status)
	assert.Equal(t, "QRDATA==", st.QRCodeBase64)
	assert.Equal(t, integrationdomain.StatusPending, f.load(t, "T1").Status)
}

func TestEnsureConnectedNoopWhenConnected(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").Return(gatewaydomain.StatusReport{Connected: true}, nil).Once()

	st, err := f.svc.EnsureConnected(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, st.Connected)
	f.gw.AssertNotCalled(t, "RequestPairingArtifact", mock.Anything, mock.Anything)
}

func TestEnsureConnectedFallsBackToStatus(t *testing.T) {
	f := setup(t)
	f.seed(t, "T1", integrationdomain.StatusConnected, "tok-1")
	f.gw.On("QueryStatus", mock.Anything, "tok-1").Return(gatewaydomain.StatusReport{Connected: false}, nil).Once()
	f.gw.On("RequestPairingArtifact", mock.Anything, "tok-1").Return("", gatewaydomain.ErrTimeout).Once()

	st, err := f.svc.EnsureConnected(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResult{Connected: false, Status: "disconnected", HasCredentials: true}, st)
}
