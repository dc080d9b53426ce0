package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/mordomozap/internal/clock"
	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/smallbiznis/mordomozap/internal/connection/domain"
	gatewaydomain "github.com/smallbiznis/mordomozap/internal/gateway/domain"
	integrationdomain "github.com/smallbiznis/mordomozap/internal/integration/domain"
	"github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"github.com/smallbiznis/mordomozap/internal/tenantcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    integrationdomain.Repository
	Sealer  integrationdomain.Sealer
	Gateway gatewaydomain.Client
	Clock   clock.Clock
	Cfg     config.Config

	Guard       domain.PairingGuard        `optional:"true"`
	Metrics     *metrics.Metrics           `optional:"true"`
	ConnMetrics *metrics.ConnectionMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        integrationdomain.Repository
	sealer      integrationdomain.Sealer
	gateway     gatewaydomain.Client
	clock       clock.Clock
	guard       domain.PairingGuard
	instanceTag string
	metrics     *metrics.Metrics
	connMetrics *metrics.ConnectionMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("connection.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		sealer:      p.Sealer,
		gateway:     p.Gateway,
		clock:       p.Clock,
		guard:       p.Guard,
		instanceTag: p.Cfg.Gateway.InstanceTag,
		metrics:     p.Metrics,
		connMetrics: p.ConnMetrics,
	}
}

// Status reconciles the stored record with the gateway. It never fails for a
// valid tenant: any problem reaching the gateway or the store reads as not
// connected.
func (s *Service) Status(ctx context.Context, tenantID string) (result domain.StatusResult, err error) {
	tenantID, ctx, err = s.begin(ctx, tenantID)
	if err != nil {
		return domain.StatusResult{}, err
	}
	defer func() { s.record(ctx, "status", err) }()

	log := s.log.With(zap.String("tenant_id", tenantID))
	rec, err := s.repo.Get(ctx, s.db, tenantID)
	if err != nil {
		log.Error("load integration failed", zap.Error(err))
		return disconnectedResult(false), nil
	}
	if rec == nil {
		return disconnectedResult(false), nil
	}

	if !rec.HasToken() {
		return storedResult(rec), nil
	}
	token, err := s.sealer.Open(*rec.APIKey)
	if err != nil {
		log.Error("stored token unreadable, clearing credentials", zap.Error(err))
		s.invalidate(ctx, log, rec)
		return disconnectedResult(false), nil
	}

	report, err := s.gateway.QueryStatus(ctx, token)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrInvalidToken) {
			log.Warn("gateway rejected token, clearing credentials")
			s.invalidate(ctx, log, rec)
			return disconnectedResult(false), nil
		}
		log.Warn("status check failed", zap.Error(err))
		return unreachableResult(rec), nil
	}

	prev := rec.Status
	switch {
	case report.Connected:
		rec.Status = integrationdomain.StatusConnected
		rec.RecordCheck(toProfile(report.Profile), s.clock.Now())
		s.saveQuietly(ctx, log, rec, prev)
	case rec.Status == integrationdomain.StatusPending:
		if report.Artifact != "" && (rec.QRCodeBase64 == nil || *rec.QRCodeBase64 != report.Artifact) {
			rec.QRCodeBase64 = &report.Artifact
			s.saveQuietly(ctx, log, rec, prev)
		}
	case rec.Status == integrationdomain.StatusConnected:
		rec.Status = integrationdomain.StatusDisconnected
		s.saveQuietly(ctx, log, rec, prev)
	}

	return storedResult(rec), nil
}

func (s *Service) StartConnection(ctx context.Context, tenantID string) (result domain.StartResult, err error) {
	tenantID, ctx, err = s.begin(ctx, tenantID)
	if err != nil {
		return domain.StartResult{}, err
	}
	defer func() { s.record(ctx, "start_connection", err) }()

	release, err := s.acquire(ctx, "start_connection", tenantID)
	if err != nil {
		return domain.StartResult{}, err
	}
	defer release()

	log := s.log.With(zap.String("tenant_id", tenantID))
	name := integrationdomain.InstanceName(s.instanceTag, tenantID)

	creds, err := s.gateway.InitializeInstance(ctx, name)
	if err != nil {
		log.Warn("instance init failed", zap.String("instance", name), zap.Error(err))
		return domain.StartResult{}, err
	}

	artifact, err := s.gateway.RequestPairingArtifact(ctx, creds.Token)
	if err != nil {
		log.Warn("pairing request failed", zap.String("instance", creds.Name), zap.Error(err))
		if errors.Is(err, gatewaydomain.ErrInvalidToken) {
			return domain.StartResult{}, fmt.Errorf("%w: freshly issued token rejected", gatewaydomain.ErrGatewayConnect)
		}
		return domain.StartResult{}, err
	}

	rec, err := s.repo.Get(ctx, s.db, tenantID)
	if err != nil {
		return domain.StartResult{}, fmt.Errorf("%w: load integration: %v", domain.ErrInternal, err)
	}
	if rec == nil {
		rec = s.newIntegration(tenantID, creds.Name)
	}
	prev := rec.Status

	sealed, err := s.sealer.Seal(creds.Token)
	if err != nil {
		return domain.StartResult{}, fmt.Errorf("%w: seal token: %v", domain.ErrInternal, err)
	}
	rec.APIKey = &sealed
	rec.InstanceName = creds.Name
	rec.Provider = integrationdomain.ProviderUazapi
	rec.Status = integrationdomain.StatusPending
	rec.QRCodeBase64 = &artifact
	rec.PairingAttemptID = newAttemptID()

	if err := s.save(ctx, rec, prev); err != nil {
		log.Error("persist pending integration failed", zap.Error(err))
		return domain.StartResult{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	log.Info("pairing started", zap.String("instance", creds.Name), zap.String("pairing_attempt_id", *rec.PairingAttemptID))

	return domain.StartResult{
		InstanceName: creds.Name,
		APIKey:       creds.Token,
		QRCodeBase64: artifact,
	}, nil
}

// Reconnect asks for a new pairing artifact with the stored token. A rejected
// token clears the credentials and surfaces ErrInvalidToken so the caller
// starts over.
func (s *Service) Reconnect(ctx context.Context, tenantID string) (result domain.ReconnectResult, err error) {
	tenantID, ctx, err = s.begin(ctx, tenantID)
	if err != nil {
		return domain.ReconnectResult{}, err
	}
	defer func() { s.record(ctx, "reconnect", err) }()

	log := s.log.With(zap.String("tenant_id", tenantID))
	rec, token, err := s.loadCredentials(ctx, log, tenantID)
	if err != nil {
		return domain.ReconnectResult{}, err
	}

	release, err := s.acquire(ctx, "reconnect", tenantID)
	if err != nil {
		return domain.ReconnectResult{}, err
	}
	defer release()

	artifact, err := s.gateway.RequestPairingArtifact(ctx, token)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrInvalidToken) {
			log.Warn("gateway rejected token on reconnect, clearing credentials")
			s.invalidate(ctx, log, rec)
			return domain.ReconnectResult{}, gatewaydomain.ErrInvalidToken
		}
		log.Warn("reconnect pairing failed", zap.Error(err))
		return domain.ReconnectResult{}, err
	}

	prev := rec.Status
	rec.Status = integrationdomain.StatusPending
	rec.QRCodeBase64 = &artifact
	rec.PairingAttemptID = newAttemptID()
	if err := s.save(ctx, rec, prev); err != nil {
		log.Error("persist reconnect failed", zap.Error(err))
		return domain.ReconnectResult{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	log.Info("pairing restarted", zap.String("pairing_attempt_id", *rec.PairingAttemptID))

	return domain.ReconnectResult{QRCodeBase64: artifact}, nil
}

// Disconnect logs the session out when possible and always leaves the tenant
// disconnected without credentials.
func (s *Service) Disconnect(ctx context.Context, tenantID string) (err error) {
	tenantID, ctx, err = s.begin(ctx, tenantID)
	if err != nil {
		return err
	}
	defer func() { s.record(ctx, "disconnect", err) }()

	log := s.log.With(zap.String("tenant_id", tenantID))
	rec, err := s.repo.Get(ctx, s.db, tenantID)
	if err != nil {
		log.Error("load integration failed", zap.Error(err))
		return nil
	}
	if rec == nil {
		rec = s.newIntegration(tenantID, integrationdomain.InstanceName(s.instanceTag, tenantID))
	}

	if token, ok := s.openToken(log, rec); ok {
		if err := s.gateway.TerminateSession(ctx, token); err != nil {
			log.Warn("gateway logout failed, clearing locally", zap.Error(err))
		}
	}

	prev := rec.Status
	rec.APIKey = nil
	rec.QRCodeBase64 = nil
	rec.Status = integrationdomain.StatusDisconnected
	s.saveQuietly(ctx, log, rec, prev)
	log.Info("integration disconnected")
	return nil
}

func (s *Service) SendTest(ctx context.Context, req domain.SendTestRequest) (err error) {
	tenantID, ctx, err := s.begin(ctx, req.Tenant())
	if err != nil {
		return err
	}
	defer func() {
		s.record(ctx, "send_test", err)
		if s.metrics != nil {
			s.metrics.RecordTestMessage(ctx, domain.Code(err))
		}
	}()

	to := strings.TrimSpace(req.To)
	body := strings.TrimSpace(req.Message)
	if to == "" || body == "" {
		return domain.ErrInvalidRequest
	}

	log := s.log.With(zap.String("tenant_id", tenantID))
	rec, token, err := s.loadCredentials(ctx, log, tenantID)
	if err != nil {
		return err
	}

	if err := s.gateway.SendMessage(ctx, token, to, body); err != nil {
		if errors.Is(err, gatewaydomain.ErrInvalidToken) {
			log.Warn("gateway rejected token on send, clearing credentials")
			s.invalidate(ctx, log, rec)
			return gatewaydomain.ErrInvalidToken
		}
		log.Warn("test message failed", zap.Error(err))
		return err
	}
	return nil
}

// EnsureConnected checks status and, when the tenant still holds a token but
// is not connected, requests a fresh pairing. Failures fall back to status.
func (s *Service) EnsureConnected(ctx context.Context, tenantID string) (domain.StatusResult, error) {
	st, err := s.Status(ctx, tenantID)
	if err != nil {
		return domain.StatusResult{}, err
	}
	if st.Connected || !st.HasCredentials {
		return st, nil
	}

	res, err := s.Reconnect(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrInvalidToken) || errors.Is(err, domain.ErrMissingCredentials) {
			return disconnectedResult(false), nil
		}
		s.log.Warn("ensure connected: reconnect failed", zap.String("tenant_id", strings.TrimSpace(tenantID)), zap.Error(err))
		return st, nil
	}
	return domain.StatusResult{
		Connected:      false,
		Status:         string(integrationdomain.StatusPending),
		HasCredentials: true,
		QRCodeBase64:   res.QRCodeBase64,
	}, nil
}

func (s *Service) begin(ctx context.Context, tenantID string) (string, context.Context, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", ctx, domain.ErrTenantRequired
	}
	return tenantID, tenantcontext.WithTenantID(ctx, tenantID), nil
}

func (s *Service) acquire(ctx context.Context, operation, tenantID string) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	release, err := s.guard.Acquire(ctx, tenantID)
	if err != nil {
		s.metrics.RecordPairingDenied(ctx, operation, domain.Code(err))
		return nil, err
	}
	s.metrics.RecordPairingAllowed(ctx, operation)
	if release == nil {
		release = func() {}
	}
	return release, nil
}

// loadCredentials returns the record and plain token, failing with
// ErrMissingCredentials before any network call when there is no token. A
// token that no longer opens is cleared like one the gateway rejected.
func (s *Service) loadCredentials(ctx context.Context, log *zap.Logger, tenantID string) (*integrationdomain.Integration, string, error) {
	rec, err := s.repo.Get(ctx, s.db, tenantID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: load integration: %v", domain.ErrInternal, err)
	}
	if !rec.HasToken() {
		return nil, "", domain.ErrMissingCredentials
	}
	token, err := s.sealer.Open(*rec.APIKey)
	if err != nil {
		log.Error("stored token unreadable, clearing credentials", zap.Error(err))
		s.invalidate(ctx, log, rec)
		return nil, "", gatewaydomain.ErrInvalidToken
	}
	return rec, token, nil
}

func (s *Service) openToken(log *zap.Logger, rec *integrationdomain.Integration) (string, bool) {
	if !rec.HasToken() {
		return "", false
	}
	token, err := s.sealer.Open(*rec.APIKey)
	if err != nil {
		log.Error("stored token unreadable", zap.Error(err))
		return "", false
	}
	return token, true
}

func (s *Service) invalidate(ctx context.Context, log *zap.Logger, rec *integrationdomain.Integration) {
	prev := rec.Status
	rec.Invalidate()
	s.saveQuietly(ctx, log, rec, prev)
}

func (s *Service) save(ctx context.Context, rec *integrationdomain.Integration, prev integrationdomain.Status) error {
	rec.Normalize(s.clock.Now())
	if err := s.repo.Upsert(ctx, s.db, rec); err != nil {
		return err
	}
	s.connMetrics.RecordStatusTransition(string(prev), string(rec.Status))
	return nil
}

func (s *Service) saveQuietly(ctx context.Context, log *zap.Logger, rec *integrationdomain.Integration, prev integrationdomain.Status) {
	if err := s.save(ctx, rec, prev); err != nil {
		log.Error("persist integration failed", zap.String("status", string(rec.Status)), zap.Error(err))
	}
}

func (s *Service) newIntegration(tenantID, instanceName string) *integrationdomain.Integration {
	return &integrationdomain.Integration{
		ID:           s.genID.Generate().Int64(),
		TenantID:     tenantID,
		Provider:     integrationdomain.ProviderUazapi,
		InstanceName: instanceName,
		Status:       integrationdomain.StatusDisconnected,
	}
}

func (s *Service) record(ctx context.Context, operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordConnectionOperation(ctx, operation, domain.Code(err))
}

func storedResult(rec *integrationdomain.Integration) domain.StatusResult {
	res := domain.StatusResult{
		Connected:      rec.Status == integrationdomain.StatusConnected,
		Status:         string(rec.Status),
		HasCredentials: rec.HasToken(),
	}
	if rec.Status == integrationdomain.StatusPending && rec.QRCodeBase64 != nil {
		res.QRCodeBase64 = *rec.QRCodeBase64
	}
	if res.Connected {
		if p, ok := rec.Profile(); ok {
			res.ProfileName = p.Name
			res.Phone = p.Phone
		}
	}
	return res
}

// unreachableResult answers when the gateway could not be asked. A pending
// pairing is reported as still pending so pollers keep going.
func unreachableResult(rec *integrationdomain.Integration) domain.StatusResult {
	res := storedResult(rec)
	res.Connected = false
	if rec.Status == integrationdomain.StatusConnected {
		res.Status = string(integrationdomain.StatusDisconnected)
	}
	return res
}

func disconnectedResult(hasCredentials bool) domain.StatusResult {
	return domain.StatusResult{
		Connected:      false,
		Status:         string(integrationdomain.StatusDisconnected),
		HasCredentials: hasCredentials,
	}
}

func toProfile(p gatewaydomain.Profile) integrationdomain.Profile {
	return integrationdomain.Profile{Name: p.Name, Phone: p.Phone, Platform: p.Platform}
}

func newAttemptID() *string {
	id := ulid.Make().String()
	return &id
}
