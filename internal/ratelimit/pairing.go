package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/mordomozap/internal/config"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	"github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyPairingRate = "mordomozap:pairing:rate:%s"
	keyPairingLock = "mordomozap:pairing:lock:%s"

	denyReasonRateLimited = "rate_limited"
	denyReasonInProgress  = "in_progress"
)

// PairingGuard limits how often a tenant may request a pairing artifact and
// keeps two pairing attempts for the same tenant from overlapping. Redis
// failures are logged and let the attempt through.
type PairingGuard struct {
	enabled bool

	bucket  *TokenBucket
	locker  *Locker
	rate    float64
	burst   int
	lockTTL time.Duration

	log     *zap.Logger
	metrics *metrics.ConnectionMetrics
}

type GuardParams struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Client  *redis.Client              `optional:"true"`
	Metrics *metrics.ConnectionMetrics `optional:"true"`
}

func NewPairingGuard(p GuardParams) (connectiondomain.PairingGuard, error) {
	limitCfg := p.Cfg.RateLimit
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	if !limitCfg.Enabled || p.Client == nil {
		return &PairingGuard{log: log}, nil
	}
	if limitCfg.PairingRate <= 0 || limitCfg.PairingBurst <= 0 {
		return nil, errors.New("pairing rate limit must be positive")
	}
	if limitCfg.PairingLockTTL <= 0 {
		return nil, errors.New("pairing lock ttl must be positive")
	}

	return &PairingGuard{
		enabled: true,
		bucket:  NewTokenBucket(p.Client),
		locker:  NewLocker(p.Client),
		rate:    limitCfg.PairingRate,
		burst:   limitCfg.PairingBurst,
		lockTTL: limitCfg.PairingLockTTL,
		log:     log.Named("ratelimit.pairing"),
		metrics: p.Metrics,
	}, nil
}

func (g *PairingGuard) Enabled() bool {
	return g != nil && g.enabled
}

func (g *PairingGuard) Acquire(ctx context.Context, tenantID string) (func(), error) {
	noop := func() {}
	if !g.Enabled() {
		return noop, nil
	}
	tenantID = strings.TrimSpace(tenantID)

	res, err := g.bucket.Allow(ctx, fmt.Sprintf(keyPairingRate, tenantID), g.rate, g.burst)
	switch {
	case err != nil:
		g.log.Warn("pairing rate check failed", zap.String("tenant_id", tenantID), zap.Error(err))
	case !res.Allowed:
		g.metrics.RecordPairingDenied(denyReasonRateLimited)
		return nil, fmt.Errorf("%w: retry after %s", connectiondomain.ErrRateLimited, res.RetryAfter.Round(time.Second))
	}

	release, held, err := g.locker.Hold(ctx, fmt.Sprintf(keyPairingLock, tenantID), g.lockTTL)
	if err != nil {
		g.log.Warn("pairing lock failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return noop, nil
	}
	if !held {
		g.metrics.RecordPairingDenied(denyReasonInProgress)
		return nil, connectiondomain.ErrPairingInProgress
	}

	return func() {
		if err := release(); err != nil {
			g.log.Warn("pairing lock release failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}, nil
}
