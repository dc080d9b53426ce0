package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/mordomozap/internal/observability/context"
	"github.com/smallbiznis/mordomozap/internal/tenantcontext"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = tenantcontext.WithTenantID(ctx, "T1")
	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "T1", fields["tenant_id"])
}

func TestGinMiddlewareSetsRequestIDAndTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seenTenant, seenRequest string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/api/uaz/status", func(c *gin.Context) {
		seenTenant, _ = tenantcontext.TenantIDFromContext(c.Request.Context())
		seenRequest = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/uaz/status?companyId=T9", nil)
	req.Header.Set("X-Request-Id", "abc")
	r.ServeHTTP(w, req)

	require.Equal(t, "T9", seenTenant)
	require.Equal(t, "abc", seenRequest)
	require.Equal(t, "abc", w.Header().Get("X-Request-Id"))
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestTableFromSQL(t *testing.T) {
	require.Equal(t, "whatsapp_integrations", tableFromSQL(`SELECT * FROM whatsapp_integrations WHERE tenant_id = ?`))
	require.Equal(t, "whatsapp_integrations", tableFromSQL(`INSERT INTO "whatsapp_integrations" (id) VALUES (?)`))
	require.Equal(t, "", tableFromSQL(`PRAGMA foreign_keys`))
	require.Equal(t, "UPDATE", operationFromSQL(`update whatsapp_integrations set status = ?`))
}

func TestGormLoggerTraceLevels(t *testing.T) {
	l := NewGormLogger(DefaultGormLoggerConfig())

	_, ok := l.traceLevel(time.Millisecond, gormlogger.ErrRecordNotFound)
	require.False(t, ok)

	level, ok := l.traceLevel(time.Millisecond, errors.New("boom"))
	require.True(t, ok)
	require.Equal(t, zapcore.ErrorLevel, level)

	level, ok = l.traceLevel(time.Second, nil)
	require.True(t, ok)
	require.Equal(t, zapcore.WarnLevel, level)

	_, ok = l.traceLevel(time.Millisecond, nil)
	require.False(t, ok)

	_, ok = l.LogMode(gormlogger.Silent).(*GormLogger).traceLevel(time.Second, errors.New("boom"))
	require.False(t, ok)

	sql, params := l.ParamsFilter(context.Background(), "UPDATE t SET api_key = ?", "v1:secret")
	require.Equal(t, "UPDATE t SET api_key = ?", sql)
	require.Nil(t, params)
}
