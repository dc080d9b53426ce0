package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	"github.com/smallbiznis/mordomozap/internal/tenantcontext"
	"go.uber.org/zap"
)

type successResponse struct {
	Success bool `json:"success"`
}

// bindTenant reads {tenantId} from the body, falling back to the query string.
func bindTenant(c *gin.Context, req *connectiondomain.TenantRequest) (string, error) {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		return "", connectiondomain.ErrInvalidRequest
	}
	tenantID := strings.TrimSpace(req.Tenant())
	if tenantID == "" {
		tenantID = strings.TrimSpace(c.Query("tenantId"))
	}
	if tenantID == "" {
		tenantID = strings.TrimSpace(c.Query("companyId"))
	}
	if tenantID == "" {
		return "", connectiondomain.ErrTenantRequired
	}
	c.Request = c.Request.WithContext(tenantcontext.WithTenantID(c.Request.Context(), tenantID))
	return tenantID, nil
}

// Status never fails once a tenant is known: any error reads as disconnected.
func (s *Server) Status(c *gin.Context) {
	var req connectiondomain.TenantRequest
	tenantID, err := bindTenant(c, &req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.svc.Status(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusOK, s.softFail(c, "status", err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) StartConnection(c *gin.Context) {
	var req connectiondomain.TenantRequest
	tenantID, err := bindTenant(c, &req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.svc.StartConnection(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) Reconnect(c *gin.Context) {
	var req connectiondomain.TenantRequest
	tenantID, err := bindTenant(c, &req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.svc.Reconnect(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) Disconnect(c *gin.Context) {
	var req connectiondomain.TenantRequest
	tenantID, err := bindTenant(c, &req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.svc.Disconnect(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (s *Server) SendTest(c *gin.Context) {
	var req connectiondomain.SendTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			AbortWithError(c, connectiondomain.ErrTenantRequired)
			return
		}
		AbortWithError(c, connectiondomain.ErrInvalidRequest)
		return
	}
	tenantID := strings.TrimSpace(req.Tenant())
	if tenantID == "" {
		AbortWithError(c, connectiondomain.ErrTenantRequired)
		return
	}
	req.TenantID = tenantID
	c.Request = c.Request.WithContext(tenantcontext.WithTenantID(c.Request.Context(), tenantID))

	if err := s.svc.SendTest(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

// EnsureConnected never fails once a tenant is known.
func (s *Server) EnsureConnected(c *gin.Context) {
	var req connectiondomain.TenantRequest
	tenantID, err := bindTenant(c, &req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.svc.EnsureConnected(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusOK, s.softFail(c, "ensure_connected", err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) softFail(c *gin.Context, op string, err error) connectiondomain.StatusResult {
	code := connectiondomain.Code(err)
	c.Set("error_code", code)
	s.log.Warn("connection check degraded",
		zap.String("operation", op),
		zap.String("error_code", code),
		zap.Error(err),
	)
	return connectiondomain.StatusResult{Connected: false, Status: "disconnected"}
}
