package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
)

// SessionSnapshot returns the server-side state manager's view of a tenant
// that is being watched. Tenants nobody watches have no session.
func (s *Server) SessionSnapshot(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Query("tenantId"))
	if tenantID == "" {
		tenantID = strings.TrimSpace(c.Query("companyId"))
	}
	if tenantID == "" {
		AbortWithError(c, connectiondomain.ErrTenantRequired)
		return
	}

	m := s.sessions.Lookup(tenantID)
	if m == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, m.Snapshot())
}

// WatchSession loads the tenant's state manager so it keeps polling a
// pending pairing after the caller goes away.
func (s *Server) WatchSession(c *gin.Context) {
	var req connectiondomain.TenantRequest
	tenantID, err := bindTenant(c, &req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snap, err := s.sessions.Watch(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
