package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	"github.com/smallbiznis/mordomozap/internal/session"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_, payload := mapError(err)
	c.Set("error_code", payload.Error)
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorResponse) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorResponse{Error: connectiondomain.ErrInternal.Error()}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: ErrUnauthorized.Error()}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: ErrNotFound.Error()}
	case errors.Is(err, session.ErrNoCredentials):
		return http.StatusNotFound, errorResponse{
			Error:   connectiondomain.ErrMissingCredentials.Error(),
			Message: "no stored credentials, start a new connection",
		}
	case errors.Is(err, session.ErrAlreadyConnected):
		return http.StatusConflict, errorResponse{
			Error:   session.ErrAlreadyConnected.Error(),
			Message: "tenant is connected, disconnect first",
		}
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, errorResponse{Error: session.ErrClosed.Error()}
	}

	code := connectiondomain.Code(err)
	status := connectiondomain.HTTPStatus(code)
	payload := errorResponse{Error: code, Message: errorMessage(code)}
	if status == http.StatusBadGateway {
		// the gateway's own text is the only hint operators get
		payload.Message = err.Error()
	}
	return status, payload
}

func errorMessage(code string) string {
	switch code {
	case connectiondomain.ErrTenantRequired.Error():
		return "tenantId is required"
	case connectiondomain.ErrInvalidRequest.Error():
		return "invalid request"
	case connectiondomain.ErrMissingCredentials.Error():
		return "no stored credentials, start a new connection"
	case connectiondomain.ErrPairingInProgress.Error():
		return "a pairing attempt is already running for this tenant"
	case connectiondomain.ErrRateLimited.Error():
		return "too many pairing attempts, retry later"
	case "invalid_token":
		return "gateway rejected the stored token, start a new connection"
	case "gateway_timeout":
		return "gateway did not answer in time"
	default:
		return "internal server error"
	}
}

// classifyErrorForLog returns the error type and code logged per request.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Error
	case status == http.StatusUnauthorized:
		return "auth", payload.Error
	default:
		return "client", payload.Error
	}
}
