package domain

import (
	"errors"
	"net/http"

	gatewaydomain "github.com/smallbiznis/mordomozap/internal/gateway/domain"
)

// Code returns the stable error code reported to callers for err.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTenantRequired):
		return ErrTenantRequired.Error()
	case errors.Is(err, ErrInvalidRequest):
		return ErrInvalidRequest.Error()
	case errors.Is(err, ErrMissingCredentials):
		return ErrMissingCredentials.Error()
	case errors.Is(err, ErrPairingInProgress):
		return ErrPairingInProgress.Error()
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited.Error()
	case errors.Is(err, gatewaydomain.ErrInvalidToken):
		return gatewaydomain.ErrInvalidToken.Error()
	case errors.Is(err, gatewaydomain.ErrTimeout):
		return gatewaydomain.ErrTimeout.Error()
	case errors.Is(err, gatewaydomain.ErrGatewayInit):
		return gatewaydomain.ErrGatewayInit.Error()
	case errors.Is(err, gatewaydomain.ErrGatewayConnect):
		return gatewaydomain.ErrGatewayConnect.Error()
	case errors.Is(err, gatewaydomain.ErrGatewaySend):
		return gatewaydomain.ErrGatewaySend.Error()
	default:
		return ErrInternal.Error()
	}
}

// HTTPStatus maps an error code to the proxy's response status.
func HTTPStatus(code string) int {
	switch code {
	case "ok":
		return http.StatusOK
	case ErrTenantRequired.Error(), ErrInvalidRequest.Error():
		return http.StatusBadRequest
	case gatewaydomain.ErrInvalidToken.Error():
		return http.StatusUnauthorized
	case ErrMissingCredentials.Error():
		return http.StatusNotFound
	case ErrPairingInProgress.Error():
		return http.StatusConflict
	case ErrRateLimited.Error():
		return http.StatusTooManyRequests
	case gatewaydomain.ErrGatewayInit.Error(), gatewaydomain.ErrGatewayConnect.Error(), gatewaydomain.ErrGatewaySend.Error():
		return http.StatusBadGateway
	case gatewaydomain.ErrTimeout.Error():
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFromCode rebuilds a sentinel from a code received over the wire.
func ErrorFromCode(code string) error {
	for _, err := range []error{
		ErrTenantRequired,
		ErrInvalidRequest,
		ErrMissingCredentials,
		ErrPairingInProgress,
		ErrRateLimited,
		gatewaydomain.ErrInvalidToken,
		gatewaydomain.ErrTimeout,
		gatewaydomain.ErrGatewayInit,
		gatewaydomain.ErrGatewayConnect,
		gatewaydomain.ErrGatewaySend,
	} {
		if err.Error() == code {
			return err
		}
	}
	return ErrInternal
}
