package domain

import (
	"context"
	"errors"
)

// Service is the connection proxy. It is the only component holding the
// gateway token; callers identify the tenant and nothing else.
type Service interface {
	Status(ctx context.Context, tenantID string) (StatusResult, error)
	StartConnection(ctx context.Context, tenantID string) (StartResult, error)
	Reconnect(ctx context.Context, tenantID string) (ReconnectResult, error)
	Disconnect(ctx context.Context, tenantID string) error
	SendTest(ctx context.Context, req SendTestRequest) error
	EnsureConnected(ctx context.Context, tenantID string) (StatusResult, error)
}

type TenantRequest struct {
	TenantID  string `json:"tenantId"`
	CompanyID string `json:"companyId,omitempty"`
}

// Tenant returns the tenant id, accepting the legacy companyId field.
func (r TenantRequest) Tenant() string {
	if r.TenantID != "" {
		return r.TenantID
	}
	return r.CompanyID
}

type StatusResult struct {
	Connected      bool   `json:"connected"`
	Status         string `json:"status"`
	HasCredentials bool   `json:"hasCredentials"`
	QRCodeBase64   string `json:"qrCodeBase64,omitempty"`
	// last account details the gateway reported, while connected
	ProfileName string `json:"profileName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type StartResult struct {
	InstanceName string `json:"instanceName"`
	APIKey       string `json:"apiKey"`
	QRCodeBase64 string `json:"qrCodeBase64"`
}

type ReconnectResult struct {
	QRCodeBase64 string `json:"qrCodeBase64"`
}

type SendTestRequest struct {
	TenantID  string `json:"tenantId"`
	CompanyID string `json:"companyId,omitempty"`
	To        string `json:"to"`
	Message   string `json:"message"`
}

func (r SendTestRequest) Tenant() string {
	return TenantRequest{TenantID: r.TenantID, CompanyID: r.CompanyID}.Tenant()
}

// PairingGuard serializes pairing attempts per tenant. The returned release
// func must be called once the attempt finishes.
type PairingGuard interface {
	Acquire(ctx context.Context, tenantID string) (release func(), err error)
}

var (
	ErrTenantRequired     = errors.New("tenant_id_required")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrMissingCredentials = errors.New("missing_credentials")
	ErrPairingInProgress  = errors.New("pairing_in_progress")
	ErrRateLimited        = errors.New("rate_limited")
	ErrInternal           = errors.New("internal_error")
)
