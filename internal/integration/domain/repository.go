package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository persists integrations. Get returns (nil, nil) when the tenant has
// no record. Records are never deleted.
type Repository interface {
	Get(ctx context.Context, db *gorm.DB, tenantID string) (*Integration, error)
	Upsert(ctx context.Context, db *gorm.DB, item *Integration) error
	ListByStatus(ctx context.Context, db *gorm.DB, status Status, afterID int64, limit int) ([]Integration, error)
}

// Sealer protects the gateway token at rest.
type Sealer interface {
	Seal(token string) (string, error)
	Open(stored string) (string, error)
}

var (
	ErrTenantRequired     = errors.New("tenant_id_required")
	ErrSealKeyMissing     = errors.New("encryption_key_missing")
	ErrSealedTokenInvalid = errors.New("sealed_token_invalid")
)
