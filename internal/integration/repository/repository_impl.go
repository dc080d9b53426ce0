package repository

import (
	"context"

	"github.com/smallbiznis/mordomozap/internal/integration/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, tenant_id, provider, instance_name, api_key, status, qr_code_base64,
	pairing_attempt_id, metadata, connected_at, created_at, updated_at`

func (r *repo) Get(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Integration, error) {
	var item domain.Integration
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM whatsapp_integrations
		 WHERE tenant_id = ?
		 LIMIT 1`,
		tenantID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Upsert writes the full record keyed by tenant_id. created_at and id of an
// existing row are preserved.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, item *domain.Integration) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"instance_name",
			"api_key",
			"status",
			"qr_code_base64",
			"pairing_attempt_id",
			"metadata",
			"connected_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, status domain.Status, afterID int64, limit int) ([]domain.Integration, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []domain.Integration
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM whatsapp_integrations
		 WHERE status = ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		string(status),
		afterID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
