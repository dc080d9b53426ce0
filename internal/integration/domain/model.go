package domain

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ProviderUazapi is the only messaging gateway supported today.
const ProviderUazapi = "uazapi"

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDisconnected, StatusPending, StatusConnected, StatusError:
		return true
	default:
		return false
	}
}

// ParseStatus maps stored or user supplied text to a Status, defaulting to
// disconnected for anything unknown.
func ParseStatus(value string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return StatusDisconnected
	}
	return s
}

// Integration is the per-tenant WhatsApp connection record.
type Integration struct {
	ID               int64          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	TenantID         string         `json:"tenant_id" gorm:"size:191;not null;uniqueIndex:ux_whatsapp_integrations_tenant"`
	Provider         string         `json:"provider" gorm:"size:32;not null"`
	InstanceName     string         `json:"instance_name" gorm:"size:255;not null"`
	APIKey           *string        `json:"-" gorm:"column:api_key;type:text"`
	Status           Status         `json:"status" gorm:"size:32;not null;index:ix_whatsapp_integrations_status"`
	QRCodeBase64     *string        `json:"qr_code_base64,omitempty" gorm:"column:qr_code_base64;type:text"`
	PairingAttemptID *string        `json:"pairing_attempt_id,omitempty" gorm:"size:26"`
	Metadata         datatypes.JSON `json:"metadata,omitempty"`
	ConnectedAt      *time.Time     `json:"connected_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null"`
}

func (Integration) TableName() string { return "whatsapp_integrations" }

// HasToken reports whether a gateway token is stored.
func (i *Integration) HasToken() bool {
	return i != nil && i.APIKey != nil && strings.TrimSpace(*i.APIKey) != ""
}

// Normalize enforces the record invariants before a write: the QR is kept only
// while pending, connected_at only while connected, and timestamps are set.
func (i *Integration) Normalize(now time.Time) {
	now = now.UTC()
	if !i.Status.Valid() {
		i.Status = StatusDisconnected
	}
	if strings.TrimSpace(i.Provider) == "" {
		i.Provider = ProviderUazapi
	}
	if i.Status != StatusPending {
		i.QRCodeBase64 = nil
	}
	if i.APIKey != nil && strings.TrimSpace(*i.APIKey) == "" {
		i.APIKey = nil
	}
	switch {
	case i.Status != StatusConnected:
		i.ConnectedAt = nil
	case i.ConnectedAt == nil:
		i.ConnectedAt = &now
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
}

// Invalidate drops the token and artifact after the gateway rejected the token.
func (i *Integration) Invalidate() {
	i.APIKey = nil
	i.QRCodeBase64 = nil
	i.Status = StatusDisconnected
}

// Profile is the last gateway-reported account information.
type Profile struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Platform string `json:"platform,omitempty"`
}

func (p Profile) Empty() bool {
	return p.Name == "" && p.Phone == "" && p.Platform == ""
}

type metadata struct {
	Profile       *Profile   `json:"profile,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// RecordCheck stores profile details and the time of a successful status check.
func (i *Integration) RecordCheck(p Profile, at time.Time) {
	m := i.readMetadata()
	if !p.Empty() {
		m.Profile = &p
	}
	at = at.UTC()
	m.LastCheckedAt = &at
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	i.Metadata = datatypes.JSON(raw)
}

// Profile returns the stored profile, if any.
func (i *Integration) Profile() (Profile, bool) {
	m := i.readMetadata()
	if m.Profile == nil {
		return Profile{}, false
	}
	return *m.Profile, true
}

func (i *Integration) readMetadata() metadata {
	var m metadata
	if i == nil || len(i.Metadata) == 0 {
		return m
	}
	_ = json.Unmarshal(i.Metadata, &m)
	return m
}

// InstanceName derives the gateway instance name for a tenant.
func InstanceName(prefix, tenantID string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mordomozap"
	}
	return prefix + "-" + strings.TrimSpace(tenantID)
}
