package session

import (
	"context"
	"errors"
	"time"

	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	integrationdomain "github.com/smallbiznis/mordomozap/internal/integration/domain"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StatePending      State = "pending"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ErrNoCredentials is returned by Reconnect when the tenant has nothing to
// reconnect with. The caller should start a fresh connection instead.
var ErrNoCredentials = errors.New("no_credentials")

var ErrClosed = errors.New("session_closed")

// ErrAlreadyConnected rejects a pairing request for a connected tenant. The
// caller disconnects first.
var ErrAlreadyConnected = errors.New("already_connected")

// API is the subset of the connection proxy a Manager drives. Both the
// in-process service and the HTTP client satisfy it.
type API interface {
	Status(ctx context.Context, tenantID string) (connectiondomain.StatusResult, error)
	StartConnection(ctx context.Context, tenantID string) (connectiondomain.StartResult, error)
	Reconnect(ctx context.Context, tenantID string) (connectiondomain.ReconnectResult, error)
	Disconnect(ctx context.Context, tenantID string) error
}

// Snapshot is what a renderer needs to draw the connection screen.
type Snapshot struct {
	TenantID       string    `json:"tenantId"`
	State          State     `json:"state"`
	QRCodeBase64   string    `json:"qrCodeBase64,omitempty"`
	HasCredentials bool      `json:"hasCredentials"`
	LastError      string    `json:"lastError,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Polling        bool      `json:"polling"`
}

// Loading reports a pairing that has no artifact yet.
func (s Snapshot) Loading() bool {
	return s.State == StatePending && s.QRCodeBase64 == ""
}

func stateFromStatus(res connectiondomain.StatusResult) State {
	if res.Connected {
		return StateConnected
	}
	switch integrationdomain.ParseStatus(res.Status) {
	case integrationdomain.StatusPending:
		return StatePending
	case integrationdomain.StatusError:
		return StateError
	default:
		return StateDisconnected
	}
}
