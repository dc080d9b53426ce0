package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client talks to the external WhatsApp gateway. Tokens are per-instance
// secrets issued by InitializeInstance.
type Client interface {
	InitializeInstance(ctx context.Context, name string) (InstanceCredentials, error)
	RequestPairingArtifact(ctx context.Context, token string) (string, error)
	QueryStatus(ctx context.Context, token string) (StatusReport, error)
	TerminateSession(ctx context.Context, token string) error
	SendMessage(ctx context.Context, token, to, body string) error
}

type InstanceCredentials struct {
	Token string
	Name  string
}

// StatusReport is the normalized answer of a status query. Artifact is set
// when the gateway handed out a refreshed pairing QR with the status.
type StatusReport struct {
	Connected bool
	Artifact  string
	Profile   Profile
}

type Profile struct {
	Name     string
	Phone    string
	Platform string
}

var (
	ErrGatewayInit    = errors.New("gateway_init_failed")
	ErrGatewayConnect = errors.New("gateway_connect_failed")
	ErrGatewaySend    = errors.New("gateway_send_failed")
	ErrInvalidToken   = errors.New("invalid_token")
	ErrTimeout        = errors.New("gateway_timeout")
)

// SendError carries the gateway's own explanation for a rejected message.
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return fmt.Sprintf("gateway rejected message with status %d", e.StatusCode)
	}
	return msg
}

func (e *SendError) Unwrap() error { return ErrGatewaySend }
