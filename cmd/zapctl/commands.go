package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/mordomozap/internal/clock"
	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/smallbiznis/mordomozap/internal/connection/client"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	"github.com/smallbiznis/mordomozap/internal/session"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var defaultFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "proxy",
		Usage:   "Base URL of the connection proxy",
		Value:   "http://localhost:8080/api/uaz",
		Sources: cli.EnvVars("MORDOMOZAP_PROXY_URL"),
	},
	&cli.StringFlag{
		Name:    "api-key",
		Usage:   "Bearer key for the proxy, when it requires one",
		Sources: cli.EnvVars("PROXY_API_KEY"),
	},
	&cli.StringFlag{
		Name:    "tenant",
		Usage:   "Tenant id",
		Sources: cli.EnvVars("MORDOMOZAP_TENANT"),
	},
	&cli.DurationFlag{
		Name:    "timeout",
		Usage:   "Per-request timeout against the proxy",
		Value:   30 * time.Second,
		Sources: cli.EnvVars("MORDOMOZAP_PROXY_TIMEOUT"),
	},
	&cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log state transitions",
	},
}

func newClient(c *cli.Command) *client.Client {
	return client.New(c.String("proxy"),
		client.WithAPIKey(c.String("api-key")),
		client.WithHTTPClient(&http.Client{Timeout: c.Duration("timeout")}),
	)
}

func tenant(c *cli.Command) (string, error) {
	id := strings.TrimSpace(c.String("tenant"))
	if id == "" {
		return "", errors.New("--tenant is required")
	}
	return id, nil
}

func newLogger(c *cli.Command) *zap.Logger {
	if !c.Bool("verbose") {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check the tenant's connection status",
		Action: func(ctx context.Context, c *cli.Command) error {
			tenantID, err := tenant(c)
			if err != nil {
				return err
			}
			res, err := newClient(c).Status(ctx, tenantID)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func connectCmd() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Start a new pairing and wait for the phone to scan the QR code",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "qr-out",
				Usage: "Where to write the QR code PNG",
				Value: "qrcode.png",
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to wait for the scan",
				Value: 2 * time.Minute,
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Status check interval while pairing",
				Value:   config.DefaultConnectionPolicy().PollInterval,
				Sources: cli.EnvVars("MORDOMOZAP_CONNECTION_POLLINTERVAL"),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			tenantID, err := tenant(c)
			if err != nil {
				return err
			}

			policy := config.DefaultConnectionPolicy()
			policy.AutoStart = true
			policy.PollInterval = c.Duration("poll-interval")

			m := session.NewManager(tenantID, newClient(c), clock.New(),
				session.WithPolicy(config.NewStaticConnectionPolicyHolder(policy)),
				session.WithLogger(newLogger(c)),
			)
			defer m.Close()

			return waitForConnection(ctx, m, c.String("qr-out"), c.Duration("wait"))
		},
	}
}

func waitForConnection(ctx context.Context, m *session.Manager, qrOut string, wait time.Duration) error {
	updates, cancel := m.Subscribe()
	defer cancel()

	if _, err := m.Load(ctx); err != nil {
		return err
	}

	ctx, stop := context.WithTimeout(ctx, wait)
	defer stop()

	var (
		lastQR string
		paired bool
	)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("not connected after %s", wait)
		case snap, ok := <-updates:
			if !ok {
				return session.ErrClosed
			}
			switch snap.State {
			case session.StateConnected:
				fmt.Println("connected")
				return nil
			case session.StateError:
				return errors.New(snap.LastError)
			case session.StateDisconnected:
				// the first snapshot predates the pairing request
				if paired {
					return errors.New("pairing ended before the QR code was scanned, run connect again")
				}
			case session.StatePending:
				paired = true
				if snap.QRCodeBase64 != "" && snap.QRCodeBase64 != lastQR {
					if err := writeQR(qrOut, snap.QRCodeBase64); err != nil {
						return err
					}
					lastQR = snap.QRCodeBase64
					fmt.Printf("scan the QR code in %s\n", qrOut)
				}
			}
		}
	}
}

func writeQR(path, encoded string) error {
	png, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode qr code: %w", err)
	}
	return os.WriteFile(path, png, 0o600)
}

func reconnectCmd() *cli.Command {
	return &cli.Command{
		Name:  "reconnect",
		Usage: "Request a new QR code with the stored credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "qr-out",
				Usage: "Where to write the QR code PNG",
				Value: "qrcode.png",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			tenantID, err := tenant(c)
			if err != nil {
				return err
			}
			res, err := newClient(c).Reconnect(ctx, tenantID)
			if err != nil {
				var perr *client.Error
				if errors.As(err, &perr) && perr.Code == connectiondomain.ErrMissingCredentials.Error() {
					return fmt.Errorf("%w (run connect instead)", err)
				}
				return err
			}
			if err := writeQR(c.String("qr-out"), res.QRCodeBase64); err != nil {
				return err
			}
			fmt.Printf("scan the QR code in %s\n", c.String("qr-out"))
			return nil
		},
	}
}

func disconnectCmd() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Log the tenant out and clear stored credentials",
		Action: func(ctx context.Context, c *cli.Command) error {
			tenantID, err := tenant(c)
			if err != nil {
				return err
			}
			if err := newClient(c).Disconnect(ctx, tenantID); err != nil {
				return err
			}
			fmt.Println("disconnected")
			return nil
		},
	}
}

func sendTestCmd() *cli.Command {
	return &cli.Command{
		Name:  "send-test",
		Usage: "Send a test message from the tenant's number",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "Recipient phone number", Required: true},
			&cli.StringFlag{Name: "message", Usage: "Message body", Value: "mordomozap test message"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			tenantID, err := tenant(c)
			if err != nil {
				return err
			}
			err = newClient(c).SendTest(ctx, connectiondomain.SendTestRequest{
				TenantID: tenantID,
				To:       c.String("to"),
				Message:  c.String("message"),
			})
			if err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
}
