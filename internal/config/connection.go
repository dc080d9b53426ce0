package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ConnectionPolicy controls how the connection lifecycle is driven. A single
// poll interval applies to every caller that watches a pending pairing.
type ConnectionPolicy struct {
	PollInterval   time.Duration `mapstructure:"pollInterval"`
	GatewayTimeout time.Duration `mapstructure:"gatewayTimeout"`
	AutoStart      bool          `mapstructure:"autoStart"`
}

const (
	MinPollInterval = time.Second
	MaxPollInterval = time.Minute
)

func DefaultConnectionPolicy() ConnectionPolicy {
	return ConnectionPolicy{
		PollInterval:   5 * time.Second,
		GatewayTimeout: 15 * time.Second,
		AutoStart:      false,
	}
}

type ConnectionPolicyHolder struct {
	current atomic.Value // holds ConnectionPolicy
}

// NewStaticConnectionPolicyHolder returns a holder that never reloads.
func NewStaticConnectionPolicyHolder(policy ConnectionPolicy) *ConnectionPolicyHolder {
	holder := &ConnectionPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewConnectionPolicyHolder reads connection.yml and watches it for changes.
// UAZAPI_TIMEOUT seeds the gateway timeout when the file does not set one.
func NewConnectionPolicyHolder(cfg Config, log *zap.Logger) (*ConnectionPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("connection")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/mordomozap")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MORDOMOZAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConnectionPolicy()
	if cfg.Gateway.Timeout > 0 {
		defaults.GatewayTimeout = cfg.Gateway.Timeout
	}
	v.SetDefault("connection.pollInterval", defaults.PollInterval)
	v.SetDefault("connection.gatewayTimeout", defaults.GatewayTimeout)
	v.SetDefault("connection.autoStart", defaults.AutoStart)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := readConnectionPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticConnectionPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readConnectionPolicy(v)
		if err != nil {
			log.Warn("connection policy reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("connection policy reloaded",
			zap.String("file", e.Name),
			zap.Duration("poll_interval", updated.PollInterval),
			zap.Duration("gateway_timeout", updated.GatewayTimeout),
		)
	})

	return holder, nil
}

func (h *ConnectionPolicyHolder) Get() ConnectionPolicy {
	if h == nil {
		return DefaultConnectionPolicy()
	}
	return h.current.Load().(ConnectionPolicy)
}

func readConnectionPolicy(v *viper.Viper) (ConnectionPolicy, error) {
	policy := ConnectionPolicy{
		PollInterval:   v.GetDuration("connection.pollInterval"),
		GatewayTimeout: v.GetDuration("connection.gatewayTimeout"),
		AutoStart:      v.GetBool("connection.autoStart"),
	}
	if err := validateConnectionPolicy(policy); err != nil {
		return ConnectionPolicy{}, err
	}
	return policy, nil
}

func validateConnectionPolicy(policy ConnectionPolicy) error {
	if policy.PollInterval < MinPollInterval || policy.PollInterval > MaxPollInterval {
		return errors.New("connection.pollInterval must be between 1s and 1m")
	}
	if policy.GatewayTimeout <= 0 {
		return errors.New("connection.gatewayTimeout must be positive")
	}
	return nil
}
