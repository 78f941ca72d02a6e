package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default parameter values, in milliseconds where they are durations.
const (
	DefaultTimeoutDelay    = 1_000
	DefaultMaxTimeoutDelay = 60_000
	DefaultSyncRetryDelay  = 10_000
	DefaultSyncRetryLimit  = 5
	DefaultMaxPool         = 10
	DefaultLogLevel        = 3 // hclog.Info
)

// Parameters holds the tunables of the engine.
type Parameters struct {
	TimeoutDelay    time.Duration // base round timeout
	MaxTimeoutDelay time.Duration // cap of the exponential backoff
	SyncRetryDelay  time.Duration // interval between ancestor fetch attempts
	SyncRetryLimit  int           // fetch attempts before a request is abandoned
	MaxPool         int           // pooled connections per peer
	LogLevel        int
}

// DefaultParameters returns the parameters used when none are given.
func DefaultParameters() *Parameters {
	return &Parameters{
		TimeoutDelay:    DefaultTimeoutDelay * time.Millisecond,
		MaxTimeoutDelay: DefaultMaxTimeoutDelay * time.Millisecond,
		SyncRetryDelay:  DefaultSyncRetryDelay * time.Millisecond,
		SyncRetryLimit:  DefaultSyncRetryLimit,
		MaxPool:         DefaultMaxPool,
		LogLevel:        DefaultLogLevel,
	}
}

// Validate checks that the parameters are usable.
func (p *Parameters) Validate() error {
	if p.TimeoutDelay <= 0 {
		return fmt.Errorf("%w: timeout_delay must be positive", ErrConfiguration)
	}
	if p.MaxTimeoutDelay < p.TimeoutDelay {
		return fmt.Errorf("%w: max_timeout_delay below timeout_delay", ErrConfiguration)
	}
	if p.SyncRetryDelay <= 0 {
		return fmt.Errorf("%w: sync_retry_delay must be positive", ErrConfiguration)
	}
	if p.SyncRetryLimit < 0 {
		return fmt.Errorf("%w: sync_retry_limit must not be negative", ErrConfiguration)
	}
	if p.MaxPool <= 0 {
		return fmt.Errorf("%w: max_pool must be positive", ErrConfiguration)
	}
	return nil
}

func setDefaults(viperConfig *viper.Viper) {
	viperConfig.SetDefault("timeout_delay", DefaultTimeoutDelay)
	viperConfig.SetDefault("max_timeout_delay", DefaultMaxTimeoutDelay)
	viperConfig.SetDefault("sync_retry_delay", DefaultSyncRetryDelay)
	viperConfig.SetDefault("sync_retry_limit", DefaultSyncRetryLimit)
	viperConfig.SetDefault("max_pool", DefaultMaxPool)
	viperConfig.SetDefault("log_level", DefaultLogLevel)
}

// LoadParameters reads the parameters file. An empty path yields the
// defaults, still subject to environment overrides.
func LoadParameters(path string) (*Parameters, error) {
	viperConfig := viper.New()
	setDefaults(viperConfig)
	bindEnv(viperConfig)
	if path != "" {
		viperConfig.SetConfigFile(path)
		viperConfig.SetConfigType("yaml")
		if err := viperConfig.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read parameters %s: %v", ErrConfiguration, path, err)
		}
	}
	p := &Parameters{
		TimeoutDelay:    time.Duration(viperConfig.GetInt64("timeout_delay")) * time.Millisecond,
		MaxTimeoutDelay: time.Duration(viperConfig.GetInt64("max_timeout_delay")) * time.Millisecond,
		SyncRetryDelay:  time.Duration(viperConfig.GetInt64("sync_retry_delay")) * time.Millisecond,
		SyncRetryLimit:  viperConfig.GetInt("sync_retry_limit"),
		MaxPool:         viperConfig.GetInt("max_pool"),
		LogLevel:        viperConfig.GetInt("log_level"),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
