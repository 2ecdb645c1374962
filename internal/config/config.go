// Package config holds process-wide configuration: static wiring read once
// at startup, plus the two protocol parameters (minimum stake, fee
// percentage) the owner may mutate at runtime.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrOwnerOnly is returned when a non-owner attempts to mutate
	// protocol parameters.
	ErrOwnerOnly = errors.New("config: owner only")

	// ErrInvalidFee is returned for fee percentages above 100.
	ErrInvalidFee = errors.New("config: fee percentage must be at most 100")

	// ErrInvalidMinStake is returned for a zero minimum stake.
	ErrInvalidMinStake = errors.New("config: minimum stake must be positive")
)

// Config is the full startup configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Chain  ChainConfig  `mapstructure:"chain"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Params ParamsConfig `mapstructure:"params"`
	Cron   CronConfig   `mapstructure:"cron"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ChainConfig struct {
	// Genesis is the instant of block 0 for the interval clock.
	Genesis time.Time `mapstructure:"genesis"`
	// BlockInterval is the duration of one block.
	BlockInterval time.Duration `mapstructure:"block_interval"`
}

type DBConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type ParamsConfig struct {
	Owner      string `mapstructure:"owner"`
	MinStake   uint64 `mapstructure:"min_stake"`
	FeePercent uint64 `mapstructure:"fee_percent"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ResolveSweep string `mapstructure:"resolve_sweep"`
}

// Load reads configuration from an optional YAML file and SC_-prefixed
// environment variables, with defaults matching a local dev deployment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("chain.genesis", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	v.SetDefault("chain.block_interval", "10s")
	v.SetDefault("db.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "30s")
	v.SetDefault("params.owner", "owner")
	v.SetDefault("params.min_stake", 1_000_000)
	v.SetDefault("params.fee_percent", 5)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.resolve_sweep", "@every 1m")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks startup invariants.
func (c Config) Validate() error {
	if c.Params.FeePercent > 100 {
		return ErrInvalidFee
	}
	if c.Params.MinStake == 0 {
		return ErrInvalidMinStake
	}
	if c.Chain.BlockInterval <= 0 {
		return errors.New("config: chain block interval must be positive")
	}
	if c.Params.Owner == "" {
		return errors.New("config: owner principal must be set")
	}
	return nil
}

// Params is the runtime-mutable protocol parameter set. Reads are cheap;
// mutation is owner-gated and validated.
type Params struct {
	mu         sync.RWMutex
	owner      string
	minStake   uint64
	feePercent uint64
}

// NewParams creates the runtime parameter set from validated startup config.
func NewParams(cfg ParamsConfig) *Params {
	return &Params{
		owner:      cfg.Owner,
		minStake:   cfg.MinStake,
		feePercent: cfg.FeePercent,
	}
}

// Owner returns the owner principal.
func (p *Params) Owner() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

// IsOwner reports whether the caller is the owner principal.
func (p *Params) IsOwner(caller string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return caller == p.owner
}

// MinStake returns the minimum accepted stake in micro-units.
func (p *Params) MinStake() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minStake
}

// FeePercent returns the protocol fee percentage (0–100).
func (p *Params) FeePercent() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.feePercent
}

// Update applies a batch of parameter changes under one lock. Both values
// are validated before either is applied, so a bad fee cannot leave a new
// minimum stake half-committed. Owner only.
func (p *Params) Update(caller string, minStake, feePercent *uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOwnerOnly
	}
	if minStake != nil && *minStake == 0 {
		return ErrInvalidMinStake
	}
	if feePercent != nil && *feePercent > 100 {
		return ErrInvalidFee
	}
	if minStake != nil {
		p.minStake = *minStake
	}
	if feePercent != nil {
		p.feePercent = *feePercent
	}
	return nil
}

// SetMinStake updates the minimum stake. Owner only.
func (p *Params) SetMinStake(caller string, minStake uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOwnerOnly
	}
	if minStake == 0 {
		return ErrInvalidMinStake
	}
	p.minStake = minStake
	return nil
}

// SetFeePercent updates the protocol fee percentage. Owner only, bounded
// 0–100.
func (p *Params) SetFeePercent(caller string, feePercent uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOwnerOnly
	}
	if feePercent > 100 {
		return ErrInvalidFee
	}
	p.feePercent = feePercent
	return nil
}
