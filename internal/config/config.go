// Package config loads server settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/engine"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/limits"
)

// Config is everything cmd/server needs to start.
type Config struct {
	Port        string        `toml:"port"`
	DatabaseURL string        `toml:"database_url"`
	RedisURL    string        `toml:"redis_url"`
	CacheTTL    time.Duration `toml:"cache_ttl"`

	Engine engine.Config `toml:"engine"`
	Limits Limits        `toml:"limits"`
}

// Limits configures the borrow limiter. Caps are whole liquidity units as
// decimal strings; empty means uncapped.
type Limits struct {
	MaxDebtPerPool    string `toml:"max_debt_per_pool"`
	MaxDebtCorrelated string `toml:"max_debt_correlated"`
	CorrelationWindow uint32 `toml:"correlation_window"` // seconds
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Port:     "8080",
		CacheTTL: 30 * time.Second,
		Engine:   engine.DefaultConfig(),
		Limits:   Limits{CorrelationWindow: 86400},
	}
}

// Load reads path when it is non-empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown key %s in %s", undecoded[0], path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("ENGINE_ID", &c.Engine.EngineID)
	str("MAX_DEBT_PER_POOL", &c.Limits.MaxDebtPerPool)
	str("MAX_DEBT_CORRELATED", &c.Limits.MaxDebtCorrelated)

	if v, ok := os.LookupEnv("CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CACHE_TTL: %w", err)
		}
		c.CacheTTL = d
	}
	for _, u := range []struct {
		name string
		dst  *uint32
	}{
		{"SWAP_FEE_BPS", &c.Engine.SwapFeeBps},
		{"BORROW_FEE_BPS", &c.Engine.BorrowFeeBps},
		{"CORRELATION_WINDOW", &c.Limits.CorrelationWindow},
	} {
		if v, ok := os.LookupEnv(u.name); ok {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("config: %s: %w", u.name, err)
			}
			*u.dst = uint32(n)
		}
	}
	if v, ok := os.LookupEnv("MIN_LIQUIDITY"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MIN_LIQUIDITY: %w", err)
		}
		c.Engine.MinLiquidity = n
	}
	if v, ok := os.LookupEnv("REJECT_EXPIRED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: REJECT_EXPIRED: %w", err)
		}
		c.Engine.RejectExpired = b
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return fmt.Errorf("config: port %q is not a valid port", c.Port)
	}
	if c.CacheTTL < 0 {
		return errors.New("config: cache_ttl must not be negative")
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		return errors.New("config: redis_url needs database_url")
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Limiter(); err != nil {
		return err
	}
	return nil
}

// Limiter builds the borrow limiter, or returns nil when neither cap is set.
func (c *Config) Limiter() (*limits.DebtLimiter, error) {
	perPool, err := parseCap("max_debt_per_pool", c.Limits.MaxDebtPerPool)
	if err != nil {
		return nil, err
	}
	correlated, err := parseCap("max_debt_correlated", c.Limits.MaxDebtCorrelated)
	if err != nil {
		return nil, err
	}
	if perPool == nil && correlated == nil {
		return nil, nil
	}
	return limits.NewDebtLimiter(perPool, correlated, c.Limits.CorrelationWindow), nil
}

func parseCap(name, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := fixed.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}
