// Package config loads engine configuration. Values are layered: built-in
// defaults, then an optional YAML file, then a .env file, then process
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const unitsPerCoin = 100_000_000

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Redis    RedisConfig          `yaml:"redis"`
	Engine   EngineConfig         `yaml:"engine"`
	VRF      VRFConfig            `yaml:"vrf"`
	Lottery  LotteryConfig        `yaml:"lottery"`
	Games    []GameConfig         `yaml:"games"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr        string   `yaml:"addr" env:"MARCASINO_ADDR"`
	RateLimit   float64  `yaml:"rate_limit" env:"MARCASINO_RATE_LIMIT"`
	RateBurst   int      `yaml:"rate_burst" env:"MARCASINO_RATE_BURST"`
	CORSOrigins []string `yaml:"cors_origins"`
	AuditFile   string   `yaml:"audit_file" env:"MARCASINO_AUDIT_FILE"`
	// Admin is granted the admin role at startup, in addition to Admins.
	Admin  string   `yaml:"admin" env:"MARCASINO_ADMIN"`
	Admins []string `yaml:"admins"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"MARCASINO_STORE"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// RedisConfig enables event fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

// EngineConfig holds the wagering rules.
type EngineConfig struct {
	HouseEdgeBps         int64    `yaml:"house_edge_bps" env:"MARCASINO_HOUSE_EDGE_BPS"`
	MinBet               int64    `yaml:"min_bet" env:"MARCASINO_MIN_BET"`
	MaxBet               int64    `yaml:"max_bet" env:"MARCASINO_MAX_BET"`
	MaxSinglePayoutRatio int64    `yaml:"max_single_payout_ratio" env:"MARCASINO_MAX_PAYOUT_RATIO"`
	AllowedAssets        []uint32 `yaml:"allowed_assets"`

	RevealDelay     time.Duration `yaml:"reveal_delay" env:"MARCASINO_REVEAL_DELAY"`
	RevealTimeout   time.Duration `yaml:"reveal_timeout" env:"MARCASINO_REVEAL_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"MARCASINO_REQUEST_TIMEOUT"`
	SlashingDeposit int64         `yaml:"slashing_deposit" env:"MARCASINO_SLASHING_DEPOSIT"`
}

// VRFConfig configures the local randomness provider.
type VRFConfig struct {
	// Key seeds word derivation; hex, 0x prefix optional.
	Key string `yaml:"key" env:"VRF_KEY"`
	// Schedule is a cron spec for the fulfilment sweep; empty disables it.
	Schedule string `yaml:"schedule" env:"VRF_SCHEDULE"`
}

// LotteryConfig configures the ticket lottery.
type LotteryConfig struct {
	Enabled        bool          `yaml:"enabled" env:"LOTTERY_ENABLED"`
	Name           string        `yaml:"name" env:"LOTTERY_NAME"`
	Asset          uint32        `yaml:"asset" env:"LOTTERY_ASSET"`
	TicketPrice    int64         `yaml:"ticket_price" env:"LOTTERY_TICKET_PRICE"`
	RoundDuration  time.Duration `yaml:"round_duration" env:"LOTTERY_ROUND_DURATION"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LOTTERY_REQUEST_TIMEOUT"`
}

// GameConfig registers one bettable game.
type GameConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// Default returns a configuration that runs in memory with both games and
// the lottery enabled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 20,
			RateBurst: 40,
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Redis:   RedisConfig{Channel: "marcasino.events"},
		Engine: EngineConfig{
			HouseEdgeBps:         100,
			MinBet:               unitsPerCoin / 100,
			MaxBet:               1000 * unitsPerCoin,
			MaxSinglePayoutRatio: 10,
			AllowedAssets:        []uint32{1},
			RevealDelay:          2 * time.Minute,
			RevealTimeout:        10 * time.Minute,
			RequestTimeout:       10 * time.Minute,
			SlashingDeposit:      unitsPerCoin / 500,
		},
		VRF: VRFConfig{Schedule: "@every 5s"},
		Lottery: LotteryConfig{
			Enabled:        true,
			Name:           "lottery",
			Asset:          1,
			TicketPrice:    unitsPerCoin,
			RoundDuration:  time.Hour,
			RequestTimeout: 10 * time.Minute,
		},
		Games: []GameConfig{
			{Name: "coinflip", Kind: "coinflip"},
			{Name: "dice", Kind: "dice"},
		},
	}
}

// Load builds the configuration from path (optional) and envFiles. Missing
// .env files are ignored; a missing YAML file named explicitly is an error.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env (%s): %w", f, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			add("database.dsn is required for the postgres store")
		}
	default:
		add("database.driver %q must be memory or postgres", c.Database.Driver)
	}

	e := c.Engine
	if e.HouseEdgeBps < 100 || e.HouseEdgeBps > 1000 {
		add("engine.house_edge_bps %d outside [100, 1000]", e.HouseEdgeBps)
	}
	if e.MinBet <= 0 || e.MinBet > e.MaxBet {
		add("engine bet limits [%d, %d] are invalid", e.MinBet, e.MaxBet)
	}
	if e.MaxSinglePayoutRatio < 1 || e.MaxSinglePayoutRatio > 100 {
		add("engine.max_single_payout_ratio %d outside [1, 100]", e.MaxSinglePayoutRatio)
	}
	if e.RevealDelay < 0 || e.RevealTimeout <= 0 || e.RequestTimeout <= 0 {
		add("engine reveal and request timings must be positive")
	}
	if e.SlashingDeposit <= 0 {
		add("engine.slashing_deposit must be positive")
	}

	if c.Lottery.Enabled {
		if c.Lottery.TicketPrice <= 0 {
			add("lottery.ticket_price must be positive")
		}
		if c.Lottery.RoundDuration <= 0 || c.Lottery.RequestTimeout <= 0 {
			add("lottery durations must be positive")
		}
		if c.Lottery.Name == "" {
			add("lottery.name is required")
		}
	}

	seen := make(map[string]bool)
	for _, g := range c.Games {
		if g.Name == "" {
			add("game name is required")
			continue
		}
		if seen[g.Name] || (c.Lottery.Enabled && g.Name == c.Lottery.Name) {
			add("game %q is declared twice", g.Name)
		}
		seen[g.Name] = true
	}

	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		add("server rate limits must not be negative")
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.KindInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// AdminSubjects returns the distinct bootstrap admins.
func (c *Config) AdminSubjects() []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range append([]string{c.Server.Admin}, c.Server.Admins...) {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
