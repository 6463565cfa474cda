package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadLayersYAMLDotenvAndEnvironment(t *testing.T) {
	path := writeFile(t, "marcasino.yaml", `
server:
  addr: ":9000"
  admins: ["ops"]
engine:
  house_edge_bps: 250
  reveal_delay: 90s
games:
  - name: heads
    kind: coinflip
`)
	envFile := writeFile(t, ".env", "MARCASINO_ADMIN=root\nMARCASINO_MAX_PAYOUT_RATIO=20\n")
	t.Setenv("MARCASINO_HOUSE_EDGE_BPS", "300")
	t.Cleanup(func() {
		_ = os.Unsetenv("MARCASINO_ADMIN")
		_ = os.Unsetenv("MARCASINO_MAX_PAYOUT_RATIO")
	})

	cfg, err := Load(path, envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, int64(300), cfg.Engine.HouseEdgeBps, "environment wins over yaml")
	require.Equal(t, int64(20), cfg.Engine.MaxSinglePayoutRatio)
	require.Equal(t, 90*time.Second, cfg.Engine.RevealDelay)
	require.Equal(t, 10*time.Minute, cfg.Engine.RevealTimeout, "unset values keep defaults")
	require.Equal(t, []GameConfig{{Name: "heads", Kind: "coinflip"}}, cfg.Games)
	require.Equal(t, []string{"root", "ops"}, cfg.AdminSubjects())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"edge below range":   func(c *Config) { c.Engine.HouseEdgeBps = 99 },
		"edge above range":   func(c *Config) { c.Engine.HouseEdgeBps = 1001 },
		"inverted limits":    func(c *Config) { c.Engine.MinBet = c.Engine.MaxBet + 1 },
		"ratio zero":         func(c *Config) { c.Engine.MaxSinglePayoutRatio = 0 },
		"ratio above 100":    func(c *Config) { c.Engine.MaxSinglePayoutRatio = 101 },
		"no reveal window":   func(c *Config) { c.Engine.RevealTimeout = 0 },
		"no deposit":         func(c *Config) { c.Engine.SlashingDeposit = 0 },
		"postgres no dsn":    func(c *Config) { c.Database.Driver = "postgres" },
		"unknown driver":     func(c *Config) { c.Database.Driver = "bolt" },
		"duplicate game":     func(c *Config) { c.Games = append(c.Games, c.Games[0]) },
		"game named lottery": func(c *Config) { c.Games = append(c.Games, GameConfig{Name: "lottery", Kind: "dice"}) },
		"free tickets":       func(c *Config) { c.Lottery.TicketPrice = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), apperrors.ErrInvalidConfig)
		})
	}
}
