package platform

import (
	"context"
	"errors"
	"strings"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	domain "github.com/R3E-Network/marcasino/internal/app/domain/platform"
	"github.com/R3E-Network/marcasino/internal/app/events"
	accesssvc "github.com/R3E-Network/marcasino/internal/app/services/access"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/benbjohnson/clock"
)

// Service owns the game registry, the house edge and the emergency switch.
type Service struct {
	store       storage.Store
	policy      *accesssvc.Policy
	events      events.Publisher
	clock       clock.Clock
	defaultEdge int64
	log         *logger.Logger
}

// New constructs the platform service. defaultEdge applies until an admin
// sets one.
func New(store storage.Store, policy *accesssvc.Policy, pub events.Publisher, clk clock.Clock, defaultEdge int64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("platform")
	}
	if pub == nil {
		pub = events.Discard
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{store: store, policy: policy, events: pub, clock: clk, defaultEdge: defaultEdge, log: log}
}

// SettingsTx reads the platform switches inside tx.
func (s *Service) SettingsTx(ctx context.Context, tx storage.Tx) (domain.Settings, error) {
	settings, err := tx.GetPlatform(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Settings{HouseEdge: s.defaultEdge}, nil
	}
	return settings, err
}

// RequireOperational fails with NotOperational while paused.
func (s *Service) RequireOperational(ctx context.Context, tx storage.Tx) error {
	settings, err := s.SettingsTx(ctx, tx)
	if err != nil {
		return err
	}
	if settings.Paused {
		return apperrors.New(apperrors.KindNotOperational, "platform is paused")
	}
	return nil
}

// RegisterGame records a game and authorizes it against the treasury.
func (s *Service) RegisterGame(ctx context.Context, caller, name, kind string) (domain.Game, error) {
	return s.register(ctx, name, kind, func(tx storage.Tx) error {
		return s.policy.Require(ctx, tx, caller, access.RoleAdmin)
	})
}

// EnsureGame registers a configured game at startup. An existing record is
// returned unchanged.
func (s *Service) EnsureGame(ctx context.Context, name, kind string) (domain.Game, error) {
	game, err := s.register(ctx, name, kind, func(storage.Tx) error { return nil })
	if errors.Is(err, apperrors.ErrAlreadyRegistered) {
		return s.Game(ctx, strings.TrimSpace(name))
	}
	return game, err
}

func (s *Service) register(ctx context.Context, name, kind string, authorize func(storage.Tx) error) (domain.Game, error) {
	name = strings.TrimSpace(name)
	var game domain.Game
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		if err := authorize(tx); err != nil {
			return err
		}
		if name == "" {
			return apperrors.New(apperrors.KindInvalidConfig, "game name is required")
		}
		if _, err := tx.GetGame(ctx, name); err == nil {
			return apperrors.Newf(apperrors.KindAlreadyRegistered, "game %s", name)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		game = domain.Game{Name: name, Kind: kind, RegisteredAt: s.clock.Now().UTC()}
		if err := tx.PutGame(ctx, game); err != nil {
			return err
		}
		return tx.PutRole(ctx, access.Grant{Subject: name, Role: access.RoleGame})
	})
	if err != nil {
		return domain.Game{}, err
	}

	s.log.WithField("game", name).WithField("kind", kind).Info("game registered")
	evt := events.New(events.TypeGameRegistered, game.RegisteredAt)
	evt.Game = name
	evt.Data = map[string]any{"kind": kind}
	s.publish(ctx, evt)
	return game, nil
}

// SetHouseEdge changes the edge applied to every payout.
func (s *Service) SetHouseEdge(ctx context.Context, caller string, bps int64) error {
	err := s.mutate(ctx, caller, func(st *domain.Settings) error {
		if bps < domain.MinHouseEdge || bps > domain.MaxHouseEdge {
			return apperrors.Newf(apperrors.KindInvalidHouseEdge, "%d bps outside %d..%d", bps, domain.MinHouseEdge, domain.MaxHouseEdge)
		}
		st.HouseEdge = bps
		return nil
	})
	if err == nil {
		s.log.WithField("caller", caller).Infof("house edge set to %d bps", bps)
	}
	return err
}

// EmergencyPause halts commits and reveals on every game.
func (s *Service) EmergencyPause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause resumes normal operation.
func (s *Service) Unpause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller string, paused bool) error {
	err := s.mutate(ctx, caller, func(st *domain.Settings) error {
		st.Paused = paused
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithField("caller", caller).WithField("paused", paused).Warn("platform operational state changed")
	evt := events.New(events.TypeOperationalChanged, s.clock.Now().UTC())
	evt.Data = map[string]any{"operational": !paused}
	s.publish(ctx, evt)
	return nil
}

func (s *Service) mutate(ctx context.Context, caller string, fn func(*domain.Settings) error) error {
	return s.store.Update(ctx, func(tx storage.Tx) error {
		if err := s.policy.Require(ctx, tx, caller, access.RoleAdmin); err != nil {
			return err
		}
		settings, err := s.SettingsTx(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(&settings); err != nil {
			return err
		}
		return tx.PutPlatform(ctx, settings)
	})
}

// IsOperational reports whether the platform accepts new bets.
func (s *Service) IsOperational(ctx context.Context) (bool, error) {
	settings, err := s.Settings(ctx)
	return !settings.Paused, err
}

// HouseEdge returns the current edge in basis points.
func (s *Service) HouseEdge(ctx context.Context) (int64, error) {
	settings, err := s.Settings(ctx)
	return settings.HouseEdge, err
}

// Settings returns the current switches.
func (s *Service) Settings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		settings, err = s.SettingsTx(ctx, tx)
		return err
	})
	return settings, err
}

// Games lists registered games.
func (s *Service) Games(ctx context.Context) ([]domain.Game, error) {
	var games []domain.Game
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		games, err = tx.ListGames(ctx)
		return err
	})
	return games, err
}

// Game returns one registered game.
func (s *Service) Game(ctx context.Context, name string) (domain.Game, error) {
	var game domain.Game
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		game, err = tx.GetGame(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Newf(apperrors.KindGameNotFound, "game %s", name)
		}
		return err
	})
	return game, err
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.WithError(err).WithField("event", evt.Type).Warn("publish event")
	}
}
