package treasury

import (
	"context"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	domain "github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	accesssvc "github.com/R3E-Network/marcasino/internal/app/services/access"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Config seeds the ledger settings until an admin changes them.
type Config struct {
	MinBet               int64
	MaxBet               int64
	MaxSinglePayoutRatio int64
	AllowedAssets        []domain.AssetID
}

// DefaultConfig returns 0.01 to 1000 coin bets with a 5% payout cap.
func DefaultConfig() Config {
	return Config{
		MinBet:               domain.UnitsPerCoin / 100,
		MaxBet:               1000 * domain.UnitsPerCoin,
		MaxSinglePayoutRatio: 5,
	}
}

// Service is the single ledger every game writes through.
type Service struct {
	store    storage.Store
	policy   *accesssvc.Policy
	clock    clock.Clock
	defaults domain.Settings
	log      *logger.Logger
}

// New constructs the treasury service.
func New(store storage.Store, policy *accesssvc.Policy, cfg Config, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("treasury")
	}
	if clk == nil {
		clk = clock.New()
	}
	defaults := domain.Settings{
		MinBet:               cfg.MinBet,
		MaxBet:               cfg.MaxBet,
		MaxSinglePayoutRatio: cfg.MaxSinglePayoutRatio,
		AllowedAssets:        map[domain.AssetID]bool{},
	}
	for _, a := range cfg.AllowedAssets {
		defaults.AllowedAssets[a] = true
	}
	return &Service{store: store, policy: policy, clock: clk, defaults: defaults, log: log}
}

// WithTx binds the ledger to tx.
func (s *Service) WithTx(tx storage.Tx) *Ledger {
	return &Ledger{svc: s, tx: tx}
}

func (s *Service) update(ctx context.Context, fn func(*Ledger) error) error {
	return s.store.Update(ctx, func(tx storage.Tx) error {
		return fn(s.WithTx(tx))
	})
}

func (s *Service) view(ctx context.Context, fn func(*Ledger) error) error {
	return s.store.View(ctx, func(tx storage.Tx) error {
		return fn(s.WithTx(tx))
	})
}

// Deposit credits native value sent by player.
func (s *Service) Deposit(ctx context.Context, player string, amount int64) error {
	return s.DepositAsset(ctx, player, domain.NativeAsset, amount)
}

// DepositAsset credits an allow-listed asset sent by player.
func (s *Service) DepositAsset(ctx context.Context, player string, asset domain.AssetID, amount int64) error {
	err := s.update(ctx, func(l *Ledger) error {
		return l.Deposit(ctx, player, asset, amount, "")
	})
	if err != nil {
		return err
	}
	s.log.WithField("player", player).WithField("asset", asset).Infof("deposit %d", amount)
	return nil
}

// Withdraw pays out native balance.
func (s *Service) Withdraw(ctx context.Context, player string, amount int64) error {
	return s.WithdrawAsset(ctx, player, domain.NativeAsset, amount)
}

// WithdrawAsset pays out a balance of asset.
func (s *Service) WithdrawAsset(ctx context.Context, player string, asset domain.AssetID, amount int64) error {
	err := s.update(ctx, func(l *Ledger) error {
		return l.Withdraw(ctx, player, asset, amount)
	})
	if err != nil {
		return err
	}
	s.log.WithField("player", player).WithField("asset", asset).Infof("withdraw %d", amount)
	return nil
}

// ProcessBet debits a stake on behalf of the calling game.
func (s *Service) ProcessBet(ctx context.Context, caller, player string, asset domain.AssetID, amount int64) error {
	return s.update(ctx, func(l *Ledger) error {
		return l.ProcessBet(ctx, caller, player, asset, amount, "")
	})
}

// ProcessPayout credits a win on behalf of the calling game and returns the
// net amount.
func (s *Service) ProcessPayout(ctx context.Context, caller, player string, asset domain.AssetID, gross, edgeBps int64) (int64, error) {
	var net int64
	err := s.update(ctx, func(l *Ledger) error {
		var err error
		net, err = l.ProcessPayout(ctx, caller, player, asset, gross, edgeBps, "")
		return err
	})
	return net, err
}

// Release frees a settled stake on behalf of the calling game.
func (s *Service) Release(ctx context.Context, caller string, asset domain.AssetID, amount int64) error {
	return s.update(ctx, func(l *Ledger) error {
		return l.Release(ctx, caller, asset, amount)
	})
}

// Refund returns a previously debited stake on behalf of the calling game.
func (s *Service) Refund(ctx context.Context, caller, player string, asset domain.AssetID, amount int64) error {
	return s.update(ctx, func(l *Ledger) error {
		return l.Credit(ctx, caller, player, asset, amount, "refund")
	})
}

// Admin operations -----------------------------------------------------------

func (s *Service) adminUpdate(ctx context.Context, caller string, fn func(*Ledger, *domain.Settings) error) error {
	return s.update(ctx, func(l *Ledger) error {
		if err := s.policy.Require(ctx, l.tx, caller, access.RoleAdmin); err != nil {
			return err
		}
		settings, err := l.Settings(ctx)
		if err != nil {
			return err
		}
		if err := fn(l, &settings); err != nil {
			return err
		}
		return l.tx.PutLedgerSettings(ctx, settings)
	})
}

// SetBetLimits changes the accepted stake range.
func (s *Service) SetBetLimits(ctx context.Context, caller string, minBet, maxBet int64) error {
	err := s.adminUpdate(ctx, caller, func(_ *Ledger, st *domain.Settings) error {
		if minBet <= 0 || maxBet < minBet {
			return apperrors.Newf(apperrors.KindInvalidAmount, "invalid bet limits [%d, %d]", minBet, maxBet)
		}
		st.MinBet, st.MaxBet = minBet, maxBet
		return nil
	})
	if err == nil {
		s.log.WithField("caller", caller).Infof("bet limits set to [%d, %d]", minBet, maxBet)
	}
	return err
}

// SetMaxSinglePayoutRatio changes the per-payout cap, in percent of reserve.
func (s *Service) SetMaxSinglePayoutRatio(ctx context.Context, caller string, ratio int64) error {
	err := s.adminUpdate(ctx, caller, func(_ *Ledger, st *domain.Settings) error {
		if ratio < 1 || ratio > 100 {
			return apperrors.Newf(apperrors.KindInvalidAmount, "payout ratio %d outside 1..100", ratio)
		}
		st.MaxSinglePayoutRatio = ratio
		return nil
	})
	if err == nil {
		s.log.WithField("caller", caller).Infof("max single payout ratio set to %d%%", ratio)
	}
	return err
}

// Pause stops bets and payouts.
func (s *Service) Pause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause resumes bets and payouts.
func (s *Service) Unpause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller string, paused bool) error {
	err := s.adminUpdate(ctx, caller, func(_ *Ledger, st *domain.Settings) error {
		st.Paused = paused
		return nil
	})
	if err == nil {
		s.log.WithField("caller", caller).WithField("paused", paused).Warn("treasury pause state changed")
	}
	return err
}

// AllowAsset adds asset to the allow list.
func (s *Service) AllowAsset(ctx context.Context, caller string, asset domain.AssetID) error {
	return s.adminUpdate(ctx, caller, func(_ *Ledger, st *domain.Settings) error {
		st.AllowedAssets[asset] = true
		return nil
	})
}

// GrantGame authorizes a game component to move funds.
func (s *Service) GrantGame(ctx context.Context, caller, game string) error {
	return s.policy.Grant(ctx, caller, game, access.RoleGame)
}

// RevokeGame withdraws a game's authorization.
func (s *Service) RevokeGame(ctx context.Context, caller, game string) error {
	return s.policy.Revoke(ctx, caller, game, access.RoleGame)
}

// Fund adds house liquidity to the reserve without creating a liability.
func (s *Service) Fund(ctx context.Context, caller string, asset domain.AssetID, amount int64) error {
	err := s.update(ctx, func(l *Ledger) error {
		if err := s.policy.Require(ctx, l.tx, caller, access.RoleAdmin); err != nil {
			return err
		}
		if amount <= 0 {
			return apperrors.New(apperrors.KindInvalidAmount, "funding must be positive")
		}
		pool, err := l.tx.GetPool(ctx, asset)
		if err != nil {
			return err
		}
		pool.Reserve += amount
		return l.tx.PutPool(ctx, pool)
	})
	if err == nil {
		s.log.WithField("asset", asset).Infof("house funded with %d", amount)
	}
	return err
}

// WithdrawHouseEarnings moves accumulated edge out of the reserve.
func (s *Service) WithdrawHouseEarnings(ctx context.Context, caller string, asset domain.AssetID, amount int64) error {
	return s.update(ctx, func(l *Ledger) error {
		if err := s.policy.Require(ctx, l.tx, caller, access.RoleAdmin); err != nil {
			return err
		}
		if amount <= 0 {
			return apperrors.New(apperrors.KindInvalidAmount, "amount must be positive")
		}
		pool, err := l.tx.GetPool(ctx, asset)
		if err != nil {
			return err
		}
		if pool.HouseEarnings < amount {
			return apperrors.Newf(apperrors.KindInsufficientBalance, "house earnings %d below %d", pool.HouseEarnings, amount)
		}
		pool.HouseEarnings -= amount
		pool.Reserve -= amount
		if err := l.tx.PutPool(ctx, pool); err != nil {
			return err
		}
		return l.tx.AppendJournal(ctx, domain.JournalEntry{
			ID:        uuid.NewString(),
			Player:    caller,
			Asset:     asset,
			Type:      domain.EntryHouseWithdraw,
			Amount:    -amount,
			CreatedAt: s.clock.Now().UTC(),
		})
	})
}

// Views ---------------------------------------------------------------------

// BalanceOf returns a player's native balance.
func (s *Service) BalanceOf(ctx context.Context, player string) (int64, error) {
	return s.BalanceOfAsset(ctx, player, domain.NativeAsset)
}

// BalanceOfAsset returns a player's balance of asset.
func (s *Service) BalanceOfAsset(ctx context.Context, player string, asset domain.AssetID) (int64, error) {
	var bal int64
	err := s.view(ctx, func(l *Ledger) error {
		var err error
		bal, err = l.Balance(ctx, player, asset)
		return err
	})
	return bal, err
}

// Stats summarises one asset pool.
func (s *Service) Stats(ctx context.Context, asset domain.AssetID) (domain.Stats, error) {
	var pool domain.Pool
	err := s.view(ctx, func(l *Ledger) error {
		var err error
		pool, err = l.Pool(ctx, asset)
		return err
	})
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{
		Asset:        asset,
		Balance:      pool.Reserve,
		TotalBets:    pool.TotalBets,
		TotalPayouts: pool.TotalPayouts,
		Earnings:     pool.HouseEarnings,
	}, nil
}

// Pool returns the raw aggregate for asset.
func (s *Service) Pool(ctx context.Context, asset domain.AssetID) (domain.Pool, error) {
	var pool domain.Pool
	err := s.view(ctx, func(l *Ledger) error {
		var err error
		pool, err = l.Pool(ctx, asset)
		return err
	})
	return pool, err
}

// Settings returns the effective ledger settings.
func (s *Service) Settings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.view(ctx, func(l *Ledger) error {
		var err error
		settings, err = l.Settings(ctx)
		return err
	})
	return settings, err
}

// Journal lists the newest entries for player, or for everyone when player
// is empty.
func (s *Service) Journal(ctx context.Context, player string, limit int) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		entries, err = tx.ListJournal(ctx, player, limit)
		return err
	})
	return entries, err
}
