package treasury

import (
	"context"
	"math/big"
	"testing"

	domain "github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	accesssvc "github.com/R3E-Network/marcasino/internal/app/services/access"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	"github.com/R3E-Network/marcasino/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const coin = domain.UnitsPerCoin

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	policy := accesssvc.New(store, nil)
	require.NoError(t, policy.Bootstrap(ctx, "admin"))

	cfg := DefaultConfig()
	cfg.MaxSinglePayoutRatio = 10
	svc := New(store, policy, cfg, clock.NewMock(), nil)
	require.NoError(t, svc.GrantGame(ctx, "admin", "coin"))
	return svc, store
}

func TestDepositWithdraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Deposit(ctx, "alice", 0), apperrors.ErrInvalidAmount)
	require.NoError(t, svc.Deposit(ctx, "alice", 5*coin))
	require.ErrorIs(t, svc.Withdraw(ctx, "alice", 6*coin), apperrors.ErrInsufficientBalance)
	require.NoError(t, svc.Withdraw(ctx, "alice", 2*coin))

	bal, err := svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 3*coin, bal)

	pool, err := svc.Pool(ctx, domain.NativeAsset)
	require.NoError(t, err)
	require.Equal(t, 3*coin, pool.Reserve)
	require.Equal(t, 3*coin, pool.Liabilities)

	entries, err := svc.Journal(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.EntryWithdraw, entries[0].Type)
	require.Equal(t, 3*coin, entries[0].BalanceAfter)
}

func TestDepositAssetRequiresAllowList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.DepositAsset(ctx, "alice", 7, coin), apperrors.ErrAssetNotAllowed)
	require.ErrorIs(t, svc.AllowAsset(ctx, "alice", 7), apperrors.ErrNotAuthorized)
	require.NoError(t, svc.AllowAsset(ctx, "admin", 7))
	require.NoError(t, svc.DepositAsset(ctx, "alice", 7, coin))

	bal, err := svc.BalanceOfAsset(ctx, "alice", 7)
	require.NoError(t, err)
	require.Equal(t, coin, bal)
	native, err := svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, native)
}

func TestProcessBetChecks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Deposit(ctx, "alice", coin))

	require.ErrorIs(t, svc.ProcessBet(ctx, "rogue", "alice", domain.NativeAsset, coin/10), apperrors.ErrNotAuthorized)
	require.ErrorIs(t, svc.ProcessBet(ctx, "coin", "alice", domain.NativeAsset, coin/1000), apperrors.ErrBetOutOfRange)
	require.ErrorIs(t, svc.ProcessBet(ctx, "coin", "alice", domain.NativeAsset, 1001*coin), apperrors.ErrBetOutOfRange)
	require.ErrorIs(t, svc.ProcessBet(ctx, "coin", "alice", domain.NativeAsset, 2*coin), apperrors.ErrInsufficientBalance)

	require.NoError(t, svc.Pause(ctx, "admin"))
	require.ErrorIs(t, svc.ProcessBet(ctx, "coin", "alice", domain.NativeAsset, coin/10), apperrors.ErrNotOperational)
	_, err := svc.ProcessPayout(ctx, "coin", "alice", domain.NativeAsset, coin/10, 100)
	require.ErrorIs(t, err, apperrors.ErrNotOperational)
	require.NoError(t, svc.Unpause(ctx, "admin"))

	require.NoError(t, svc.ProcessBet(ctx, "coin", "alice", domain.NativeAsset, coin/10))
	stats, err := svc.Stats(ctx, domain.NativeAsset)
	require.NoError(t, err)
	require.Equal(t, coin/10, stats.TotalBets)
	require.Equal(t, coin, stats.Balance)

	bal, _ := svc.BalanceOf(ctx, "alice")
	require.Equal(t, coin-coin/10, bal)
}

func TestProcessPayoutSplitsEdge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Fund(ctx, "admin", domain.NativeAsset, 100*coin))
	require.NoError(t, svc.Deposit(ctx, "alice", coin))
	require.NoError(t, svc.ProcessBet(ctx, "coin", "alice", domain.NativeAsset, coin))
	pool, _ := svc.Pool(ctx, domain.NativeAsset)
	require.Equal(t, coin, pool.Escrow)
	require.NoError(t, svc.Release(ctx, "coin", domain.NativeAsset, coin))

	net, err := svc.ProcessPayout(ctx, "coin", "alice", domain.NativeAsset, 2*coin, 100)
	require.NoError(t, err)
	require.Equal(t, 2*coin*9900/10000, net)

	bal, _ := svc.BalanceOf(ctx, "alice")
	require.Equal(t, net, bal)

	stats, err := svc.Stats(ctx, domain.NativeAsset)
	require.NoError(t, err)
	require.Equal(t, 2*coin-net, stats.Earnings)
	require.Equal(t, net, stats.TotalPayouts)

	pool, _ = svc.Pool(ctx, domain.NativeAsset)
	require.Zero(t, pool.Escrow)
	require.LessOrEqual(t, pool.Liabilities+pool.HouseEarnings, pool.Reserve)
}

func TestRefundDrawsOnEscrowOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Deposit(ctx, "alice", coin))
	require.NoError(t, svc.ProcessBet(ctx, "coin", "alice", domain.NativeAsset, coin/2))

	require.ErrorIs(t, svc.Refund(ctx, "coin", "alice", domain.NativeAsset, coin), apperrors.ErrInvalidAmount)
	require.ErrorIs(t, svc.Release(ctx, "coin", domain.NativeAsset, coin), apperrors.ErrInvalidAmount)
	require.ErrorIs(t, svc.Release(ctx, "rogue", domain.NativeAsset, coin/2), apperrors.ErrNotAuthorized)

	require.NoError(t, svc.Refund(ctx, "coin", "alice", domain.NativeAsset, coin/2))
	bal, _ := svc.BalanceOf(ctx, "alice")
	require.Equal(t, coin, bal)

	pool, _ := svc.Pool(ctx, domain.NativeAsset)
	require.Zero(t, pool.Escrow)
	require.Equal(t, pool.Reserve, pool.Liabilities)
}

func TestProcessPayoutCaps(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Fund(ctx, "admin", domain.NativeAsset, 10*coin))

	// 10% of a 10 coin reserve.
	_, err := svc.ProcessPayout(ctx, "coin", "alice", domain.NativeAsset, 2*coin, 100)
	require.ErrorIs(t, err, apperrors.ErrPayoutExceedsLimit)

	_, err = svc.ProcessPayout(ctx, "coin", "alice", domain.NativeAsset, coin, 0)
	require.NoError(t, err)

	// Liabilities now occupy most of the reserve.
	require.NoError(t, svc.SetMaxSinglePayoutRatio(ctx, "admin", 100))
	require.NoError(t, svc.Deposit(ctx, "bob", coin))
	_, err = svc.ProcessPayout(ctx, "coin", "bob", domain.NativeAsset, 9*coin+1, 0)
	require.ErrorIs(t, err, apperrors.ErrPayoutExceedsLimit)

	pool, _ := svc.Pool(ctx, domain.NativeAsset)
	require.Equal(t, 11*coin, pool.Reserve)
	require.Equal(t, 2*coin, pool.Liabilities)
}

func TestWithdrawHouseEarnings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Fund(ctx, "admin", domain.NativeAsset, 100*coin))
	_, err := svc.ProcessPayout(ctx, "coin", "alice", domain.NativeAsset, coin, 1000)
	require.NoError(t, err)

	require.ErrorIs(t, svc.WithdrawHouseEarnings(ctx, "admin", domain.NativeAsset, coin), apperrors.ErrInsufficientBalance)
	require.NoError(t, svc.WithdrawHouseEarnings(ctx, "admin", domain.NativeAsset, coin/10))

	pool, _ := svc.Pool(ctx, domain.NativeAsset)
	require.Zero(t, pool.HouseEarnings)
	require.Equal(t, 100*coin-coin/10, pool.Reserve)
}

func TestAdminSettingsValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.SetBetLimits(ctx, "admin", 10, 5), apperrors.ErrInvalidAmount)
	require.ErrorIs(t, svc.SetMaxSinglePayoutRatio(ctx, "admin", 0), apperrors.ErrInvalidAmount)
	require.ErrorIs(t, svc.SetBetLimits(ctx, "coin", 1, 5), apperrors.ErrNotAuthorized)
	require.NoError(t, svc.SetBetLimits(ctx, "admin", 1, 5))

	settings, err := svc.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), settings.MinBet)
	require.Equal(t, int64(5), settings.MaxBet)
	require.Equal(t, int64(10), settings.MaxSinglePayoutRatio)
}

func TestNetPayoutDoesNotOverflow(t *testing.T) {
	gross := int64(1) << 60
	want := new(big.Int).Mul(big.NewInt(gross), big.NewInt(9900))
	want.Div(want, big.NewInt(10000))
	require.Equal(t, want.Int64(), NetPayout(gross, 100))
	require.Equal(t, int64(1<<63-1), MulDiv(1<<62, 4, 1))
}
