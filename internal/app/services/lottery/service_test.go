package lottery

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/events"
	accesssvc "github.com/R3E-Network/marcasino/internal/app/services/access"
	platformsvc "github.com/R3E-Network/marcasino/internal/app/services/platform"
	treasurysvc "github.com/R3E-Network/marcasino/internal/app/services/treasury"
	"github.com/R3E-Network/marcasino/internal/app/services/vrf"
	"github.com/R3E-Network/marcasino/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const token = treasury.UnitsPerCoin

type fixture struct {
	clock    *clock.Mock
	treasury *treasurysvc.Service
	platform *platformsvc.Service
	coord    *vrf.LocalCoordinator
	bus      *events.Bus
	lottery  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	f := &fixture{clock: clock.NewMock(), bus: events.NewBus(32)}
	f.clock.Add(24 * time.Hour)

	log := logger.Discard()
	policy := accesssvc.New(store, log)
	require.NoError(t, policy.Bootstrap(ctx, "admin"))
	f.treasury = treasurysvc.New(store, policy, treasurysvc.DefaultConfig(), f.clock, log)
	f.platform = platformsvc.New(store, policy, f.bus, f.clock, 100, log)
	f.coord = vrf.NewLocalCoordinator(store, f.clock, log)

	cfg := DefaultConfig()
	_, err := f.platform.RegisterGame(ctx, "admin", cfg.Name, Kind)
	require.NoError(t, err)
	f.lottery = New(cfg, store, f.treasury, f.platform, f.coord, f.bus, f.clock, log)
	f.coord.Register(f.lottery)

	require.NoError(t, f.treasury.AllowAsset(ctx, "admin", cfg.Asset))
	for _, p := range []string{"alice", "bob"} {
		require.NoError(t, f.treasury.DepositAsset(ctx, p, cfg.Asset, 10*token))
	}
	return f
}

func (f *fixture) fulfil(t *testing.T, id random.RequestID, word uint64) {
	t.Helper()
	require.NoError(t, f.coord.Fulfill(context.Background(), id, []random.Word{random.WordFromUint64(word)}))
}

func TestThreeTicketDrawPicksSecondTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lottery.BuyTickets(ctx, "alice", 1)
	require.NoError(t, err)
	batch, err := f.lottery.BuyTickets(ctx, "bob", 2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), batch.FirstIndex)

	round, err := f.lottery.CurrentRound(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), round.TicketCount)
	require.Equal(t, 3*token, round.PrizePool)

	_, err = f.lottery.RequestDraw(ctx)
	require.ErrorIs(t, err, apperrors.ErrDrawNotReady)

	f.clock.Add(time.Hour)
	round, err = f.lottery.RequestDraw(ctx)
	require.NoError(t, err)
	require.True(t, round.DrawRequested)
	_, err = f.lottery.RequestDraw(ctx)
	require.ErrorIs(t, err, apperrors.ErrDrawAlreadyRequested)

	drawn := f.bus.Recent(events.TypeDrawRequested)
	require.Len(t, drawn, 1)
	require.Equal(t, uint64(3), drawn[0].Data["ticket_count"])

	f.fulfil(t, round.RequestID, 7)
	res, err := f.lottery.Settle(ctx, round.RequestID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.WinningTicketIndex)
	require.Equal(t, "bob", res.Winner)
	require.Equal(t, 3*token, res.PrizePool)

	bal, err := f.treasury.BalanceOfAsset(ctx, "bob", DefaultConfig().Asset)
	require.NoError(t, err)
	require.Equal(t, 11*token, bal)

	_, err = f.lottery.Settle(ctx, round.RequestID)
	require.ErrorIs(t, err, apperrors.ErrAlreadySettled)

	stored, err := f.lottery.ResultOf(ctx, round.RequestID)
	require.NoError(t, err)
	require.Equal(t, res, stored)

	next, err := f.lottery.CurrentRound(ctx)
	require.NoError(t, err)
	require.Equal(t, round.ID+1, next.ID)
	require.Zero(t, next.TicketCount)
}

func TestTicketSalesStayEscrowedUntilSettle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := DefaultConfig().Asset

	_, err := f.lottery.BuyTickets(ctx, "alice", 3)
	require.NoError(t, err)
	pool, err := f.treasury.Pool(ctx, asset)
	require.NoError(t, err)
	require.Equal(t, 3*token, pool.Escrow)
	require.Zero(t, pool.Free())

	// A win in the same asset cannot spend the prize pool.
	require.NoError(t, f.treasury.SetMaxSinglePayoutRatio(ctx, "admin", 100))
	_, err = f.treasury.ProcessPayout(ctx, DefaultConfig().Name, "carol", asset, 3*token, 0)
	require.ErrorIs(t, err, apperrors.ErrPayoutExceedsLimit)

	f.clock.Add(time.Hour)
	round, err := f.lottery.RequestDraw(ctx)
	require.NoError(t, err)
	f.fulfil(t, round.RequestID, 2)
	res, err := f.lottery.Settle(ctx, round.RequestID)
	require.NoError(t, err)
	require.Equal(t, "alice", res.Winner)

	pool, err = f.treasury.Pool(ctx, asset)
	require.NoError(t, err)
	require.Zero(t, pool.Escrow)
	bal, err := f.treasury.BalanceOfAsset(ctx, "alice", asset)
	require.NoError(t, err)
	require.Equal(t, 10*token, bal)
}

func TestBuyTicketsRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lottery.BuyTickets(ctx, "alice", 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	_, err = f.lottery.BuyTickets(ctx, "alice", 11)
	require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

	_, err = f.lottery.BuyTickets(ctx, "alice", 1)
	require.NoError(t, err)
	round, err := f.lottery.CurrentRound(ctx)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().UTC().Add(time.Hour), round.EndTime)

	// Later purchases do not move the end time.
	f.clock.Add(30 * time.Minute)
	_, err = f.lottery.BuyTickets(ctx, "bob", 1)
	require.NoError(t, err)
	again, err := f.lottery.CurrentRound(ctx)
	require.NoError(t, err)
	require.Equal(t, round.EndTime, again.EndTime)

	f.clock.Add(30 * time.Minute)
	_, err = f.lottery.BuyTickets(ctx, "bob", 1)
	require.ErrorIs(t, err, apperrors.ErrRoundClosed)

	require.NoError(t, f.platform.EmergencyPause(ctx, "admin"))
	_, err = f.lottery.RequestDraw(ctx)
	require.ErrorIs(t, err, apperrors.ErrNotOperational)
}

func TestEmptyRoundCannotDraw(t *testing.T) {
	f := newFixture(t)
	f.clock.Add(2 * time.Hour)
	_, err := f.lottery.RequestDraw(context.Background())
	require.ErrorIs(t, err, apperrors.ErrDrawNotReady)
}

func TestRetryStuckDraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.lottery.BuyTickets(ctx, "alice", 2)
	require.NoError(t, err)
	f.clock.Add(time.Hour)
	round, err := f.lottery.RequestDraw(ctx)
	require.NoError(t, err)

	_, err = f.lottery.Retry(ctx, round.RequestID)
	require.ErrorIs(t, err, apperrors.ErrRequestNotExpired)

	f.clock.Add(11 * time.Minute)
	fresh, err := f.lottery.Retry(ctx, round.RequestID)
	require.NoError(t, err)
	require.Equal(t, round.ID, fresh.RoundID)

	f.fulfil(t, round.RequestID, 1)
	_, err = f.lottery.Settle(ctx, round.RequestID)
	require.ErrorIs(t, err, apperrors.ErrRequestReplaced)

	_, err = f.lottery.Settle(ctx, fresh.ID)
	require.ErrorIs(t, err, apperrors.ErrRequestNotFulfilled)
	f.fulfil(t, fresh.ID, 1)
	res, err := f.lottery.Settle(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", res.Winner)

	settled, err := f.lottery.Round(ctx, round.ID)
	require.NoError(t, err)
	require.Equal(t, fresh.ID, settled.RequestID)
	require.True(t, settled.Settled)
}
