package treasury

import (
	"context"
	"errors"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	domain "github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Ledger is the treasury bound to one transaction. Game components use it
// so that ledger moves commit together with their own state.
type Ledger struct {
	svc *Service
	tx  storage.Tx
}

// Settings returns the persisted settings, falling back to the configured
// defaults before the first admin change.
func (l *Ledger) Settings(ctx context.Context) (domain.Settings, error) {
	settings, err := l.tx.GetLedgerSettings(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return l.svc.defaults.Clone(), nil
	}
	return settings, err
}

// Balance returns a player's balance of asset.
func (l *Ledger) Balance(ctx context.Context, player string, asset domain.AssetID) (int64, error) {
	return l.tx.GetBalance(ctx, player, asset)
}

// Pool returns the aggregate totals of asset.
func (l *Ledger) Pool(ctx context.Context, asset domain.AssetID) (domain.Pool, error) {
	return l.tx.GetPool(ctx, asset)
}

// Deposit credits value that arrived with the call: the reserve and the
// player's balance grow by the same amount.
func (l *Ledger) Deposit(ctx context.Context, player string, asset domain.AssetID, amount int64, ref string) error {
	if amount <= 0 {
		return apperrors.New(apperrors.KindInvalidAmount, "deposit must be positive")
	}
	settings, err := l.Settings(ctx)
	if err != nil {
		return err
	}
	if !settings.Allows(asset) {
		return apperrors.Newf(apperrors.KindAssetNotAllowed, "asset %d", asset)
	}
	pool, err := l.tx.GetPool(ctx, asset)
	if err != nil {
		return err
	}
	pool.Reserve += amount
	pool.Liabilities += amount
	if err := l.tx.PutPool(ctx, pool); err != nil {
		return err
	}
	return l.adjust(ctx, player, asset, amount, domain.EntryDeposit, ref)
}

// Withdraw pays a player's balance out of the reserve.
func (l *Ledger) Withdraw(ctx context.Context, player string, asset domain.AssetID, amount int64) error {
	if amount <= 0 {
		return apperrors.New(apperrors.KindInvalidAmount, "withdrawal must be positive")
	}
	if err := l.requireBalance(ctx, player, asset, amount); err != nil {
		return err
	}
	pool, err := l.tx.GetPool(ctx, asset)
	if err != nil {
		return err
	}
	pool.Reserve -= amount
	pool.Liabilities -= amount
	if err := l.tx.PutPool(ctx, pool); err != nil {
		return err
	}
	return l.adjust(ctx, player, asset, -amount, domain.EntryWithdraw, "")
}

// ProcessBet debits a stake into escrow. The caller must hold the game role.
func (l *Ledger) ProcessBet(ctx context.Context, caller, player string, asset domain.AssetID, amount int64, ref string) error {
	if err := l.requireGame(ctx, caller); err != nil {
		return err
	}
	settings, err := l.Settings(ctx)
	if err != nil {
		return err
	}
	if settings.Paused {
		return apperrors.New(apperrors.KindNotOperational, "treasury is paused")
	}
	if amount < settings.MinBet || amount > settings.MaxBet {
		return apperrors.Newf(apperrors.KindBetOutOfRange, "bet %d outside [%d, %d]", amount, settings.MinBet, settings.MaxBet)
	}
	if !settings.Allows(asset) {
		return apperrors.Newf(apperrors.KindAssetNotAllowed, "asset %d", asset)
	}
	return l.debit(ctx, player, asset, amount, domain.EntryBet, ref)
}

// Collect debits a purchase such as lottery tickets into escrow. It skips the
// bet range check but is otherwise a bet.
func (l *Ledger) Collect(ctx context.Context, caller, player string, asset domain.AssetID, amount int64, ref string) error {
	if err := l.requireGame(ctx, caller); err != nil {
		return err
	}
	if amount <= 0 {
		return apperrors.New(apperrors.KindInvalidAmount, "amount must be positive")
	}
	settings, err := l.Settings(ctx)
	if err != nil {
		return err
	}
	if settings.Paused {
		return apperrors.New(apperrors.KindNotOperational, "treasury is paused")
	}
	if !settings.Allows(asset) {
		return apperrors.Newf(apperrors.KindAssetNotAllowed, "asset %d", asset)
	}
	return l.debit(ctx, player, asset, amount, domain.EntryBet, ref)
}

// ProcessPayout credits a win. net = gross*(10000-edge)/10000 goes to the
// player and the remainder to house earnings. It returns net.
func (l *Ledger) ProcessPayout(ctx context.Context, caller, player string, asset domain.AssetID, gross, edgeBps int64, ref string) (int64, error) {
	if err := l.requireGame(ctx, caller); err != nil {
		return 0, err
	}
	settings, err := l.Settings(ctx)
	if err != nil {
		return 0, err
	}
	if settings.Paused {
		return 0, apperrors.New(apperrors.KindNotOperational, "treasury is paused")
	}
	if gross <= 0 {
		return 0, apperrors.New(apperrors.KindInvalidAmount, "payout must be positive")
	}
	if edgeBps < 0 || edgeBps >= domain.BasisPoints {
		return 0, apperrors.Newf(apperrors.KindInvalidHouseEdge, "edge %d", edgeBps)
	}

	net := NetPayout(gross, edgeBps)
	cut := gross - net

	pool, err := l.tx.GetPool(ctx, asset)
	if err != nil {
		return 0, err
	}
	if exceedsRatio(net, pool.Reserve, settings.MaxSinglePayoutRatio) {
		return 0, apperrors.Newf(apperrors.KindPayoutExceedsLimit,
			"payout %d above %d%% of reserve %d", net, settings.MaxSinglePayoutRatio, pool.Reserve)
	}
	if pool.Free() < gross {
		return 0, apperrors.Newf(apperrors.KindPayoutExceedsLimit, "payout %d exceeds free reserve %d", gross, pool.Free())
	}

	pool.Liabilities += net
	pool.HouseEarnings += cut
	pool.TotalPayouts += net
	if err := l.tx.PutPool(ctx, pool); err != nil {
		return 0, err
	}
	if err := l.adjust(ctx, player, asset, net, domain.EntryPayout, ref); err != nil {
		return 0, err
	}
	return net, nil
}

// Release moves a settled stake out of escrow into the free reserve. Games
// call it once per bet, before any payout for that bet.
func (l *Ledger) Release(ctx context.Context, caller string, asset domain.AssetID, amount int64) error {
	if err := l.requireGame(ctx, caller); err != nil {
		return err
	}
	if amount <= 0 {
		return apperrors.New(apperrors.KindInvalidAmount, "release must be positive")
	}
	pool, err := l.tx.GetPool(ctx, asset)
	if err != nil {
		return err
	}
	if pool.Escrow < amount {
		return apperrors.Newf(apperrors.KindInvalidAmount, "release %d exceeds escrow %d", amount, pool.Escrow)
	}
	pool.Escrow -= amount
	return l.tx.PutPool(ctx, pool)
}

// Credit returns escrowed funds to a player, such as a refunded stake or a
// lottery prize. No edge is taken and the free reserve is untouched.
func (l *Ledger) Credit(ctx context.Context, caller, player string, asset domain.AssetID, amount int64, ref string) error {
	if err := l.requireGame(ctx, caller); err != nil {
		return err
	}
	if amount <= 0 {
		return apperrors.New(apperrors.KindInvalidAmount, "credit must be positive")
	}
	pool, err := l.tx.GetPool(ctx, asset)
	if err != nil {
		return err
	}
	if pool.Escrow < amount {
		return apperrors.Newf(apperrors.KindInvalidAmount, "credit %d exceeds escrow %d", amount, pool.Escrow)
	}
	pool.Escrow -= amount
	pool.Liabilities += amount
	if err := l.tx.PutPool(ctx, pool); err != nil {
		return err
	}
	return l.adjust(ctx, player, asset, amount, domain.EntryCredit, ref)
}

func (l *Ledger) debit(ctx context.Context, player string, asset domain.AssetID, amount int64, typ, ref string) error {
	if err := l.requireBalance(ctx, player, asset, amount); err != nil {
		return err
	}
	pool, err := l.tx.GetPool(ctx, asset)
	if err != nil {
		return err
	}
	pool.Liabilities -= amount
	pool.Escrow += amount
	pool.TotalBets += amount
	if err := l.tx.PutPool(ctx, pool); err != nil {
		return err
	}
	return l.adjust(ctx, player, asset, -amount, typ, ref)
}

func (l *Ledger) requireGame(ctx context.Context, caller string) error {
	return l.svc.policy.Require(ctx, l.tx, caller, access.RoleGame)
}

func (l *Ledger) requireBalance(ctx context.Context, player string, asset domain.AssetID, amount int64) error {
	bal, err := l.tx.GetBalance(ctx, player, asset)
	if err != nil {
		return err
	}
	if bal < amount {
		return apperrors.Newf(apperrors.KindInsufficientBalance, "balance %d below %d", bal, amount)
	}
	return nil
}

// adjust applies delta to a balance and journals it.
func (l *Ledger) adjust(ctx context.Context, player string, asset domain.AssetID, delta int64, typ, ref string) error {
	bal, err := l.tx.GetBalance(ctx, player, asset)
	if err != nil {
		return err
	}
	bal += delta
	if err := l.tx.PutBalance(ctx, player, asset, bal); err != nil {
		return err
	}
	return l.tx.AppendJournal(ctx, domain.JournalEntry{
		ID:           uuid.NewString(),
		Player:       player,
		Asset:        asset,
		Type:         typ,
		Amount:       delta,
		BalanceAfter: bal,
		Reference:    ref,
		CreatedAt:    l.svc.clock.Now().UTC(),
	})
}

// NetPayout is gross*(10000-edge)/10000 with floor division. The product is
// formed in 256 bits so large stakes cannot overflow.
func NetPayout(gross, edgeBps int64) int64 {
	return MulDiv(gross, domain.BasisPoints-edgeBps, domain.BasisPoints)
}

// MulDiv returns a*b/d for non-negative operands without intermediate
// overflow. Results that do not fit int64 saturate.
func MulDiv(a, b, d int64) int64 {
	x := uint256.NewInt(uint64(a))
	x.Mul(x, uint256.NewInt(uint64(b)))
	x.Div(x, uint256.NewInt(uint64(d)))
	if !x.IsUint64() || x.Uint64() > uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(x.Uint64())
}

// exceedsRatio reports net*100 > reserve*ratio.
func exceedsRatio(net, reserve, ratio int64) bool {
	lhs := new(uint256.Int).Mul(uint256.NewInt(uint64(net)), uint256.NewInt(100))
	rhs := new(uint256.Int).Mul(uint256.NewInt(uint64(max(reserve, 0))), uint256.NewInt(uint64(ratio)))
	return lhs.Gt(rhs)
}
