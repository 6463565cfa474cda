// Package betting runs commit-reveal wagers. A player seals a bet with a
// hash and a slashing deposit, reveals it inside a fixed window, and the
// stake is charged together with a randomness request. Settlement resolves
// the fulfilled word and pays through the treasury.
package betting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/events"
	"github.com/R3E-Network/marcasino/internal/app/metrics"
	"github.com/R3E-Network/marcasino/internal/app/services/outcome"
	platformsvc "github.com/R3E-Network/marcasino/internal/app/services/platform"
	treasurysvc "github.com/R3E-Network/marcasino/internal/app/services/treasury"
	"github.com/R3E-Network/marcasino/internal/app/services/vrf"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/benbjohnson/clock"
)

// Config holds the commit-reveal timing and the slashing deposit.
type Config struct {
	// RevealDelay is the earliest a reveal is accepted after commit.
	RevealDelay time.Duration `yaml:"reveal_delay"`
	// RevealTimeout is how long the window stays open after RevealDelay.
	RevealTimeout time.Duration `yaml:"reveal_timeout"`
	// RequestTimeout is how long a randomness request may stay unfulfilled
	// before it can be retried or refunded.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SlashingDeposit int64         `yaml:"slashing_deposit"`
}

// DefaultConfig matches the production timings.
func DefaultConfig() Config {
	return Config{
		RevealDelay:     2 * time.Minute,
		RevealTimeout:   10 * time.Minute,
		RequestTimeout:  10 * time.Minute,
		SlashingDeposit: treasury.UnitsPerCoin / 500,
	}
}

// Validate rejects timings that would make the window empty.
func (c Config) Validate() error {
	if c.RevealDelay < 0 || c.RevealTimeout <= 0 || c.RequestTimeout <= 0 {
		return apperrors.New(apperrors.KindInvalidConfig, "betting timings must be positive")
	}
	if c.SlashingDeposit <= 0 {
		return apperrors.New(apperrors.KindInvalidConfig, "slashing deposit must be positive")
	}
	return nil
}

// Deps are the collaborators shared by every game.
type Deps struct {
	Store       storage.Store
	Treasury    *treasurysvc.Service
	Platform    *platformsvc.Service
	Coordinator vrf.Coordinator
	Events      events.Publisher
	Clock       clock.Clock
	Log         *logger.Logger
}

// Game is one bettable game. Its name is both its treasury identity and
// its randomness consumer name.
type Game struct {
	name     string
	resolver outcome.Resolver
	cfg      Config

	store    storage.Store
	treasury *treasurysvc.Service
	platform *platformsvc.Service
	coord    vrf.Coordinator
	events   events.Publisher
	clock    clock.Clock
	log      *logger.Logger
}

var _ vrf.Consumer = (*Game)(nil)

// New constructs a game.
func New(name string, resolver outcome.Resolver, cfg Config, deps Deps) *Game {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("betting")
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Discard
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Game{
		name:     name,
		resolver: resolver,
		cfg:      cfg,
		store:    deps.Store,
		treasury: deps.Treasury,
		platform: deps.Platform,
		coord:    deps.Coordinator,
		events:   pub,
		clock:    clk,
		log:      log,
	}
}

func (g *Game) Name() string { return g.name }

func (g *Game) Kind() string { return g.resolver.Kind() }

func (g *Game) Config() Config { return g.cfg }

// ConsumerName routes fulfilments for this game's requests.
func (g *Game) ConsumerName() string { return g.name }

// Commit seals a bet. deposit is the value attached to the call and must
// equal the slashing deposit. An expired commitment occupying the slot is
// returned to the player's balance first.
func (g *Game) Commit(ctx context.Context, player string, hash bet.Hash, deposit int64) (bet.Commitment, error) {
	var c bet.Commitment
	err := g.store.Update(ctx, func(tx storage.Tx) error {
		if err := g.platform.RequireOperational(ctx, tx); err != nil {
			return err
		}
		if deposit != g.cfg.SlashingDeposit {
			return apperrors.Newf(apperrors.KindInvalidAmount, "deposit must be %d", g.cfg.SlashingDeposit)
		}
		now := g.clock.Now().UTC()
		existing, err := tx.GetCommitment(ctx, g.name, player)
		switch {
		case err == nil:
			if !g.expired(existing, now) {
				return apperrors.New(apperrors.KindCommitmentPending, "a commitment is already pending")
			}
			if err := g.treasury.WithTx(tx).Deposit(ctx, player, treasury.NativeAsset, existing.Deposit, g.name+":reclaim"); err != nil {
				return err
			}
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		c = bet.Commitment{Game: g.name, Player: player, Hash: hash, Deposit: deposit, CreatedAt: now}
		return tx.PutCommitment(ctx, c)
	})
	if err != nil {
		return bet.Commitment{}, err
	}
	g.log.WithField("game", g.name).WithField("player", player).Debug("bet committed")
	return c, nil
}

// Reveal opens a commitment, charges the stake and requests randomness in
// one transaction. The slashing deposit is returned to the player's
// balance.
func (g *Game) Reveal(ctx context.Context, player string, param uint8, asset treasury.AssetID, amount int64, secret bet.Hash) (bet.Request, error) {
	var req bet.Request
	err := g.store.Update(ctx, func(tx storage.Tx) error {
		if err := g.platform.RequireOperational(ctx, tx); err != nil {
			return err
		}
		c, err := tx.GetCommitment(ctx, g.name, player)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.KindCommitmentMissing, "no commitment to reveal")
		}
		if err != nil {
			return err
		}
		if err := g.resolver.ValidateParam(param); err != nil {
			return err
		}
		if CommitmentHash(player, param, asset, amount, secret) != c.Hash {
			return apperrors.New(apperrors.KindInvalidReveal, "reveal does not match commitment")
		}
		now := g.clock.Now().UTC()
		if now.Before(c.CreatedAt.Add(g.cfg.RevealDelay)) {
			return apperrors.Newf(apperrors.KindCommitmentNotReady, "reveal opens at %s", c.CreatedAt.Add(g.cfg.RevealDelay).Format(time.RFC3339))
		}
		if g.expired(c, now) {
			return apperrors.New(apperrors.KindCommitmentExpired, "reveal window closed")
		}

		ledger := g.treasury.WithTx(tx)
		if err := ledger.ProcessBet(ctx, g.name, player, asset, amount, g.name+":bet"); err != nil {
			return err
		}
		id, err := g.coord.RequestRandomWords(ctx, tx, vrf.Config{Consumer: g.name, NumWords: 1})
		if err != nil {
			return err
		}
		req = bet.Request{
			ID:        id,
			Game:      g.name,
			Player:    player,
			Asset:     asset,
			Stake:     amount,
			Param:     param,
			CreatedAt: now,
		}
		if err := tx.PutBetRequest(ctx, req); err != nil {
			return err
		}
		if err := ledger.Deposit(ctx, player, treasury.NativeAsset, c.Deposit, g.ref(id)); err != nil {
			return err
		}
		return tx.DeleteCommitment(ctx, g.name, player)
	})
	if err != nil {
		return bet.Request{}, err
	}

	metrics.RecordReveal(g.name)
	g.log.WithField("game", g.name).
		WithField("request_id", req.ID).
		WithField("stake", req.Stake).
		Info("bet revealed")
	evt := g.event(events.TypeRandomnessRequested, req)
	evt.Data = map[string]any{"stake": req.Stake, "asset": req.Asset, "param": req.Param}
	g.publish(ctx, evt)
	return req, nil
}

// OnFulfilled records the first word delivered for a live request. Late or
// repeated deliveries leave the request untouched.
func (g *Game) OnFulfilled(ctx context.Context, tx storage.Tx, id random.RequestID, words []random.Word) error {
	req, err := g.getRequest(ctx, tx, id)
	if err != nil {
		return err
	}
	if req.Fulfilled || req.Refunded || req.ReplacedBy != 0 {
		return nil
	}
	if len(words) == 0 {
		return apperrors.New(apperrors.KindInvalidAmount, "fulfilment carried no words")
	}
	word := words[0]
	req.Fulfilled = true
	req.RandomWord = &word
	return tx.PutBetRequest(ctx, req)
}

// Settle resolves a fulfilled request exactly once and credits any win net
// of the current house edge.
func (g *Game) Settle(ctx context.Context, id random.RequestID) (bet.Outcome, error) {
	var out bet.Outcome
	err := g.store.Update(ctx, func(tx storage.Tx) error {
		req, err := g.getRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case req.ReplacedBy != 0:
			return apperrors.Newf(apperrors.KindRequestReplaced, "request %d replaced by %d", id, req.ReplacedBy)
		case req.Settled:
			return apperrors.Newf(apperrors.KindAlreadySettled, "request %d", id)
		case req.Refunded:
			return apperrors.Newf(apperrors.KindAlreadyRefunded, "request %d", id)
		case !req.Fulfilled || req.RandomWord == nil:
			return apperrors.Newf(apperrors.KindRequestNotFulfilled, "request %d", id)
		}

		res := g.resolver.Resolve(*req.RandomWord, req.Param)
		out = bet.Outcome{
			RequestID:     req.ID,
			Game:          g.name,
			Player:        req.Player,
			Choice:        req.Param,
			Won:           res.Won,
			Value:         res.Value,
			Stake:         req.Stake,
			MultiplierBps: res.MultiplierBps,
			SettledAt:     g.clock.Now().UTC(),
		}
		ledger := g.treasury.WithTx(tx)
		if err := ledger.Release(ctx, g.name, req.Asset, req.Stake); err != nil {
			return err
		}
		if res.Won {
			settings, err := g.platform.SettingsTx(ctx, tx)
			if err != nil {
				return err
			}
			out.Gross = treasurysvc.MulDiv(req.Stake, res.MultiplierBps, treasury.BasisPoints)
			out.Payout, err = ledger.ProcessPayout(ctx, g.name, req.Player, req.Asset, out.Gross, settings.HouseEdge, g.ref(id))
			if err != nil {
				return err
			}
		}
		if err := tx.PutOutcome(ctx, out); err != nil {
			return err
		}
		req.Settled = true
		return tx.PutBetRequest(ctx, req)
	})
	if err != nil {
		return bet.Outcome{}, err
	}

	metrics.RecordSettlement(g.name, out.Won, out.Payout)
	g.log.WithField("game", g.name).
		WithField("request_id", id).
		WithField("won", out.Won).
		WithField("payout", out.Payout).
		Info("bet settled")
	evt := events.New(events.TypeBetSettled, out.SettledAt)
	evt.Game, evt.RequestID, evt.Player = g.name, id, out.Player
	evt.Data = map[string]any{"won": out.Won, "value": out.Value, "payout": out.Payout}
	g.publish(ctx, evt)
	return out, nil
}

// Retry replaces a timed out request with a fresh one carrying the same
// wager. The old id becomes inert.
func (g *Game) Retry(ctx context.Context, id random.RequestID) (bet.Request, error) {
	var fresh bet.Request
	err := g.store.Update(ctx, func(tx storage.Tx) error {
		req, err := g.recoverable(ctx, tx, id)
		if err != nil {
			return err
		}
		newID, err := g.coord.RequestRandomWords(ctx, tx, vrf.Config{Consumer: g.name, NumWords: 1})
		if err != nil {
			return err
		}
		fresh = req
		fresh.ID = newID
		fresh.CreatedAt = g.clock.Now().UTC()
		if err := tx.PutBetRequest(ctx, fresh); err != nil {
			return err
		}
		req.ReplacedBy = newID
		return tx.PutBetRequest(ctx, req)
	})
	if err != nil {
		return bet.Request{}, err
	}

	metrics.RecordRecovery(g.name, "retry")
	g.log.WithField("game", g.name).
		WithField("request_id", id).
		WithField("replaced_by", fresh.ID).
		Warn("randomness request retried")
	evt := g.event(events.TypeRequestRetried, fresh)
	evt.Data = map[string]any{"replaces": id}
	g.publish(ctx, evt)
	return fresh, nil
}

// Refund returns the stake of a timed out request without any edge.
func (g *Game) Refund(ctx context.Context, id random.RequestID) (bet.Request, error) {
	var req bet.Request
	err := g.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		req, err = g.recoverable(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := g.treasury.WithTx(tx).Credit(ctx, g.name, req.Player, req.Asset, req.Stake, g.ref(id)+":refund"); err != nil {
			return err
		}
		req.Refunded = true
		return tx.PutBetRequest(ctx, req)
	})
	if err != nil {
		return bet.Request{}, err
	}

	metrics.RecordRecovery(g.name, "refund")
	g.log.WithField("game", g.name).WithField("request_id", id).Warn("bet refunded")
	evt := g.event(events.TypeBetRefunded, req)
	evt.Data = map[string]any{"stake": req.Stake}
	g.publish(ctx, evt)
	return req, nil
}

// ReclaimDeposit returns the slashing deposit of an expired, never revealed
// commitment to the player's balance and frees the slot.
func (g *Game) ReclaimDeposit(ctx context.Context, player string) (int64, error) {
	var amount int64
	err := g.store.Update(ctx, func(tx storage.Tx) error {
		c, err := tx.GetCommitment(ctx, g.name, player)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.KindCommitmentMissing, "no commitment to reclaim")
		}
		if err != nil {
			return err
		}
		if !g.expired(c, g.clock.Now().UTC()) {
			return apperrors.New(apperrors.KindCommitmentPending, "commitment has not expired")
		}
		if err := g.treasury.WithTx(tx).Deposit(ctx, player, treasury.NativeAsset, c.Deposit, g.name+":reclaim"); err != nil {
			return err
		}
		amount = c.Deposit
		return tx.DeleteCommitment(ctx, g.name, player)
	})
	return amount, err
}

// Commitment returns a player's pending commitment.
func (g *Game) Commitment(ctx context.Context, player string) (bet.Commitment, error) {
	var c bet.Commitment
	err := g.store.View(ctx, func(tx storage.Tx) error {
		var err error
		c, err = tx.GetCommitment(ctx, g.name, player)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.KindCommitmentMissing, "no commitment")
		}
		return err
	})
	return c, err
}

// Request returns a wager by id.
func (g *Game) Request(ctx context.Context, id random.RequestID) (bet.Request, error) {
	var req bet.Request
	err := g.store.View(ctx, func(tx storage.Tx) error {
		var err error
		req, err = g.getRequest(ctx, tx, id)
		return err
	})
	return req, err
}

// Outcome returns the settled result of a wager.
func (g *Game) Outcome(ctx context.Context, id random.RequestID) (bet.Outcome, error) {
	var out bet.Outcome
	err := g.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.GetOutcome(ctx, id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && out.Game != g.name) {
			return apperrors.Newf(apperrors.KindRequestNotFound, "no outcome for request %d", id)
		}
		return err
	})
	return out, err
}

// History lists a player's wagers in this game, newest first.
func (g *Game) History(ctx context.Context, player string, limit int) ([]bet.Request, error) {
	var out []bet.Request
	err := g.store.View(ctx, func(tx storage.Tx) error {
		all, err := tx.ListBetRequests(ctx, player, 0)
		if err != nil {
			return err
		}
		for _, req := range all {
			if req.Game != g.name {
				continue
			}
			out = append(out, req)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// recoverable loads a request and checks it may be retried or refunded.
func (g *Game) recoverable(ctx context.Context, tx storage.Tx, id random.RequestID) (bet.Request, error) {
	req, err := g.getRequest(ctx, tx, id)
	if err != nil {
		return bet.Request{}, err
	}
	switch {
	case req.ReplacedBy != 0:
		return bet.Request{}, apperrors.Newf(apperrors.KindRequestReplaced, "request %d replaced by %d", id, req.ReplacedBy)
	case req.Settled:
		return bet.Request{}, apperrors.Newf(apperrors.KindAlreadySettled, "request %d", id)
	case req.Refunded:
		return bet.Request{}, apperrors.Newf(apperrors.KindAlreadyRefunded, "request %d", id)
	case req.Fulfilled:
		return bet.Request{}, apperrors.Newf(apperrors.KindRequestFulfilled, "request %d", id)
	}
	if !g.clock.Now().After(req.CreatedAt.Add(g.cfg.RequestTimeout)) {
		return bet.Request{}, apperrors.Newf(apperrors.KindRequestNotExpired, "request %d times out at %s",
			id, req.CreatedAt.Add(g.cfg.RequestTimeout).Format(time.RFC3339))
	}
	return req, nil
}

func (g *Game) getRequest(ctx context.Context, tx storage.Tx, id random.RequestID) (bet.Request, error) {
	req, err := tx.GetBetRequest(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && req.Game != g.name) {
		return bet.Request{}, apperrors.Newf(apperrors.KindRequestNotFound, "request %d", id)
	}
	return req, err
}

// expired reports whether the reveal window of c has closed at now.
func (g *Game) expired(c bet.Commitment, now time.Time) bool {
	return !now.Before(c.CreatedAt.Add(g.cfg.RevealDelay + g.cfg.RevealTimeout))
}

func (g *Game) ref(id random.RequestID) string {
	return fmt.Sprintf("%s:%d", g.name, id)
}

func (g *Game) event(typ string, req bet.Request) events.Event {
	evt := events.New(typ, g.clock.Now().UTC())
	evt.Game, evt.RequestID, evt.Player = g.name, req.ID, req.Player
	return evt
}

func (g *Game) publish(ctx context.Context, evt events.Event) {
	if err := g.events.Publish(ctx, evt); err != nil {
		g.log.WithError(err).WithField("event", evt.Type).Warn("publish event")
	}
}
