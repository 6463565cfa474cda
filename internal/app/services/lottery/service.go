// Package lottery runs timed ticket rounds. The first ticket of a round
// fixes its end time; after that anyone may request the draw, and the
// fulfilled word picks one ticket whose owner takes the whole pool.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	domain "github.com/R3E-Network/marcasino/internal/app/domain/lottery"
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

// Kind is the game kind the lottery registers under.
const Kind = "lottery"

// Config prices tickets and times rounds.
type Config struct {
	Name           string           `yaml:"name"`
	Asset          treasury.AssetID `yaml:"asset"`
	TicketPrice    int64            `yaml:"ticket_price"`
	RoundDuration  time.Duration    `yaml:"round_duration"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
}

// DefaultConfig sells one token tickets in hour long rounds.
func DefaultConfig() Config {
	return Config{
		Name:           "lottery",
		Asset:          1,
		TicketPrice:    treasury.UnitsPerCoin,
		RoundDuration:  time.Hour,
		RequestTimeout: 10 * time.Minute,
	}
}

// Validate checks the lottery settings.
func (c Config) Validate() error {
	if c.Name == "" {
		return apperrors.New(apperrors.KindInvalidConfig, "lottery name is required")
	}
	if c.TicketPrice <= 0 {
		return apperrors.New(apperrors.KindInvalidConfig, "ticket price must be positive")
	}
	if c.RoundDuration <= 0 || c.RequestTimeout <= 0 {
		return apperrors.New(apperrors.KindInvalidConfig, "lottery durations must be positive")
	}
	return nil
}

// Service manages rounds, tickets and draws.
type Service struct {
	cfg      Config
	store    storage.Store
	treasury *treasurysvc.Service
	platform *platformsvc.Service
	coord    vrf.Coordinator
	events   events.Publisher
	clock    clock.Clock
	log      *logger.Logger
}

var _ vrf.Consumer = (*Service)(nil)

// New constructs the lottery.
func New(cfg Config, store storage.Store, treasury *treasurysvc.Service, platform *platformsvc.Service, coord vrf.Coordinator, pub events.Publisher, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lottery")
	}
	if pub == nil {
		pub = events.Discard
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		treasury: treasury,
		platform: platform,
		coord:    coord,
		events:   pub,
		clock:    clk,
		log:      log,
	}
}

func (s *Service) Name() string { return s.cfg.Name }

func (s *Service) Config() Config { return s.cfg }

// ConsumerName routes draw fulfilments to the lottery.
func (s *Service) ConsumerName() string { return s.cfg.Name }

// BuyTickets charges count tickets to player in the current round.
func (s *Service) BuyTickets(ctx context.Context, player string, count uint64) (domain.TicketBatch, error) {
	var (
		batch domain.TicketBatch
		round domain.Round
	)
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		if err := s.platform.RequireOperational(ctx, tx); err != nil {
			return err
		}
		if count == 0 || count > uint64(math.MaxInt64/s.cfg.TicketPrice) {
			return apperrors.Newf(apperrors.KindInvalidAmount, "ticket count %d", count)
		}
		var err error
		round, err = s.current(ctx, tx)
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		if !round.Open(now) {
			return apperrors.Newf(apperrors.KindRoundClosed, "round %d is closed", round.ID)
		}
		cost := s.cfg.TicketPrice * int64(count)
		if err := s.treasury.WithTx(tx).Collect(ctx, s.cfg.Name, player, s.cfg.Asset, cost, s.roundRef(round.ID)); err != nil {
			return err
		}
		batch = domain.TicketBatch{RoundID: round.ID, FirstIndex: round.TicketCount, Count: count, Owner: player}
		if err := tx.AppendTickets(ctx, batch); err != nil {
			return err
		}
		if round.TicketCount == 0 {
			round.EndTime = now.Add(s.cfg.RoundDuration)
		}
		round.TicketCount += count
		round.PrizePool += cost
		return tx.PutRound(ctx, round)
	})
	if err != nil {
		return domain.TicketBatch{}, err
	}

	metrics.RecordTickets(count)
	s.log.WithField("round_id", round.ID).
		WithField("player", player).
		WithField("count", count).
		Info("tickets purchased")
	evt := events.New(events.TypeTicketsPurchased, s.clock.Now().UTC())
	evt.Game, evt.RoundID, evt.Player = s.cfg.Name, round.ID, player
	evt.Data = map[string]any{"first_index": batch.FirstIndex, "count": count, "prize_pool": round.PrizePool}
	s.publish(ctx, evt)
	return batch, nil
}

// RequestDraw closes the current round and asks for its random word.
func (s *Service) RequestDraw(ctx context.Context) (domain.Round, error) {
	var round domain.Round
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		if err := s.platform.RequireOperational(ctx, tx); err != nil {
			return err
		}
		var err error
		round, err = s.current(ctx, tx)
		if err != nil {
			return err
		}
		if round.DrawRequested {
			return apperrors.Newf(apperrors.KindDrawAlreadyRequested, "round %d draw is request %d", round.ID, round.RequestID)
		}
		if round.TicketCount == 0 {
			return apperrors.Newf(apperrors.KindDrawNotReady, "round %d has no tickets", round.ID)
		}
		if s.clock.Now().Before(round.EndTime) {
			return apperrors.Newf(apperrors.KindDrawNotReady, "round %d ends at %s", round.ID, round.EndTime.Format(time.RFC3339))
		}
		id, err := s.issue(ctx, tx, round)
		if err != nil {
			return err
		}
		round.DrawRequested = true
		round.RequestID = id
		return tx.PutRound(ctx, round)
	})
	if err != nil {
		return domain.Round{}, err
	}

	metrics.RecordDraw("requested")
	s.log.WithField("round_id", round.ID).WithField("request_id", round.RequestID).Info("lottery draw requested")
	evt := events.New(events.TypeDrawRequested, s.clock.Now().UTC())
	evt.Game, evt.RoundID, evt.RequestID = s.cfg.Name, round.ID, round.RequestID
	evt.Data = map[string]any{"ticket_count": round.TicketCount, "prize_pool": round.PrizePool}
	s.publish(ctx, evt)
	return round, nil
}

// OnFulfilled records the first word delivered for a live draw.
func (s *Service) OnFulfilled(ctx context.Context, tx storage.Tx, id random.RequestID, words []random.Word) error {
	req, err := s.getRequest(ctx, tx, id)
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

// Settle pays the drawn round's pool to the winning ticket's owner and
// opens the next round.
func (s *Service) Settle(ctx context.Context, id random.RequestID) (domain.Result, error) {
	var res domain.Result
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		req, err := s.getRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case req.ReplacedBy != 0:
			return apperrors.Newf(apperrors.KindRequestReplaced, "request %d replaced by %d", id, req.ReplacedBy)
		case req.Settled:
			return apperrors.Newf(apperrors.KindAlreadySettled, "request %d", id)
		case !req.Fulfilled || req.RandomWord == nil:
			return apperrors.Newf(apperrors.KindRequestNotFulfilled, "request %d", id)
		}
		round, err := tx.GetRound(ctx, req.RoundID)
		if err != nil {
			return err
		}
		index, err := outcome.LotteryIndex(*req.RandomWord, round.TicketCount)
		if err != nil {
			return err
		}
		winner, err := tx.TicketOwner(ctx, round.ID, index)
		if err != nil {
			return fmt.Errorf("resolve ticket %d of round %d: %w", index, round.ID, err)
		}
		if err := s.treasury.WithTx(tx).Credit(ctx, s.cfg.Name, winner, s.cfg.Asset, round.PrizePool, s.roundRef(round.ID)); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		round.Settled = true
		round.Winner = winner
		if err := tx.PutRound(ctx, round); err != nil {
			return err
		}
		res = domain.Result{
			RoundID:            round.ID,
			RequestID:          id,
			WinningTicketIndex: index,
			Winner:             winner,
			PrizePool:          round.PrizePool,
			SettledAt:          now,
		}
		if err := tx.PutLotteryResult(ctx, res); err != nil {
			return err
		}
		req.Settled = true
		if err := tx.PutBetRequest(ctx, req); err != nil {
			return err
		}
		return tx.PutRound(ctx, domain.Round{ID: round.ID + 1, StartTime: now})
	})
	if err != nil {
		return domain.Result{}, err
	}

	metrics.RecordDraw("settled")
	s.log.WithField("round_id", res.RoundID).
		WithField("request_id", id).
		WithField("player", res.Winner).
		WithField("prize", res.PrizePool).
		Info("lottery settled")
	evt := events.New(events.TypeLotterySettled, res.SettledAt)
	evt.Game, evt.RoundID, evt.RequestID, evt.Player = s.cfg.Name, res.RoundID, id, res.Winner
	evt.Data = map[string]any{"winning_ticket_index": res.WinningTicketIndex, "prize_pool": res.PrizePool}
	s.publish(ctx, evt)
	return res, nil
}

// Retry replaces a draw request the oracle never answered.
func (s *Service) Retry(ctx context.Context, id random.RequestID) (bet.Request, error) {
	var fresh bet.Request
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		req, err := s.getRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case req.ReplacedBy != 0:
			return apperrors.Newf(apperrors.KindRequestReplaced, "request %d replaced by %d", id, req.ReplacedBy)
		case req.Settled:
			return apperrors.Newf(apperrors.KindAlreadySettled, "request %d", id)
		case req.Fulfilled:
			return apperrors.Newf(apperrors.KindRequestFulfilled, "request %d", id)
		case !s.clock.Now().After(req.CreatedAt.Add(s.cfg.RequestTimeout)):
			return apperrors.Newf(apperrors.KindRequestNotExpired, "request %d", id)
		}
		round, err := tx.GetRound(ctx, req.RoundID)
		if err != nil {
			return err
		}
		newID, err := s.issue(ctx, tx, round)
		if err != nil {
			return err
		}
		req.ReplacedBy = newID
		if err := tx.PutBetRequest(ctx, req); err != nil {
			return err
		}
		if fresh, err = tx.GetBetRequest(ctx, newID); err != nil {
			return err
		}
		round.RequestID = newID
		return tx.PutRound(ctx, round)
	})
	if err != nil {
		return bet.Request{}, err
	}

	metrics.RecordDraw("retried")
	s.log.WithField("round_id", fresh.RoundID).
		WithField("request_id", id).
		WithField("replaced_by", fresh.ID).
		Warn("lottery draw retried")
	evt := events.New(events.TypeRequestRetried, s.clock.Now().UTC())
	evt.Game, evt.RoundID, evt.RequestID = s.cfg.Name, fresh.RoundID, fresh.ID
	evt.Data = map[string]any{"replaces": id}
	s.publish(ctx, evt)
	return fresh, nil
}

// CurrentRound returns the round accepting tickets or awaiting its draw.
func (s *Service) CurrentRound(ctx context.Context) (domain.Round, error) {
	var round domain.Round
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		round, err = s.current(ctx, tx)
		return err
	})
	return round, err
}

// Round returns a round by id.
func (s *Service) Round(ctx context.Context, id uint64) (domain.Round, error) {
	var round domain.Round
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		round, err = tx.GetRound(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Newf(apperrors.KindRequestNotFound, "round %d", id)
		}
		return err
	})
	return round, err
}

// Tickets lists the ticket batches of a round in index order.
func (s *Service) Tickets(ctx context.Context, roundID uint64) ([]domain.TicketBatch, error) {
	var out []domain.TicketBatch
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListTickets(ctx, roundID)
		return err
	})
	return out, err
}

// ResultOf returns the recorded result of a settled draw.
func (s *Service) ResultOf(ctx context.Context, id random.RequestID) (domain.Result, error) {
	var res domain.Result
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		res, err = tx.GetLotteryResult(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Newf(apperrors.KindRequestNotFound, "no result for request %d", id)
		}
		return err
	})
	return res, err
}

// GetRequest returns a draw request by id.
func (s *Service) GetRequest(ctx context.Context, id random.RequestID) (bet.Request, error) {
	var req bet.Request
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		req, err = s.getRequest(ctx, tx, id)
		return err
	})
	return req, err
}

// current returns the latest round, or a fresh first round.
func (s *Service) current(ctx context.Context, tx storage.Tx) (domain.Round, error) {
	round, err := tx.LatestRound(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Round{ID: 1, StartTime: s.clock.Now().UTC()}, nil
	}
	return round, err
}

// issue requests a word for round and records the draw request.
func (s *Service) issue(ctx context.Context, tx storage.Tx, round domain.Round) (random.RequestID, error) {
	id, err := s.coord.RequestRandomWords(ctx, tx, vrf.Config{Consumer: s.cfg.Name, NumWords: 1})
	if err != nil {
		return 0, err
	}
	req := bet.Request{
		ID:        id,
		Game:      s.cfg.Name,
		Asset:     s.cfg.Asset,
		Stake:     round.PrizePool,
		RoundID:   round.ID,
		CreatedAt: s.clock.Now().UTC(),
	}
	return id, tx.PutBetRequest(ctx, req)
}

func (s *Service) getRequest(ctx context.Context, tx storage.Tx, id random.RequestID) (bet.Request, error) {
	req, err := tx.GetBetRequest(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && req.Game != s.cfg.Name) {
		return bet.Request{}, apperrors.Newf(apperrors.KindRequestNotFound, "request %d", id)
	}
	return req, err
}

func (s *Service) roundRef(id uint64) string {
	return fmt.Sprintf("%s:round:%d", s.cfg.Name, id)
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.WithError(err).WithField("event", evt.Type).Warn("publish event")
	}
}
