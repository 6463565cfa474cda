package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/lottery"
	"github.com/R3E-Network/marcasino/internal/app/domain/platform"
	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
)

// ErrNotFound is returned by getters when no record exists.
var ErrNotFound = errors.New("storage: not found")

// Store runs functions inside transactions. Every mutation made through the
// Tx passed to Update is committed together or not at all. View provides a
// consistent read-only snapshot.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes every record family inside one transaction.
type Tx interface {
	LedgerStore
	AccessStore
	PlatformStore
	BetStore
	RandomStore
	LotteryStore
}

// LedgerStore persists player balances, per-asset pools and the journal.
type LedgerStore interface {
	// GetBalance returns zero for unknown players.
	GetBalance(ctx context.Context, player string, asset treasury.AssetID) (int64, error)
	PutBalance(ctx context.Context, player string, asset treasury.AssetID, amount int64) error

	// GetPool returns an empty pool for assets never touched.
	GetPool(ctx context.Context, asset treasury.AssetID) (treasury.Pool, error)
	PutPool(ctx context.Context, pool treasury.Pool) error
	ListPools(ctx context.Context) ([]treasury.Pool, error)

	GetLedgerSettings(ctx context.Context) (treasury.Settings, error)
	PutLedgerSettings(ctx context.Context, settings treasury.Settings) error

	AppendJournal(ctx context.Context, entry treasury.JournalEntry) error
	ListJournal(ctx context.Context, player string, limit int) ([]treasury.JournalEntry, error)
}

// AccessStore persists role grants.
type AccessStore interface {
	HasRole(ctx context.Context, subject string, role access.Role) (bool, error)
	PutRole(ctx context.Context, grant access.Grant) error
	DeleteRole(ctx context.Context, grant access.Grant) error
	ListRoles(ctx context.Context) ([]access.Grant, error)
}

// PlatformStore persists platform switches and registered games.
type PlatformStore interface {
	GetPlatform(ctx context.Context) (platform.Settings, error)
	PutPlatform(ctx context.Context, settings platform.Settings) error

	GetGame(ctx context.Context, name string) (platform.Game, error)
	PutGame(ctx context.Context, game platform.Game) error
	ListGames(ctx context.Context) ([]platform.Game, error)
}

// BetStore persists commitments, wager requests and outcomes.
type BetStore interface {
	GetCommitment(ctx context.Context, game, player string) (bet.Commitment, error)
	PutCommitment(ctx context.Context, c bet.Commitment) error
	DeleteCommitment(ctx context.Context, game, player string) error

	GetBetRequest(ctx context.Context, id random.RequestID) (bet.Request, error)
	PutBetRequest(ctx context.Context, req bet.Request) error
	ListBetRequests(ctx context.Context, player string, limit int) ([]bet.Request, error)

	GetOutcome(ctx context.Context, id random.RequestID) (bet.Outcome, error)
	PutOutcome(ctx context.Context, out bet.Outcome) error
}

// RandomStore persists the coordinator's request registry.
type RandomStore interface {
	// NextRequestID reserves a fresh, never reused id.
	NextRequestID(ctx context.Context) (random.RequestID, error)
	GetRandomRequest(ctx context.Context, id random.RequestID) (random.Request, error)
	PutRandomRequest(ctx context.Context, req random.Request) error
	// ListPendingRandomRequests returns unfulfilled requests, oldest first.
	ListPendingRandomRequests(ctx context.Context, limit int) ([]random.Request, error)
}

// LotteryStore persists rounds, ticket batches and draw results.
type LotteryStore interface {
	LatestRound(ctx context.Context) (lottery.Round, error)
	GetRound(ctx context.Context, id uint64) (lottery.Round, error)
	PutRound(ctx context.Context, round lottery.Round) error

	AppendTickets(ctx context.Context, batch lottery.TicketBatch) error
	// TicketOwner resolves the owner of a ticket index within a round.
	TicketOwner(ctx context.Context, roundID, index uint64) (string, error)
	ListTickets(ctx context.Context, roundID uint64) ([]lottery.TicketBatch, error)

	GetLotteryResult(ctx context.Context, id random.RequestID) (lottery.Result, error)
	PutLotteryResult(ctx context.Context, res lottery.Result) error
}
