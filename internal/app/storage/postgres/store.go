package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/lottery"
	"github.com/R3E-Network/marcasino/internal/app/domain/platform"
	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store implements storage.Store backed by PostgreSQL. Update runs in a
// SERIALIZABLE transaction and is replayed when Postgres aborts it with a
// serialization failure or a deadlock.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*tx)(nil)

// maxAttempts bounds how often a conflicting Update is replayed.
const maxAttempts = 5

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.run(ctx, opts, fn)
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(storage.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// retryable reports SQLSTATE 40001 (serialization_failure) and 40P01
// (deadlock_detected).
func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

type tx struct {
	tx *sqlx.Tx
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- LedgerStore ------------------------------------------------------------

func (t *tx) GetBalance(ctx context.Context, player string, asset treasury.AssetID) (int64, error) {
	var amount int64
	err := t.tx.GetContext(ctx, &amount, `
		SELECT amount FROM casino_balances WHERE player = $1 AND asset = $2
	`, player, asset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (t *tx) PutBalance(ctx context.Context, player string, asset treasury.AssetID, amount int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_balances (player, asset, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (player, asset) DO UPDATE SET amount = EXCLUDED.amount
	`, player, asset, amount)
	return err
}

func (t *tx) GetPool(ctx context.Context, asset treasury.AssetID) (treasury.Pool, error) {
	var pool treasury.Pool
	err := t.tx.GetContext(ctx, &pool, `
		SELECT asset, reserve, liabilities, escrow, house_earnings, total_bets, total_payouts
		FROM casino_pools WHERE asset = $1
	`, asset)
	if errors.Is(err, sql.ErrNoRows) {
		return treasury.Pool{Asset: asset}, nil
	}
	return pool, err
}

func (t *tx) PutPool(ctx context.Context, pool treasury.Pool) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO casino_pools (asset, reserve, liabilities, escrow, house_earnings, total_bets, total_payouts)
		VALUES (:asset, :reserve, :liabilities, :escrow, :house_earnings, :total_bets, :total_payouts)
		ON CONFLICT (asset) DO UPDATE SET
			reserve = EXCLUDED.reserve,
			liabilities = EXCLUDED.liabilities,
			escrow = EXCLUDED.escrow,
			house_earnings = EXCLUDED.house_earnings,
			total_bets = EXCLUDED.total_bets,
			total_payouts = EXCLUDED.total_payouts
	`, pool)
	return err
}

func (t *tx) ListPools(ctx context.Context) ([]treasury.Pool, error) {
	var pools []treasury.Pool
	err := t.tx.SelectContext(ctx, &pools, `
		SELECT asset, reserve, liabilities, escrow, house_earnings, total_bets, total_payouts
		FROM casino_pools ORDER BY asset
	`)
	return pools, err
}

type ledgerSettingsRow struct {
	MinBet        int64  `db:"min_bet"`
	MaxBet        int64  `db:"max_bet"`
	PayoutRatio   int64  `db:"max_payout_ratio"`
	Paused        bool   `db:"paused"`
	AllowedAssets []byte `db:"allowed_assets"`
}

func (t *tx) GetLedgerSettings(ctx context.Context) (treasury.Settings, error) {
	var row ledgerSettingsRow
	if err := t.tx.GetContext(ctx, &row, `
		SELECT min_bet, max_bet, max_payout_ratio, paused, allowed_assets
		FROM casino_ledger_settings WHERE id = 1
	`); err != nil {
		return treasury.Settings{}, notFound(err)
	}
	settings := treasury.Settings{
		MinBet:               row.MinBet,
		MaxBet:               row.MaxBet,
		MaxSinglePayoutRatio: row.PayoutRatio,
		Paused:               row.Paused,
		AllowedAssets:        map[treasury.AssetID]bool{},
	}
	var assets []treasury.AssetID
	if len(row.AllowedAssets) > 0 {
		if err := json.Unmarshal(row.AllowedAssets, &assets); err != nil {
			return treasury.Settings{}, fmt.Errorf("decode allowed assets: %w", err)
		}
	}
	for _, a := range assets {
		settings.AllowedAssets[a] = true
	}
	return settings, nil
}

func (t *tx) PutLedgerSettings(ctx context.Context, settings treasury.Settings) error {
	assets := make([]treasury.AssetID, 0, len(settings.AllowedAssets))
	for a, ok := range settings.AllowedAssets {
		if ok {
			assets = append(assets, a)
		}
	}
	raw, err := json.Marshal(assets)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO casino_ledger_settings (id, min_bet, max_bet, max_payout_ratio, paused, allowed_assets)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			min_bet = EXCLUDED.min_bet,
			max_bet = EXCLUDED.max_bet,
			max_payout_ratio = EXCLUDED.max_payout_ratio,
			paused = EXCLUDED.paused,
			allowed_assets = EXCLUDED.allowed_assets
	`, settings.MinBet, settings.MaxBet, settings.MaxSinglePayoutRatio, settings.Paused, raw)
	return err
}

func (t *tx) AppendJournal(ctx context.Context, entry treasury.JournalEntry) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO casino_journal (id, player, asset, entry_type, amount, balance_after, reference, created_at)
		VALUES (:id, :player, :asset, :entry_type, :amount, :balance_after, :reference, :created_at)
	`, entry)
	return err
}

func (t *tx) ListJournal(ctx context.Context, player string, limit int) ([]treasury.JournalEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	var entries []treasury.JournalEntry
	err := t.tx.SelectContext(ctx, &entries, `
		SELECT id, player, asset, entry_type, amount, balance_after, reference, created_at
		FROM casino_journal
		WHERE $1 = '' OR player = $1
		ORDER BY seq DESC
		LIMIT $2
	`, player, limit)
	return entries, err
}

// --- AccessStore ------------------------------------------------------------

func (t *tx) HasRole(ctx context.Context, subject string, role access.Role) (bool, error) {
	var ok bool
	err := t.tx.GetContext(ctx, &ok, `
		SELECT EXISTS (SELECT 1 FROM casino_roles WHERE subject = $1 AND role = $2)
	`, subject, role)
	return ok, err
}

func (t *tx) PutRole(ctx context.Context, grant access.Grant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_roles (subject, role) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, grant.Subject, grant.Role)
	return err
}

func (t *tx) DeleteRole(ctx context.Context, grant access.Grant) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM casino_roles WHERE subject = $1 AND role = $2
	`, grant.Subject, grant.Role)
	return err
}

func (t *tx) ListRoles(ctx context.Context) ([]access.Grant, error) {
	var grants []access.Grant
	err := t.tx.SelectContext(ctx, &grants, `
		SELECT subject, role FROM casino_roles ORDER BY subject, role
	`)
	return grants, err
}

// --- PlatformStore ----------------------------------------------------------

func (t *tx) GetPlatform(ctx context.Context) (platform.Settings, error) {
	var s platform.Settings
	err := t.tx.QueryRowxContext(ctx, `
		SELECT house_edge, paused FROM casino_platform WHERE id = 1
	`).Scan(&s.HouseEdge, &s.Paused)
	return s, notFound(err)
}

func (t *tx) PutPlatform(ctx context.Context, settings platform.Settings) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_platform (id, house_edge, paused) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET house_edge = EXCLUDED.house_edge, paused = EXCLUDED.paused
	`, settings.HouseEdge, settings.Paused)
	return err
}

func (t *tx) GetGame(ctx context.Context, name string) (platform.Game, error) {
	var g platform.Game
	err := t.tx.GetContext(ctx, &g, `
		SELECT name, kind, registered_at FROM casino_games WHERE name = $1
	`, name)
	return g, notFound(err)
}

func (t *tx) PutGame(ctx context.Context, game platform.Game) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO casino_games (name, kind, registered_at) VALUES (:name, :kind, :registered_at)
		ON CONFLICT (name) DO UPDATE SET kind = EXCLUDED.kind
	`, game)
	return err
}

func (t *tx) ListGames(ctx context.Context) ([]platform.Game, error) {
	var games []platform.Game
	err := t.tx.SelectContext(ctx, &games, `
		SELECT name, kind, registered_at FROM casino_games ORDER BY name
	`)
	return games, err
}

// --- BetStore ---------------------------------------------------------------

func (t *tx) GetCommitment(ctx context.Context, game, player string) (bet.Commitment, error) {
	var (
		c    bet.Commitment
		hash []byte
	)
	err := t.tx.QueryRowxContext(ctx, `
		SELECT game, player, hash, deposit, created_at
		FROM casino_commitments WHERE game = $1 AND player = $2
	`, game, player).Scan(&c.Game, &c.Player, &hash, &c.Deposit, &c.CreatedAt)
	if err != nil {
		return bet.Commitment{}, notFound(err)
	}
	copy(c.Hash[:], hash)
	return c, nil
}

func (t *tx) PutCommitment(ctx context.Context, c bet.Commitment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_commitments (game, player, hash, deposit, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (game, player) DO UPDATE SET
			hash = EXCLUDED.hash,
			deposit = EXCLUDED.deposit,
			created_at = EXCLUDED.created_at
	`, c.Game, c.Player, c.Hash[:], c.Deposit, c.CreatedAt)
	return err
}

func (t *tx) DeleteCommitment(ctx context.Context, game, player string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM casino_commitments WHERE game = $1 AND player = $2
	`, game, player)
	return err
}

const betRequestColumns = `id, game, player, asset, stake, param, round_id, created_at,
	fulfilled, random_word, settled, refunded, replaced_by`

func scanBetRequest(row interface{ Scan(...any) error }) (bet.Request, error) {
	var (
		r    bet.Request
		word sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Game, &r.Player, &r.Asset, &r.Stake, &r.Param, &r.RoundID, &r.CreatedAt,
		&r.Fulfilled, &word, &r.Settled, &r.Refunded, &r.ReplacedBy); err != nil {
		return bet.Request{}, err
	}
	if word.Valid {
		w, err := random.ParseWord(word.String)
		if err != nil {
			return bet.Request{}, err
		}
		r.RandomWord = &w
	}
	return r, nil
}

func (t *tx) GetBetRequest(ctx context.Context, id random.RequestID) (bet.Request, error) {
	row := t.tx.QueryRowxContext(ctx, `SELECT `+betRequestColumns+` FROM casino_bet_requests WHERE id = $1`, id)
	r, err := scanBetRequest(row)
	return r, notFound(err)
}

func (t *tx) PutBetRequest(ctx context.Context, req bet.Request) error {
	var word sql.NullString
	if req.RandomWord != nil {
		word = sql.NullString{String: req.RandomWord.String(), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_bet_requests (`+betRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			fulfilled = EXCLUDED.fulfilled,
			random_word = EXCLUDED.random_word,
			settled = EXCLUDED.settled,
			refunded = EXCLUDED.refunded,
			replaced_by = EXCLUDED.replaced_by
	`, req.ID, req.Game, req.Player, req.Asset, req.Stake, req.Param, req.RoundID, req.CreatedAt,
		req.Fulfilled, word, req.Settled, req.Refunded, req.ReplacedBy)
	return err
}

func (t *tx) ListBetRequests(ctx context.Context, player string, limit int) ([]bet.Request, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := t.tx.QueryxContext(ctx, `
		SELECT `+betRequestColumns+` FROM casino_bet_requests
		WHERE $1 = '' OR player = $1
		ORDER BY id DESC
		LIMIT $2
	`, player, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bet.Request
	for rows.Next() {
		r, err := scanBetRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) GetOutcome(ctx context.Context, id random.RequestID) (bet.Outcome, error) {
	var o bet.Outcome
	err := t.tx.QueryRowxContext(ctx, `
		SELECT request_id, game, player, choice, won, value, stake, multiplier_bps, gross, payout, settled_at
		FROM casino_outcomes WHERE request_id = $1
	`, id).Scan(&o.RequestID, &o.Game, &o.Player, &o.Choice, &o.Won, &o.Value, &o.Stake,
		&o.MultiplierBps, &o.Gross, &o.Payout, &o.SettledAt)
	return o, notFound(err)
}

func (t *tx) PutOutcome(ctx context.Context, o bet.Outcome) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_outcomes (request_id, game, player, choice, won, value, stake, multiplier_bps, gross, payout, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, o.RequestID, o.Game, o.Player, o.Choice, o.Won, o.Value, o.Stake, o.MultiplierBps, o.Gross, o.Payout, o.SettledAt)
	return err
}

// --- RandomStore ------------------------------------------------------------

func (t *tx) NextRequestID(ctx context.Context) (random.RequestID, error) {
	var id random.RequestID
	err := t.tx.GetContext(ctx, &id, `SELECT nextval('casino_random_request_seq')`)
	return id, err
}

func scanRandomRequest(row interface{ Scan(...any) error }) (random.Request, error) {
	var (
		r           random.Request
		words       []byte
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Consumer, &r.NumWords, &r.Fulfilled, &words, &r.CreatedAt, &fulfilledAt); err != nil {
		return random.Request{}, err
	}
	if len(words) > 0 {
		if err := json.Unmarshal(words, &r.Words); err != nil {
			return random.Request{}, fmt.Errorf("decode random words: %w", err)
		}
	}
	r.FulfilledAt = fulfilledAt.Time
	return r, nil
}

func (t *tx) GetRandomRequest(ctx context.Context, id random.RequestID) (random.Request, error) {
	row := t.tx.QueryRowxContext(ctx, `
		SELECT id, consumer, num_words, fulfilled, words, created_at, fulfilled_at
		FROM casino_random_requests WHERE id = $1
	`, id)
	r, err := scanRandomRequest(row)
	return r, notFound(err)
}

func (t *tx) PutRandomRequest(ctx context.Context, req random.Request) error {
	words, err := json.Marshal(req.Words)
	if err != nil {
		return err
	}
	var fulfilledAt sql.NullTime
	if !req.FulfilledAt.IsZero() {
		fulfilledAt = sql.NullTime{Time: req.FulfilledAt, Valid: true}
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO casino_random_requests (id, consumer, num_words, fulfilled, words, created_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			fulfilled = EXCLUDED.fulfilled,
			words = EXCLUDED.words,
			fulfilled_at = EXCLUDED.fulfilled_at
	`, req.ID, req.Consumer, req.NumWords, req.Fulfilled, words, req.CreatedAt, fulfilledAt)
	return err
}

func (t *tx) ListPendingRandomRequests(ctx context.Context, limit int) ([]random.Request, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := t.tx.QueryxContext(ctx, `
		SELECT id, consumer, num_words, fulfilled, words, created_at, fulfilled_at
		FROM casino_random_requests
		WHERE NOT fulfilled
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []random.Request
	for rows.Next() {
		r, err := scanRandomRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- LotteryStore -----------------------------------------------------------

const roundColumns = `id, start_time, end_time, ticket_count, prize_pool, draw_requested, settled, request_id, winner`

func scanRound(row interface{ Scan(...any) error }) (lottery.Round, error) {
	var (
		r   lottery.Round
		end sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.StartTime, &end, &r.TicketCount, &r.PrizePool,
		&r.DrawRequested, &r.Settled, &r.RequestID, &r.Winner); err != nil {
		return lottery.Round{}, err
	}
	r.EndTime = end.Time
	return r, nil
}

func (t *tx) LatestRound(ctx context.Context) (lottery.Round, error) {
	row := t.tx.QueryRowxContext(ctx, `SELECT `+roundColumns+` FROM casino_lottery_rounds ORDER BY id DESC LIMIT 1`)
	r, err := scanRound(row)
	return r, notFound(err)
}

func (t *tx) GetRound(ctx context.Context, id uint64) (lottery.Round, error) {
	row := t.tx.QueryRowxContext(ctx, `SELECT `+roundColumns+` FROM casino_lottery_rounds WHERE id = $1`, id)
	r, err := scanRound(row)
	return r, notFound(err)
}

func (t *tx) PutRound(ctx context.Context, r lottery.Round) error {
	var end sql.NullTime
	if !r.EndTime.IsZero() {
		end = sql.NullTime{Time: r.EndTime, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_lottery_rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			ticket_count = EXCLUDED.ticket_count,
			prize_pool = EXCLUDED.prize_pool,
			draw_requested = EXCLUDED.draw_requested,
			settled = EXCLUDED.settled,
			request_id = EXCLUDED.request_id,
			winner = EXCLUDED.winner
	`, r.ID, r.StartTime, end, r.TicketCount, r.PrizePool, r.DrawRequested, r.Settled, r.RequestID, r.Winner)
	return err
}

func (t *tx) AppendTickets(ctx context.Context, batch lottery.TicketBatch) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO casino_lottery_tickets (round_id, first_index, count, owner)
		VALUES (:round_id, :first_index, :count, :owner)
	`, batch)
	return err
}

func (t *tx) TicketOwner(ctx context.Context, roundID, index uint64) (string, error) {
	var batch lottery.TicketBatch
	err := t.tx.GetContext(ctx, &batch, `
		SELECT round_id, first_index, count, owner
		FROM casino_lottery_tickets
		WHERE round_id = $1 AND first_index <= $2
		ORDER BY first_index DESC
		LIMIT 1
	`, roundID, index)
	if err != nil {
		return "", notFound(err)
	}
	if !batch.Contains(index) {
		return "", storage.ErrNotFound
	}
	return batch.Owner, nil
}

func (t *tx) ListTickets(ctx context.Context, roundID uint64) ([]lottery.TicketBatch, error) {
	var batches []lottery.TicketBatch
	err := t.tx.SelectContext(ctx, &batches, `
		SELECT round_id, first_index, count, owner
		FROM casino_lottery_tickets WHERE round_id = $1 ORDER BY first_index
	`, roundID)
	return batches, err
}

func (t *tx) GetLotteryResult(ctx context.Context, id random.RequestID) (lottery.Result, error) {
	var r lottery.Result
	err := t.tx.QueryRowxContext(ctx, `
		SELECT round_id, request_id, winning_ticket_index, winner, prize_pool, settled_at
		FROM casino_lottery_results WHERE request_id = $1
	`, id).Scan(&r.RoundID, &r.RequestID, &r.WinningTicketIndex, &r.Winner, &r.PrizePool, &r.SettledAt)
	return r, notFound(err)
}

func (t *tx) PutLotteryResult(ctx context.Context, r lottery.Result) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO casino_lottery_results (round_id, request_id, winning_ticket_index, winner, prize_pool, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.RoundID, r.RequestID, r.WinningTicketIndex, r.Winner, r.PrizePool, r.SettledAt)
	return err
}
