package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/lottery"
	"github.com/R3E-Network/marcasino/internal/app/domain/platform"
	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/storage"
)

const singleton = "current"

const (
	counterRequest = "request"
	counterRound   = "round"
)

type balanceKey struct {
	player string
	asset  treasury.AssetID
}

type commitKey struct {
	game   string
	player string
}

// Store is an in-memory implementation of storage.Store. Update calls are
// serialised; each buffers its writes and applies them only when fn returns
// nil. It is safe for concurrent use and is primarily intended for tests and
// local development.
type Store struct {
	mu sync.RWMutex

	balances       map[balanceKey]int64
	pools          map[treasury.AssetID]treasury.Pool
	ledgerSettings map[string]treasury.Settings
	journal        []treasury.JournalEntry
	roles          map[access.Grant]struct{}
	platform       map[string]platform.Settings
	games          map[string]platform.Game
	commitments    map[commitKey]bet.Commitment
	betRequests    map[random.RequestID]bet.Request
	outcomes       map[random.RequestID]bet.Outcome
	counters       map[string]uint64
	randomRequests map[random.RequestID]random.Request
	rounds         map[uint64]lottery.Round
	tickets        map[uint64][]lottery.TicketBatch
	results        map[random.RequestID]lottery.Result
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*tx)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances:       make(map[balanceKey]int64),
		pools:          make(map[treasury.AssetID]treasury.Pool),
		ledgerSettings: make(map[string]treasury.Settings),
		roles:          make(map[access.Grant]struct{}),
		platform:       make(map[string]platform.Settings),
		games:          make(map[string]platform.Game),
		commitments:    make(map[commitKey]bet.Commitment),
		betRequests:    make(map[random.RequestID]bet.Request),
		outcomes:       make(map[random.RequestID]bet.Outcome),
		counters:       make(map[string]uint64),
		randomRequests: make(map[random.RequestID]random.Request),
		rounds:         make(map[uint64]lottery.Round),
		tickets:        make(map[uint64][]lottery.TicketBatch),
		results:        make(map[random.RequestID]lottery.Result),
	}
}

// Update runs fn with exclusive access and commits its writes on success.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.begin()
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// View runs fn against a snapshot. Writes made by fn are discarded.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.begin())
}

type tx struct {
	s *Store

	balances       *layer[balanceKey, int64]
	pools          *layer[treasury.AssetID, treasury.Pool]
	ledgerSettings *layer[string, treasury.Settings]
	journal        []treasury.JournalEntry
	roles          *layer[access.Grant, struct{}]
	platform       *layer[string, platform.Settings]
	games          *layer[string, platform.Game]
	commitments    *layer[commitKey, bet.Commitment]
	betRequests    *layer[random.RequestID, bet.Request]
	outcomes       *layer[random.RequestID, bet.Outcome]
	counters       *layer[string, uint64]
	randomRequests *layer[random.RequestID, random.Request]
	rounds         *layer[uint64, lottery.Round]
	tickets        *layer[uint64, []lottery.TicketBatch]
	results        *layer[random.RequestID, lottery.Result]
}

func (s *Store) begin() *tx {
	return &tx{
		s:              s,
		balances:       newLayer(s.balances),
		pools:          newLayer(s.pools),
		ledgerSettings: newLayer(s.ledgerSettings),
		roles:          newLayer(s.roles),
		platform:       newLayer(s.platform),
		games:          newLayer(s.games),
		commitments:    newLayer(s.commitments),
		betRequests:    newLayer(s.betRequests),
		outcomes:       newLayer(s.outcomes),
		counters:       newLayer(s.counters),
		randomRequests: newLayer(s.randomRequests),
		rounds:         newLayer(s.rounds),
		tickets:        newLayer(s.tickets),
		results:        newLayer(s.results),
	}
}

func (t *tx) commit() {
	t.balances.commit()
	t.pools.commit()
	t.ledgerSettings.commit()
	t.s.journal = append(t.s.journal, t.journal...)
	t.roles.commit()
	t.platform.commit()
	t.games.commit()
	t.commitments.commit()
	t.betRequests.commit()
	t.outcomes.commit()
	t.counters.commit()
	t.randomRequests.commit()
	t.rounds.commit()
	t.tickets.commit()
	t.results.commit()
}

// LedgerStore ---------------------------------------------------------------

func (t *tx) GetBalance(_ context.Context, player string, asset treasury.AssetID) (int64, error) {
	v, _ := t.balances.get(balanceKey{player, asset})
	return v, nil
}

func (t *tx) PutBalance(_ context.Context, player string, asset treasury.AssetID, amount int64) error {
	t.balances.put(balanceKey{player, asset}, amount)
	return nil
}

func (t *tx) GetPool(_ context.Context, asset treasury.AssetID) (treasury.Pool, error) {
	p, ok := t.pools.get(asset)
	if !ok {
		return treasury.Pool{Asset: asset}, nil
	}
	return p, nil
}

func (t *tx) PutPool(_ context.Context, pool treasury.Pool) error {
	t.pools.put(pool.Asset, pool)
	return nil
}

func (t *tx) ListPools(context.Context) ([]treasury.Pool, error) {
	return t.pools.values(func(a, b treasury.Pool) bool { return a.Asset < b.Asset }), nil
}

func (t *tx) GetLedgerSettings(context.Context) (treasury.Settings, error) {
	s, ok := t.ledgerSettings.get(singleton)
	if !ok {
		return treasury.Settings{}, storage.ErrNotFound
	}
	return s.Clone(), nil
}

func (t *tx) PutLedgerSettings(_ context.Context, settings treasury.Settings) error {
	t.ledgerSettings.put(singleton, settings.Clone())
	return nil
}

func (t *tx) AppendJournal(_ context.Context, entry treasury.JournalEntry) error {
	t.journal = append(t.journal, entry)
	return nil
}

// ListJournal returns the newest entries first.
func (t *tx) ListJournal(_ context.Context, player string, limit int) ([]treasury.JournalEntry, error) {
	all := make([]treasury.JournalEntry, 0, len(t.s.journal)+len(t.journal))
	all = append(all, t.s.journal...)
	all = append(all, t.journal...)

	var out []treasury.JournalEntry
	for i := len(all) - 1; i >= 0; i-- {
		if player != "" && all[i].Player != player {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AccessStore ---------------------------------------------------------------

func (t *tx) HasRole(_ context.Context, subject string, role access.Role) (bool, error) {
	_, ok := t.roles.get(access.Grant{Subject: subject, Role: role})
	return ok, nil
}

func (t *tx) PutRole(_ context.Context, grant access.Grant) error {
	t.roles.put(grant, struct{}{})
	return nil
}

func (t *tx) DeleteRole(_ context.Context, grant access.Grant) error {
	t.roles.del(grant)
	return nil
}

func (t *tx) ListRoles(context.Context) ([]access.Grant, error) {
	var out []access.Grant
	for g := range t.s.roles {
		if _, ok := t.roles.get(g); ok {
			out = append(out, g)
		}
	}
	for g := range t.roles.writes {
		if _, ok := t.s.roles[g]; !ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

// PlatformStore -------------------------------------------------------------

func (t *tx) GetPlatform(context.Context) (platform.Settings, error) {
	s, ok := t.platform.get(singleton)
	if !ok {
		return platform.Settings{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *tx) PutPlatform(_ context.Context, settings platform.Settings) error {
	t.platform.put(singleton, settings)
	return nil
}

func (t *tx) GetGame(_ context.Context, name string) (platform.Game, error) {
	g, ok := t.games.get(name)
	if !ok {
		return platform.Game{}, storage.ErrNotFound
	}
	return g, nil
}

func (t *tx) PutGame(_ context.Context, game platform.Game) error {
	t.games.put(game.Name, game)
	return nil
}

func (t *tx) ListGames(context.Context) ([]platform.Game, error) {
	return t.games.values(func(a, b platform.Game) bool { return a.Name < b.Name }), nil
}

// BetStore ------------------------------------------------------------------

func (t *tx) GetCommitment(_ context.Context, game, player string) (bet.Commitment, error) {
	c, ok := t.commitments.get(commitKey{game, player})
	if !ok {
		return bet.Commitment{}, storage.ErrNotFound
	}
	return c, nil
}

func (t *tx) PutCommitment(_ context.Context, c bet.Commitment) error {
	t.commitments.put(commitKey{c.Game, c.Player}, c)
	return nil
}

func (t *tx) DeleteCommitment(_ context.Context, game, player string) error {
	t.commitments.del(commitKey{game, player})
	return nil
}

func (t *tx) GetBetRequest(_ context.Context, id random.RequestID) (bet.Request, error) {
	r, ok := t.betRequests.get(id)
	if !ok {
		return bet.Request{}, storage.ErrNotFound
	}
	return cloneBetRequest(r), nil
}

func (t *tx) PutBetRequest(_ context.Context, req bet.Request) error {
	t.betRequests.put(req.ID, cloneBetRequest(req))
	return nil
}

// ListBetRequests returns the newest requests first.
func (t *tx) ListBetRequests(_ context.Context, player string, limit int) ([]bet.Request, error) {
	all := t.betRequests.values(func(a, b bet.Request) bool { return a.ID > b.ID })
	var out []bet.Request
	for _, r := range all {
		if player != "" && r.Player != player {
			continue
		}
		out = append(out, cloneBetRequest(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *tx) GetOutcome(_ context.Context, id random.RequestID) (bet.Outcome, error) {
	o, ok := t.outcomes.get(id)
	if !ok {
		return bet.Outcome{}, storage.ErrNotFound
	}
	return o, nil
}

func (t *tx) PutOutcome(_ context.Context, out bet.Outcome) error {
	t.outcomes.put(out.RequestID, out)
	return nil
}

func cloneBetRequest(r bet.Request) bet.Request {
	if r.RandomWord != nil {
		w := *r.RandomWord
		r.RandomWord = &w
	}
	return r
}

// RandomStore ---------------------------------------------------------------

func (t *tx) NextRequestID(context.Context) (random.RequestID, error) {
	n, _ := t.counters.get(counterRequest)
	n++
	t.counters.put(counterRequest, n)
	return random.RequestID(n), nil
}

func (t *tx) GetRandomRequest(_ context.Context, id random.RequestID) (random.Request, error) {
	r, ok := t.randomRequests.get(id)
	if !ok {
		return random.Request{}, storage.ErrNotFound
	}
	return cloneRandomRequest(r), nil
}

func (t *tx) PutRandomRequest(_ context.Context, req random.Request) error {
	t.randomRequests.put(req.ID, cloneRandomRequest(req))
	return nil
}

func (t *tx) ListPendingRandomRequests(_ context.Context, limit int) ([]random.Request, error) {
	all := t.randomRequests.values(func(a, b random.Request) bool { return a.ID < b.ID })
	var out []random.Request
	for _, r := range all {
		if r.Fulfilled {
			continue
		}
		out = append(out, cloneRandomRequest(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneRandomRequest(r random.Request) random.Request {
	if r.Words != nil {
		r.Words = append([]random.Word(nil), r.Words...)
	}
	return r
}

// LotteryStore --------------------------------------------------------------

func (t *tx) LatestRound(ctx context.Context) (lottery.Round, error) {
	id, ok := t.counters.get(counterRound)
	if !ok {
		return lottery.Round{}, storage.ErrNotFound
	}
	return t.GetRound(ctx, id)
}

func (t *tx) GetRound(_ context.Context, id uint64) (lottery.Round, error) {
	r, ok := t.rounds.get(id)
	if !ok {
		return lottery.Round{}, storage.ErrNotFound
	}
	return r, nil
}

func (t *tx) PutRound(_ context.Context, round lottery.Round) error {
	t.rounds.put(round.ID, round)
	if latest, _ := t.counters.get(counterRound); round.ID > latest {
		t.counters.put(counterRound, round.ID)
	}
	return nil
}

func (t *tx) AppendTickets(_ context.Context, batch lottery.TicketBatch) error {
	existing, _ := t.tickets.get(batch.RoundID)
	next := make([]lottery.TicketBatch, len(existing), len(existing)+1)
	copy(next, existing)
	t.tickets.put(batch.RoundID, append(next, batch))
	return nil
}

func (t *tx) TicketOwner(_ context.Context, roundID, index uint64) (string, error) {
	batches, _ := t.tickets.get(roundID)
	// Batches are appended in index order.
	lo, hi := 0, len(batches)
	for lo < hi {
		mid := (lo + hi) / 2
		if batches[mid].FirstIndex <= index {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 || !batches[lo-1].Contains(index) {
		return "", storage.ErrNotFound
	}
	return batches[lo-1].Owner, nil
}

func (t *tx) ListTickets(_ context.Context, roundID uint64) ([]lottery.TicketBatch, error) {
	batches, _ := t.tickets.get(roundID)
	return append([]lottery.TicketBatch(nil), batches...), nil
}

func (t *tx) GetLotteryResult(_ context.Context, id random.RequestID) (lottery.Result, error) {
	r, ok := t.results.get(id)
	if !ok {
		return lottery.Result{}, storage.ErrNotFound
	}
	return r, nil
}

func (t *tx) PutLotteryResult(_ context.Context, res lottery.Result) error {
	t.results.put(res.RequestID, res)
	return nil
}
