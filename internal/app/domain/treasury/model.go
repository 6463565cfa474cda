package treasury

import "time"

// AssetID identifies a wagerable asset. Zero is the native asset.
type AssetID uint32

// NativeAsset is the chain-native asset.
const NativeAsset AssetID = 0

// UnitsPerCoin is the number of base units in one whole coin.
const UnitsPerCoin int64 = 100_000_000

// Basis points denominator used by every edge and multiplier.
const BasisPoints int64 = 10_000

// Pool aggregates ledger totals for one asset.
//
// Reserve is what the treasury actually holds. Liabilities is the sum of all
// player balances. Escrow holds stakes and ticket sales whose bet or round
// has not settled yet. Liabilities + Escrow + HouseEarnings never exceeds
// Reserve.
type Pool struct {
	Asset         AssetID `json:"asset" db:"asset"`
	Reserve       int64   `json:"reserve" db:"reserve"`
	Liabilities   int64   `json:"liabilities" db:"liabilities"`
	Escrow        int64   `json:"escrow" db:"escrow"`
	HouseEarnings int64   `json:"house_earnings" db:"house_earnings"`
	TotalBets     int64   `json:"total_bets" db:"total_bets"`
	TotalPayouts  int64   `json:"total_payouts" db:"total_payouts"`
}

// Free returns the part of the reserve neither owed nor escrowed.
func (p Pool) Free() int64 {
	return p.Reserve - p.Liabilities - p.Escrow - p.HouseEarnings
}

// Settings are the admin-controlled limits of the ledger.
type Settings struct {
	MinBet               int64            `json:"min_bet"`
	MaxBet               int64            `json:"max_bet"`
	MaxSinglePayoutRatio int64            `json:"max_single_payout_ratio"` // percent of reserve
	Paused               bool             `json:"paused"`
	AllowedAssets        map[AssetID]bool `json:"allowed_assets"`
}

// Allows reports whether asset may be deposited and wagered.
func (s Settings) Allows(asset AssetID) bool {
	return asset == NativeAsset || s.AllowedAssets[asset]
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.AllowedAssets = make(map[AssetID]bool, len(s.AllowedAssets))
	for k, v := range s.AllowedAssets {
		out.AllowedAssets[k] = v
	}
	return out
}

// Entry types recorded in the journal.
const (
	EntryDeposit       = "deposit"
	EntryWithdraw      = "withdraw"
	EntryBet           = "bet"
	EntryPayout        = "payout"
	EntryCredit        = "credit"
	EntryFund          = "fund"
	EntryHouseWithdraw = "house_withdraw"
)

// JournalEntry is an append-only record of one balance mutation.
type JournalEntry struct {
	ID           string    `json:"id" db:"id"`
	Player       string    `json:"player" db:"player"`
	Asset        AssetID   `json:"asset" db:"asset"`
	Type         string    `json:"type" db:"entry_type"`
	Amount       int64     `json:"amount" db:"amount"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Reference    string    `json:"reference,omitempty" db:"reference"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Stats is the public summary of one asset pool.
type Stats struct {
	Asset        AssetID `json:"asset"`
	Balance      int64   `json:"balance"`
	TotalBets    int64   `json:"total_bets"`
	TotalPayouts int64   `json:"total_payouts"`
	Earnings     int64   `json:"earnings"`
}
