package bet

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
)

// Hash is a 32-byte keccak256 digest.
type Hash [32]byte

// ParseHash decodes 64 hex characters with an optional 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Commitment is a player's sealed bet awaiting reveal. At most one exists
// per (game, player).
type Commitment struct {
	Game      string    `json:"game"`
	Player    string    `json:"player"`
	Hash      Hash      `json:"hash"`
	Deposit   int64     `json:"deposit"`
	CreatedAt time.Time `json:"created_at"`
}

// Request tracks one wager from reveal to settlement or refund.
type Request struct {
	ID         random.RequestID `json:"id"`
	Game       string           `json:"game"`
	Player     string           `json:"player"`
	Asset      treasury.AssetID `json:"asset"`
	Stake      int64            `json:"stake"`
	Param      uint8            `json:"param"`
	RoundID    uint64           `json:"round_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Fulfilled  bool             `json:"fulfilled"`
	RandomWord *random.Word     `json:"random_word,omitempty"`
	Settled    bool             `json:"settled"`
	Refunded   bool             `json:"refunded"`
	ReplacedBy random.RequestID `json:"replaced_by,omitempty"`
}

// Outcome is the immutable result of a settled wager.
type Outcome struct {
	RequestID     random.RequestID `json:"request_id"`
	Game          string           `json:"game"`
	Player        string           `json:"player"`
	Choice        uint8            `json:"choice"`
	Won           bool             `json:"won"`
	Value         uint64           `json:"value"`
	Stake         int64            `json:"stake"`
	MultiplierBps int64            `json:"multiplier_bps"`
	Gross         int64            `json:"gross"`
	Payout        int64            `json:"payout"`
	SettledAt     time.Time        `json:"settled_at"`
}
