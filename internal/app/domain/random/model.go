package random

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// RequestID identifies a randomness request. Ids are issued sequentially by
// the coordinator and never reused.
type RequestID uint64

// Word is a 256-bit random value delivered by the oracle.
type Word uint256.Int

// WordFromUint64 builds a word from a small value.
func WordFromUint64(v uint64) Word {
	return Word(*uint256.NewInt(v))
}

// ParseWord accepts decimal or 0x-prefixed hex.
func ParseWord(s string) (Word, error) {
	b, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok || b.Sign() < 0 {
		return Word{}, fmt.Errorf("invalid random word %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Word{}, fmt.Errorf("random word %q exceeds 256 bits", s)
	}
	return Word(*v), nil
}

// Int exposes the word for arithmetic.
func (w *Word) Int() *uint256.Int {
	return (*uint256.Int)(w)
}

// Mod returns w mod n. n must be non-zero.
func (w Word) Mod(n uint64) uint64 {
	return new(uint256.Int).Mod(w.Int(), uint256.NewInt(n)).Uint64()
}

func (w Word) String() string {
	return w.Int().ToBig().String()
}

func (w Word) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

func (w *Word) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("random word must be a string or number")
		}
		s = n.String()
	}
	parsed, err := ParseWord(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Request is the coordinator-side record of an outstanding randomness request.
type Request struct {
	ID          RequestID `json:"id"`
	Consumer    string    `json:"consumer"`
	NumWords    int       `json:"num_words"`
	Fulfilled   bool      `json:"fulfilled"`
	Words       []Word    `json:"words,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FulfilledAt time.Time `json:"fulfilled_at,omitempty"`
}
