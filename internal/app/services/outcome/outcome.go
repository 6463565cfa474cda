// Package outcome turns a random word and a bet parameter into a result.
// Every function here is pure.
package outcome

import (
	"fmt"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
)

// Game kinds understood by ForKind.
const (
	KindCoinFlip = "coinflip"
	KindDice     = "dice"
)

// Result of resolving one bet.
type Result struct {
	Won           bool
	Value         uint64
	MultiplierBps int64
}

// Resolver is implemented by each bettable game.
type Resolver interface {
	Kind() string
	ValidateParam(param uint8) error
	Resolve(word random.Word, param uint8) Result
}

// CoinFlip wins when word mod 2 equals the chosen side.
type CoinFlip struct {
	MultiplierBps int64
}

// DefaultCoinFlip pays 2x before the house edge.
func DefaultCoinFlip() CoinFlip {
	return CoinFlip{MultiplierBps: 20_000}
}

func (CoinFlip) Kind() string { return KindCoinFlip }

func (CoinFlip) ValidateParam(param uint8) error {
	if param > 1 {
		return apperrors.Newf(apperrors.KindInvalidChoice, "coin side %d", param)
	}
	return nil
}

func (c CoinFlip) Resolve(word random.Word, param uint8) Result {
	bit := word.Mod(2)
	return Result{Won: bit == uint64(param), Value: bit, MultiplierBps: c.MultiplierBps}
}

// Tier is one dice bet: the roll must be strictly below Threshold.
type Tier struct {
	Threshold     uint64
	MultiplierBps int64
}

// Dice rolls word mod 10000 against the tier chosen by the parameter.
type Dice struct {
	Tiers []Tier
}

// DiceSides is the roll range.
const DiceSides = 10_000

// DefaultDice returns the 70% 1.5x, 20% 10x and 2% 50x tiers.
func DefaultDice() Dice {
	return Dice{Tiers: []Tier{
		{Threshold: 7000, MultiplierBps: 15_000},
		{Threshold: 2000, MultiplierBps: 100_000},
		{Threshold: 200, MultiplierBps: 500_000},
	}}
}

func (Dice) Kind() string { return KindDice }

func (d Dice) ValidateParam(param uint8) error {
	if int(param) >= len(d.Tiers) {
		return apperrors.Newf(apperrors.KindInvalidChoice, "dice tier %d", param)
	}
	return nil
}

func (d Dice) Resolve(word random.Word, param uint8) Result {
	tier := d.Tiers[param]
	roll := word.Mod(DiceSides)
	return Result{Won: roll < tier.Threshold, Value: roll, MultiplierBps: tier.MultiplierBps}
}

// ForKind returns the default resolver for a game kind.
func ForKind(kind string) (Resolver, error) {
	switch kind {
	case KindCoinFlip:
		return DefaultCoinFlip(), nil
	case KindDice:
		return DefaultDice(), nil
	default:
		return nil, fmt.Errorf("unknown game kind %q", kind)
	}
}

// LotteryIndex picks the winning ticket, always in [0, ticketCount).
func LotteryIndex(word random.Word, ticketCount uint64) (uint64, error) {
	if ticketCount == 0 {
		return 0, apperrors.New(apperrors.KindDrawNotReady, "no tickets sold")
	}
	return word.Mod(ticketCount), nil
}
