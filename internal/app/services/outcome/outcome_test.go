package outcome

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/holiman/uint256"
)

func randomWord(t *testing.T) random.Word {
	t.Helper()
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		t.Fatalf("read randomness: %v", err)
	}
	return random.Word(*new(uint256.Int).SetBytes32(buf[:]))
}

func TestCoinFlipScenario(t *testing.T) {
	res := DefaultCoinFlip().Resolve(random.WordFromUint64(4), 1)
	if res.Value != 0 || res.Won {
		t.Fatalf("word 4 with choice 1: expected value 0 and a loss, got %+v", res)
	}
	res = DefaultCoinFlip().Resolve(random.WordFromUint64(4), 0)
	if !res.Won || res.MultiplierBps != 20_000 {
		t.Fatalf("word 4 with choice 0: expected a 2x win, got %+v", res)
	}
}

func TestCoinFlipRejectsBadChoice(t *testing.T) {
	if err := DefaultCoinFlip().ValidateParam(2); !errors.Is(err, apperrors.ErrInvalidChoice) {
		t.Fatalf("expected InvalidChoice, got %v", err)
	}
}

func TestCoinFlipFairness(t *testing.T) {
	const samples = 20000
	coin := DefaultCoinFlip()
	for _, choice := range []uint8{0, 1} {
		wins := 0
		for i := 0; i < samples; i++ {
			if coin.Resolve(randomWord(t), choice).Won {
				wins++
			}
		}
		rate := float64(wins) / samples
		// Six standard deviations at n=20000.
		if rate < 0.479 || rate > 0.521 {
			t.Fatalf("choice %d: win rate %.4f far from 0.5", choice, rate)
		}
	}
}

func TestDiceThresholdsAreStrict(t *testing.T) {
	dice := DefaultDice()
	cases := []struct {
		tier uint8
		roll uint64
		won  bool
	}{
		{0, 6999, true},
		{0, 7000, false},
		{1, 1999, true},
		{1, 2000, false},
		{2, 199, true},
		{2, 200, false},
		{2, 0, true},
	}
	for _, tc := range cases {
		// Adding a multiple of the roll range must not change the roll.
		word := random.Word(*new(uint256.Int).Add(uint256.NewInt(tc.roll), uint256.NewInt(DiceSides*123456789)))
		res := dice.Resolve(word, tc.tier)
		if res.Won != tc.won || res.Value != tc.roll {
			t.Fatalf("tier %d roll %d: expected won=%v, got %+v", tc.tier, tc.roll, tc.won, res)
		}
	}
	if err := dice.ValidateParam(3); !errors.Is(err, apperrors.ErrInvalidChoice) {
		t.Fatalf("expected InvalidChoice for tier 3, got %v", err)
	}
}

func TestLotteryIndexInRange(t *testing.T) {
	idx, err := LotteryIndex(random.WordFromUint64(7), 3)
	if err != nil || idx != 1 {
		t.Fatalf("word 7 over 3 tickets: expected index 1, got %d %v", idx, err)
	}
	for _, count := range []uint64{1, 2, 17, 1 << 40} {
		for i := 0; i < 200; i++ {
			idx, err := LotteryIndex(randomWord(t), count)
			if err != nil {
				t.Fatalf("index: %v", err)
			}
			if idx >= count {
				t.Fatalf("index %d outside [0, %d)", idx, count)
			}
		}
	}
	if _, err := LotteryIndex(random.WordFromUint64(1), 0); err == nil {
		t.Fatalf("expected error with no tickets")
	}
}

func TestForKind(t *testing.T) {
	for _, kind := range []string{KindCoinFlip, KindDice} {
		r, err := ForKind(kind)
		if err != nil || r.Kind() != kind {
			t.Fatalf("%s: %v %v", kind, r, err)
		}
	}
	if _, err := ForKind("roulette"); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}
