package lottery

import (
	"time"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
)

// Round is one lottery draw cycle. The end time is fixed by the first ticket
// purchase.
type Round struct {
	ID            uint64           `json:"id"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time,omitempty"`
	TicketCount   uint64           `json:"ticket_count"`
	PrizePool     int64            `json:"prize_pool"`
	DrawRequested bool             `json:"draw_requested"`
	Settled       bool             `json:"settled"`
	RequestID     random.RequestID `json:"request_id,omitempty"`
	Winner        string           `json:"winner,omitempty"`
}

// Open reports whether tickets may still be bought at now.
func (r Round) Open(now time.Time) bool {
	if r.DrawRequested || r.Settled {
		return false
	}
	return r.EndTime.IsZero() || now.Before(r.EndTime)
}

// TicketBatch is a contiguous run of tickets bought in one purchase.
type TicketBatch struct {
	RoundID    uint64 `json:"round_id" db:"round_id"`
	FirstIndex uint64 `json:"first_index" db:"first_index"`
	Count      uint64 `json:"count" db:"count"`
	Owner      string `json:"owner" db:"owner"`
}

// Contains reports whether ticket index falls in the batch.
func (b TicketBatch) Contains(index uint64) bool {
	return index >= b.FirstIndex && index < b.FirstIndex+b.Count
}

// Result is the recorded outcome of a drawn round.
type Result struct {
	RoundID            uint64           `json:"round_id"`
	RequestID          random.RequestID `json:"request_id"`
	WinningTicketIndex uint64           `json:"winning_ticket_index"`
	Winner             string           `json:"winner"`
	PrizePool          int64            `json:"prize_pool"`
	SettledAt          time.Time        `json:"settled_at"`
}
