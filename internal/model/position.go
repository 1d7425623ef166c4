package model

import (
	"time"

	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	Symbol        string               `json:"symbol"`
	Side          types.Side           `json:"side"`
	Size          decimal.Decimal      `json:"size"`
	Leverage      int64                `json:"leverage"`
	EntryPrice    decimal.Decimal      `json:"entry_price"`
	CurrentPrice  decimal.Decimal      `json:"current_price"`
	StopLoss      *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal     `json:"take_profit,omitempty"`
	Status        types.PositionStatus `json:"status"`
	PositionValue decimal.Decimal      `json:"position_value"`
	UnrealizedPnL *decimal.Decimal     `json:"unrealized_pnl,omitempty"`
	OpenedAt      time.Time            `json:"opened_at"`
}

// PnLAt is the profit or loss the position would realize at the given
// mark price: (mark - entry) * size * leverage, sign-flipped for shorts.
func (p Position) PnLAt(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.EntryPrice)
	if p.Side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size).Mul(decimal.NewFromInt(p.Leverage))
}

// TradeRecord is the immutable terminal snapshot written when a position
// leaves the open state.
type TradeRecord struct {
	ID            string            `json:"id"`
	PositionID    string            `json:"position_id"`
	UserID        string            `json:"user_id"`
	Symbol        string            `json:"symbol"`
	Side          types.Side        `json:"side"`
	Size          decimal.Decimal   `json:"size"`
	Leverage      int64             `json:"leverage"`
	EntryPrice    decimal.Decimal   `json:"entry_price"`
	ExitPrice     decimal.Decimal   `json:"exit_price"`
	PositionValue decimal.Decimal   `json:"position_value"`
	RealizedPnL   decimal.Decimal   `json:"realized_pnl"`
	Reason        types.CloseReason `json:"reason"`
	OpenedAt      time.Time         `json:"opened_at"`
	ClosedAt      time.Time         `json:"closed_at"`
}

type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}
