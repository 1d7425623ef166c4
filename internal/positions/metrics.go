package positions

import (
	"context"

	"papertrade/internal/model"

	"github.com/shopspring/decimal"
)

type AccountMetrics struct {
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	Margin      decimal.Decimal `json:"margin"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	MarginLevel decimal.Decimal `json:"margin_level"`
	PnL         decimal.Decimal `json:"pnl"`
}

// Metrics computes the dashboard snapshot under the user lock, so the
// balance and the open set it sums belong to the same instant: equity
// is spendable balance plus reserved value plus floating PnL.
func (s *Service) Metrics(ctx context.Context, userID string) AccountMetrics {
	lk := s.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	balance := s.ledger.Balance(ctx, userID)

	s.mu.Lock()
	open := make([]model.Position, 0, len(s.openByUser[userID]))
	for _, p := range s.openByUser[userID] {
		open = append(open, *p)
	}
	s.mu.Unlock()

	var margin decimal.Decimal
	var floating decimal.Decimal
	for _, p := range open {
		margin = margin.Add(p.PositionValue)
		if s.quotes != nil {
			if tick, ok := s.quotes.Latest(p.Symbol); ok {
				floating = floating.Add(p.PnLAt(tick.Price))
			}
		}
	}

	equity := balance.Add(margin).Add(floating)
	var marginLevel decimal.Decimal
	if margin.IsPositive() {
		marginLevel = equity.Div(margin).Mul(decimal.NewFromInt(100))
	}
	return AccountMetrics{
		Balance:     balance,
		Equity:      equity,
		Margin:      margin,
		FreeMargin:  balance,
		MarginLevel: marginLevel,
		PnL:         floating,
	}
}
