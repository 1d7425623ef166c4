package store

import (
	"context"

	"papertrade/internal/model"

	"github.com/shopspring/decimal"
)

// State is everything the core loads back at startup.
type State struct {
	OpenPositions []model.Position
	Balances      map[string]decimal.Decimal
	TradeRecords  []model.TradeRecord
}

// Store is the durable-storage collaborator. Implementations must not
// be required for correctness: the in-memory core stays authoritative
// and treats persistence as write-through.
type Store interface {
	SavePosition(ctx context.Context, p model.Position) error
	MarkPositionClosed(ctx context.Context, p model.Position) error
	UpdatePositionRisk(ctx context.Context, id string, stopLoss, takeProfit *decimal.Decimal) error
	SaveTradeRecord(ctx context.Context, rec model.TradeRecord) error
	SaveBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	LoadState(ctx context.Context) (State, error)
}

// Disabled is used when no DB_DSN is configured and in tests.
type Disabled struct{}

func NewDisabled() *Disabled {
	return &Disabled{}
}

func (d *Disabled) SavePosition(ctx context.Context, p model.Position) error { return nil }

func (d *Disabled) MarkPositionClosed(ctx context.Context, p model.Position) error { return nil }

func (d *Disabled) UpdatePositionRisk(ctx context.Context, id string, stopLoss, takeProfit *decimal.Decimal) error {
	return nil
}

func (d *Disabled) SaveTradeRecord(ctx context.Context, rec model.TradeRecord) error { return nil }

func (d *Disabled) SaveBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	return nil
}

func (d *Disabled) LoadState(ctx context.Context) (State, error) {
	return State{Balances: map[string]decimal.Decimal{}}, nil
}
