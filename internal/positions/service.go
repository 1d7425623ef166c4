package positions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"papertrade/internal/history"
	"papertrade/internal/ledger"
	"papertrade/internal/model"
	"papertrade/internal/store"
	"papertrade/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("position not found")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrInvalidParameters = errors.New("invalid parameters")
)

// Quotes is the market-data contract the book needs: the latest tick
// per symbol. The simulated feed satisfies it; a real client would too.
type Quotes interface {
	Latest(symbol string) (model.Tick, bool)
	Supported(symbol string) bool
}

// Service is the authoritative set of open positions. Every state
// transition for one user runs under that user's lock, so the ledger
// debit/credit and the book mutation appear atomic to any reader and
// two concurrent closes of the same position cannot both succeed.
type Service struct {
	ledger  *ledger.Service
	history *history.Service
	quotes  Quotes
	store   store.Store

	mu         sync.Mutex
	byID       map[string]*model.Position
	openByUser map[string]map[string]*model.Position
	userLocks  map[string]*sync.Mutex
}

func NewService(ledgerSvc *ledger.Service, historySvc *history.Service, quotes Quotes, st store.Store) *Service {
	if st == nil {
		st = store.NewDisabled()
	}
	return &Service{
		ledger:     ledgerSvc,
		history:    historySvc,
		quotes:     quotes,
		store:      st,
		byID:       make(map[string]*model.Position),
		openByUser: make(map[string]map[string]*model.Position),
		userLocks:  make(map[string]*sync.Mutex),
	}
}

// Restore re-inserts open positions loaded from the persistence
// collaborator. Call before the monitor or any handler runs.
func (s *Service) Restore(positions []model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range positions {
		p := positions[i]
		s.byID[p.ID] = &p
		open, ok := s.openByUser[p.UserID]
		if !ok {
			open = make(map[string]*model.Position)
			s.openByUser[p.UserID] = open
		}
		open[p.ID] = &p
	}
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.userLocks[userID]
	if !ok {
		lk = &sync.Mutex{}
		s.userLocks[userID] = lk
	}
	return lk
}

type OpenRequest struct {
	UserID     string
	Symbol     string
	Side       types.Side
	Size       decimal.Decimal
	Leverage   int64
	EntryPrice decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// Open reserves entryPrice*size*leverage from the ledger and inserts
// the position as open. Nothing is mutated on any rejection.
func (s *Service) Open(ctx context.Context, req OpenRequest) (model.Position, error) {
	if req.UserID == "" {
		return model.Position{}, fmt.Errorf("%w: user id required", ErrInvalidParameters)
	}
	if !req.Side.Valid() {
		return model.Position{}, fmt.Errorf("%w: side must be long or short", ErrInvalidParameters)
	}
	if s.quotes != nil && !s.quotes.Supported(req.Symbol) {
		return model.Position{}, fmt.Errorf("%w: symbol %s not supported", ErrInvalidParameters, req.Symbol)
	}
	if !req.Size.IsPositive() {
		return model.Position{}, fmt.Errorf("%w: size must be positive", ErrInvalidParameters)
	}
	if req.Leverage < 1 {
		return model.Position{}, fmt.Errorf("%w: leverage must be at least 1", ErrInvalidParameters)
	}
	if !req.EntryPrice.IsPositive() {
		return model.Position{}, fmt.Errorf("%w: entry price must be positive", ErrInvalidParameters)
	}
	if err := validateRisk(req.Side, req.EntryPrice, req.StopLoss, req.TakeProfit); err != nil {
		return model.Position{}, err
	}
	value := req.EntryPrice.Mul(req.Size).Mul(decimal.NewFromInt(req.Leverage))

	lk := s.userLock(req.UserID)
	lk.Lock()
	defer lk.Unlock()

	if err := s.ledger.Debit(ctx, req.UserID, value); err != nil {
		return model.Position{}, err
	}
	p := &model.Position{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Size:          req.Size,
		Leverage:      req.Leverage,
		EntryPrice:    req.EntryPrice,
		CurrentPrice:  req.EntryPrice,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Status:        types.PositionStatusOpen,
		PositionValue: value,
		OpenedAt:      time.Now().UTC(),
	}
	s.mu.Lock()
	s.byID[p.ID] = p
	open, ok := s.openByUser[p.UserID]
	if !ok {
		open = make(map[string]*model.Position)
		s.openByUser[p.UserID] = open
	}
	open[p.ID] = p
	s.mu.Unlock()

	if err := s.store.SavePosition(ctx, *p); err != nil {
		log.Printf("[positions] persist open %s failed: %v", p.ID, err)
	}
	return s.view(*p), nil
}

// Close transitions open -> closed, credits positionValue plus realized
// PnL and appends the trade record. It is the single close path for
// manual closes and monitor triggers: the second caller on the same id
// observes the terminal status and gets ErrAlreadyClosed with no
// further ledger mutation.
func (s *Service) Close(ctx context.Context, positionID string, exitPrice decimal.Decimal, reason types.CloseReason) (model.TradeRecord, error) {
	if !reason.Valid() || reason == types.CloseReasonCancelled {
		return model.TradeRecord{}, fmt.Errorf("%w: invalid close reason", ErrInvalidParameters)
	}
	rec, _, err := s.CloseTriggered(ctx, positionID, exitPrice, func(model.Position) (types.CloseReason, bool) {
		return reason, true
	})
	return rec, err
}

// CloseTriggered closes the position only if trigger still reports a
// breach. The trigger runs on the live position under the user lock, so
// a risk amendment that lands between a sweep's snapshot and its close
// is honored: a cleared stop-loss cannot stop the position out. Returns
// false with a nil error when the trigger declines.
func (s *Service) CloseTriggered(ctx context.Context, positionID string, exitPrice decimal.Decimal, trigger func(model.Position) (types.CloseReason, bool)) (model.TradeRecord, bool, error) {
	if !exitPrice.IsPositive() {
		return model.TradeRecord{}, false, fmt.Errorf("%w: exit price must be positive", ErrInvalidParameters)
	}
	s.mu.Lock()
	p := s.byID[positionID]
	s.mu.Unlock()
	if p == nil {
		return model.TradeRecord{}, false, ErrNotFound
	}

	lk := s.userLock(p.UserID)
	lk.Lock()
	defer lk.Unlock()

	if p.Status != types.PositionStatusOpen {
		return model.TradeRecord{}, false, ErrAlreadyClosed
	}
	reason, breached := trigger(*p)
	if !breached {
		return model.TradeRecord{}, false, nil
	}
	pnl := p.PnLAt(exitPrice)
	ret := p.PositionValue.Add(pnl)
	if ret.IsNegative() {
		// A leveraged short can lose more than it reserved; the paper
		// balance itself never goes below zero.
		ret = decimal.Zero
	}
	if err := s.ledger.Credit(ctx, p.UserID, ret); err != nil {
		return model.TradeRecord{}, false, err
	}
	return s.finalize(ctx, p, exitPrice, pnl, types.PositionStatusClosed, reason), true, nil
}

// Cancel refunds the full reserved value with zero PnL. Only valid
// while open; racing a close resolves to whichever ran first.
func (s *Service) Cancel(ctx context.Context, positionID string) (model.TradeRecord, error) {
	s.mu.Lock()
	p := s.byID[positionID]
	s.mu.Unlock()
	if p == nil {
		return model.TradeRecord{}, ErrNotFound
	}

	lk := s.userLock(p.UserID)
	lk.Lock()
	defer lk.Unlock()

	if p.Status != types.PositionStatusOpen {
		return model.TradeRecord{}, ErrAlreadyClosed
	}
	if err := s.ledger.Credit(ctx, p.UserID, p.PositionValue); err != nil {
		return model.TradeRecord{}, err
	}
	return s.finalize(ctx, p, p.EntryPrice, decimal.Zero, types.PositionStatusCancelled, types.CloseReasonCancelled), nil
}

// finalize runs with the user lock held and the ledger already
// credited. It flips the status, removes the position from the open
// set and appends the immutable record.
func (s *Service) finalize(ctx context.Context, p *model.Position, exitPrice, pnl decimal.Decimal, status types.PositionStatus, reason types.CloseReason) model.TradeRecord {
	p.Status = status
	p.CurrentPrice = exitPrice
	s.mu.Lock()
	delete(s.openByUser[p.UserID], p.ID)
	s.mu.Unlock()

	rec := model.TradeRecord{
		ID:            uuid.NewString(),
		PositionID:    p.ID,
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Size:          p.Size,
		Leverage:      p.Leverage,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     exitPrice,
		PositionValue: p.PositionValue,
		RealizedPnL:   pnl,
		Reason:        reason,
		OpenedAt:      p.OpenedAt,
		ClosedAt:      time.Now().UTC(),
	}
	s.history.Append(ctx, rec)
	if err := s.store.MarkPositionClosed(ctx, *p); err != nil {
		log.Printf("[positions] persist close %s failed: %v", p.ID, err)
	}
	return rec
}

// AmendRisk replaces the SL/TP thresholds on an open position. A nil
// threshold clears it. No ledger effect.
func (s *Service) AmendRisk(ctx context.Context, positionID string, stopLoss, takeProfit *decimal.Decimal) (model.Position, error) {
	s.mu.Lock()
	p := s.byID[positionID]
	s.mu.Unlock()
	if p == nil {
		return model.Position{}, ErrNotFound
	}

	lk := s.userLock(p.UserID)
	lk.Lock()
	defer lk.Unlock()

	if p.Status != types.PositionStatusOpen {
		return model.Position{}, ErrAlreadyClosed
	}
	if err := validateRisk(p.Side, p.EntryPrice, stopLoss, takeProfit); err != nil {
		return model.Position{}, err
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	if err := s.store.UpdatePositionRisk(ctx, p.ID, stopLoss, takeProfit); err != nil {
		log.Printf("[positions] persist risk %s failed: %v", p.ID, err)
	}
	return s.view(*p), nil
}

// CloseManual is the request-surface close: it checks ownership and
// falls back to the latest tick when the caller sends no exit price.
func (s *Service) CloseManual(ctx context.Context, userID, positionID string, exitPrice *decimal.Decimal) (model.TradeRecord, error) {
	symbol, err := s.owned(userID, positionID)
	if err != nil {
		return model.TradeRecord{}, err
	}
	exit, err := s.resolveExit(symbol, exitPrice)
	if err != nil {
		return model.TradeRecord{}, err
	}
	return s.Close(ctx, positionID, exit, types.CloseReasonManual)
}

func (s *Service) CancelForUser(ctx context.Context, userID, positionID string) (model.TradeRecord, error) {
	if _, err := s.owned(userID, positionID); err != nil {
		return model.TradeRecord{}, err
	}
	return s.Cancel(ctx, positionID)
}

func (s *Service) AmendRiskForUser(ctx context.Context, userID, positionID string, stopLoss, takeProfit *decimal.Decimal) (model.Position, error) {
	if _, err := s.owned(userID, positionID); err != nil {
		return model.Position{}, err
	}
	return s.AmendRisk(ctx, positionID, stopLoss, takeProfit)
}

// owned hides other users' positions behind ErrNotFound. It reads only
// UserID and Symbol, which never change after open, so it does not need
// the user lock that guards the mutable fields.
func (s *Service) owned(userID, positionID string) (string, error) {
	s.mu.Lock()
	p := s.byID[positionID]
	s.mu.Unlock()
	if p == nil || p.UserID != userID {
		return "", ErrNotFound
	}
	return p.Symbol, nil
}

func (s *Service) resolveExit(symbol string, exitPrice *decimal.Decimal) (decimal.Decimal, error) {
	if exitPrice != nil {
		return *exitPrice, nil
	}
	if s.quotes == nil {
		return decimal.Zero, fmt.Errorf("%w: exit price required", ErrInvalidParameters)
	}
	tick, ok := s.quotes.Latest(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", ErrInvalidParameters, symbol)
	}
	return tick.Price, nil
}

// OpenForUser returns copies of the user's open positions with current
// price and unrealized PnL filled from the latest ticks. Taken under
// the user lock so a concurrent close never shows through halfway.
func (s *Service) OpenForUser(userID string) []model.Position {
	lk := s.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	s.mu.Lock()
	open := make([]*model.Position, 0, len(s.openByUser[userID]))
	for _, p := range s.openByUser[userID] {
		open = append(open, p)
	}
	s.mu.Unlock()

	out := make([]model.Position, 0, len(open))
	for _, p := range open {
		out = append(out, s.view(*p))
	}
	return out
}

// OpenPositions snapshots every open position across all users for the
// monitor sweep.
func (s *Service) OpenPositions() []model.Position {
	s.mu.Lock()
	users := make([]string, 0, len(s.openByUser))
	for userID := range s.openByUser {
		users = append(users, userID)
	}
	s.mu.Unlock()

	var out []model.Position
	for _, userID := range users {
		lk := s.userLock(userID)
		lk.Lock()
		s.mu.Lock()
		for _, p := range s.openByUser[userID] {
			out = append(out, *p)
		}
		s.mu.Unlock()
		lk.Unlock()
	}
	return out
}

// view copies the position and refreshes its mark-dependent fields.
func (s *Service) view(p model.Position) model.Position {
	if s.quotes != nil && p.Status == types.PositionStatusOpen {
		if tick, ok := s.quotes.Latest(p.Symbol); ok {
			p.CurrentPrice = tick.Price
			pnl := p.PnLAt(tick.Price)
			p.UnrealizedPnL = &pnl
		}
	}
	return p
}

// validateRisk rejects thresholds that could never trigger: a long
// stop-loss at or above entry, a short take-profit at or above entry,
// and so on for the mirrored cases.
func validateRisk(side types.Side, entry decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) error {
	if stopLoss != nil {
		if !stopLoss.IsPositive() {
			return fmt.Errorf("%w: stop loss must be positive", ErrInvalidParameters)
		}
		if side == types.SideLong && stopLoss.GreaterThanOrEqual(entry) {
			return fmt.Errorf("%w: long stop loss must be below entry price", ErrInvalidParameters)
		}
		if side == types.SideShort && stopLoss.LessThanOrEqual(entry) {
			return fmt.Errorf("%w: short stop loss must be above entry price", ErrInvalidParameters)
		}
	}
	if takeProfit != nil {
		if !takeProfit.IsPositive() {
			return fmt.Errorf("%w: take profit must be positive", ErrInvalidParameters)
		}
		if side == types.SideLong && takeProfit.LessThanOrEqual(entry) {
			return fmt.Errorf("%w: long take profit must be above entry price", ErrInvalidParameters)
		}
		if side == types.SideShort && takeProfit.GreaterThanOrEqual(entry) {
			return fmt.Errorf("%w: short take profit must be below entry price", ErrInvalidParameters)
		}
	}
	return nil
}
