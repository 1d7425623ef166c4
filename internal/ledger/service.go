package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"papertrade/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Service is the single source of truth for spendable paper balances.
// Mutations are serialized by the caller per user (the position book
// holds its user lock across the matching book mutation); the internal
// mutex only guards the map itself.
type Service struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	starting decimal.Decimal
	store    store.Store
}

func NewService(starting decimal.Decimal, st store.Store) *Service {
	if st == nil {
		st = store.NewDisabled()
	}
	return &Service{
		balances: make(map[string]decimal.Decimal),
		starting: starting,
		store:    st,
	}
}

// Restore seeds balances from the persistence collaborator at startup.
func (s *Service) Restore(balances map[string]decimal.Decimal) {
	s.mu.Lock()
	for userID, amount := range balances {
		s.balances[userID] = amount
	}
	s.mu.Unlock()
}

func (s *Service) Balance(ctx context.Context, userID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(ctx, userID)
}

// balanceLocked initializes first-seen users with the starting paper
// balance so a fresh user can trade without a deposit step.
func (s *Service) balanceLocked(ctx context.Context, userID string) decimal.Decimal {
	bal, ok := s.balances[userID]
	if !ok {
		bal = s.starting
		s.balances[userID] = bal
		s.persist(ctx, userID, bal)
	}
	return bal
}

func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balanceLocked(ctx, userID)
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: required %s, available %s", ErrInsufficientBalance, amount, bal)
	}
	next := bal.Sub(amount)
	s.balances[userID] = next
	s.persist(ctx, userID, next)
	return nil
}

// Credit has no upper bound: a close can return more than the position
// reserved when realized PnL is positive. A zero amount is legal.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.balanceLocked(ctx, userID).Add(amount)
	s.balances[userID] = next
	s.persist(ctx, userID, next)
	return nil
}

// Deposit is the plan-purchase collaborator surface.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.balanceLocked(ctx, userID).Add(amount)
	s.balances[userID] = next
	s.persist(ctx, userID, next)
	return next, nil
}

// Withdraw backs the admin-approved withdrawal workflow.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balanceLocked(ctx, userID)
	if bal.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: required %s, available %s", ErrInsufficientBalance, amount, bal)
	}
	next := bal.Sub(amount)
	s.balances[userID] = next
	s.persist(ctx, userID, next)
	return next, nil
}

func (s *Service) persist(ctx context.Context, userID string, balance decimal.Decimal) {
	if err := s.store.SaveBalance(ctx, userID, balance); err != nil {
		log.Printf("[ledger] persist balance for %s failed: %v", userID, err)
	}
}
