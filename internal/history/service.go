package history

import (
	"context"
	"log"
	"sort"
	"sync"

	"papertrade/internal/model"
	"papertrade/internal/store"
)

// Service is the append-only record of every order transition. Records
// are immutable once appended.
type Service struct {
	mu     sync.RWMutex
	byUser map[string][]model.TradeRecord
	store  store.Store
}

func NewService(st store.Store) *Service {
	if st == nil {
		st = store.NewDisabled()
	}
	return &Service{byUser: make(map[string][]model.TradeRecord), store: st}
}

func (s *Service) Restore(records []model.TradeRecord) {
	s.mu.Lock()
	for _, rec := range records {
		s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec)
	}
	s.mu.Unlock()
}

func (s *Service) Append(ctx context.Context, rec model.TradeRecord) {
	s.mu.Lock()
	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec)
	s.mu.Unlock()
	if err := s.store.SaveTradeRecord(ctx, rec); err != nil {
		log.Printf("[history] persist record %s failed: %v", rec.ID, err)
	}
}

// ListForUser returns the user's records most-recent-first by close time.
func (s *Service) ListForUser(userID string) []model.TradeRecord {
	s.mu.RLock()
	records := s.byUser[userID]
	out := make([]model.TradeRecord, len(records))
	copy(out, records)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ClosedAt.After(out[j].ClosedAt)
	})
	return out
}
