package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/positions"
	"papertrade/internal/types"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Snapshotter provides one consistent set of latest ticks per sweep.
type Snapshotter interface {
	Snapshot() map[string]model.Tick
}

// Monitor is the recurring sweep that auto-closes breached positions.
// It goes through the same close path as manual closes, so a trigger
// racing a user close loses cleanly with ErrAlreadyClosed.
type Monitor struct {
	book     *positions.Service
	feed     Snapshotter
	interval time.Duration
	cron     *cron.Cron
}

func NewMonitor(book *positions.Service, feed Snapshotter, interval time.Duration) *Monitor {
	return &Monitor{
		book:     book,
		feed:     feed,
		interval: interval,
		cron:     cron.New(cron.WithSeconds()),
	}
}

func (m *Monitor) Start() error {
	schedule := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(schedule, func() {
		m.Sweep(context.Background())
	}); err != nil {
		return err
	}
	m.cron.Start()
	log.Printf("[risk] sweep every %s", m.interval)
	return nil
}

func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Sweep evaluates every open position against a single price snapshot
// taken at the start of the pass. The trigger fires at the snapshot
// price, so the close books exactly the price that breached the
// threshold.
func (m *Monitor) Sweep(ctx context.Context) {
	ticks := m.feed.Snapshot()
	for _, p := range m.book.OpenPositions() {
		tick, ok := ticks[p.Symbol]
		if !ok {
			continue
		}
		if _, breached := Evaluate(p, tick.Price); !breached {
			continue
		}
		// Re-evaluate on the live position: an amendment landing after
		// the snapshot copy may have cleared the breached threshold.
		rec, closed, err := m.book.CloseTriggered(ctx, p.ID, tick.Price, func(live model.Position) (types.CloseReason, bool) {
			return Evaluate(live, tick.Price)
		})
		if err != nil {
			// A concurrent manual close won the race; nothing to book.
			if errors.Is(err, positions.ErrAlreadyClosed) || errors.Is(err, positions.ErrNotFound) {
				continue
			}
			log.Printf("[risk] close %s failed: %v", p.ID, err)
			continue
		}
		if !closed {
			continue
		}
		log.Printf("[risk] closed %s %s %s @ %s (%s, pnl %s)", rec.Side, rec.Symbol, rec.PositionID, rec.ExitPrice, rec.Reason, rec.RealizedPnL)
	}
}

// Evaluate reports whether price breaches the position's thresholds.
// Long positions stop out at or below the stop-loss and take profit at
// or above the take-profit; shorts are mirrored. Stop-loss wins when
// both are set and breached.
func Evaluate(p model.Position, price decimal.Decimal) (types.CloseReason, bool) {
	switch p.Side {
	case types.SideLong:
		if p.StopLoss != nil && price.LessThanOrEqual(*p.StopLoss) {
			return types.CloseReasonStopLoss, true
		}
		if p.TakeProfit != nil && price.GreaterThanOrEqual(*p.TakeProfit) {
			return types.CloseReasonTakeProfit, true
		}
	case types.SideShort:
		if p.StopLoss != nil && price.GreaterThanOrEqual(*p.StopLoss) {
			return types.CloseReasonStopLoss, true
		}
		if p.TakeProfit != nil && price.LessThanOrEqual(*p.TakeProfit) {
			return types.CloseReasonTakeProfit, true
		}
	}
	return "", false
}
