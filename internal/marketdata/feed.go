package marketdata

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"papertrade/internal/model"

	"github.com/shopspring/decimal"
)

// Profile describes the simulated random walk for one symbol. The walk
// is anchored to Base: each tick moves by a uniform ±Vol fraction plus a
// drift weighted by the 24h change, and is clamped so the price can
// never run away from the anchor or go negative.
type Profile struct {
	Base      float64
	Vol       float64
	Change24h float64
	Precision int32
}

// driftWeight spreads the 24h change over the ticks of a day so the
// simulated trend matches the profile without dominating the noise.
const driftWeight = 1.0 / 86400.0

var defaultProfiles = map[string]Profile{
	"BTC-USD": {Base: 64000, Vol: 0.0005, Change24h: 0.021, Precision: 2},
	"ETH-USD": {Base: 3400, Vol: 0.0007, Change24h: -0.014, Precision: 2},
	"SOL-USD": {Base: 150, Vol: 0.0011, Change24h: 0.033, Precision: 3},
	"EUR-USD": {Base: 1.085, Vol: 0.0001, Change24h: 0.002, Precision: 5},
}

// Feed produces monotonically-timestamped ticks per symbol. It is the
// simulated stand-in for a market-data client; anything exposing
// Latest/Snapshot with the same contract can replace it.
type Feed struct {
	bus      *Bus
	interval time.Duration
	profiles map[string]Profile

	mu     sync.RWMutex
	prices map[string]float64
	ticks  map[string]model.Tick

	rng  *rand.Rand
	stop chan struct{}
	once sync.Once
}

func NewFeed(bus *Bus, interval time.Duration) *Feed {
	return newFeed(bus, interval, defaultProfiles)
}

func newFeed(bus *Bus, interval time.Duration, profiles map[string]Profile) *Feed {
	f := &Feed{
		bus:      bus,
		interval: interval,
		profiles: profiles,
		prices:   make(map[string]float64, len(profiles)),
		ticks:    make(map[string]model.Tick, len(profiles)),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:     make(chan struct{}),
	}
	now := time.Now().UTC()
	for symbol, p := range profiles {
		f.prices[symbol] = p.Base
		f.record(symbol, p.Base, p.Precision, now)
	}
	return f
}

// Start launches the tick generator. Every interval each symbol evolves
// one step and the resulting tick is published on the bus.
func (f *Feed) Start() {
	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		log.Printf("[feed] publishing %d symbols every %s", len(f.profiles), f.interval)
		for {
			select {
			case <-ticker.C:
				f.step(time.Now().UTC())
			case <-f.stop:
				return
			}
		}
	}()
}

func (f *Feed) Stop() {
	f.once.Do(func() { close(f.stop) })
}

func (f *Feed) step(now time.Time) {
	f.mu.Lock()
	for symbol, p := range f.profiles {
		prev := f.prices[symbol]
		next := evolve(p, prev, f.rng.Float64())
		f.prices[symbol] = next
		tick := f.record(symbol, next, p.Precision, now)
		if f.bus != nil {
			f.bus.Publish(Event{Type: "tick", Data: tick})
		}
	}
	f.mu.Unlock()
}

// record stores the latest tick under f.mu, keeping timestamps strictly
// increasing per symbol even when steps land on the same clock reading.
func (f *Feed) record(symbol string, price float64, prec int32, now time.Time) model.Tick {
	if prev, ok := f.ticks[symbol]; ok && !now.After(prev.Timestamp) {
		now = prev.Timestamp.Add(time.Millisecond)
	}
	tick := model.Tick{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price).Round(prec),
		Timestamp: now,
	}
	f.ticks[symbol] = tick
	return tick
}

func evolve(p Profile, prev, u float64) float64 {
	noise := (u*2 - 1) * p.Vol
	drift := p.Change24h * driftWeight
	next := prev * (1 + noise + drift)
	floor := p.Base * 0.4
	ceiling := p.Base * 2.5
	if next < floor {
		next = floor
	}
	if next > ceiling {
		next = ceiling
	}
	return next
}

func (f *Feed) Latest(symbol string) (model.Tick, bool) {
	f.mu.RLock()
	tick, ok := f.ticks[symbol]
	f.mu.RUnlock()
	return tick, ok
}

// Snapshot returns one consistent copy of the latest tick per symbol.
// Sweeps evaluate every position against the same snapshot.
func (f *Feed) Snapshot() map[string]model.Tick {
	f.mu.RLock()
	out := make(map[string]model.Tick, len(f.ticks))
	for symbol, tick := range f.ticks {
		out[symbol] = tick
	}
	f.mu.RUnlock()
	return out
}

func (f *Feed) Symbols() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.profiles))
	for symbol := range f.profiles {
		out = append(out, symbol)
	}
	f.mu.RUnlock()
	return out
}

func (f *Feed) Supported(symbol string) bool {
	_, ok := f.profiles[symbol]
	return ok
}
