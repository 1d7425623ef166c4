package positions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"papertrade/internal/history"
	"papertrade/internal/ledger"
	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

type fakeQuotes struct {
	ticks map[string]model.Tick
}

func (f fakeQuotes) Latest(symbol string) (model.Tick, bool) {
	t, ok := f.ticks[symbol]
	return t, ok
}

func (f fakeQuotes) Supported(symbol string) bool {
	_, ok := f.ticks[symbol]
	return ok
}

func quotesAt(symbol string, price string) fakeQuotes {
	return fakeQuotes{ticks: map[string]model.Tick{
		symbol: {Symbol: symbol, Price: dec(price), Timestamp: time.Now().UTC()},
	}}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestBook(starting string) (*Service, *ledger.Service, *history.Service) {
	ledgerSvc := ledger.NewService(dec(starting), nil)
	historySvc := history.NewService(nil)
	book := NewService(ledgerSvc, historySvc, quotesAt("BTC-USD", "100"), nil)
	return book, ledgerSvc, historySvc
}

func openReq(user string, size, entry string, leverage int64) OpenRequest {
	return OpenRequest{
		UserID:     user,
		Symbol:     "BTC-USD",
		Side:       types.SideLong,
		Size:       dec(size),
		Leverage:   leverage,
		EntryPrice: dec(entry),
	}
}

func TestOpenReservesPositionValue(t *testing.T) {
	book, ledgerSvc, _ := newTestBook("10000")
	ctx := context.Background()

	p, err := book.Open(ctx, openReq("u1", "1", "100", 10))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !p.PositionValue.Equal(dec("1000")) {
		t.Errorf("position value = %s, want 1000", p.PositionValue)
	}
	if got := ledgerSvc.Balance(ctx, "u1"); !got.Equal(dec("9000")) {
		t.Errorf("balance after open = %s, want 9000", got)
	}
	if p.Status != types.PositionStatusOpen {
		t.Errorf("status = %s, want open", p.Status)
	}
}

func TestOpenInsufficientBalance(t *testing.T) {
	book, ledgerSvc, _ := newTestBook("999")
	ctx := context.Background()

	_, err := book.Open(ctx, openReq("u1", "1", "100", 10))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("Open error = %v, want ErrInsufficientBalance", err)
	}
	if got := ledgerSvc.Balance(ctx, "u1"); !got.Equal(dec("999")) {
		t.Errorf("balance mutated on rejected open: %s", got)
	}
	if got := book.OpenForUser("u1"); len(got) != 0 {
		t.Errorf("open set not empty after rejected open: %d", len(got))
	}
}

func TestOpenValidation(t *testing.T) {
	book, _, _ := newTestBook("100000")
	ctx := context.Background()

	tests := []struct {
		name string
		req  OpenRequest
	}{
		{
			name: "zero size",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideLong,
				Size: decimal.Zero, Leverage: 1, EntryPrice: dec("100")},
		},
		{
			name: "negative size",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideLong,
				Size: dec("-1"), Leverage: 1, EntryPrice: dec("100")},
		},
		{
			name: "zero leverage",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideLong,
				Size: dec("1"), Leverage: 0, EntryPrice: dec("100")},
		},
		{
			name: "zero entry price",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideLong,
				Size: dec("1"), Leverage: 1, EntryPrice: decimal.Zero},
		},
		{
			name: "invalid side",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: "sideways",
				Size: dec("1"), Leverage: 1, EntryPrice: dec("100")},
		},
		{
			name: "unsupported symbol",
			req: OpenRequest{UserID: "u1", Symbol: "DOGE-USD", Side: types.SideLong,
				Size: dec("1"), Leverage: 1, EntryPrice: dec("100")},
		},
		{
			name: "long stop loss above entry",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideLong,
				Size: dec("1"), Leverage: 1, EntryPrice: dec("100"), StopLoss: decPtr("105")},
		},
		{
			name: "long take profit below entry",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideLong,
				Size: dec("1"), Leverage: 1, EntryPrice: dec("100"), TakeProfit: decPtr("95")},
		},
		{
			name: "short stop loss below entry",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideShort,
				Size: dec("1"), Leverage: 1, EntryPrice: dec("100"), StopLoss: decPtr("95")},
		},
		{
			name: "short take profit above entry",
			req: OpenRequest{UserID: "u1", Symbol: "BTC-USD", Side: types.SideShort,
				Size: dec("1"), Leverage: 1, EntryPrice: dec("100"), TakeProfit: decPtr("105")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := book.Open(ctx, tt.req)
			if !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("Open error = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestCloseRealizesPnL(t *testing.T) {
	tests := []struct {
		name    string
		side    types.Side
		exit    string
		wantPnL string
	}{
		{name: "long profit", side: types.SideLong, exit: "110", wantPnL: "100"},
		{name: "long loss", side: types.SideLong, exit: "97", wantPnL: "-30"},
		{name: "short profit", side: types.SideShort, exit: "89", wantPnL: "110"},
		{name: "short loss", side: types.SideShort, exit: "103", wantPnL: "-30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book, ledgerSvc, _ := newTestBook("10000")
			ctx := context.Background()
			req := openReq("u1", "2", "100", 5)
			req.Side = tt.side
			p, err := book.Open(ctx, req)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			rec, err := book.Close(ctx, p.ID, dec(tt.exit), types.CloseReasonManual)
			if err != nil {
				t.Fatalf("Close: %v", err)
			}
			if !rec.RealizedPnL.Equal(dec(tt.wantPnL)) {
				t.Errorf("realized pnl = %s, want %s", rec.RealizedPnL, tt.wantPnL)
			}
			want := dec("10000").Add(dec(tt.wantPnL))
			if got := ledgerSvc.Balance(ctx, "u1"); !got.Equal(want) {
				t.Errorf("balance after close = %s, want %s", got, want)
			}
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	book, ledgerSvc, historySvc := newTestBook("10000")
	ctx := context.Background()
	p, err := book.Open(ctx, openReq("u1", "1", "100", 10))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := book.Close(ctx, p.ID, dec("110"), types.CloseReasonManual); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	balance := ledgerSvc.Balance(ctx, "u1")

	if _, err := book.Close(ctx, p.ID, dec("120"), types.CloseReasonManual); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("second Close error = %v, want ErrAlreadyClosed", err)
	}
	if _, err := book.Cancel(ctx, p.ID); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("Cancel after close error = %v, want ErrAlreadyClosed", err)
	}
	if got := ledgerSvc.Balance(ctx, "u1"); !got.Equal(balance) {
		t.Errorf("balance mutated by rejected close: %s != %s", got, balance)
	}
	if got := historySvc.ListForUser("u1"); len(got) != 1 {
		t.Errorf("history has %d records, want 1", len(got))
	}
}

func TestCloseUnknownID(t *testing.T) {
	book, _, _ := newTestBook("10000")
	if _, err := book.Close(context.Background(), "nope", dec("100"), types.CloseReasonManual); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Close error = %v, want ErrNotFound", err)
	}
	if _, err := book.Cancel(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel error = %v, want ErrNotFound", err)
	}
}

func TestCancelRefundsFullValue(t *testing.T) {
	book, ledgerSvc, _ := newTestBook("10000")
	ctx := context.Background()
	p, err := book.Open(ctx, openReq("u1", "1", "100", 5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !p.PositionValue.Equal(dec("500")) {
		t.Fatalf("position value = %s, want 500", p.PositionValue)
	}

	rec, err := book.Cancel(ctx, p.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if rec.Reason != types.CloseReasonCancelled {
		t.Errorf("reason = %s, want cancelled", rec.Reason)
	}
	if !rec.RealizedPnL.IsZero() {
		t.Errorf("realized pnl = %s, want 0", rec.RealizedPnL)
	}
	if got := ledgerSvc.Balance(ctx, "u1"); !got.Equal(dec("10000")) {
		t.Errorf("balance after cancel = %s, want 10000", got)
	}
}

func TestAmendRisk(t *testing.T) {
	book, _, _ := newTestBook("10000")
	ctx := context.Background()
	p, err := book.Open(ctx, openReq("u1", "1", "100", 1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := book.AmendRisk(ctx, p.ID, decPtr("95"), decPtr("120"))
	if err != nil {
		t.Fatalf("AmendRisk: %v", err)
	}
	if got.StopLoss == nil || !got.StopLoss.Equal(dec("95")) {
		t.Errorf("stop loss = %v, want 95", got.StopLoss)
	}
	if got.TakeProfit == nil || !got.TakeProfit.Equal(dec("120")) {
		t.Errorf("take profit = %v, want 120", got.TakeProfit)
	}

	if _, err := book.AmendRisk(ctx, p.ID, decPtr("105"), nil); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("long stop loss above entry accepted: %v", err)
	}

	// nil thresholds clear
	got, err = book.AmendRisk(ctx, p.ID, nil, nil)
	if err != nil {
		t.Fatalf("AmendRisk clear: %v", err)
	}
	if got.StopLoss != nil || got.TakeProfit != nil {
		t.Errorf("thresholds not cleared: %v %v", got.StopLoss, got.TakeProfit)
	}

	if _, err := book.Close(ctx, p.ID, dec("100"), types.CloseReasonManual); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := book.AmendRisk(ctx, p.ID, decPtr("95"), nil); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("AmendRisk on closed position error = %v, want ErrAlreadyClosed", err)
	}
}

func TestOwnershipHiddenBehindNotFound(t *testing.T) {
	book, _, _ := newTestBook("10000")
	ctx := context.Background()
	p, err := book.Open(ctx, openReq("u1", "1", "100", 1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := book.CloseManual(ctx, "u2", p.ID, decPtr("110")); !errors.Is(err, ErrNotFound) {
		t.Errorf("CloseManual by stranger = %v, want ErrNotFound", err)
	}
	if _, err := book.CancelForUser(ctx, "u2", p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("CancelForUser by stranger = %v, want ErrNotFound", err)
	}
	if _, err := book.AmendRiskForUser(ctx, "u2", p.ID, decPtr("95"), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("AmendRiskForUser by stranger = %v, want ErrNotFound", err)
	}
}

func TestBalanceConservation(t *testing.T) {
	book, ledgerSvc, historySvc := newTestBook("10000")
	ctx := context.Background()

	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		p, err := book.Open(ctx, openReq("u1", "1", "100", int64(i%3+1)))
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		ids = append(ids, p.ID)
	}
	exits := []string{"101", "95", "110", "100"}
	for i, id := range ids {
		if i%2 == 0 {
			if _, err := book.Close(ctx, id, dec(exits[i/2]), types.CloseReasonManual); err != nil {
				t.Fatalf("Close %d: %v", i, err)
			}
		} else {
			if _, err := book.Cancel(ctx, id); err != nil {
				t.Fatalf("Cancel %d: %v", i, err)
			}
		}
	}

	var realized decimal.Decimal
	for _, rec := range historySvc.ListForUser("u1") {
		realized = realized.Add(rec.RealizedPnL)
	}
	want := dec("10000").Add(realized)
	if got := ledgerSvc.Balance(ctx, "u1"); !got.Equal(want) {
		t.Errorf("balance = %s, want starting + realized = %s", got, want)
	}
}

func TestConcurrentCloseAtMostOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		book, ledgerSvc, historySvc := newTestBook("10000")
		ctx := context.Background()
		p, err := book.Open(ctx, openReq("u1", "1", "100", 10))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := book.Close(ctx, p.ID, dec("110"), types.CloseReasonManual)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var succeeded, lost int
		for err := range results {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyClosed):
				lost++
			default:
				t.Fatalf("unexpected close error: %v", err)
			}
		}
		if succeeded != 1 || lost != workers-1 {
			t.Fatalf("round %d: %d closes succeeded, want exactly 1", round, succeeded)
		}
		if got := ledgerSvc.Balance(ctx, "u1"); !got.Equal(dec("10100")) {
			t.Fatalf("round %d: balance = %s, want 10100 (single credit)", round, got)
		}
		if got := historySvc.ListForUser("u1"); len(got) != 1 {
			t.Fatalf("round %d: history has %d records, want 1", round, len(got))
		}
	}
}

func TestConcurrentAmendRisk(t *testing.T) {
	book, _, _ := newTestBook("10000")
	ctx := context.Background()
	p, err := book.Open(ctx, openReq("u1", "1", "100", 1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Writers flip the thresholds while a stranger probes the position;
	// ownership lookups and amendments must not tear.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				var err error
				switch i % 3 {
				case 0:
					_, err = book.AmendRiskForUser(ctx, "u1", p.ID, decPtr("95"), decPtr("120"))
				case 1:
					_, err = book.AmendRiskForUser(ctx, "u1", p.ID, nil, nil)
				default:
					_, err = book.CloseManual(ctx, "u2", p.ID, decPtr("100"))
					if errors.Is(err, ErrNotFound) {
						err = nil
					}
				}
				if err != nil {
					t.Errorf("worker %d: %v", i, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	open := book.OpenForUser("u1")
	if len(open) != 1 {
		t.Fatalf("open set has %d positions, want 1", len(open))
	}
	// Thresholds are written as a pair under the user lock, so a view
	// can never see one without the other.
	if (open[0].StopLoss == nil) != (open[0].TakeProfit == nil) {
		t.Errorf("torn thresholds: sl=%v tp=%v", open[0].StopLoss, open[0].TakeProfit)
	}
}

func TestMetrics(t *testing.T) {
	book, _, _ := newTestBook("10000")
	ctx := context.Background()
	// Long 1 @ 100 x10: reserves 1000, mark is 100 so floating pnl 0.
	if _, err := book.Open(ctx, openReq("u1", "1", "100", 10)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	m := book.Metrics(ctx, "u1")
	if !m.Balance.Equal(dec("9000")) {
		t.Errorf("balance = %s, want 9000", m.Balance)
	}
	if !m.Margin.Equal(dec("1000")) {
		t.Errorf("margin = %s, want 1000", m.Margin)
	}
	if !m.Equity.Equal(dec("10000")) {
		t.Errorf("equity = %s, want 10000", m.Equity)
	}
	if !m.PnL.IsZero() {
		t.Errorf("floating pnl = %s, want 0", m.PnL)
	}
}
