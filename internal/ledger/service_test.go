package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFirstSeenUserGetsStartingBalance(t *testing.T) {
	svc := NewService(dec("10000"), nil)
	if got := svc.Balance(context.Background(), "u1"); !got.Equal(dec("10000")) {
		t.Errorf("balance = %s, want 10000", got)
	}
}

func TestDebit(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		amount  string
		wantErr error
		want    string
	}{
		{name: "partial", amount: "400", want: "600"},
		{name: "exact", amount: "1000", want: "0"},
		{name: "over", amount: "1001", wantErr: ErrInsufficientBalance, want: "1000"},
		{name: "zero", amount: "0", wantErr: ErrInvalidAmount, want: "1000"},
		{name: "negative", amount: "-5", wantErr: ErrInvalidAmount, want: "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(dec("1000"), nil)
			err := svc.Debit(ctx, "u1", dec(tt.amount))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Debit error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Debit: %v", err)
			}
			if got := svc.Balance(ctx, "u1"); !got.Equal(dec(tt.want)) {
				t.Errorf("balance = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCreditHasNoUpperBound(t *testing.T) {
	ctx := context.Background()
	svc := NewService(dec("100"), nil)
	if err := svc.Credit(ctx, "u1", dec("1000000")); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if got := svc.Balance(ctx, "u1"); !got.Equal(dec("1000100")) {
		t.Errorf("balance = %s, want 1000100", got)
	}
	// Zero credit is legal: a total-loss close returns nothing.
	if err := svc.Credit(ctx, "u1", decimal.Zero); err != nil {
		t.Fatalf("zero Credit: %v", err)
	}
	if err := svc.Credit(ctx, "u1", dec("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative Credit error = %v, want ErrInvalidAmount", err)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	svc := NewService(dec("0"), nil)

	bal, err := svc.Deposit(ctx, "u1", dec("500"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if !bal.Equal(dec("500")) {
		t.Errorf("balance after deposit = %s, want 500", bal)
	}

	bal, err = svc.Withdraw(ctx, "u1", dec("200"))
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !bal.Equal(dec("300")) {
		t.Errorf("balance after withdraw = %s, want 300", bal)
	}

	if _, err := svc.Withdraw(ctx, "u1", dec("301")); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("over-withdraw error = %v, want ErrInsufficientBalance", err)
	}
}

func TestRestoreOverridesStarting(t *testing.T) {
	svc := NewService(dec("10000"), nil)
	svc.Restore(map[string]decimal.Decimal{"u1": dec("42")})
	if got := svc.Balance(context.Background(), "u1"); !got.Equal(dec("42")) {
		t.Errorf("restored balance = %s, want 42", got)
	}
}
