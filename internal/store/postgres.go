package store

import (
	"context"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables on first boot. Positions keep their
// terminal rows so restarts can rebuild the idempotency set.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		create table if not exists positions (
			id uuid primary key,
			user_id text not null,
			symbol text not null,
			side text not null,
			size numeric not null,
			leverage bigint not null,
			entry_price numeric not null,
			stop_loss numeric,
			take_profit numeric,
			status text not null,
			position_value numeric not null,
			opened_at timestamptz not null
		);
		create index if not exists positions_user_status_idx on positions (user_id, status);
		create table if not exists trade_records (
			id uuid primary key,
			position_id uuid not null,
			user_id text not null,
			symbol text not null,
			side text not null,
			size numeric not null,
			leverage bigint not null,
			entry_price numeric not null,
			exit_price numeric not null,
			position_value numeric not null,
			realized_pnl numeric not null,
			reason text not null,
			opened_at timestamptz not null,
			closed_at timestamptz not null
		);
		create index if not exists trade_records_user_closed_idx on trade_records (user_id, closed_at desc);
		create table if not exists balances (
			user_id text primary key,
			amount numeric not null,
			updated_at timestamptz not null
		);
	`)
	return err
}

func (s *Postgres) SavePosition(ctx context.Context, p model.Position) error {
	_, err := s.pool.Exec(ctx, `
		insert into positions (id, user_id, symbol, side, size, leverage, entry_price, stop_loss, take_profit, status, position_value, opened_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		on conflict (id) do update set stop_loss = excluded.stop_loss, take_profit = excluded.take_profit, status = excluded.status
	`, p.ID, p.UserID, p.Symbol, string(p.Side), p.Size, p.Leverage, p.EntryPrice, p.StopLoss, p.TakeProfit, string(p.Status), p.PositionValue, p.OpenedAt)
	return err
}

func (s *Postgres) MarkPositionClosed(ctx context.Context, p model.Position) error {
	_, err := s.pool.Exec(ctx, "update positions set status = $1 where id = $2", string(p.Status), p.ID)
	return err
}

func (s *Postgres) UpdatePositionRisk(ctx context.Context, id string, stopLoss, takeProfit *decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, "update positions set stop_loss = $1, take_profit = $2 where id = $3", stopLoss, takeProfit, id)
	return err
}

func (s *Postgres) SaveTradeRecord(ctx context.Context, rec model.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		insert into trade_records (id, position_id, user_id, symbol, side, size, leverage, entry_price, exit_price, position_value, realized_pnl, reason, opened_at, closed_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		on conflict (id) do nothing
	`, rec.ID, rec.PositionID, rec.UserID, rec.Symbol, string(rec.Side), rec.Size, rec.Leverage, rec.EntryPrice, rec.ExitPrice, rec.PositionValue, rec.RealizedPnL, string(rec.Reason), rec.OpenedAt, rec.ClosedAt)
	return err
}

func (s *Postgres) SaveBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		insert into balances (user_id, amount, updated_at)
		values ($1, $2, $3)
		on conflict (user_id) do update set amount = excluded.amount, updated_at = excluded.updated_at
	`, userID, balance, time.Now().UTC())
	return err
}

func (s *Postgres) LoadState(ctx context.Context) (State, error) {
	state := State{Balances: map[string]decimal.Decimal{}}

	rows, err := s.pool.Query(ctx, `
		select id, user_id, symbol, side, size, leverage, entry_price, stop_loss, take_profit, position_value, opened_at
		from positions
		where status = 'open'
	`)
	if err != nil {
		return state, err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Position
		var side string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &side, &p.Size, &p.Leverage, &p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.PositionValue, &p.OpenedAt); err != nil {
			return state, err
		}
		p.Side = types.Side(side)
		p.Status = types.PositionStatusOpen
		state.OpenPositions = append(state.OpenPositions, p)
	}
	if err := rows.Err(); err != nil {
		return state, err
	}

	balRows, err := s.pool.Query(ctx, "select user_id, amount from balances")
	if err != nil {
		return state, err
	}
	defer balRows.Close()
	for balRows.Next() {
		var userID string
		var amount decimal.Decimal
		if err := balRows.Scan(&userID, &amount); err != nil {
			return state, err
		}
		state.Balances[userID] = amount
	}
	if err := balRows.Err(); err != nil {
		return state, err
	}

	recRows, err := s.pool.Query(ctx, `
		select id, position_id, user_id, symbol, side, size, leverage, entry_price, exit_price, position_value, realized_pnl, reason, opened_at, closed_at
		from trade_records
		order by closed_at desc
	`)
	if err != nil {
		return state, err
	}
	defer recRows.Close()
	for recRows.Next() {
		var rec model.TradeRecord
		var side, reason string
		if err := recRows.Scan(&rec.ID, &rec.PositionID, &rec.UserID, &rec.Symbol, &side, &rec.Size, &rec.Leverage, &rec.EntryPrice, &rec.ExitPrice, &rec.PositionValue, &rec.RealizedPnL, &reason, &rec.OpenedAt, &rec.ClosedAt); err != nil {
			return state, err
		}
		rec.Side = types.Side(side)
		rec.Reason = types.CloseReason(reason)
		state.TradeRecords = append(state.TradeRecords, rec)
	}
	return state, recRows.Err()
}
