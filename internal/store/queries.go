package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTrade(ctx context.Context, ex execer, t portfolio.Trade) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, entry_price, exit_price, qty, pnl, pnl_percent, opened_at, closed_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL, t.PnLPercent,
		formatTime(t.OpenedAt), formatTime(t.ClosedAt), string(t.Reason))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func upsertPosition(ctx context.Context, ex execer, p portfolio.Position) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, entry_price, qty, opened_at, stop_loss_price, take_profit_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			side = excluded.side,
			entry_price = excluded.entry_price,
			qty = excluded.qty,
			opened_at = excluded.opened_at,
			stop_loss_price = excluded.stop_loss_price,
			take_profit_price = excluded.take_profit_price
	`, p.Symbol, string(p.Side), p.EntryPrice, p.Quantity, formatTime(p.OpenedAt), p.StopLossPrice, p.TakeProfitPrice)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func deletePosition(ctx context.Context, ex execer, symbol string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func upsertRiskState(ctx context.Context, ex execer, symbol string, st risk.State) error {
	stop := 0
	if st.EmergencyStop {
		stop = 1
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO risk_state (symbol, daily_pnl, trades_today, day_start, day_start_balance, emergency_stop, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			daily_pnl = excluded.daily_pnl,
			trades_today = excluded.trades_today,
			day_start = excluded.day_start,
			day_start_balance = excluded.day_start_balance,
			emergency_stop = excluded.emergency_stop,
			updated_at = excluded.updated_at
	`, symbol, st.DailyPnL, st.TradesToday, formatTime(st.DayStart), st.DayStartBalance, stop, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert risk state: %w", err)
	}
	return nil
}

// SaveOpen stores a newly opened position with the risk state that counted it.
func (s *Store) SaveOpen(ctx context.Context, pos portfolio.Position, st risk.State) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertPosition(ctx, tx, pos); err != nil {
			return err
		}
		return upsertRiskState(ctx, tx, pos.Symbol, st)
	})
}

// SaveClose stores a closed trade, removes its position and updates risk state atomically.
func (s *Store) SaveClose(ctx context.Context, trade portfolio.Trade, st risk.State) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTrade(ctx, tx, trade); err != nil {
			return err
		}
		if err := deletePosition(ctx, tx, trade.Symbol); err != nil {
			return err
		}
		return upsertRiskState(ctx, tx, trade.Symbol, st)
	})
}

// SaveRiskState stores the risk state of symbol.
func (s *Store) SaveRiskState(ctx context.Context, symbol string, st risk.State) error {
	return upsertRiskState(ctx, s.db, symbol, st)
}

// Record implements portfolio.TradeRecorder.
func (s *Store) Record(t portfolio.Trade) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return insertTrade(ctx, s.db, t)
}

// Trades returns closed trades ordered by close time; limit <= 0 returns all.
func (s *Store) Trades(ctx context.Context, limit int) ([]portfolio.Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, qty, pnl, pnl_percent, opened_at, closed_at, reason
		FROM trades ORDER BY closed_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, symbol, side, entry_price, exit_price, qty, pnl, pnl_percent, opened_at, closed_at, reason
			FROM trades ORDER BY closed_at DESC, id DESC LIMIT ?
		) ORDER BY closed_at ASC, id ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []portfolio.Trade
	for rows.Next() {
		var t portfolio.Trade
		var side, reason, opened, closed string
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&t.PnL, &t.PnLPercent, &opened, &closed, &reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = portfolio.Side(side)
		t.Reason = portfolio.CloseReason(reason)
		if t.OpenedAt, err = parseTime(opened); err != nil {
			return nil, fmt.Errorf("parse opened_at: %w", err)
		}
		if t.ClosedAt, err = parseTime(closed); err != nil {
			return nil, fmt.Errorf("parse closed_at: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Positions returns all open positions.
func (s *Store) Positions(ctx context.Context) ([]portfolio.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, entry_price, qty, opened_at, stop_loss_price, take_profit_price
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []portfolio.Position
	for rows.Next() {
		var p portfolio.Position
		var side, opened string
		if err := rows.Scan(&p.Symbol, &side, &p.EntryPrice, &p.Quantity, &opened, &p.StopLossPrice, &p.TakeProfitPrice); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Side = portfolio.Side(side)
		if p.OpenedAt, err = parseTime(opened); err != nil {
			return nil, fmt.Errorf("parse opened_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("record not found")

// LoadRiskState returns the stored state of symbol or ErrNotFound.
func (s *Store) LoadRiskState(ctx context.Context, symbol string) (risk.State, error) {
	var st risk.State
	var dayStart string
	var stop int
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_pnl, trades_today, day_start, day_start_balance, emergency_stop
		FROM risk_state WHERE symbol = ?`, symbol).
		Scan(&st.DailyPnL, &st.TradesToday, &dayStart, &st.DayStartBalance, &stop)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.State{}, ErrNotFound
	}
	if err != nil {
		return risk.State{}, fmt.Errorf("load risk state: %w", err)
	}
	st.EmergencyStop = stop != 0
	if st.DayStart, err = parseTime(dayStart); err != nil {
		return risk.State{}, fmt.Errorf("parse day_start: %w", err)
	}
	return st, nil
}
