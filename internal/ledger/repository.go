package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"hybrid-regime-engine/internal/position"
	"hybrid-regime-engine/internal/regime"
)

// ErrInvariantViolation marks a position update that would break a
// spec §3 invariant. Fatal to the transaction (spec §7): the caller
// rolls back and continues serving other symbols.
var ErrInvariantViolation = errors.New("ledger: invariant violation")

// ErrNotFound is returned when a lookup by symbol/id finds nothing.
var ErrNotFound = errors.New("ledger: not found")

// Repository is the durable store spec §4.7 describes. It logs
// through zerolog rather than internal/logging, mirroring the
// teacher's mixed use of its own logger and zerolog in its
// newer order-tracking code (SPEC_FULL §10).
type Repository struct {
	db *DB
}

// NewRepository wraps a DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the connection pool, for the API server's /health
// endpoint.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetTrackedSymbols returns the current tracked-symbol set.
func (r *Repository) GetTrackedSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT symbol FROM tracked_symbols WHERE active = true ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("ledger: get tracked symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddSymbol tracks a new symbol. Idempotent.
func (r *Repository) AddSymbol(ctx context.Context, symbol string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO tracked_symbols (symbol, added_at, active) VALUES ($1, now(), true)
		 ON CONFLICT (symbol) DO UPDATE SET active = true`, symbol)
	if err != nil {
		return fmt.Errorf("ledger: add symbol: %w", err)
	}
	return nil
}

// RemoveSymbol untracks a symbol. Idempotent. Per spec §3's lifecycle
// note, callers must close any open position (at market) before
// calling this — the repository itself only flips the tracking flag.
func (r *Repository) RemoveSymbol(ctx context.Context, symbol string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE tracked_symbols SET active = false WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("ledger: remove symbol: %w", err)
	}
	return nil
}

// GetOpenPosition returns the open position for a symbol, or
// ErrNotFound if none is open.
func (r *Repository) GetOpenPosition(ctx context.Context, symbol string) (*position.Position, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT symbol, opened_at, average_entry_price, quantity, total_invested, initial_invested,
		       commission_paid, stop_loss_price, take_profit_price, highest_price_since_entry,
		       trailing_active, breakeven_active, partial_tp_taken, entry_mode, entry_votes_delta,
		       entry_reasons, averaging_count
		FROM positions WHERE symbol = $1`, symbol)

	var pos position.Position
	var entryReasonsJSON []byte
	var entryMode string
	err := row.Scan(&pos.Symbol, &pos.OpenedAt, &pos.AverageEntryPrice, &pos.Quantity, &pos.TotalInvested,
		&pos.InitialInvested, &pos.CommissionPaid, &pos.StopLossPrice, &pos.TakeProfitPrice,
		&pos.HighestPriceSinceEntry, &pos.TrailingActive, &pos.BreakevenActive, &pos.PartialTPTaken,
		&entryMode, &pos.EntryVotesDelta, &entryReasonsJSON, &pos.AveragingCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get open position: %w", err)
	}
	pos.EntryMode = regime.Mode(entryMode)
	_ = json.Unmarshal(entryReasonsJSON, &pos.EntryReasons)

	entries, err := r.getAveragingEntries(ctx, symbol)
	if err != nil {
		return nil, err
	}
	pos.AveragingEntries = entries
	return &pos, nil
}

// GetAllOpenPositions returns every currently open position, for the
// read-only API's /api/positions endpoint.
func (r *Repository) GetAllOpenPositions(ctx context.Context) ([]*position.Position, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT symbol FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open positions: %w", err)
	}
	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, err
		}
		symbols = append(symbols, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*position.Position, 0, len(symbols))
	for _, s := range symbols {
		pos, err := r.GetOpenPosition(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

func (r *Repository) getAveragingEntries(ctx context.Context, symbol string) ([]position.AveragingEntry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT price, qty, at, mode FROM averaging_entries WHERE symbol = $1 ORDER BY at`, symbol)
	if err != nil {
		return nil, fmt.Errorf("ledger: get averaging entries: %w", err)
	}
	defer rows.Close()

	var out []position.AveragingEntry
	for rows.Next() {
		var e position.AveragingEntry
		var mode string
		if err := rows.Scan(&e.Price, &e.Qty, &e.At, &mode); err != nil {
			return nil, err
		}
		e.Mode = position.AveragingMode(mode)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOpenPositionCount returns how many symbols currently hold an
// open position, for the signal generator's MAX_POSITIONS filter.
func (r *Repository) GetOpenPositionCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: get open position count: %w", err)
	}
	return n, nil
}

// ResetPortfolio implements the chat `reset` command: it wipes every
// open position, averaging entry, trade, and signal record and
// restores portfolio_state to a fresh balance. Callers must ensure
// the scheduler is stopped first — this is not itself concurrency-safe
// against an in-flight dispatch cycle.
func (r *Repository) ResetPortfolio(ctx context.Context, initialBalance float64) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM averaging_entries`,
		`DELETE FROM positions`,
		`DELETE FROM trades_history`,
		`DELETE FROM signals`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: reset portfolio: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO portfolio_state (id, balance_cash, realized_pnl_cumulative, win_count, loss_count, peak_equity)
		VALUES (1, $1, 0, 0, 0, $1)
		ON CONFLICT (id) DO UPDATE SET
			balance_cash = EXCLUDED.balance_cash, realized_pnl_cumulative = 0,
			win_count = 0, loss_count = 0, peak_equity = EXCLUDED.peak_equity`,
		initialBalance); err != nil {
		return fmt.Errorf("ledger: reset portfolio state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// checkInvariants enforces the §3/§8 invariants that must hold for
// any position write.
func checkInvariants(pos *position.Position) error {
	if pos.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0 for an open position", ErrInvariantViolation)
	}
	if !(pos.StopLossPrice <= pos.AverageEntryPrice && pos.AverageEntryPrice <= pos.TakeProfitPrice) {
		return fmt.Errorf("%w: stop_loss <= entry <= take_profit violated", ErrInvariantViolation)
	}
	return nil
}

// OpenPosition commits a new position and its entry TradeRecord in
// one transaction (spec §4.7 commit discipline).
func (r *Repository) OpenPosition(ctx context.Context, pos *position.Position, trade position.TradeRecord) error {
	if err := checkInvariants(pos); err != nil {
		return err
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	reasonsJSON, _ := json.Marshal(pos.EntryReasons)
	_, err = tx.Exec(ctx, `
		INSERT INTO positions (symbol, opened_at, average_entry_price, quantity, total_invested,
			initial_invested, commission_paid, stop_loss_price, take_profit_price,
			highest_price_since_entry, trailing_active, breakeven_active, partial_tp_taken,
			entry_mode, entry_votes_delta, entry_reasons, averaging_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (symbol) DO UPDATE SET
			opened_at=EXCLUDED.opened_at, average_entry_price=EXCLUDED.average_entry_price,
			quantity=EXCLUDED.quantity, total_invested=EXCLUDED.total_invested,
			initial_invested=EXCLUDED.initial_invested, commission_paid=EXCLUDED.commission_paid,
			stop_loss_price=EXCLUDED.stop_loss_price, take_profit_price=EXCLUDED.take_profit_price,
			highest_price_since_entry=EXCLUDED.highest_price_since_entry,
			trailing_active=EXCLUDED.trailing_active, breakeven_active=EXCLUDED.breakeven_active,
			partial_tp_taken=EXCLUDED.partial_tp_taken, entry_mode=EXCLUDED.entry_mode,
			entry_votes_delta=EXCLUDED.entry_votes_delta, entry_reasons=EXCLUDED.entry_reasons,
			averaging_count=EXCLUDED.averaging_count`,
		pos.Symbol, pos.OpenedAt, pos.AverageEntryPrice, pos.Quantity, pos.TotalInvested,
		pos.InitialInvested, pos.CommissionPaid, pos.StopLossPrice, pos.TakeProfitPrice,
		pos.HighestPriceSinceEntry, pos.TrailingActive, pos.BreakevenActive, pos.PartialTPTaken,
		string(pos.EntryMode), pos.EntryVotesDelta, reasonsJSON, pos.AveragingCount,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert position: %w", err)
	}

	if err := insertTrade(ctx, tx, trade); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// ApplyExit commits a full position close: it writes the closing
// TradeRecord and removes the row from positions.
func (r *Repository) ApplyExit(ctx context.Context, trade position.TradeRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertTrade(ctx, tx, trade); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE symbol = $1`, trade.Symbol); err != nil {
		return fmt.Errorf("ledger: delete closed position: %w", err)
	}

	won := trade.RealizedPnL > 0
	if err := bumpPortfolioState(ctx, tx, trade.RealizedPnL, won); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// ApplyPartialOrAveraging commits a mutation that keeps the position
// open (partial TP, average-down, pyramid-up): the updated position
// row, an optional averaging_entries row, and the TradeRecord.
func (r *Repository) ApplyPartialOrAveraging(ctx context.Context, pos *position.Position, trade position.TradeRecord) error {
	if err := checkInvariants(pos); err != nil {
		return err
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE positions SET average_entry_price=$2, quantity=$3, total_invested=$4,
			commission_paid=$5, stop_loss_price=$6, take_profit_price=$7,
			highest_price_since_entry=$8, trailing_active=$9, breakeven_active=$10,
			partial_tp_taken=$11, averaging_count=$12
		WHERE symbol=$1`,
		pos.Symbol, pos.AverageEntryPrice, pos.Quantity, pos.TotalInvested, pos.CommissionPaid,
		pos.StopLossPrice, pos.TakeProfitPrice, pos.HighestPriceSinceEntry, pos.TrailingActive,
		pos.BreakevenActive, pos.PartialTPTaken, pos.AveragingCount,
	)
	if err != nil {
		return fmt.Errorf("ledger: update position: %w", err)
	}

	if trade.Side == position.SideAverageDown || trade.Side == position.SidePyramidUp {
		mode := position.AverageDown
		if trade.Side == position.SidePyramidUp {
			mode = position.PyramidUp
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO averaging_entries (symbol, price, qty, at, mode) VALUES ($1,$2,$3,$4,$5)`,
			trade.Symbol, trade.Price, trade.Qty, trade.At, string(mode)); err != nil {
			return fmt.Errorf("ledger: insert averaging entry: %w", err)
		}
	}

	if err := insertTrade(ctx, tx, trade); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// insertTrade enforces idempotent replay: a duplicate
// (symbol, candle_open_time, reason) is a silent no-op success, per
// spec §7's "ledger conflicts: treat as success."
func insertTrade(ctx context.Context, tx pgx.Tx, trade position.TradeRecord) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO trades_history (symbol, side, price, qty, commission, realized_pnl, at, reason,
			entry_mode, votes_delta, reasons, candle_open_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (symbol, candle_open_time, reason) DO NOTHING`,
		trade.Symbol, string(trade.Side), trade.Price, trade.Qty, trade.Commission, trade.RealizedPnL,
		trade.At, trade.Reason, string(trade.EntryMode), trade.VotesDelta, mustJSON(trade.Reasons), trade.CandleOpenTime,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Str("symbol", trade.Symbol).Str("reason", trade.Reason).
			Time("candle_open_time", trade.CandleOpenTime).Msg("duplicate trade replay ignored")
	}
	return nil
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	if b == nil {
		return []byte("[]")
	}
	return b
}

// PortfolioState is the spec §3 PortfolioState entity.
type PortfolioState struct {
	BalanceCash           float64
	RealizedPnLCumulative float64
	WinCount              int
	LossCount             int
	PeakEquity            float64
}

func bumpPortfolioState(ctx context.Context, tx pgx.Tx, realizedPnL float64, won bool) error {
	winInc, lossInc := 0, 0
	if won {
		winInc = 1
	} else {
		lossInc = 1
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO portfolio_state (id, balance_cash, realized_pnl_cumulative, win_count, loss_count, peak_equity)
		VALUES (1, 0, $1, $2, $3, 0)
		ON CONFLICT (id) DO UPDATE SET
			realized_pnl_cumulative = portfolio_state.realized_pnl_cumulative + EXCLUDED.realized_pnl_cumulative,
			win_count = portfolio_state.win_count + EXCLUDED.win_count,
			loss_count = portfolio_state.loss_count + EXCLUDED.loss_count`,
		realizedPnL, winInc, lossInc)
	return err
}

// GetPortfolioState returns the current aggregate portfolio state.
func (r *Repository) GetPortfolioState(ctx context.Context) (PortfolioState, error) {
	var s PortfolioState
	row := r.db.Pool.QueryRow(ctx, `SELECT balance_cash, realized_pnl_cumulative, win_count, loss_count, peak_equity FROM portfolio_state WHERE id = 1`)
	err := row.Scan(&s.BalanceCash, &s.RealizedPnLCumulative, &s.WinCount, &s.LossCount, &s.PeakEquity)
	if errors.Is(err, pgx.ErrNoRows) {
		return PortfolioState{}, nil
	}
	if err != nil {
		return PortfolioState{}, fmt.Errorf("ledger: get portfolio state: %w", err)
	}
	return s, nil
}

// SetBalanceCash overwrites the cash balance; used at startup and by
// live-mode fill reconciliation.
func (r *Repository) SetBalanceCash(ctx context.Context, balance float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO portfolio_state (id, balance_cash) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET balance_cash = EXCLUDED.balance_cash`, balance)
	return err
}

// AppendSignal writes a diagnostics SignalRecord (spec §3).
func (r *Repository) AppendSignal(ctx context.Context, symbol string, at time.Time, kind, mode string, votesDelta int, topReasons []string, price float64, blockReason string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signals (symbol, at, signal, regime, votes_delta, top_reasons, price, block_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		symbol, at, kind, mode, votesDelta, mustJSON(topReasons), price, blockReason)
	if err != nil {
		return fmt.Errorf("ledger: append signal: %w", err)
	}
	return nil
}

// SignalRecord is the spec §3 diagnostics entity AppendSignal writes
// and GetSignals reads back, backing the chat `signal_stats` and
// `signal_analysis` commands.
type SignalRecord struct {
	Symbol      string
	At          time.Time
	Kind        string
	Mode        string
	VotesDelta  int
	TopReasons  []string
	Price       float64
	BlockReason string
}

// GetSignals returns up to limit signal records for symbol (all
// symbols if empty), most recent first.
func (r *Repository) GetSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	query := `SELECT symbol, at, signal, regime, votes_delta, top_reasons, price, block_reason FROM signals`
	args := []interface{}{}
	if symbol != "" {
		query += " WHERE symbol = $1"
		args = append(args, symbol)
	}
	query += " ORDER BY at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: get signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var s SignalRecord
		var reasonsJSON []byte
		if err := rows.Scan(&s.Symbol, &s.At, &s.Kind, &s.Mode, &s.VotesDelta, &reasonsJSON, &s.Price, &s.BlockReason); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(reasonsJSON, &s.TopReasons)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetClosedTrades returns up to limit closed trades for symbol (all
// symbols if empty), most recent first, filtered to terminal trade
// reasons only. SPEC_FULL §12 (grounded on position_sizing.py):
// AVERAGE_DOWN/PYRAMID_UP/PARTIAL_TP are excluded from the Kelly
// statistics window because they are not closing trades.
func (r *Repository) GetClosedTrades(ctx context.Context, symbol string, limit int, since *time.Time) ([]position.TradeRecord, error) {
	terminalReasons := []string{
		string(position.SideStopLoss), string(position.SideBreakevenStop),
		string(position.SideTrailingStop), string(position.SideTakeProfit),
		string(position.SideSignalExit),
	}

	query := `SELECT symbol, side, price, qty, commission, realized_pnl, at, reason, entry_mode, votes_delta, reasons, candle_open_time
		FROM trades_history WHERE side = ANY($1)`
	args := []interface{}{terminalReasons}
	argIdx := 2

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, symbol)
		argIdx++
	}
	if since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *since)
		argIdx++
	}
	query += " ORDER BY at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: get closed trades: %w", err)
	}
	defer rows.Close()

	var out []position.TradeRecord
	for rows.Next() {
		var tr position.TradeRecord
		var side, entryMode string
		var reasonsJSON []byte
		if err := rows.Scan(&tr.Symbol, &side, &tr.Price, &tr.Qty, &tr.Commission, &tr.RealizedPnL,
			&tr.At, &tr.Reason, &entryMode, &tr.VotesDelta, &reasonsJSON, &tr.CandleOpenTime); err != nil {
			return nil, err
		}
		tr.Side = position.TradeSide(side)
		tr.EntryMode = regime.Mode(entryMode)
		_ = json.Unmarshal(reasonsJSON, &tr.Reasons)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// GetRegimeState reads the persisted regime state for a symbol, or
// the zero UNKNOWN state if none has been recorded yet.
func (r *Repository) GetRegimeState(ctx context.Context, symbol string) (regime.State, error) {
	var mode string
	var enteredAt time.Time
	row := r.db.Pool.QueryRow(ctx, `SELECT last_mode, last_mode_entered_at FROM regime_state WHERE symbol = $1`, symbol)
	err := row.Scan(&mode, &enteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return regime.State{LastMode: regime.ModeUnknown}, nil
	}
	if err != nil {
		return regime.State{}, fmt.Errorf("ledger: get regime state: %w", err)
	}
	return regime.State{LastMode: regime.Mode(mode), LastModeEnteredAt: enteredAt}, nil
}

// PutRegimeState persists the regime state for a symbol.
func (r *Repository) PutRegimeState(ctx context.Context, symbol string, s regime.State) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO regime_state (symbol, last_mode, last_mode_entered_at) VALUES ($1,$2,$3)
		ON CONFLICT (symbol) DO UPDATE SET last_mode = EXCLUDED.last_mode, last_mode_entered_at = EXCLUDED.last_mode_entered_at`,
		symbol, string(s.LastMode), s.LastModeEnteredAt)
	if err != nil {
		return fmt.Errorf("ledger: put regime state: %w", err)
	}
	return nil
}
